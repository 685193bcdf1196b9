package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Helper()

	t.Run("trims keys and values", func(t *testing.T) {
		input := map[string]string{
			" Title ":     " About ",
			"description": " Learn ",
			"empty":       " ",
			" ":           "ignored",
			"":            "ignore",
		}

		expected := map[string]string{
			"Title":       "About",
			"description": "Learn",
			"empty":       "",
		}

		actual := NormalizeStringMap(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{}) != nil {
			t.Fatalf("expected nil for empty map")
		}
	})
}

func TestSanitizeStringMap(t *testing.T) {
	input := map[string]string{
		" name ":  " <b>Ada</b> Lovelace ",
		"company": "Smith & Sons<script>alert(1)</script>",
		"note":    "plain",
	}
	expected := map[string]string{
		"name":    "Ada Lovelace",
		"company": "Smith & Sons",
		"note":    "plain",
	}

	actual := SanitizeStringMap(input)
	if !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected %#v got %#v", expected, actual)
	}
	if SanitizeStringMap(nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
}

func TestPlainTextBoundsLength(t *testing.T) {
	long := make([]rune, maxFieldLength+10)
	for i := range long {
		long[i] = 'a'
	}
	if got := PlainText(string(long)); len([]rune(got)) != maxFieldLength {
		t.Fatalf("expected %d runes, got %d", maxFieldLength, len([]rune(got)))
	}
}
