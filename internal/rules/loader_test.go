package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagnerwagner/merx/internal/domain"
)

const sampleRules = `
pricing:
  - key: ch
    name: Switzerland
    currency: chf
    when:
      regions: [CH]
  - key: us
    currency: USD
    taxIncluded: false
    when:
      languages: [en]
      currencies: [USD]
  - key: default
    currency: EUR
tax:
  - key: default
    rate: 0.081
    when:
      regions: [CH]
  - key: default
    percent: 19
  - key: reduced
    rate: 0.07
`

func TestParseBuildsOrderedRules(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, set.Pricing, 3)

	rule := set.Pricing.FindApplicable(domain.RuleContext{Region: "ch", Language: "de"})
	require.NotNil(t, rule)
	assert.Equal(t, "ch", rule.Key)
	assert.Equal(t, "CHF", rule.Currency)
	assert.Equal(t, "Switzerland", rule.Name)
	assert.True(t, rule.TaxIncluded)

	rule = set.Pricing.FindApplicable(domain.RuleContext{Language: "en", Currency: "usd"})
	require.NotNil(t, rule)
	assert.Equal(t, "us", rule.Key)
	assert.False(t, rule.TaxIncluded)

	rule = set.Pricing.FindApplicable(domain.RuleContext{Language: "en"})
	require.NotNil(t, rule)
	assert.Equal(t, "default", rule.Key)
}

func TestParseTaxRulesPerKey(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	rate := set.Tax.RateFor("default", domain.RuleContext{Region: "CH"})
	require.NotNil(t, rate)
	assert.True(t, decimal.RequireFromString("0.081").Equal(*rate))

	rate = set.Tax.RateFor("default", domain.RuleContext{Region: "DE"})
	require.NotNil(t, rate)
	assert.True(t, decimal.RequireFromString("0.19").Equal(*rate))

	rate = set.Tax.RateFor("reduced", domain.RuleContext{})
	require.NotNil(t, rate)
	assert.True(t, decimal.RequireFromString("0.07").Equal(*rate))
}

func TestParseRejectsInvalidRules(t *testing.T) {
	cases := map[string]string{
		"missing key":  "pricing:\n  - currency: EUR\n",
		"missing rate": "tax:\n  - key: default\n",
		"rate too big": "tax:\n  - key: default\n    rate: 19\n",
		"bad yaml":     "pricing: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileDefaults(t *testing.T) {
	set, err := LoadFile("")
	require.NoError(t, err)
	rule := set.Pricing.FindApplicable(domain.RuleContext{})
	require.NotNil(t, rule)
	assert.Equal(t, "EUR", rule.Currency)
	assert.NotNil(t, set.Tax.RateFor("default", domain.RuleContext{}))

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tax:\n  - key: default\n    percent: 7.7\n"), 0o600))
	set, err = LoadFile(path)
	require.NoError(t, err)
	rate := set.Tax.RateFor("default", domain.RuleContext{})
	require.NotNil(t, rate)
	assert.True(t, decimal.RequireFromString("0.077").Equal(*rate))
	assert.Len(t, set.Pricing, 1)
}
