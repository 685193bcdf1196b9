package handlers

import (
	"net/http"

	"golang.org/x/text/language"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/platform/requestctx"
)

// Locale negotiates the visitor language from Accept-Language. With supported tags the
// best match wins; otherwise the visitor's first preference is used as is. The region is
// only taken when the visitor states it explicitly.
func Locale(supported ...language.Tag) func(http.Handler) http.Handler {
	var matcher language.Matcher
	if len(supported) > 0 {
		matcher = language.NewMatcher(supported)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Accept-Language")
			locale := negotiateLocale(matcher, r.Header.Get("Accept-Language"))
			next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), locale)))
		})
	}
}

func negotiateLocale(matcher language.Matcher, header string) requestctx.Locale {
	locale := requestctx.Locale{Tag: language.English}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		if matcher != nil {
			locale.Tag, _, _ = matcher.Match()
			locale.Tag = baseTag(locale.Tag)
		}
		return locale
	}

	if region, confidence := tags[0].Region(); confidence == language.Exact {
		locale.Region = region.String()
	}
	if matcher == nil {
		locale.Tag = baseTag(tags[0])
		return locale
	}
	matched, _, _ := matcher.Match(tags...)
	locale.Tag = baseTag(matched)
	return locale
}

// baseTag drops extensions the matcher adds, e.g. "de-u-rg-chzzzz" becomes "de".
func baseTag(tag language.Tag) language.Tag {
	base, _ := tag.Base()
	out, err := language.Compose(base)
	if err != nil {
		return language.English
	}
	return out
}

// ruleContext builds the pricing rule context of the request. The currency is left empty
// so the cart service falls back to the visitor's stored preference.
func ruleContext(r *http.Request) domain.RuleContext {
	locale := requestctx.LocaleFrom(r.Context())
	base, _ := locale.Tag.Base()
	return domain.RuleContext{Language: base.String(), Region: locale.Region}
}
