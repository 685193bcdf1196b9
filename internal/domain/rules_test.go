package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingRulesFirstMatch(t *testing.T) {
	rules := PricingRules{
		{Key: "ch", Currency: "CHF", TaxIncluded: true, Applies: func(c RuleContext) bool { return c.Region == "CH" }},
		{Key: "us", Currency: "USD", Applies: func(c RuleContext) bool { return c.Language == "en" }},
		{Key: "fallback", Currency: "EUR", TaxIncluded: true},
	}

	rule := rules.FindApplicable(RuleContext{Language: "de", Region: "ch"})
	require.NotNil(t, rule)
	assert.Equal(t, "ch", rule.Key)

	rule = rules.FindApplicable(RuleContext{Language: "EN"})
	require.NotNil(t, rule)
	assert.Equal(t, "us", rule.Key)
	assert.False(t, rule.TaxIncluded)

	rule = rules.FindApplicable(RuleContext{Language: "fr"})
	require.NotNil(t, rule)
	assert.Equal(t, "fallback", rule.Key)

	assert.Equal(t, "us", rules.GetRuleByKey("us").Key)
	assert.Nil(t, rules.GetRuleByKey("missing"))
}

func TestPricingRulesNoMatch(t *testing.T) {
	rules := PricingRules{{Key: "never", Applies: func(RuleContext) bool { return false }}}
	assert.Nil(t, rules.FindApplicable(RuleContext{}))
}

func TestTaxRulesRateForIsPerKey(t *testing.T) {
	reduced := d("0.07")
	rules := TaxRules{
		{Key: "default", Rate: func(c RuleContext) (decimal.Decimal, bool) { return d("0.081"), c.Region == "CH" }},
		{Key: "default", Rate: FixedRate(d("0.19"))},
		{Key: "books", Rate: FixedRate(reduced)},
		{Key: "on-request", Rate: func(RuleContext) (decimal.Decimal, bool) { return decimal.Zero, false }},
	}

	rate := rules.RateFor("books", RuleContext{Region: "CH"})
	require.NotNil(t, rate)
	assert.True(t, reduced.Equal(*rate))

	rate = rules.RateFor("", RuleContext{Region: "ch"})
	require.NotNil(t, rate)
	assert.True(t, d("0.081").Equal(*rate))

	rate = rules.RateFor("default", RuleContext{Region: "DE"})
	require.NotNil(t, rate)
	assert.True(t, d("0.19").Equal(*rate))

	assert.Nil(t, rules.RateFor("on-request", RuleContext{}))
	assert.Nil(t, rules.RateFor("unknown", RuleContext{}))
}

func TestErrorKindsCarryKeyAndStatus(t *testing.T) {
	cases := []struct {
		kind   ErrorKind
		key    string
		status int
	}{
		{KindEmptyCart, "merx.emptycart", http.StatusBadRequest},
		{KindNoPaymentMethod, "merx.noPaymentMethod", http.StatusBadRequest},
		{KindValidationFailed, "merx.fieldsvalidation", http.StatusBadRequest},
		{KindPaymentCanceled, "merx.paymentCanceled", http.StatusBadRequest},
		{KindGatewayError, "merx.gatewayError", http.StatusBadGateway},
		{KindSessionExpired, "merx.sessionExpired", http.StatusGone},
	}
	for _, tc := range cases {
		err := NewError(tc.kind, "boom", nil)
		assert.Equal(t, tc.key, err.Key)
		assert.Equal(t, tc.status, err.HTTPStatus())
	}
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("stripe down")
	err := fmt.Errorf("complete: %w", NewError(KindGatewayError, "capture failed", cause))

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, &Error{Kind: KindGatewayError}))
	assert.False(t, errors.Is(err, &Error{Kind: KindPaymentCanceled}))
	assert.Equal(t, KindGatewayError, KindOf(err))

	normalised := AsError(errors.New("disk full"), "merx.completePayment")
	assert.Equal(t, KindInternal, normalised.Kind)
	assert.Equal(t, "merx.completePayment", normalised.Key)
	assert.Equal(t, http.StatusInternalServerError, normalised.HTTPStatus())
}
