package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RuleContext is the per-request input rules are evaluated against.
type RuleContext struct {
	Language string
	Region   string
	Currency string
}

// Normalized returns the context with lower-case language, and upper-case region and currency.
func (c RuleContext) Normalized() RuleContext {
	return RuleContext{
		Language: strings.ToLower(strings.TrimSpace(c.Language)),
		Region:   strings.ToUpper(strings.TrimSpace(c.Region)),
		Currency: NormalizeCurrency(c.Currency),
	}
}

// PricingRule selects currency and tax inclusion for a request context.
type PricingRule struct {
	Key         string
	Name        string
	Currency    string
	TaxIncluded bool
	// Applies reports whether the rule holds. A nil predicate always holds.
	Applies func(RuleContext) bool
}

func (r PricingRule) matches(ctx RuleContext) bool {
	if r.Applies == nil {
		return true
	}
	return r.Applies(ctx)
}

// PricingRules is an ordered rule set evaluated first-match.
type PricingRules []PricingRule

// DefaultPricingRules returns a single EUR tax-included rule.
func DefaultPricingRules() PricingRules {
	return PricingRules{{Key: "default", Name: "default", Currency: "EUR", TaxIncluded: true}}
}

// FindApplicable returns the first rule whose predicate holds, or nil when none does.
func (rules PricingRules) FindApplicable(ctx RuleContext) *PricingRule {
	ctx = ctx.Normalized()
	for i := range rules {
		if rules[i].matches(ctx) {
			rule := rules[i]
			return &rule
		}
	}
	return nil
}

// GetRuleByKey returns the rule with the given key, or nil.
func (rules PricingRules) GetRuleByKey(key string) *PricingRule {
	for i := range rules {
		if rules[i].Key == key {
			rule := rules[i]
			return &rule
		}
	}
	return nil
}

// TaxRule yields a tax rate for products referencing its key.
type TaxRule struct {
	Key  string
	Name string
	// Rate returns the rate for the context; ok false means the rule does not apply.
	Rate func(RuleContext) (decimal.Decimal, bool)
}

// TaxRules holds tax rules in declaration order. Several rules may share a key.
type TaxRules []TaxRule

// FixedRate builds a Rate function that always returns rate.
func FixedRate(rate decimal.Decimal) func(RuleContext) (decimal.Decimal, bool) {
	return func(RuleContext) (decimal.Decimal, bool) { return rate, true }
}

// RateFor evaluates the rules declared under key in order and returns the first rate produced.
// A nil result means no tax context applies.
func (rules TaxRules) RateFor(key string, ctx RuleContext) *decimal.Decimal {
	if key == "" {
		key = "default"
	}
	ctx = ctx.Normalized()
	for _, rule := range rules {
		if rule.Key != key || rule.Rate == nil {
			continue
		}
		if rate, ok := rule.Rate(ctx); ok {
			return &rate
		}
	}
	return nil
}
