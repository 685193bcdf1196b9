// Package rules loads pricing and tax rule sets from YAML files.
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/wagnerwagner/merx/internal/domain"
)

var errRuleKeyRequired = errors.New("rules: key is required")

// Set bundles the rule collections evaluated per request.
type Set struct {
	Pricing domain.PricingRules
	Tax     domain.TaxRules
}

// Default mirrors the out-of-the-box shop configuration: EUR tax-included pricing and a 19% default tax rule.
func Default() Set {
	return Set{
		Pricing: domain.DefaultPricingRules(),
		Tax:     domain.TaxRules{{Key: "default", Name: "default", Rate: domain.FixedRate(decimal.RequireFromString("0.19"))}},
	}
}

// Matcher is the declarative predicate of a rule. Empty lists match anything;
// non-empty lists must contain the context value.
type Matcher struct {
	Languages  []string `yaml:"languages"`
	Regions    []string `yaml:"regions"`
	Currencies []string `yaml:"currencies"`
}

type pricingRuleFile struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Currency    string   `yaml:"currency"`
	TaxIncluded *bool    `yaml:"taxIncluded"`
	When        *Matcher `yaml:"when"`
}

type taxRuleFile struct {
	Key     string           `yaml:"key"`
	Name    string           `yaml:"name"`
	Rate    *decimal.Decimal `yaml:"rate"`
	Percent *decimal.Decimal `yaml:"percent"`
	When    *Matcher         `yaml:"when"`
}

type file struct {
	Pricing []pricingRuleFile `yaml:"pricing"`
	Tax     []taxRuleFile     `yaml:"tax"`
}

// LoadFile reads a rule file. An empty path yields Default.
func LoadFile(path string) (Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("rules: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML rules. Missing sections fall back to the matching Default section.
func Parse(raw []byte) (Set, error) {
	var doc file
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Set{}, fmt.Errorf("rules: decode: %w", err)
	}

	set := Default()
	if len(doc.Pricing) > 0 {
		set.Pricing = make(domain.PricingRules, 0, len(doc.Pricing))
		for _, entry := range doc.Pricing {
			rule, err := entry.build()
			if err != nil {
				return Set{}, err
			}
			set.Pricing = append(set.Pricing, rule)
		}
	}
	if len(doc.Tax) > 0 {
		set.Tax = make(domain.TaxRules, 0, len(doc.Tax))
		for _, entry := range doc.Tax {
			rule, err := entry.build()
			if err != nil {
				return Set{}, err
			}
			set.Tax = append(set.Tax, rule)
		}
	}
	return set, nil
}

func (f pricingRuleFile) build() (domain.PricingRule, error) {
	key := strings.TrimSpace(f.Key)
	if key == "" {
		return domain.PricingRule{}, errRuleKeyRequired
	}
	rule := domain.PricingRule{
		Key:         key,
		Name:        nameOrKey(f.Name, key),
		Currency:    domain.NormalizeCurrency(f.Currency),
		TaxIncluded: true,
	}
	if f.TaxIncluded != nil {
		rule.TaxIncluded = *f.TaxIncluded
	}
	if f.When != nil {
		rule.Applies = f.When.Match
	}
	return rule, nil
}

func (f taxRuleFile) build() (domain.TaxRule, error) {
	key := strings.TrimSpace(f.Key)
	if key == "" {
		return domain.TaxRule{}, errRuleKeyRequired
	}
	var rate decimal.Decimal
	switch {
	case f.Rate != nil:
		rate = *f.Rate
	case f.Percent != nil:
		rate = f.Percent.Div(decimal.NewFromInt(100))
	default:
		return domain.TaxRule{}, fmt.Errorf("rules: tax rule %q needs rate or percent", key)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return domain.TaxRule{}, fmt.Errorf("rules: tax rule %q rate %s out of range [0,1)", key, rate)
	}

	matcher := f.When
	return domain.TaxRule{
		Key:  key,
		Name: nameOrKey(f.Name, key),
		Rate: func(ctx domain.RuleContext) (decimal.Decimal, bool) {
			if matcher != nil && !matcher.Match(ctx) {
				return decimal.Zero, false
			}
			return rate, true
		},
	}, nil
}

// Match reports whether ctx satisfies every non-empty list.
func (m Matcher) Match(ctx domain.RuleContext) bool {
	ctx = ctx.Normalized()
	return contains(m.Languages, ctx.Language) &&
		contains(m.Regions, ctx.Region) &&
		contains(m.Currencies, ctx.Currency)
}

func contains(values []string, candidate string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), candidate) {
			return true
		}
	}
	return false
}

func nameOrKey(name, key string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return key
}
