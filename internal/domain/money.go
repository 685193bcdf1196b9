package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// RoundingPrecision is the number of decimal places every money calculation is rounded to.
const RoundingPrecision int32 = 2

// PriceInput carries the raw values used to construct a Price. At least one of Price or PriceNet is required.
type PriceInput struct {
	Price    *decimal.Decimal
	PriceNet *decimal.Decimal
	TaxRate  *decimal.Decimal
	Currency string
}

// Price is an immutable gross/net money value with an optional tax component.
type Price struct {
	gross    decimal.Decimal
	net      decimal.Decimal
	hasNet   bool
	tax      *Tax
	currency string
}

// Tax is the tax part of a Price. Rate is a fraction (0.19 for 19%).
type Tax struct {
	amount  decimal.Decimal
	rate    decimal.Decimal
	hasRate bool
}

// Round rounds a money value to RoundingPrecision.
func Round(value decimal.Decimal) decimal.Decimal {
	return value.Round(RoundingPrecision)
}

// Dec is a shorthand for building decimal pointers in PriceInput literals.
func Dec(value decimal.Decimal) *decimal.Decimal {
	return &value
}

// NewPrice derives the missing gross or net value from the tax rate, rounding after every step.
func NewPrice(in PriceInput) (Price, error) {
	if in.Price == nil && in.PriceNet == nil {
		return Price{}, NewError(KindMissingPriceInput, "price or priceNet must be given", nil)
	}

	p := Price{currency: NormalizeCurrency(in.Currency)}
	if in.PriceNet != nil {
		p.net = Round(*in.PriceNet)
		p.hasNet = true
	}

	rate := decimal.Zero
	if in.TaxRate != nil {
		rate = *in.TaxRate
	}
	one := decimal.NewFromInt(1)

	if in.Price != nil {
		p.gross = Round(*in.Price)
		if !p.hasNet && in.TaxRate != nil {
			p.net = Round(p.gross.Div(one.Add(rate)))
			p.hasNet = true
		}
	} else {
		p.gross = Round(p.net.Mul(one.Add(rate)))
	}

	if in.TaxRate != nil {
		tax := newTax(p.net, rate)
		p.tax = &tax
	}
	return p, nil
}

// MustPrice is NewPrice for literals known to be valid.
func MustPrice(in PriceInput) Price {
	p, err := NewPrice(in)
	if err != nil {
		panic(err)
	}
	return p
}

func newTax(net, rate decimal.Decimal) Tax {
	return Tax{amount: Round(net.Mul(rate)), rate: rate, hasRate: true}
}

// CalculateTax returns the tax share contained in a gross price.
func CalculateTax(gross, rate decimal.Decimal) decimal.Decimal {
	net := Round(gross.Div(decimal.NewFromInt(1).Add(rate)))
	return Round(gross.Sub(net))
}

// NormalizeCurrency upper-cases and trims an ISO-4217 code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Gross returns the price including tax.
func (p Price) Gross() decimal.Decimal { return p.gross }

// Net returns the price excluding tax. ok is false when no net value could be derived.
func (p Price) Net() (decimal.Decimal, bool) { return p.net, p.hasNet }

// Tax returns the tax component, nil when the price was built without a rate.
func (p Price) Tax() *Tax { return p.tax }

// Currency returns the upper-case currency code, or "" when untagged.
func (p Price) Currency() string { return p.currency }

// TaxRate returns the tax rate, ok false when untaxed.
func (p Price) TaxRate() (decimal.Decimal, bool) {
	if p.tax == nil || !p.tax.hasRate {
		return decimal.Zero, false
	}
	return p.tax.rate, true
}

// Multiply scales the gross price by factor, keeping currency and re-deriving tax pro rata.
func (p Price) Multiply(factor decimal.Decimal) Price {
	in := PriceInput{Price: Dec(p.gross.Mul(factor)), Currency: p.currency}
	if rate, ok := p.TaxRate(); ok {
		in.TaxRate = Dec(rate)
	} else if p.hasNet {
		in.PriceNet = Dec(p.net.Mul(factor))
	}
	return MustPrice(in)
}

// Rate returns the tax rate as a fraction.
func (t Tax) Rate() decimal.Decimal { return t.rate }

// Amount returns the rounded tax amount.
func (t Tax) Amount() decimal.Decimal { return t.amount }

// HasRate reports whether the tax carries a rate. Aggregated tax totals do not.
func (t Tax) HasRate() bool { return t.hasRate }

type priceJSON struct {
	Price     decimal.Decimal  `json:"price"`
	PriceNet  *decimal.Decimal `json:"priceNet,omitempty"`
	Tax       *decimal.Decimal `json:"tax,omitempty"`
	TaxRate   *decimal.Decimal `json:"taxRate,omitempty"`
	Currency  string           `json:"currency,omitempty"`
	Formatted string           `json:"formatted"`
}

// MarshalJSON renders the price with its derived fields and an English formatted string.
func (p Price) MarshalJSON() ([]byte, error) {
	out := priceJSON{Price: p.gross, Currency: p.currency, Formatted: p.String("")}
	if p.hasNet {
		out.PriceNet = Dec(p.net)
	}
	if p.tax != nil {
		out.Tax = Dec(p.tax.amount)
		if p.tax.hasRate {
			out.TaxRate = Dec(p.tax.rate)
		}
	}
	return json.Marshal(out)
}
