package domain

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Price fields accepted by String and Format.
const (
	FieldPrice    = "price"
	FieldPriceNet = "priceNet"
	FieldTax      = "tax"
)

// String formats the given field ("price" when empty) for English output.
func (p Price) String(field string) string {
	return p.Format(language.English, field)
}

// Format renders the selected field as a localized currency string, or as a plain
// two-digit decimal when the price carries no currency tag.
func (p Price) Format(tag language.Tag, field string) string {
	value := p.gross
	switch field {
	case FieldPriceNet:
		value = p.net
	case FieldTax:
		if p.tax != nil {
			value = p.tax.amount
		} else {
			value = decimal.Zero
		}
	}
	return FormatMoney(tag, value, p.currency)
}

// FormatMoney formats an amount in the given currency. Unknown or empty codes fall back to a decimal format.
func FormatMoney(tag language.Tag, amount decimal.Decimal, code string) string {
	printer := message.NewPrinter(tag)
	if code != "" {
		if unit, err := currency.ParseISO(code); err == nil {
			return printer.Sprint(currency.Symbol(unit.Amount(amount.InexactFloat64())))
		}
	}
	return printer.Sprint(number.Decimal(amount.InexactFloat64(), number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// FormatPercent renders a fractional rate such as 0.19 as "19%".
func FormatPercent(tag language.Tag, rate decimal.Decimal) string {
	return message.NewPrinter(tag).Sprint(number.Percent(rate.InexactFloat64(), number.MaxFractionDigits(1)))
}
