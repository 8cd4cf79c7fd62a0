package shared

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// LineTotals carries the derived money fields of one document line.
type LineTotals struct {
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	LineTotal      decimal.Decimal
}

// CalculateLineTotals derives discount, tax and total for a line. The
// discount applies to the gross amount, tax to the net after discount.
// Discount and tax are rounded to cents independently so that
// sum(net) + sum(tax) always equals the document total exactly.
func CalculateLineTotals(quantity int64, unitPrice, discountPercent, taxPercent decimal.Decimal) LineTotals {
	gross := unitPrice.Mul(decimal.NewFromInt(quantity))
	discount := gross.Mul(discountPercent).Div(hundred).Round(2)
	net := gross.Sub(discount)
	tax := net.Mul(taxPercent).Div(hundred).Round(2)
	return LineTotals{
		DiscountAmount: discount,
		TaxAmount:      tax,
		LineTotal:      net.Add(tax),
	}
}
