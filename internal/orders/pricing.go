package orders

import "github.com/shopspring/decimal"

type Totals struct {
	ItemsPrice    decimal.Decimal `json:"itemsPrice"`
	TaxPrice      decimal.Decimal `json:"taxPrice"`
	ShippingPrice decimal.Decimal `json:"shippingPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
}

// PricingPolicy holds the store-wide tax and shipping settings.
type PricingPolicy struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRate:               decimal.RequireFromString("0.08"),
		FreeShippingThreshold: decimal.NewFromInt(200),
		FlatShippingFee:       decimal.NewFromInt(15),
	}
}

// Compute derives every order total from the line items. Amounts are rounded
// half away from zero to two decimals.
func (p PricingPolicy) Compute(items []LineItem) Totals {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	sum = sum.Round(2)

	tax := sum.Mul(p.TaxRate).Round(2)
	shipping := p.FlatShippingFee.Round(2)
	if sum.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	return Totals{
		ItemsPrice:    sum,
		TaxPrice:      tax,
		ShippingPrice: shipping,
		TotalPrice:    sum.Add(tax).Add(shipping).Round(2),
	}
}
