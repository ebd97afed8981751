package orders

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Money amounts are written as fixed two-decimal strings ("150.00") so
// clients never see a trimmed "150" or a float.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

func (li LineItem) MarshalJSON() ([]byte, error) {
	type plain LineItem
	return json.Marshal(struct {
		plain
		Price string `json:"price"`
	}{plain(li), money(li.Price)})
}

func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		ItemsPrice    string `json:"itemsPrice"`
		TaxPrice      string `json:"taxPrice"`
		ShippingPrice string `json:"shippingPrice"`
		TotalPrice    string `json:"totalPrice"`
	}{
		plain:         plain(o),
		ItemsPrice:    money(o.ItemsPrice),
		TaxPrice:      money(o.TaxPrice),
		ShippingPrice: money(o.ShippingPrice),
		TotalPrice:    money(o.TotalPrice),
	})
}

func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	return json.Marshal(struct {
		plain
		TotalRevenue string `json:"totalRevenue"`
	}{plain(s), money(s.TotalRevenue)})
}
