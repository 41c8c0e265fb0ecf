package domain

import (
	"strconv"
)

// Summary is what the cart badge and subtotal line render.
type Summary struct {
	Subtotal int64 `json:"subtotal"`
	Count    int   `json:"count"`
}

func Summarize(items []LineItem) Summary {
	var s Summary
	for _, item := range items {
		s.Subtotal += item.UnitAmount * int64(item.Quantity)
		s.Count += item.Quantity
	}
	return s
}

// FormatYen renders an amount the way the storefront shows prices, e.g. ¥2,750.
func FormatYen(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	out := make([]byte, 0, len(digits)+len(digits)/3)
	for i := range len(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	return sign + "¥" + string(out)
}
