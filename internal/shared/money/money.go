// Package money formats minor-unit amounts for operator-facing text.
package money

import (
	"fmt"
	"strings"
)

// zeroDecimal currencies have no minor unit; amounts are already whole.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

var symbols = map[string]string{
	"EUR": "€",
	"USD": "$",
	"GBP": "£",
	"TRY": "₺",
}

// Format renders amount (minor units) in currency, e.g. Format("usd", 1250)
// is "$12.50" and Format("jpy", 500) is "500 JPY".
func Format(currency string, amount int64) string {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	var num string
	if zeroDecimal[cur] {
		num = fmt.Sprintf("%d", amount)
	} else {
		num = fmt.Sprintf("%d.%02d", amount/100, amount%100)
	}

	if sym, ok := symbols[cur]; ok {
		return sign + sym + num
	}
	return sign + num + " " + cur
}
