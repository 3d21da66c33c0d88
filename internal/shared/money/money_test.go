package money

import "testing"

func TestFormat(t *testing.T) {
	tests := []struct {
		currency string
		amount   int64
		want     string
	}{
		{"usd", 1250, "$12.50"},
		{"EUR", 5, "€0.05"},
		{"try", 100000, "₺1000.00"},
		{"jpy", 500, "500 JPY"},
		{"chf", 999, "9.99 CHF"},
		{"usd", -300, "-$3.00"},
	}
	for _, tt := range tests {
		if got := Format(tt.currency, tt.amount); got != tt.want {
			t.Errorf("Format(%q, %d) = %q, want %q", tt.currency, tt.amount, got, tt.want)
		}
	}
}
