package util

import (
	"strings"

	"github.com/leekchan/accounting"
	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"cad": "$",
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"idr": "Rp",
	"jpy": "¥",
}

// FormatMoney renders a major-unit amount for display in the given currency
func FormatMoney(amount decimal.Decimal, currency string) string {
	currency = strings.ToLower(currency)
	symbol, ok := currencySymbols[currency]
	if !ok {
		symbol = strings.ToUpper(currency) + " "
	}

	ac := accounting.Accounting{Symbol: symbol, Precision: 2}
	if currency == "idr" {
		ac = accounting.Accounting{Symbol: symbol, Precision: 0, Thousand: ".", Decimal: ","}
	}
	return ac.FormatMoneyDecimal(amount)
}
