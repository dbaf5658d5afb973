package formatting

import (
	"fmt"
	"strings"
)

var currencySymbols = map[string]string{
	"RUB": "₽",
	"USD": "$",
	"EUR": "€",
	"IDR": "Rp",
}

// FormatMoney форматирует сумму из минорных единиц (копейки/центы)
func FormatMoney(amountMinor int64, currency string) string {
	symbol, ok := currencySymbols[strings.ToUpper(currency)]
	if !ok {
		symbol = strings.ToUpper(currency)
	}

	sign := ""
	if amountMinor < 0 {
		sign = "-"
		amountMinor = -amountMinor
	}

	// без копеек если они равны 0
	if amountMinor%100 == 0 {
		return fmt.Sprintf("%s%d %s", sign, amountMinor/100, symbol)
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amountMinor/100, amountMinor%100, symbol)
}
