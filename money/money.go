// money/money.go

// Package money holds monetary amounts as integer centavos.
package money

import (
	"math"
	"strconv"
	"strings"
)

// Amount is a BRL amount in centavos.
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// FromReais converts a decimal amount in reais to centavos, rounding half away from zero.
func FromReais(reais float64) Amount {
	return Amount(math.Round(reais * 100))
}

// ParseReais parses "199.90" or "199,90" into centavos.
func ParseReais(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, err
	}
	return FromReais(f), nil
}

// Reais returns the amount as a decimal number of reais.
func (a Amount) Reais() float64 {
	return float64(a) / 100
}

// Mul multiplies the amount by an integer quantity.
func (a Amount) Mul(n int) Amount {
	return a * Amount(n)
}

// Percent returns p percent of a, rounded half up to the nearest centavo.
func (a Amount) Percent(p int) Amount {
	v := int64(a) * int64(p)
	if v >= 0 {
		return Amount((v + 50) / 100)
	}
	return Amount((v - 50) / 100)
}

// String renders the amount the way the storefront shows prices: R$ 1.234,56.
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	units := strconv.FormatInt(v/100, 10)
	cents := v % 100

	var b strings.Builder
	for i, r := range units {
		if i > 0 && (len(units)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + "R$ " + b.String() + "," + twoDigits(cents)
}

func twoDigits(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
