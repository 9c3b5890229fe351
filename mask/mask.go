// mask/mask.go

// Package mask formats and validates the Brazilian form fields used at
// checkout: phone, CEP, CNPJ and credit card. Format functions work on
// partial input so they can be applied as the shopper types.
package mask

import (
	"regexp"
	"strings"
	"time"
)

var nonDigit = regexp.MustCompile(`\D`)

// Digits strips everything but 0-9.
func Digits(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}

func limit(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// FormatPhone masks up to 11 digits as (11) 3456-7890 or (11) 98765-4321.
func FormatPhone(s string) string {
	d := limit(Digits(s), 11)
	switch n := len(d); {
	case n == 0:
		return ""
	case n <= 2:
		return "(" + d
	case n <= 6:
		return "(" + d[:2] + ") " + d[2:]
	case n <= 10:
		return "(" + d[:2] + ") " + d[2:6] + "-" + d[6:]
	default:
		return "(" + d[:2] + ") " + d[2:7] + "-" + d[7:]
	}
}

var phonePattern = regexp.MustCompile(`^[1-9]{2}(9\d{8}|[2-8]\d{7})$`)

// ValidPhone accepts a landline (10 digits) or mobile (11 digits, 9 after the area code).
func ValidPhone(s string) bool {
	return phonePattern.MatchString(Digits(s))
}

// FormatCEP masks up to 8 digits as 01310-100.
func FormatCEP(s string) string {
	d := limit(Digits(s), 8)
	if len(d) <= 5 {
		return d
	}
	return d[:5] + "-" + d[5:]
}

var cepPattern = regexp.MustCompile(`^\d{5}-?\d{3}$`)

// ValidCEP accepts 01310100 or 01310-100.
func ValidCEP(s string) bool {
	return cepPattern.MatchString(strings.TrimSpace(s))
}

// FormatCNPJ masks up to 14 digits as 12.345.678/0001-95.
func FormatCNPJ(s string) string {
	d := limit(Digits(s), 14)
	var b strings.Builder
	for i, r := range d {
		switch i {
		case 2, 5:
			b.WriteByte('.')
		case 8:
			b.WriteByte('/')
		case 12:
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidCNPJ checks length and both check digits. Numbers made of a single
// repeated digit are rejected.
func ValidCNPJ(s string) bool {
	d := Digits(s)
	if len(d) != 14 || strings.Count(d, d[:1]) == 14 {
		return false
	}
	return cnpjDigit(d[:12], cnpjWeights1) == d[12] && cnpjDigit(d[:13], cnpjWeights2) == d[13]
}

func cnpjDigit(d string, weights []int) byte {
	sum := 0
	for i, w := range weights {
		sum += int(d[i]-'0') * w
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + 11 - r)
}

// FormatCard groups up to 19 digits in fours.
func FormatCard(s string) string {
	d := limit(Digits(s), 19)
	var b strings.Builder
	for i, r := range d {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var cardPattern = regexp.MustCompile(`^\d{13,19}$`)

// ValidCard checks length and the Luhn checksum.
func ValidCard(s string) bool {
	d := Digits(s)
	if !cardPattern.MatchString(d) {
		return false
	}
	return luhn(d)
}

func luhn(d string) bool {
	sum := 0
	double := false
	for i := len(d) - 1; i >= 0; i-- {
		n := int(d[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// Card brands reported by CardBrand.
const (
	BrandVisa       = "visa"
	BrandMastercard = "mastercard"
	BrandAmex       = "amex"
	BrandElo        = "elo"
	BrandUnknown    = "unknown"
)

// Elo shares prefixes with Visa and Mastercard, so it is matched first.
var brandPatterns = []struct {
	brand   string
	pattern *regexp.Regexp
}{
	{BrandElo, regexp.MustCompile(`^(401178|401179|431274|438935|451416|457393|457631|457632|504175|506699|5067\d{2}|509\d{3}|627780|636297|636368|650\d{3}|6516\d{2}|6550\d{2})`)},
	{BrandVisa, regexp.MustCompile(`^4`)},
	{BrandMastercard, regexp.MustCompile(`^(5[1-5]|2(2[2-9]|[3-6]\d|7[01]|720))`)},
	{BrandAmex, regexp.MustCompile(`^3[47]`)},
}

// CardBrand identifies the card network from the number prefix.
func CardBrand(s string) string {
	d := Digits(s)
	for _, bp := range brandPatterns {
		if bp.pattern.MatchString(d) {
			return bp.brand
		}
	}
	return BrandUnknown
}

// Redact hides all but the last four digits.
func Redact(s string) string {
	d := Digits(s)
	if len(d) < 4 {
		return "****"
	}
	return "**** " + d[len(d)-4:]
}

// ValidExpiry reports whether a card expiring at the end of month/year is
// still valid at now.
func ValidExpiry(month, year int, now time.Time) bool {
	if month < 1 || month > 12 {
		return false
	}
	if year < 100 {
		year += 2000
	}
	return year*12+month >= now.Year()*12+int(now.Month())
}
