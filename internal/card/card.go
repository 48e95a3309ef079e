// Package card holds card-number intelligence shared by the validation and
// tokenization paths: brand detection from the IIN prefix, Luhn checking,
// masking for logs, expiry normalization and a deterministic fingerprint
// for duplicate-card detection.
package card

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/yourorg/payment-gateway/internal/model"
)

// Digits strips spaces and dashes from a card number. It returns the empty
// string if any other character is present.
func Digits(number string) string {
	out := make([]byte, 0, len(number))
	for i := 0; i < len(number); i++ {
		switch c := number[i]; {
		case c >= '0' && c <= '9':
			out = append(out, c)
		case c == ' ' || c == '-':
		default:
			return ""
		}
	}
	return string(out)
}

// ValidLuhn reports whether the number passes the Luhn checksum.
func ValidLuhn(number string) bool {
	digits := Digits(number)
	if len(digits) < 12 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// iinRange matches numbers whose leading digits fall in [lo, hi]. lo and hi
// must have the same number of digits.
type iinRange struct {
	lo, hi int
	width  int
	brand  model.CardBrand
}

// Ranges are ordered most-specific first so 622126-622925 resolves to
// Discover before the UnionPay 62 prefix can claim it.
var iinRanges = []iinRange{
	{622126, 622925, 6, model.BrandDiscover},
	{3528, 3589, 4, model.BrandJCB},
	{2221, 2720, 4, model.BrandMastercard},
	{6011, 6011, 4, model.BrandDiscover},
	{300, 305, 3, model.BrandDiners},
	{644, 649, 3, model.BrandDiscover},
	{34, 34, 2, model.BrandAmex},
	{37, 37, 2, model.BrandAmex},
	{36, 36, 2, model.BrandDiners},
	{38, 38, 2, model.BrandDiners},
	{51, 55, 2, model.BrandMastercard},
	{65, 65, 2, model.BrandDiscover},
	{62, 62, 2, model.BrandUnionPay},
	{4, 4, 1, model.BrandVisa},
}

// DetectBrand returns the card network for a number based on its IIN
// prefix, or BrandUnknown when no range matches.
func DetectBrand(number string) model.CardBrand {
	digits := Digits(number)
	if digits == "" {
		return model.BrandUnknown
	}
	for _, r := range iinRanges {
		if len(digits) < r.width {
			continue
		}
		prefix, err := strconv.Atoi(digits[:r.width])
		if err != nil {
			return model.BrandUnknown
		}
		if prefix >= r.lo && prefix <= r.hi {
			return r.brand
		}
	}
	return model.BrandUnknown
}

// Last4 returns the trailing four digits of a card number, or the whole
// number if it is shorter than four digits.
func Last4(number string) string {
	digits := Digits(number)
	if len(digits) <= 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// Mask renders a card number safe for logs and journals: only the last
// four digits survive.
func Mask(number string) string {
	last4 := Last4(number)
	if last4 == "" {
		return ""
	}
	return "****" + last4
}

// Fingerprint returns a deterministic 16-hex-character digest of the card
// number. It exists for duplicate-card detection across tokenizations and
// is explicitly not a security control.
func Fingerprint(number string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(Digits(number)))
}

// NormalizeYear widens a two-digit expiry year into the current century.
// Four-digit years pass through unchanged.
func NormalizeYear(year int) int {
	if year >= 100 {
		return year
	}
	return 2000 + year
}

// Expired reports whether a month/year expiry has passed as of now. A card
// is valid through the last day of its expiry month.
func Expired(month, year int, now time.Time) bool {
	year = NormalizeYear(year)
	if year < now.Year() {
		return true
	}
	if year > now.Year() {
		return false
	}
	return time.Month(month) < now.Month()
}
