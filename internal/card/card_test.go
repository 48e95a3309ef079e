package card

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/payment-gateway/internal/model"
)

func TestDetectBrand(t *testing.T) {
	tests := []struct {
		number string
		want   model.CardBrand
	}{
		{"4111111111111111", model.BrandVisa},
		{"4005519200000004", model.BrandVisa},
		{"5105105105105100", model.BrandMastercard},
		{"5555555555554444", model.BrandMastercard},
		{"2221000000000009", model.BrandMastercard},
		{"2720990000000007", model.BrandMastercard},
		{"378282246310005", model.BrandAmex},
		{"341111111111111", model.BrandAmex},
		{"6011111111111117", model.BrandDiscover},
		{"6221261111111118", model.BrandDiscover}, // 622126 belongs to Discover, not UnionPay
		{"6449111111111110", model.BrandDiscover},
		{"6511111111111119", model.BrandDiscover},
		{"30569309025904", model.BrandDiners},
		{"36148900647913", model.BrandDiners},
		{"38000000000006", model.BrandDiners},
		{"3530111333300000", model.BrandJCB},
		{"3589111111111111", model.BrandJCB},
		{"6200000000000005", model.BrandUnionPay},
		{"6250941006528599", model.BrandUnionPay},
		{"9999999999999999", model.BrandUnknown},
		{"", model.BrandUnknown},
		{"not-a-number", model.BrandUnknown},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, DetectBrand(tc.number), "number %q", tc.number)
	}
}

func TestDetectBrand_SeparatorsIgnored(t *testing.T) {
	assert.Equal(t, model.BrandVisa, DetectBrand("4111 1111 1111 1111"))
	assert.Equal(t, model.BrandAmex, DetectBrand("3782-822463-10005"))
}

func TestValidLuhn(t *testing.T) {
	assert.True(t, ValidLuhn("4111111111111111"))
	assert.True(t, ValidLuhn("5555555555554444"))
	assert.True(t, ValidLuhn("378282246310005"))
	assert.True(t, ValidLuhn("4111 1111 1111 1111"))

	assert.False(t, ValidLuhn("4111111111111112"))
	assert.False(t, ValidLuhn("1234567890123456"))
	assert.False(t, ValidLuhn(""))
	assert.False(t, ValidLuhn("41111111")) // too short to be a card
}

func TestMaskAndLast4(t *testing.T) {
	assert.Equal(t, "1111", Last4("4111111111111111"))
	assert.Equal(t, "****1111", Mask("4111111111111111"))
	assert.Equal(t, "****0005", Mask("3782-822463-10005"))
	assert.Equal(t, "", Mask(""))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("4111111111111111")
	b := Fingerprint("4111 1111 1111 1111")
	c := Fingerprint("5555555555554444")

	assert.Len(t, a, 16)
	assert.Equal(t, a, b, "separators must not change the fingerprint")
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "1111", "fingerprint must not leak digits")
}

func TestNormalizeYear(t *testing.T) {
	assert.Equal(t, 2030, NormalizeYear(30))
	assert.Equal(t, 2030, NormalizeYear(2030))
	assert.Equal(t, 2005, NormalizeYear(5))
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)

	assert.True(t, Expired(5, 2026, now), "last month")
	assert.True(t, Expired(12, 2025, now), "last year")
	assert.True(t, Expired(1, 25, now), "two-digit past year")

	assert.False(t, Expired(6, 2026, now), "valid through the end of its month")
	assert.False(t, Expired(7, 2026, now))
	assert.False(t, Expired(1, 30, now), "two-digit future year")
}
