package taxid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_USEIN(t *testing.T) {
	v := Validate("12-3456789", "US")
	assert.True(t, v.Valid)
	assert.Equal(t, "12-3456789", v.Normalized)

	v = Validate("123456789", "US")
	assert.True(t, v.Valid)
	assert.Equal(t, "12-3456789", v.Normalized)

	v = Validate("1234567", "US")
	assert.False(t, v.Valid)

	v = Validate("12345678A", "US")
	assert.False(t, v.Valid)
}

func TestValidate_UKVAT(t *testing.T) {
	v := Validate("GB123456789", "GB")
	assert.True(t, v.Valid)
	assert.Equal(t, "GB123456789", v.Normalized)

	// 5 digits is the floor, 12 the ceiling
	assert.True(t, Validate("GB12345", "UK").Valid)
	assert.True(t, Validate("GB123456789012", "GB").Valid)
	assert.False(t, Validate("GB1234", "GB").Valid)
	assert.False(t, Validate("GB1234567890123", "GB").Valid)
	assert.False(t, Validate("123456789", "GB").Valid)
}

func TestValidate_EUVAT(t *testing.T) {
	v := Validate("DE123456789", "DE")
	assert.True(t, v.Valid)
	assert.Equal(t, "DE123456789", v.Normalized)

	// prefix added when the caller passes digits only
	v = Validate("123456789", "FR")
	assert.True(t, v.Valid)
	assert.Equal(t, "FR123456789", v.Normalized)

	assert.False(t, Validate("DE12345ABC", "DE").Valid)
}

func TestValidate_Generic(t *testing.T) {
	assert.True(t, Validate("AB12", "BR").Valid)
	assert.False(t, Validate("A1", "BR").Valid)
	assert.False(t, Validate("ABCDEF", "BR").Valid)
	assert.False(t, Validate("", "BR").Valid)
}

func TestMatchesPattern(t *testing.T) {
	assert.True(t, MatchesPattern("12-3456789", `^\d{2}-\d{7}$`))
	assert.False(t, MatchesPattern("123456789", `^\d{2}-\d{7}$`))
	// empty and broken patterns are permissive
	assert.True(t, MatchesPattern("anything1", ""))
	assert.True(t, MatchesPattern("anything1", "("))
}
