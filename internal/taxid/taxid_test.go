package taxid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		input string
		kind  Kind
		valid bool
	}{
		// RNC (9 digits, mod-11)
		{"valid RNC", "101017961", KindCorporate, true},
		{"valid RNC second", "131098193", KindCorporate, true},
		{"valid RNC remainder 1", "401007551", KindCorporate, true},
		{"invalid RNC sequential", "123456789", KindCorporate, false},
		{"invalid RNC all zeros", "000000000", KindCorporate, false},
		{"valid RNC with separators", "1-01-01796-1", KindCorporate, true},

		// Cédula (11 digits, Luhn-style)
		{"valid cedula", "00113918205", KindIndividual, true},
		{"valid cedula with folding", "22300049149", KindIndividual, true},
		{"invalid cedula wrong check", "00113918204", KindIndividual, false},
		{"valid cedula with separators", "001-1391820-5", KindIndividual, true},

		// Anything else
		{"empty", "", KindUnknown, false},
		{"too short", "12345678", KindUnknown, false},
		{"ten digits", "1234567890", KindUnknown, false},
		{"twelve digits", "123456789012", KindUnknown, false},
		{"letters only", "abc", KindUnknown, false},
		{"letters mixed in leaves 3 digits", "1a2b3c", KindUnknown, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, valid := Validate(tc.input)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.valid, valid)
		})
	}
}

func TestValidRNC(t *testing.T) {
	assert.True(t, ValidRNC("101017961"))
	assert.False(t, ValidRNC("123456789"))
	// A valid cédula is not an RNC.
	assert.False(t, ValidRNC("00113918205"))
}

func TestValidCedula(t *testing.T) {
	assert.True(t, ValidCedula("00113918205"))
	assert.False(t, ValidCedula("00113918204"))
	assert.False(t, ValidCedula("101017961"))
}
