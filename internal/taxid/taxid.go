// Package taxid validates Dominican taxpayer identifiers: the 9-digit RNC
// assigned to companies and the 11-digit cédula assigned to individuals.
// Both checks are pure functions with no I/O.
package taxid

// Kind tells which identifier class a value belongs to.
type Kind string

const (
	KindUnknown    Kind = ""
	KindCorporate  Kind = "rnc"
	KindIndividual Kind = "cedula"
)

// rncWeights is the fixed DGII weight vector applied to the first 8 digits.
var rncWeights = [8]int{7, 9, 8, 6, 5, 4, 3, 2}

// Validate cleans non-digit characters and dispatches on length:
// 9 digits → RNC, 11 digits → cédula, anything else is invalid.
func Validate(identifier string) (Kind, bool) {
	digits := cleanDigits(identifier)
	switch len(digits) {
	case 9:
		return KindCorporate, validRNC(digits)
	case 11:
		return KindIndividual, validCedula(digits)
	default:
		return KindUnknown, false
	}
}

// ValidRNC reports whether the value is a checksum-valid 9-digit RNC.
func ValidRNC(identifier string) bool {
	k, ok := Validate(identifier)
	return ok && k == KindCorporate
}

// ValidCedula reports whether the value is a checksum-valid 11-digit cédula.
func ValidCedula(identifier string) bool {
	k, ok := Validate(identifier)
	return ok && k == KindIndividual
}

func cleanDigits(s string) []int {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	return digits
}

// validRNC applies the mod-11 check: sum of the first 8 digits times the
// weight vector; remainder 0 expects check digit 2, remainder 1 expects 1,
// otherwise 11 - remainder.
func validRNC(d []int) bool {
	sum := 0
	for i, w := range rncWeights {
		sum += d[i] * w
	}
	var expected int
	switch sum % 11 {
	case 0:
		expected = 2
	case 1:
		expected = 1
	default:
		expected = 11 - sum%11
	}
	return d[8] == expected
}

// validCedula applies the Luhn-style check: weights alternate 1,2 over the
// first 10 digits; two-digit products are folded by adding their digits.
func validCedula(d []int) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		p := d[i]
		if i%2 == 1 {
			p *= 2
		}
		if p >= 10 {
			p = p/10 + p%10
		}
		sum += p
	}
	expected := (10 - sum%10) % 10
	return d[10] == expected
}
