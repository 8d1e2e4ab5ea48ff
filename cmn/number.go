package cmn

import (
	"math/big"
	"strings"
)

// ParseNumber parses a DynamoDB-shaped number string into an
// arbitrary-precision rational, so arithmetic in update expressions never
// loses precision the way float64 would.
func ParseNumber(s string) (*big.Rat, error) {
	r := new(big.Rat)
	if _, ok := r.SetString(strings.TrimSpace(s)); !ok {
		return nil, &ValidationError{Msg: "invalid numeric attribute value: " + s}
	}
	return r, nil
}

// FormatNumber renders a rational back to DynamoDB's canonical number
// string: fixed-point, no exponent, no trailing zeros.
func FormatNumber(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(20)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// AddNumbers returns FormatNumber(a + b) for two DynamoDB number strings.
func AddNumbers(a, b string) (string, error) {
	ra, err := ParseNumber(a)
	if err != nil {
		return "", err
	}
	rb, err := ParseNumber(b)
	if err != nil {
		return "", err
	}
	sum := new(big.Rat).Add(ra, rb)
	return FormatNumber(sum), nil
}

// SubNumbers returns FormatNumber(a - b) for two DynamoDB number strings.
func SubNumbers(a, b string) (string, error) {
	ra, err := ParseNumber(a)
	if err != nil {
		return "", err
	}
	rb, err := ParseNumber(b)
	if err != nil {
		return "", err
	}
	diff := new(big.Rat).Sub(ra, rb)
	return FormatNumber(diff), nil
}
