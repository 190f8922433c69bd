package entities

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a human decimal string into a fixed-point integer with
// the given number of decimals. The input must be a plain decimal number
// (no sign, no exponent); the fractional part must not exceed decimals
// digits.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrParse)
	}

	intPart := value
	fracPart := ""
	if i := strings.IndexByte(value, '.'); i >= 0 {
		intPart = value[:i]
		fracPart = value[i+1:]
		if strings.IndexByte(fracPart, '.') >= 0 {
			return nil, fmt.Errorf("%w: multiple decimal points in %q", ErrParse, value)
		}
	}
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("%w: %q is not a number", ErrParse, value)
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return nil, fmt.Errorf("%w: %q is not a number", ErrParse, value)
	}
	if len(fracPart) > int(decimals) {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrParse, value, decimals)
	}

	// Scale by right-padding the fraction to exactly decimals digits.
	padded := fracPart + strings.Repeat("0", int(decimals)-len(fracPart))
	combined := intPart + padded
	if combined == "" {
		combined = "0"
	}

	amount, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a number", ErrParse, value)
	}
	return amount, nil
}

// FormatUnits converts a fixed-point integer back into its exact decimal
// string representation. No rounding is performed; the full fractional part
// is emitted including trailing zeros.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	if decimals == 0 {
		return amount.String()
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quo, rem := new(big.Int).QuoRem(new(big.Int).Abs(amount), scale, new(big.Int))

	sign := ""
	if amount.Sign() < 0 {
		sign = "-"
	}
	frac := rem.String()
	if len(frac) < int(decimals) {
		frac = strings.Repeat("0", int(decimals)-len(frac)) + frac
	}
	return sign + quo.String() + "." + frac
}

// TrimTrailingZeros is a display-only transform: it strips trailing zeros
// from the fractional part of a decimal string. The stored integer amount is
// never derived from its output.
func TrimTrailingZeros(value string) string {
	if !strings.Contains(value, ".") {
		return value
	}
	value = strings.TrimRight(value, "0")
	value = strings.TrimSuffix(value, ".")
	if value == "" || value == "-" {
		return "0"
	}
	return value
}

// AcceptAmountInput applies the keystroke-sanitization rules to a candidate
// amount string and reports whether it replaces the current value. Rejected
// input leaves the current value unchanged; rejection is a no-op, not an
// error. An empty candidate clears the field.
func AcceptAmountInput(current, candidate string, decimals uint8) (string, bool) {
	if candidate == "" {
		return "", true
	}

	dots := 0
	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
		if c == '.' {
			dots++
			continue
		}
		if c < '0' || c > '9' {
			return current, false
		}
	}
	if dots > 1 {
		return current, false
	}

	// No more fractional digits than the token supports.
	if i := strings.IndexByte(candidate, '.'); i >= 0 {
		if len(candidate)-i-1 > int(decimals) {
			return current, false
		}
	}

	// No leading zeros unless immediately followed by the decimal point.
	if len(candidate) > 1 && candidate[0] == '0' && candidate[1] != '.' {
		return current, false
	}

	return candidate, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
