package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SpecialCharacters is the symbol class accepted by ValidateStrength.
const SpecialCharacters = `!@#$%^&*(),.?":{}|<>`

// MinLength is the minimum password length in runes.
const MinLength = 8

// ErrWeak is wrapped by Policy.Validate with the list of unmet rules.
var ErrWeak = errors.New("password does not meet strength requirements")

// Policy enforces the password strength rules.
type Policy struct {
	MinLength int
	Specials  string
}

// DefaultPolicy returns the standard rules: eight characters with at least one
// upper case letter, lower case letter, digit and symbol.
func DefaultPolicy() Policy {
	return Policy{MinLength: MinLength, Specials: SpecialCharacters}
}

// ValidateStrength reports whether pw satisfies every rule.
func (p Policy) ValidateStrength(pw string) bool {
	return len(p.unmet(pw)) == 0
}

// Validate returns nil or an error wrapping ErrWeak naming the unmet rules.
func (p Policy) Validate(pw string) error {
	missing := p.unmet(pw)
	if len(missing) == 0 {
		return nil
	}
	return &WeakError{Missing: missing}
}

// WeakError lists the rules a rejected password did not meet.
type WeakError struct {
	Missing []string
}

func (e *WeakError) Error() string {
	return ErrWeak.Error() + ": " + strings.Join(e.Missing, ", ")
}

func (e *WeakError) Unwrap() error { return ErrWeak }

func (p Policy) unmet(pw string) []string {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = MinLength
	}
	specials := p.Specials
	if specials == "" {
		specials = SpecialCharacters
	}

	if pw == "" {
		return []string{"length"}
	}

	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specials, r):
			symbol = true
		}
	}

	var missing []string
	if utf8.RuneCountInString(pw) < minLen {
		missing = append(missing, "length")
	}
	if !upper {
		missing = append(missing, "uppercase")
	}
	if !lower {
		missing = append(missing, "lowercase")
	}
	if !digit {
		missing = append(missing, "digit")
	}
	if !symbol {
		missing = append(missing, "symbol")
	}
	return missing
}
