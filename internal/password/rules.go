// rules.go

// Password-pair rules shared by signup, password change and recovery.
package password

import (
	"fmt"
	"strings"
	"unicode"
)

// MinLength is the minimum byte length for a new password. A multi-byte
// character counts once per byte.
const MinLength = 8

// Symbols lists the characters that satisfy the symbol rule.
const Symbols = `.-_+*\%&/${}[]=?!"§°~#@`

// Checklist reports each rule independently so callers can render which
// ones a candidate password fails.
type Checklist struct {
	Same      bool `json:"same"`
	Length    bool `json:"length"`
	LowerCase bool `json:"lower_case"`
	UpperCase bool `json:"upper_case"`
	Digits    bool `json:"digits"`
	Symbols   bool `json:"symbols"`
}

// Check evaluates the pair (a, b) where b is the confirmation of a.
// Character-class rules look at a only.
func Check(a, b string) Checklist {
	c := Checklist{
		Same:   a == b,
		Length: len(a) >= MinLength,
	}
	for _, r := range a {
		switch {
		case unicode.IsLower(r):
			c.LowerCase = true
		case unicode.IsUpper(r):
			c.UpperCase = true
		case unicode.IsDigit(r):
			c.Digits = true
		case strings.ContainsRune(Symbols, r):
			c.Symbols = true
		}
	}
	return c
}

// Valid reports whether every rule passed.
func (c Checklist) Valid() bool {
	return c.Same && c.Length && c.LowerCase && c.UpperCase && c.Digits && c.Symbols
}

// Failures returns the json names of the failing rules, in declaration order.
func (c Checklist) Failures() []string {
	var failures []string
	for _, rule := range []struct {
		name string
		ok   bool
	}{
		{"same", c.Same},
		{"length", c.Length},
		{"lower_case", c.LowerCase},
		{"upper_case", c.UpperCase},
		{"digits", c.Digits},
		{"symbols", c.Symbols},
	} {
		if !rule.ok {
			failures = append(failures, rule.name)
		}
	}
	return failures
}

// RuleError carries the checklist of a rejected pair.
type RuleError struct {
	Checklist Checklist
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("password rules not met: %s", strings.Join(e.Checklist.Failures(), ", "))
}

// ValidatePair returns a *RuleError when the pair fails any rule, nil otherwise.
func ValidatePair(a, b string) error {
	if c := Check(a, b); !c.Valid() {
		return &RuleError{Checklist: c}
	}
	return nil
}
