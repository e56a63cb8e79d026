// Package votemode translates between application vote modes and the
// numeric codes understood by the voting contract.
package votemode

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownModeName = errors.New("unknown vote mode name")
	ErrUnknownModeCode = errors.New("unknown vote mode code")
)

// Mode is the application's ballot style
type Mode string

const (
	Single   Mode = "single"
	Multiple Mode = "multiple"
	Ranked   Mode = "ranked"
)

// Code is the contract encoding of a Mode
type Code uint8

const (
	CodeSingle   Code = 0
	CodeMultiple Code = 1
	CodeRanked   Code = 2
)

var (
	modeToCode = map[Mode]Code{
		Single:   CodeSingle,
		Multiple: CodeMultiple,
		Ranked:   CodeRanked,
	}
	codeToMode = map[Code]Mode{
		CodeSingle:   Single,
		CodeMultiple: Multiple,
		CodeRanked:   Ranked,
	}

	// session types used by the web layer
	aliases = map[string]Mode{
		"election":   Single,
		"poll":       Multiple,
		"tournament": Ranked,
	}
)

// All returns every mode in code order
func All() []Mode {
	return []Mode{Single, Multiple, Ranked}
}

// Encode returns the contract code for a mode
func Encode(m Mode) (Code, error) {
	c, ok := modeToCode[m]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownModeName, string(m))
	}
	return c, nil
}

// Decode returns the mode for a contract code
func Decode(c Code) (Mode, error) {
	m, ok := codeToMode[c]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownModeCode, c)
	}
	return m, nil
}

// Parse accepts a mode name or session-type alias, case-insensitively
func Parse(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if m, ok := aliases[name]; ok {
		return m, nil
	}
	m := Mode(name)
	if _, ok := modeToCode[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModeName, s)
	}
	return m, nil
}

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	_, ok := modeToCode[m]
	return ok
}

func (m Mode) String() string {
	return string(m)
}
