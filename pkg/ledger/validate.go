package ledger

import (
	"fmt"

	"votebridge/pkg/votemode"
)

// NormalizeSession fills defaults and validates session parameters.
// A zero MaxChoices means one choice in single mode and every choice otherwise.
func NormalizeSession(p SessionParams) (SessionParams, error) {
	mode, err := votemode.Decode(p.ModeCode)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidMode, err)
	}
	if p.ID == "" {
		return p, fmt.Errorf("%w: session ID cannot be empty", ErrInvalidSession)
	}
	if len(p.Choices) == 0 {
		return p, fmt.Errorf("%w: choices cannot be empty", ErrInvalidSession)
	}
	seen := make(map[string]struct{}, len(p.Choices))
	for _, c := range p.Choices {
		if c == "" {
			return p, fmt.Errorf("%w: choice ID cannot be empty", ErrInvalidSession)
		}
		if _, dup := seen[c]; dup {
			return p, fmt.Errorf("%w: duplicate choice %q", ErrInvalidSession, c)
		}
		seen[c] = struct{}{}
	}
	if p.MaxChoices < 0 {
		return p, fmt.Errorf("%w: max choices cannot be negative", ErrInvalidSession)
	}

	switch {
	case mode == votemode.Single:
		p.MaxChoices = 1
	case p.MaxChoices == 0 || p.MaxChoices > len(p.Choices):
		p.MaxChoices = len(p.Choices)
	}
	return p, nil
}

// NormalizeVote applies the default weight
func NormalizeVote(v Vote) Vote {
	if v.Weight == 0 {
		v.Weight = 1
	}
	return v
}

// ValidateBasic checks what holds for a vote in every mode: ids are set,
// choices are present and distinct, and ranks, when given, pair one to one
// with choices and are distinct and positive.
func ValidateBasic(v Vote) error {
	if v.SessionID == "" {
		return fmt.Errorf("%w: session ID cannot be empty", ErrInvalidVote)
	}
	if v.VoterID == "" {
		return fmt.Errorf("%w: voter ID cannot be empty", ErrInvalidVote)
	}
	if len(v.Choices) == 0 {
		return fmt.Errorf("%w: at least one choice is required", ErrInvalidVote)
	}

	seen := make(map[string]struct{}, len(v.Choices))
	for _, c := range v.Choices {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate choice %q", ErrInvalidVote, c)
		}
		seen[c] = struct{}{}
	}

	if len(v.Ranks) == 0 {
		return nil
	}
	if len(v.Ranks) != len(v.Choices) {
		return fmt.Errorf("%w: %d ranks for %d choices", ErrInvalidVote, len(v.Ranks), len(v.Choices))
	}
	ranks := make(map[uint64]struct{}, len(v.Ranks))
	for _, r := range v.Ranks {
		if r == 0 {
			return fmt.Errorf("%w: ranks start at 1", ErrInvalidVote)
		}
		if _, dup := ranks[r]; dup {
			return fmt.Errorf("%w: duplicate rank %d", ErrInvalidVote, r)
		}
		ranks[r] = struct{}{}
	}
	return nil
}

// ValidateShape checks the parts of a vote that need no session lookup
func ValidateShape(mode votemode.Mode, maxChoices int, v Vote) error {
	if err := ValidateBasic(v); err != nil {
		return err
	}

	switch mode {
	case votemode.Single:
		if len(v.Choices) != 1 {
			return fmt.Errorf("%w: single vote mode requires exactly one choice", ErrInvalidVote)
		}
	case votemode.Multiple:
		if maxChoices > 0 && len(v.Choices) > maxChoices {
			return fmt.Errorf("%w: %d selected, at most %d allowed", ErrTooManyChoices, len(v.Choices), maxChoices)
		}
	case votemode.Ranked:
		if len(v.Ranks) != len(v.Choices) {
			return fmt.Errorf("%w: %d ranks for %d choices", ErrInvalidVote, len(v.Ranks), len(v.Choices))
		}
		if maxChoices > 0 && len(v.Choices) > maxChoices {
			return fmt.Errorf("%w: %d ranked, at most %d allowed", ErrTooManyChoices, len(v.Choices), maxChoices)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, string(mode))
	}
	return nil
}

// ValidateVote checks shape and that every choice belongs to the session
func ValidateVote(mode votemode.Mode, maxChoices int, sessionChoices []string, v Vote) error {
	if err := ValidateShape(mode, maxChoices, v); err != nil {
		return err
	}
	known := make(map[string]struct{}, len(sessionChoices))
	for _, c := range sessionChoices {
		known[c] = struct{}{}
	}
	for _, c := range v.Choices {
		if _, ok := known[c]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidChoice, c)
		}
	}
	return nil
}

// Credits returns the per-choice increments for a validated vote.
// Ranked ballots credit the first preference only.
func Credits(mode votemode.Mode, v Vote) map[string]uint64 {
	v = NormalizeVote(v)
	credits := make(map[string]uint64, len(v.Choices))
	if mode == votemode.Ranked {
		best := 0
		for i, r := range v.Ranks {
			if r < v.Ranks[best] {
				best = i
			}
		}
		credits[v.Choices[best]] = v.Weight
		return credits
	}
	for _, c := range v.Choices {
		credits[c] = v.Weight
	}
	return credits
}
