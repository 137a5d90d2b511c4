// Package compliance selects how strictly payloads and event batches are
// checked.
package compliance

import (
	"fmt"
	"strings"
)

// ComplianceMode selects how aggressively ambiguous input is rejected.
//
// Permissive accepts everything the deployed contract history can contain and
// reports problems alongside the result. Strict prefers explicit failure.
type ComplianceMode int

const (
	Permissive ComplianceMode = iota
	Strict
)

func (m ComplianceMode) String() string {
	switch m {
	case Permissive:
		return "permissive"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("ComplianceMode(%d)", int(m))
	}
}

// ParseMode parses "permissive" or "strict" (case-insensitive). The empty
// string is Permissive.
func ParseMode(s string) (ComplianceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permissive":
		return Permissive, nil
	case "strict":
		return Strict, nil
	default:
		return Permissive, fmt.Errorf("compliance: unknown mode %q", s)
	}
}
