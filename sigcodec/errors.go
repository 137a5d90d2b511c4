package sigcodec

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
type Kind string

const (
	KindSizeExceeded Kind = "SizeExceeded"
	KindMalformed    Kind = "Malformed"
	KindAmbiguous    Kind = "Ambiguous"
	KindInvalidInput Kind = "InvalidInput"
)

// Rule identifiers carried by *Error.
const (
	RuleSizeExceeded    = "SIG-SIZE-001"
	RuleEmptyBuffer     = "SIG-MAL-001"
	RuleTruncatedHeader = "SIG-MAL-002"
	RuleTruncatedStroke = "SIG-MAL-003"
	RuleTruncatedPoints = "SIG-MAL-004"
	RuleTrailingBytes   = "SIG-MAL-005"
	RuleOffGrid         = "SIG-MAL-006"
	RuleMissingVersion  = "SIG-MAL-007"
	RuleAmbiguous       = "SIG-AMB-001"
	RuleBadDimension    = "SIG-IN-001"
	RuleNonFinite       = "SIG-IN-002"
	RuleBadColor        = "SIG-IN-003"
	RuleUnknownFormat   = "SIG-IN-004"
)

// Error is the codec's structured error type.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

func wrapError(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return newError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
