package reconcile

import "errors"

// Kind is a stable category for programmatic error handling.
type Kind string

const (
	KindFetch          Kind = "Fetch"
	KindStrict         Kind = "Strict"
	KindInvalidOptions Kind = "InvalidOptions"
	KindConflict       Kind = "Conflict"
)

const (
	RuleFetch    = "REC-FETCH-001"
	RuleStrict   = "REC-STRICT-001"
	RuleOptions  = "REC-OPT-001"
	RuleConflict = "REC-DUP-001"
)

// Error is the reconciler's structured error type.
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
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
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
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsFetchFailure reports whether err means events could not be fetched. Such
// a failure must never be treated as an empty wall.
func IsFetchFailure(err error) bool { return IsKind(err, KindFetch) }
