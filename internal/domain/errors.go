package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies rejections that are reported back to the originating client only.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindIllegalState    ErrorKind = "illegal_state"
	KindNotYourTurn     ErrorKind = "not_your_turn"
	KindIllegalMove     ErrorKind = "illegal_move"
	KindPermission      ErrorKind = "permission"
	KindFeatureDisabled ErrorKind = "feature_disabled"
	KindInvalid         ErrorKind = "invalid"
)

// Error is a domain rejection. It never accompanies a state mutation.
type Error struct {
	Kind       ErrorKind
	Code       string
	Message    string
	LegalMoves []string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind) + ": " + e.Code
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is lets errors.Is match on kind using a bare *Error{Kind: ...} target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind ErrorKind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code, format string, args ...any) *Error {
	return newErr(KindNotFound, code, format, args...)
}

func IllegalState(code, format string, args ...any) *Error {
	return newErr(KindIllegalState, code, format, args...)
}

func NotYourTurn(format string, args ...any) *Error {
	return newErr(KindNotYourTurn, "not_your_turn", format, args...)
}

// IllegalMove carries the legal move set of the current position.
func IllegalMove(legal []string, format string, args ...any) *Error {
	e := newErr(KindIllegalMove, "illegal_move", format, args...)
	e.LegalMoves = legal
	return e
}

func Permission(code, format string, args ...any) *Error {
	return newErr(KindPermission, code, format, args...)
}

func FeatureDisabled(feature string) *Error {
	return newErr(KindFeatureDisabled, feature+"_disabled", "%s is disabled for this session", feature)
}

func Invalid(code, format string, args ...any) *Error {
	return newErr(KindInvalid, code, format, args...)
}

// KindOf returns the kind of a domain error anywhere in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }

// AsError unwraps a domain error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
