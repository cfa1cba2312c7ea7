package ticket

import (
	"errors"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindBlocked
	KindDuplicate
	KindQuotaExceeded
	KindMaintenance
	KindInvalidCategory
	KindNotStaff
	KindNotAuthorized
	KindNotFound
	KindAlreadyClosed
	KindAlreadyClaimed
	KindAlreadyOpen
	KindInvalidInput
	KindExternal
	KindPersistence
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindBlocked:         "blocked",
	KindDuplicate:       "duplicate",
	KindQuotaExceeded:   "quota_exceeded",
	KindMaintenance:     "maintenance",
	KindInvalidCategory: "invalid_category",
	KindNotStaff:        "not_staff",
	KindNotAuthorized:   "not_authorized",
	KindNotFound:        "not_found",
	KindAlreadyClosed:   "already_closed",
	KindAlreadyClaimed:  "already_claimed",
	KindAlreadyOpen:     "already_open",
	KindInvalidInput:    "invalid_input",
	KindExternal:        "external",
	KindPersistence:     "persistence",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// GuardRejected reports whether k is one of the creation guard failures.
func (k Kind) GuardRejected() bool {
	switch k {
	case KindBlocked, KindDuplicate, KindQuotaExceeded, KindMaintenance, KindInvalidCategory:
		return true
	}
	return false
}

// UserFacing reports whether the error should be shown to the user as is
// rather than logged as an internal failure.
func (k Kind) UserFacing() bool {
	switch k {
	case KindExternal, KindPersistence, KindUnknown:
		return false
	}
	return true
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrBlocked         = &Error{Kind: KindBlocked}
	ErrDuplicate       = &Error{Kind: KindDuplicate}
	ErrQuotaExceeded   = &Error{Kind: KindQuotaExceeded}
	ErrMaintenance     = &Error{Kind: KindMaintenance}
	ErrInvalidCategory = &Error{Kind: KindInvalidCategory}
	ErrNotStaff        = &Error{Kind: KindNotStaff}
	ErrNotAuthorized   = &Error{Kind: KindNotAuthorized}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrAlreadyClosed   = &Error{Kind: KindAlreadyClosed}
	ErrAlreadyClaimed  = &Error{Kind: KindAlreadyClaimed}
	ErrAlreadyOpen     = &Error{Kind: KindAlreadyOpen}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
	ErrExternal        = &Error{Kind: KindExternal}
	ErrPersistence     = &Error{Kind: KindPersistence}
)

func newError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func wrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsGuardRejected(err error) bool { return KindOf(err).GuardRejected() }
