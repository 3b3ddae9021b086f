// Package apperr is the agent's error taxonomy. Components wrap transport and
// storage failures into a Kind so callers (queue drain, session, UI) can decide
// between retry, purge, surfacing and ignoring.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork: transport failure, timeout, 429/5xx. Retryable.
	KindNetwork
	// KindAuthExpired: 401/403, the session must be purged.
	KindAuthExpired
	// KindValidation: 4xx with detail, surfaced verbatim, never retried.
	KindValidation
	// KindConflict: duplicate client_id, invalid reorder and similar.
	KindConflict
	// KindOfflineOnly: write attempted without a backend.
	KindOfflineOnly
	// KindStorageFull: KV quota exceeded.
	KindStorageFull
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthExpired:
		return "auth_expired"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindOfflineOnly:
		return "offline_only"
	case KindStorageFull:
		return "storage_full"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Detail != "" {
		if msg != "" {
			msg += ": "
		}
		msg += e.Detail
	}
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus classifies an HTTP status with the server's {detail} message.
func FromStatus(op string, status int, detail string) *Error {
	e := &Error{Op: op, Status: status, Detail: detail}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuthExpired
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case status == http.StatusTooManyRequests || status >= 500:
		e.Kind = KindNetwork
	case status >= 400:
		e.Kind = KindValidation
	default:
		e.Kind = KindUnknown
	}
	if e.Detail == "" {
		e.Detail = fmt.Sprintf("http %d", status)
	}
	return e
}

func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Detail returns the user-facing message carried by err.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
