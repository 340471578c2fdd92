// Package chat holds the realtime chat rules: room gatekeeping, message
// delivery, the message lifecycle, friends and rooms. It talks to storage
// through the repository interfaces and to clients through an Emitter.
package chat

import (
	"context"
	"errors"

	"github.com/lalith-99/echochat/internal/protocol"
)

// ErrorKind classifies failures for transports.
type ErrorKind int

const (
	KindAuthentication ErrorKind = iota + 1
	KindAuthorization
	KindNotFound
	KindValidation
	KindConflict
	KindPersistence
)

// Code is the stable wire name of k.
func (k ErrorKind) Code() string {
	switch k {
	case KindAuthentication:
		return "unauthenticated"
	case KindAuthorization:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is returned by every service in this package. Msg is safe to show
// to clients; Err is the underlying cause and stays server side.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrForbidden)
// holds for any authorization failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

var (
	ErrUnauthenticated = &Error{Kind: KindAuthentication}
	ErrForbidden       = &Error{Kind: KindAuthorization}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrPersistence     = &Error{Kind: KindPersistence}
)

func forbidden(msg string) *Error { return &Error{Kind: KindAuthorization, Msg: msg} }
func notFound(msg string) *Error { return &Error{Kind: KindNotFound, Msg: msg} }
func invalid(msg string) *Error { return &Error{Kind: KindValidation, Msg: msg} }
func conflict(msg string) *Error { return &Error{Kind: KindConflict, Msg: msg} }
func persistence(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: err}
}

// KindOf returns the kind of err, treating foreign errors as persistence
// failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// PublicMessage returns text that is safe to send to a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "Internal server error"
}

// ErrorBody converts err into its wire form.
func ErrorBody(err error) *protocol.ErrorBody {
	return &protocol.ErrorBody{Code: KindOf(err).Code(), Message: PublicMessage(err)}
}

// Emitter delivers an event to every connection subscribed to channel.
// Delivery is best effort.
type Emitter interface {
	Emit(ctx context.Context, channel string, event protocol.Outbound)
}
