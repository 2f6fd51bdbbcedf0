package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"syscall"

	"github.com/aws/smithy-go"
)

type Mail struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer is the outbound transport. Send returns a provider message id
// or a human readable acknowledgement on success.
type Mailer interface {
	Send(ctx context.Context, m Mail) (providerMsgID string, err error)
}

type ErrorKind string

const (
	KindTransport  ErrorKind = "transport_error"
	KindConnection ErrorKind = "connection_error"
	KindUnknown    ErrorKind = "unknown_error"
)

// Error is a classified send failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Classify maps any send error onto one of the three kinds.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnection
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return KindTransport
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return KindTransport
	}
	return KindUnknown
}
