package broker

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Kind classifies broker connection failures so callers can decide between
// retry-as-infrastructure-unavailable and giving up.
type Kind int

const (
	KindRefused Kind = iota // broker not listening / connection refused
	KindHandshake           // AMQP handshake rejected (bad credentials, vhost, protocol)
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindRefused:
		return "refused"
	case KindHandshake:
		return "handshake"
	default:
		return "other"
	}
}

// Error wraps a broker failure with its classification and original cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is infrastructure-level and worth
// retrying (broker down or still starting, as opposed to bad credentials).
func (e *Error) Retryable() bool {
	return e.Kind == KindRefused || e.Kind == KindOther
}

func classifyDial(err error) *Error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &Error{Kind: KindRefused, Err: err}
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return &Error{Kind: KindRefused, Err: err}
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) || errors.Is(err, amqp.ErrSASL) || errors.Is(err, amqp.ErrCredentials) || errors.Is(err, amqp.ErrVhost) {
		return &Error{Kind: KindHandshake, Err: err}
	}
	return &Error{Kind: KindOther, Err: err}
}
