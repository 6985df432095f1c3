package lms

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnknownProvider = errors.New("unknown LMS provider")
	ErrInvalidConfig   = errors.New("invalid LMS provider config")
)

// ErrorKind tells whether retrying a failed provider call may succeed.
type ErrorKind int

const (
	Transient ErrorKind = iota + 1 // network, timeout, provider 5xx
	Permanent                      // auth failure, bad request, undecodable response
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// ProviderError is returned by every Provider operation that fails.
type ProviderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewTransientError(op string, err error) error {
	return &ProviderError{Kind: Transient, Op: op, Err: err}
}

func NewPermanentError(op string, err error) error {
	return &ProviderError{Kind: Permanent, Op: op, Err: err}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s provider error: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func kindOf(err error) ErrorKind {
	if pErr, ok := errors.Cause(err).(*ProviderError); ok {
		return pErr.Kind
	}
	return 0
}

func IsTransient(err error) bool { return kindOf(err) == Transient }
func IsPermanent(err error) bool { return kindOf(err) == Permanent }

// MalformedEntityError describes a provider item dropped during normalization.
type MalformedEntityError struct {
	Entity string
	Index  int
	Reason string
}

func (e *MalformedEntityError) Error() string {
	return fmt.Sprintf("malformed %s at index %d: %s", e.Entity, e.Index, e.Reason)
}
