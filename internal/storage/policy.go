package storage

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a backing store call that failed or timed out
var ErrUnavailable = errors.New("backing store unavailable")

// ErrContended marks a call that gave up waiting on one key's lock while the
// store itself kept answering
var ErrContended = errors.New("key contended")

// FailurePolicy decides what a counter does when its store is unavailable
type FailurePolicy int

const (
	// FailOpen admits the request and logs the failure
	FailOpen FailurePolicy = iota
	// FailClosed rejects the request
	FailClosed
)

func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "open"
	case FailClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "open", "":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds
func Unavailable(store string, err error) error {
	return fmt.Errorf("%s: %w: %w", store, ErrUnavailable, err)
}

// Contended wraps err so that errors.Is(err, ErrContended) holds
func Contended(store string, err error) error {
	return fmt.Errorf("%s: %w: %w", store, ErrContended, err)
}
