package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lazypower/ember/internal/store"
)

// Kind classifies an engine error for callers.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalidArgument     Kind = "invalid_argument"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindPartialFailure      Kind = "partial_failure"
)

// Failure records one record that failed during a bulk operation.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Error is the error type returned by every Engine operation.
type Error struct {
	Kind     Kind
	Op       string
	Err      error
	Failures []Failure // set for KindPartialFailure
}

func (e *Error) Error() string {
	if e.Kind == KindPartialFailure {
		return fmt.Sprintf("%s: %d record(s) failed: %v", e.Op, len(e.Failures), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func invalidArg(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

func partialFailure(op string, failures []Failure) error {
	return &Error{
		Kind:     KindPartialFailure,
		Op:       op,
		Err:      errors.New(summarize(failures)),
		Failures: failures,
	}
}

func summarize(failures []Failure) string {
	const shown = 3
	var parts []string
	for i, f := range failures {
		if i == shown {
			parts = append(parts, fmt.Sprintf("and %d more", len(failures)-shown))
			break
		}
		parts = append(parts, f.ID+": "+f.Error)
	}
	return strings.Join(parts, "; ")
}

// classify maps collaborator errors onto the engine's kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	// Store failures, provider failures, expired deadlines and records
	// awaiting backfill all mean the backing system cannot answer right now.
	kind := KindUpstreamUnavailable
	if errors.Is(err, store.ErrNotFound) {
		kind = KindNotFound
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
