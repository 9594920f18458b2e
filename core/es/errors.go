package es

import (
	"errors"
	"fmt"
)

var (
	// ErrDomainRuleViolation is wrapped by every error a command method returns
	// when the command breaks a business rule. Nothing is written in that case.
	ErrDomainRuleViolation = errors.New("domain rule violation")

	// ErrConcurrencyConflict is returned when an append precondition does not
	// hold because another writer advanced the stream.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrVersionConflict     = ErrConcurrencyConflict

	// ErrHydrationFailed wraps any failure while loading a snapshot or replaying
	// events. A failed hydration never yields an aggregate.
	ErrHydrationFailed = errors.New("hydration failed")

	// ErrServiceUnavailable wraps transport level failures of an EventLog.
	ErrServiceUnavailable = errors.New("event log unavailable")

	// ErrPostCommit is returned together with a Result when the events were
	// committed but a follow-up step (snapshot, publishing) failed.
	ErrPostCommit = errors.New("post-commit step failed")

	ErrUnknownEventType = errors.New("unknown event type")
	ErrStreamNotFound   = errors.New("stream not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrNoRecords        = errors.New("no records to append")
)

// RuleViolation builds an error wrapping ErrDomainRuleViolation.
func RuleViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDomainRuleViolation, fmt.Sprintf(format, args...))
}

// Unavailable marks err as a transport failure of the event log.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrServiceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
}

func hydrationFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrHydrationFailed, fmt.Errorf(format, args...))
}
