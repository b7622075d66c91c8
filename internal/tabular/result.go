package tabular

import (
	"errors"

	"cyclecount/internal"
)

var (
	// ErrTableNotFound is returned by backends when the worksheet does not exist.
	ErrTableNotFound = errors.New("tabular: table not found")
	// ErrRateLimited marks quota and rate-limit failures; the caller may retry later.
	ErrRateLimited = errors.New("tabular: rate limited")
	// ErrLockBusy means another writer holds the table.
	ErrLockBusy = errors.New("tabular: table is locked by another writer")
	// ErrNoChange lets an Update callback skip the write.
	ErrNoChange = errors.New("tabular: no change")
)

// Result reports a write. Writes never panic and never return a bare error,
// so callers can decide whether dependent writes should still run.
type Result struct {
	OK        bool
	Rows      int
	Retryable bool
	Conflict  bool
	Message   string
	Err       error
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrLockBusy)
}

func (r Result) Outcome(sessionID string) internal.Outcome {
	status := internal.OutcomeSuccess
	if !r.OK {
		status = internal.OutcomeFailed
	}
	return internal.Outcome{
		Status:    status,
		SessionID: sessionID,
		Rows:      r.Rows,
		Retryable: r.Retryable,
		Message:   r.Message,
	}
}
