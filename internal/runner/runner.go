// Package runner talks to the Test Runner Service that executes code-quality
// analyzers for one file at a time.
package runner

import (
	"context"
	"fmt"

	"github.com/fentz26/qgate/internal/models"
)

// SubmitStatus is the runner's answer to a submission.
type SubmitStatus string

const (
	SubmitQueued  SubmitStatus = "queued"
	SubmitRunning SubmitStatus = "running"
)

// PollStatus is the runner's answer to a results request.
type PollStatus string

const (
	PollQueued    PollStatus = "queued"
	PollRunning   PollStatus = "running"
	PollNotFound  PollStatus = "not_found"
	PollCompleted PollStatus = "completed"
	PollFailed    PollStatus = "failed"
)

// Pending reports whether the runner has not produced a result yet.
func (s PollStatus) Pending() bool {
	return s == PollQueued || s == PollRunning || s == PollNotFound
}

// SubmitResponse acknowledges a single-file test request.
type SubmitResponse struct {
	Status SubmitStatus `json:"status"`
}

// PollResponse is one results poll. Result is set once Status is terminal.
type PollResponse struct {
	Status PollStatus         `json:"status"`
	Result *models.TestResult `json:"results,omitempty"`
}

// Runner is the Test Runner Service. Only one submission is outstanding at a
// time; Poll reports on the most recent one.
type Runner interface {
	Submit(ctx context.Context, file models.FileDescriptor) (SubmitResponse, error)
	Poll(ctx context.Context) (PollResponse, error)
}

// Abandoner is implemented by runners that can stop an outstanding
// submission the caller has given up on.
type Abandoner interface {
	Abandon()
}

// TransportError is a failure to reach the runner or to understand its answer.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("runner %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("runner %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
