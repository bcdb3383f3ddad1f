package models

import (
	"errors"
	"fmt"
)

// TestStatus is the per-file state inside one orchestration run.
type TestStatus string

const (
	StatusNotStarted TestStatus = "not_started"
	StatusWaiting    TestStatus = "waiting"
	StatusRunning    TestStatus = "running"
	StatusCompleted  TestStatus = "completed"
	StatusFailed     TestStatus = "failed"
	StatusError      TestStatus = "error"
)

// ErrInvalidTransition is returned for any status jump outside the state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[TestStatus][]TestStatus{
	StatusNotStarted: {StatusWaiting},
	StatusWaiting:    {StatusRunning},
	StatusRunning:    {StatusCompleted, StatusFailed, StatusError},
	StatusCompleted:  nil,
	StatusFailed:     nil,
	StatusError:      nil,
}

// Valid reports whether s is one of the declared statuses.
func (s TestStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is possible from s.
func (s TestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusError
}

// CanTransition reports whether moving from s to next is legal.
func (s TestStatus) CanTransition(next TestStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates a move and returns next, or ErrInvalidTransition.
func Transition(from, to TestStatus) (TestStatus, error) {
	if !from.CanTransition(to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}
