package models

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from TestStatus
		to   TestStatus
		ok   bool
	}{
		{StatusNotStarted, StatusWaiting, true},
		{StatusWaiting, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusError, true},
		{StatusWaiting, StatusCompleted, false}, // skips running
		{StatusWaiting, StatusError, false},
		{StatusNotStarted, StatusRunning, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusWaiting, false},
		{StatusError, StatusError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := Transition(tt.from, tt.to)
			if tt.ok {
				if err != nil {
					t.Fatalf("Transition(%s, %s) unexpected error: %v", tt.from, tt.to, err)
				}
				if got != tt.to {
					t.Errorf("Transition returned %s, want %s", got, tt.to)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Transition(%s, %s) error = %v, want ErrInvalidTransition", tt.from, tt.to, err)
			}
			if got != tt.from {
				t.Errorf("rejected transition should keep %s, got %s", tt.from, got)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []TestStatus{StatusCompleted, StatusFailed, StatusError} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TestStatus{StatusNotStarted, StatusWaiting, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if TestStatus("timeout").Valid() {
		t.Error("undeclared status should not be valid")
	}
}

func TestBackupTypeValid(t *testing.T) {
	for _, bt := range []BackupType{BackupTypeAuto, BackupTypeManual, BackupTypePartial} {
		if !bt.Valid() {
			t.Errorf("%s should be valid", bt)
		}
	}
	if BackupType("full").Valid() {
		t.Error("unknown backup type accepted")
	}
}
