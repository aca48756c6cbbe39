package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := Referential(CodeDanglingReference, "video %d not found", 7)
	expected := "[REFERENTIAL:DANGLING_REFERENCE] video 7 not found"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Transient(CodeIO, "write backup", cause)
	expected := "[TRANSIENT_STORAGE:IO] write backup: disk full"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestError_IsMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("upsert video: %w", Referential(CodeCrossCompetitorReassignment, "video abc belongs to 2"))
	if !errors.Is(err, ErrCrossCompetitorReassignment) {
		t.Error("wrapped error should match sentinel by category and code")
	}
	if errors.Is(err, ErrDanglingReference) {
		t.Error("different codes must not match")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{Transient(CodeStorageBusy, "busy", nil), true},
		{Transient(CodeLockTimeout, "lock", nil), true},
		{Validation(CodeNegativeCount, "negative"), false},
		{Conflict(CodeMigrationConflict, "conflict"), false},
		{Referential(CodeDanglingReference, "missing"), false},
		{fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		if IsRetryable(tt.err) != tt.retryable {
			t.Errorf("%v retryable=%v, want %v", tt.err, IsRetryable(tt.err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Conflict(CodeAlreadyInitialized, "db exists"))
	if GetCategory(err) != CategoryConflict {
		t.Errorf("got %q, want %q", GetCategory(err), CategoryConflict)
	}
	if GetCode(err) != CodeAlreadyInitialized {
		t.Errorf("got %q, want %q", GetCode(err), CodeAlreadyInitialized)
	}
	if GetCategory(fmt.Errorf("plain")) != "" {
		t.Error("plain errors should have no category")
	}
}

func TestClassifyStorage(t *testing.T) {
	busy := ClassifyStorage("insert", fmt.Errorf("database is locked (5) (SQLITE_BUSY)"))
	if !IsRetryable(busy) {
		t.Errorf("busy error should be retryable, got %v", busy)
	}

	other := ClassifyStorage("insert", fmt.Errorf("no such table: videos"))
	if IsRetryable(other) {
		t.Error("schema errors are not retryable")
	}

	typed := Validation(CodeNegativeCount, "x")
	if got := ClassifyStorage("insert", typed); got != typed {
		t.Error("typed errors should pass through unchanged")
	}

	if ClassifyStorage("noop", nil) != nil {
		t.Error("nil should stay nil")
	}
}
