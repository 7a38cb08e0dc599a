package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDocError_Error(t *testing.T) {
	err := New(ErrCategoryStorage, CodeUploadFailed, "upload failed")
	expected := "[STORAGE:UPLOAD_FAILED] upload failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestDocError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryStorage, CodeUploadFailed, "upload failed", cause)
	expected := "[STORAGE:UPLOAD_FAILED] upload failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestDocError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryCatalog, CodeWriteConflict, "conflict", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestDocError_IsMatchesSentinels(t *testing.T) {
	if !errors.Is(NotFound("Sweets", "19293"), ErrNotFound) {
		t.Error("NotFound should match ErrNotFound")
	}
	if !errors.Is(DuplicateKey("Sweets", "19293"), ErrDuplicateKey) {
		t.Error("DuplicateKey should match ErrDuplicateKey")
	}
	if errors.Is(NotFound("X", "Y"), ErrDuplicateKey) {
		t.Error("different codes should not match")
	}
	if !errors.Is(InvalidQuery("bad path %q", "a..b"), ErrInvalidQuery) {
		t.Error("InvalidQuery should match ErrInvalidQuery")
	}

	wrapped := fmt.Errorf("store: delete: %w", NotFound("X", "Y"))
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("wrapped NotFound should still match")
	}
}

func TestCancelled_KeepsContextCause(t *testing.T) {
	err := Cancelled(context.Canceled)
	if !errors.Is(err, ErrCancelled) {
		t.Error("Cancelled should match ErrCancelled")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("Cancelled should expose the context error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryCatalog, CodeWriteConflict, true},
		{ErrCategoryJournal, CodeCorruptionDetected, false},
		{ErrCategoryDocument, CodeDuplicateKey, false},
		{ErrCategoryQuery, CodeCancelled, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := InvalidQuery("unexpected token")
	if GetCategory(err) != ErrCategoryQuery {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryQuery)
	}
	if GetCode(err) != CodeInvalidQuery {
		t.Errorf("got %q, want %q", GetCode(err), CodeInvalidQuery)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" || GetCode(fmt.Errorf("plain")) != "" {
		t.Error("non-DocError should return empty category and code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidDocument, "missing id")
	detailed := err.WithDetails(map[string]interface{}{"field": "id"})

	if detailed.Details["field"] != "id" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
	if NotFound("X", "Y").Details["partition_key"] != "X" {
		t.Error("NotFound should carry the partition key")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	if v := NewValidationError(CodeSchemaViolation, "bad doc"); v.Category != ErrCategoryValidation {
		t.Error("NewValidationError mismatch")
	}
	if s := NewStorageError(CodeUploadFailed, "s3 down", cause); s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}
	if c := NewCatalogError(CodeWriteConflict, "locked", cause); c.Category != ErrCategoryCatalog {
		t.Error("NewCatalogError mismatch")
	}
	if j := NewJournalError(CodeCorruptionDetected, "crc", cause); j.Category != ErrCategoryJournal {
		t.Error("NewJournalError mismatch")
	}
	if ix := NewIndexError(CodeIndexExists, "dup"); ix.Category != ErrCategoryIndex {
		t.Error("NewIndexError mismatch")
	}
	if i := NewInternalError("unexpected", cause); i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
