package snapshot

import (
	"fmt"
	"strings"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/pkg/types"
)

// ValidationResult holds the outcome of checking a written snapshot.
type ValidationResult struct {
	Valid            bool
	ExpectedCount    int64
	ActualCount      int64
	ExpectedChecksum string
	ActualChecksum   string
	Errors           []string
}

// Validate re-reads a written snapshot file and checks it against what the
// exporter wrote. An invalid snapshot is never uploaded.
func Validate(path string, want Footer) *ValidationResult {
	vr := &ValidationResult{
		Valid:            true,
		ExpectedCount:    want.Documents,
		ExpectedChecksum: want.Checksum,
	}

	_, got, err := Read(path, nil, func(types.Document) error {
		vr.ActualCount++
		return nil
	})
	if err != nil {
		vr.Valid = false
		vr.Errors = append(vr.Errors, err.Error())
		return vr
	}
	vr.ActualChecksum = got.Checksum

	if vr.ActualCount != want.Documents {
		vr.Valid = false
		vr.Errors = append(vr.Errors, fmt.Sprintf(
			"document count mismatch: expected %d, got %d", want.Documents, vr.ActualCount))
	}
	if got.Checksum != want.Checksum {
		vr.Valid = false
		vr.Errors = append(vr.Errors, fmt.Sprintf(
			"checksum mismatch: expected %s, got %s", want.Checksum, got.Checksum))
	}
	return vr
}

// Err returns the validation failures as one corruption error.
func (vr *ValidationResult) Err() error {
	if vr.Valid {
		return nil
	}
	return errors.New(errors.ErrCategoryStorage, errors.CodeCorruptionDetected,
		"snapshot validation failed: "+strings.Join(vr.Errors, "; "))
}

func verify(footer Footer, count int64, checksum string) error {
	if footer.Documents != count {
		return errors.New(errors.ErrCategoryStorage, errors.CodeCorruptionDetected,
			fmt.Sprintf("snapshot: footer records %d documents, read %d", footer.Documents, count))
	}
	if footer.Checksum != checksum {
		return errors.New(errors.ErrCategoryStorage, errors.CodeCorruptionDetected,
			"snapshot: checksum mismatch")
	}
	return nil
}
