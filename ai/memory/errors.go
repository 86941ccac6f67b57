package memory

import (
	"errors"
	"fmt"

	"github.com/kaloyanBozhkov/linkbase/store"
)

// Mutations fail loudly with one of these sentinel errors; the original cause
// is attached with %w but never shown to end users. Search operations instead
// log and degrade to empty results.
var (
	// ErrEmbeddingProvider indicates the embedding provider call failed.
	ErrEmbeddingProvider = errors.New("embedding provider unavailable")

	// ErrNotFound indicates the target fact or connection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed input rejected before any store call.
	ErrValidation = errors.New("invalid input")
)

// ReconcilePhase identifies the phase of fact reconciliation that failed.
type ReconcilePhase string

const (
	PhaseAdd    ReconcilePhase = "add"
	PhaseUpdate ReconcilePhase = "update"
	PhaseDelete ReconcilePhase = "delete"
)

// PartialReconciliationError reports a reconciliation that failed mid-sequence.
// Facts committed before the failure stay committed; Completed lists them so
// callers can surface partial success distinctly from total failure.
type PartialReconciliationError struct {
	Phase     ReconcilePhase
	Completed []*store.Fact
	Err       error
}

func (e *PartialReconciliationError) Error() string {
	return fmt.Sprintf("fact reconciliation failed during %s phase (%d facts committed): %v", e.Phase, len(e.Completed), e.Err)
}

func (e *PartialReconciliationError) Unwrap() error {
	return e.Err
}
