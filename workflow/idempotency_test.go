package workflow

import (
	"errors"
	"testing"
)

func TestInFlightDuplicateIsConflict(t *testing.T) {
	// A concurrent submission holding the key must surface as a conflict so
	// the client sees 409, never a storage failure / 503.
	if KindOf(ErrIdempotencyInProgress) != KindConcurrencyConflict {
		t.Errorf("kind = %s, want ConcurrencyConflict", KindOf(ErrIdempotencyInProgress))
	}
	if !errors.Is(ErrIdempotencyInProgress, ErrConcurrencyConflict) {
		t.Errorf("errors.Is(ErrIdempotencyInProgress, ErrConcurrencyConflict) = false")
	}
	// The storage wrapper in the posting path must not reclassify it.
	if got := wrapStorage(ErrIdempotencyInProgress); KindOf(got) != KindConcurrencyConflict {
		t.Errorf("wrapStorage reclassified to %s", KindOf(got))
	}
}
