package workflow

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/poultry_backend/models"
)

func TestSettleDayDecision(t *testing.T) {
	tolerance := d("0.5")
	cases := []struct {
		name     string
		loaded   string
		sold     string
		waste    string
		variance string
		status   models.ReconciliationStatus
	}{
		{"exact", "1000", "1000", "0", "0", models.ReconciliationStatusBalanced},
		{"within tolerance", "1000", "999.6", "0", "0.4", models.ReconciliationStatusBalanced},
		{"at tolerance", "1000", "999.5", "0", "0.5", models.ReconciliationStatusBalanced},
		{"just over", "1000", "999.4", "0", "0.6", models.ReconciliationStatusVariance},
		{"waste explains shortfall", "1000", "980", "15", "5", models.ReconciliationStatusVariance},
		{"waste closes the gap", "1000", "980", "19.8", "0.2", models.ReconciliationStatusBalanced},
		{"negative variance over tolerance", "1000", "1000", "2", "-2", models.ReconciliationStatusVariance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			variance, status := SettleDay(d(tc.loaded), d(tc.sold), d(tc.waste), tolerance)
			if !variance.Equal(d(tc.variance)) {
				t.Errorf("variance = %s, want %s", variance, tc.variance)
			}
			if status != tc.status {
				t.Errorf("status = %s, want %s", status, tc.status)
			}
		})
	}
}

func TestDomainErrorKindMatching(t *testing.T) {
	err := NewDomainError(KindOverAllocation, "sold 50 exceeds remaining 30")
	if !errors.Is(err, ErrOverAllocation) {
		t.Errorf("errors.Is failed for same-kind DomainError")
	}
	if errors.Is(err, ErrInvalidAmount) {
		t.Errorf("errors.Is matched across different kinds")
	}
	if KindOf(err) != KindOverAllocation {
		t.Errorf("KindOf = %s", KindOf(err))
	}

	wrapped := wrapStorage(errors.New("connection refused"))
	if KindOf(wrapped) != KindStorageUnavailable {
		t.Errorf("wrapStorage kind = %s", KindOf(wrapped))
	}
	// Wrapping an already-classified error must not reclassify it.
	if got := wrapStorage(err); KindOf(got) != KindOverAllocation {
		t.Errorf("wrapStorage reclassified a domain error to %s", KindOf(got))
	}
	if IsValidationError(wrapped) {
		t.Errorf("storage failure classified as validation error")
	}
	if !IsValidationError(err) {
		t.Errorf("over-allocation not classified as validation error")
	}
}
