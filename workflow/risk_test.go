package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"github.com/shopspring/decimal"
)

func testRiskPolicy() config.RiskPolicy {
	return config.RiskPolicy{
		DefaultCreditLimit: d("1000000"),
		OverdueWeight:      d("50"),
		ExposureWeight:     d("30"),
		StaleWeight:        d("20"),
		StalePaymentDays:   90,
		MediumScore:        d("25"),
		HighScore:          d("50"),
		CriticalScore:      d("75"),
	}
}

func snapshotWith(outstanding, over60, debt, limit string, lastPayment *time.Time) *AgingSnapshot {
	total := d(outstanding)
	overdue := d(over60)
	return &AgingSnapshot{
		CustomerId:       1,
		TotalDebt:        d(debt),
		TotalOutstanding: total,
		CreditLimit:      d(limit),
		LastPaymentAt:    lastPayment,
		Buckets: AgingBuckets{
			Current:    total.Sub(overdue),
			Days31to60: decimal.Zero,
			Days61to90: overdue,
			Days91Plus: decimal.Zero,
			BucketDays: defaultBuckets,
		},
	}
}

func TestClassifyRiskTiers(t *testing.T) {
	asOf := day("2025-06-01")
	recent := day("2025-05-28")
	ancient := day("2024-06-01")
	policy := testRiskPolicy()

	cases := []struct {
		name     string
		snapshot *AgingSnapshot
		tier     models.RiskTier
	}{
		{
			// Fresh debt, low exposure, recent payment.
			name:     "low",
			snapshot: snapshotWith("1000", "0", "1000", "100000", &recent),
			tier:     models.RiskTierLow,
		},
		{
			// All debt overdue but small exposure: 50*1 + small = High range.
			name:     "high on overdue alone",
			snapshot: snapshotWith("1000", "1000", "1000", "100000", &recent),
			tier:     models.RiskTierHigh,
		},
		{
			// Everything bad at once: full overdue, over limit, stale payment.
			name:     "critical",
			snapshot: snapshotWith("50000", "50000", "50000", "10000", &ancient),
			tier:     models.RiskTierCritical,
		},
		{
			// No payment on record counts as maximally stale: 20*1 = 20 < 25.
			name:     "never paid but current debt",
			snapshot: snapshotWith("1000", "0", "1000", "100000", nil),
			tier:     models.RiskTierLow,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyRisk(tc.snapshot, asOf, policy)
			if got.Tier != tc.tier {
				t.Errorf("tier = %s (score %s), want %s", got.Tier, got.Score, tc.tier)
			}
		})
	}
}

func TestClassifyRiskZeroBalanceIsLow(t *testing.T) {
	asOf := day("2025-06-01")
	ancient := day("2020-01-01")
	// Settled customer who has not bought in years must not score on staleness.
	snapshot := snapshotWith("0", "0", "0", "1000", &ancient)

	got := ClassifyRisk(snapshot, asOf, testRiskPolicy())
	if got.Tier != models.RiskTierLow || !got.Score.IsZero() {
		t.Errorf("settled customer scored %s (%s), want 0 / Low", got.Score, got.Tier)
	}
}

func TestClassifyRiskUsesDefaultCreditLimit(t *testing.T) {
	asOf := day("2025-06-01")
	recent := day("2025-05-28")
	// CreditLimit 0 falls back to the policy default, keeping exposure small.
	snapshot := snapshotWith("1000", "0", "1000", "0", &recent)

	got := ClassifyRisk(snapshot, asOf, testRiskPolicy())
	if got.ExposureRatio.GreaterThan(d("0.01")) {
		t.Errorf("exposure = %s, want tiny against default limit", got.ExposureRatio)
	}
}

func TestSuggestPaymentPlanSumsExactly(t *testing.T) {
	cases := []struct {
		balance string
		months  int
	}{
		{"100", 3},
		{"1000.01", 7},
		{"0.05", 4},
		{"99999.99", 12},
		{"10", 1},
	}
	for _, tc := range cases {
		plan, err := SuggestPaymentPlan(d(tc.balance), tc.months)
		if err != nil {
			t.Fatalf("SuggestPaymentPlan(%s, %d): %v", tc.balance, tc.months, err)
		}
		if len(plan.Installments) != tc.months {
			t.Fatalf("got %d installments, want %d", len(plan.Installments), tc.months)
		}
		sum := decimal.Zero
		for _, installment := range plan.Installments {
			sum = sum.Add(installment)
		}
		if !sum.Equal(d(tc.balance)) {
			t.Errorf("installments for %s over %d months sum to %s", tc.balance, tc.months, sum)
		}
	}
}

func TestSuggestPaymentPlanRejectsBadInput(t *testing.T) {
	if _, err := SuggestPaymentPlan(d("-5"), 3); KindOf(err) != KindInvalidAmount {
		t.Errorf("negative balance: err = %v, want InvalidAmount", err)
	}
	if _, err := SuggestPaymentPlan(d("100"), 0); KindOf(err) != KindInvalidAmount {
		t.Errorf("zero months: err = %v, want InvalidAmount", err)
	}
}
