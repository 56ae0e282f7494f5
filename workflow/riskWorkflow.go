package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"github.com/shopspring/decimal"
)

// Risk classification is a pure function over an aging snapshot: no I/O, no
// clock reads. ClassifyRisk is the function the tests exercise; AssessRisk is
// the convenience wrapper that loads the snapshot first.

type RiskAssessment struct {
	CustomerId           int             `json:"customer_id"`
	CustomerName         string          `json:"customer_name"`
	Tier                 models.RiskTier `json:"tier"`
	Score                decimal.Decimal `json:"score"`
	FractionOverdue      decimal.Decimal `json:"fraction_overdue"`
	ExposureRatio        decimal.Decimal `json:"exposure_ratio"`
	DaysSinceLastPayment int             `json:"days_since_last_payment"`
	SuggestedAction      string          `json:"suggested_action"`
}

var one = decimal.NewFromInt(1)

func capAtOne(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(one) {
		return one
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ClassifyRisk scores a customer 0..100 from three signals: how much of the
// debt is older than the second aging bound, how close total debt is to the
// credit limit, and how long since the last payment.
func ClassifyRisk(snapshot *AgingSnapshot, asOf time.Time, policy config.RiskPolicy) RiskAssessment {
	overdue := snapshot.Buckets.Days61to90.Add(snapshot.Buckets.Days91Plus)
	fractionOverdue := decimal.Zero
	if snapshot.TotalOutstanding.IsPositive() {
		fractionOverdue = overdue.DivRound(snapshot.TotalOutstanding, 4)
	}

	creditLimit := snapshot.CreditLimit
	if !creditLimit.IsPositive() {
		creditLimit = policy.DefaultCreditLimit
	}
	exposure := capAtOne(snapshot.TotalDebt.DivRound(creditLimit, 4))

	daysSincePayment := policy.StalePaymentDays
	if snapshot.LastPaymentAt != nil {
		daysSincePayment = int(models.DateOnly(asOf).Sub(models.DateOnly(*snapshot.LastPaymentAt)).Hours() / 24)
		if daysSincePayment < 0 {
			daysSincePayment = 0
		}
	}
	staleness := decimal.Zero
	if policy.StalePaymentDays > 0 {
		staleness = capAtOne(decimal.NewFromInt(int64(daysSincePayment)).
			DivRound(decimal.NewFromInt(int64(policy.StalePaymentDays)), 4))
	}
	// A customer with nothing outstanding is not risky no matter how long ago
	// they last paid.
	if !snapshot.TotalOutstanding.IsPositive() && !snapshot.TotalDebt.IsPositive() {
		fractionOverdue = decimal.Zero
		exposure = decimal.Zero
		staleness = decimal.Zero
	}

	score := policy.OverdueWeight.Mul(fractionOverdue).
		Add(policy.ExposureWeight.Mul(exposure)).
		Add(policy.StaleWeight.Mul(staleness)).
		Round(2)

	tier := models.RiskTierLow
	switch {
	case score.GreaterThanOrEqual(policy.CriticalScore):
		tier = models.RiskTierCritical
	case score.GreaterThanOrEqual(policy.HighScore):
		tier = models.RiskTierHigh
	case score.GreaterThanOrEqual(policy.MediumScore):
		tier = models.RiskTierMedium
	}

	return RiskAssessment{
		CustomerId:           snapshot.CustomerId,
		CustomerName:         snapshot.CustomerName,
		Tier:                 tier,
		Score:                score,
		FractionOverdue:      fractionOverdue,
		ExposureRatio:        exposure,
		DaysSinceLastPayment: daysSincePayment,
		SuggestedAction:      suggestedAction(tier),
	}
}

func suggestedAction(tier models.RiskTier) string {
	switch tier {
	case models.RiskTierCritical:
		return "stop supply, escalate to management, demand settlement plan"
	case models.RiskTierHigh:
		return "cash-only sales, propose payment plan"
	case models.RiskTierMedium:
		return "follow up on overdue invoices before next delivery"
	default:
		return "no action needed"
	}
}

// AssessRisk loads the aging snapshot and classifies it.
func AssessRisk(ctx context.Context, customerId int, asOf time.Time) (*RiskAssessment, error) {
	snapshot, err := ComputeAging(ctx, customerId, asOf)
	if err != nil {
		return nil, err
	}
	assessment := ClassifyRisk(snapshot, asOf, config.GetRiskPolicy())
	return &assessment, nil
}

// PaymentPlan is a suggested equal-installment settlement schedule.
type PaymentPlan struct {
	Balance      decimal.Decimal   `json:"balance"`
	Months       int               `json:"months"`
	Installments []decimal.Decimal `json:"installments"`
}

// SuggestPaymentPlan splits a positive balance into months equal installments
// rounded to 2 places; the final installment absorbs the rounding remainder so
// the plan sums back to the balance exactly.
func SuggestPaymentPlan(balance decimal.Decimal, months int) (*PaymentPlan, error) {
	if !balance.IsPositive() {
		return nil, NewDomainError(KindInvalidAmount, "balance must be positive, got %s", balance)
	}
	if months <= 0 {
		return nil, NewDomainError(KindInvalidAmount, "months must be positive, got %d", months)
	}

	per := balance.DivRound(decimal.NewFromInt(int64(months)), 2)
	installments := make([]decimal.Decimal, months)
	running := decimal.Zero
	for i := 0; i < months-1; i++ {
		installments[i] = per
		running = running.Add(per)
	}
	installments[months-1] = balance.Sub(running)

	return &PaymentPlan{Balance: balance, Months: months, Installments: installments}, nil
}
