package workflow

import (
	"context"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"github.com/shopspring/decimal"
)

// Read-side operations. Reads are idempotent, so transient storage failures
// are retried per the read policy; mutations never take this path.

func withReadRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	policy := config.GetRetryPolicy()
	var result T
	var err error
	for attempt := 0; attempt < policy.ReadAttempts; attempt++ {
		result, err = fn()
		if err == nil || KindOf(err) != KindStorageUnavailable {
			return result, err
		}
		select {
		case <-ctx.Done():
			return result, wrapStorage(ctx.Err())
		case <-time.After(policy.ReadDelay):
		}
	}
	return result, err
}

// CustomerSnapshot is the POS "customer screen": balance, aging and risk in
// one read.
type CustomerSnapshot struct {
	Customer *models.Customer `json:"customer"`
	Aging    *AgingSnapshot   `json:"aging"`
	Risk     RiskAssessment   `json:"risk"`
}

func GetCustomerSnapshot(ctx context.Context, customerId int, asOf time.Time) (*CustomerSnapshot, error) {
	return withReadRetry(ctx, func() (*CustomerSnapshot, error) {
		customer, err := models.GetCustomer(ctx, customerId)
		if err != nil {
			return nil, err
		}
		aging, err := ComputeAging(ctx, customerId, asOf)
		if err != nil {
			return nil, err
		}
		risk := ClassifyRisk(aging, asOf, config.GetRiskPolicy())
		return &CustomerSnapshot{Customer: customer, Aging: aging, Risk: risk}, nil
	})
}

// StatementLine is one row of a customer statement, in posting order.
type StatementLine struct {
	Date        time.Time       `json:"date"`
	Kind        string          `json:"kind"`
	Reference   string          `json:"reference"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

// GetCustomerStatement merges invoices, payments and adjustments into one
// chronological statement.
func GetCustomerStatement(ctx context.Context, customerId int, fromDate, toDate *time.Time) ([]StatementLine, error) {
	return withReadRetry(ctx, func() ([]StatementLine, error) {
		invoices, err := models.ListInvoicesByCustomer(ctx, customerId, fromDate, toDate)
		if err != nil {
			return nil, wrapStorage(err)
		}
		payments, err := models.ListPaymentsByCustomer(ctx, customerId, fromDate, toDate)
		if err != nil {
			return nil, wrapStorage(err)
		}
		adjustments, err := models.ListAdjustmentsByCustomer(ctx, customerId)
		if err != nil {
			return nil, wrapStorage(err)
		}

		lines := make([]StatementLine, 0, len(invoices)+len(payments)+len(adjustments))
		for _, invoice := range invoices {
			lines = append(lines, StatementLine{
				Date:      invoice.InvoiceDate,
				Kind:      "invoice",
				Reference: invoice.InvoiceNumber,
				Debit:     invoice.NetAmount,
				Credit:    decimal.Zero,
			})
		}
		for _, payment := range payments {
			lines = append(lines, StatementLine{
				Date:        payment.PaymentDate,
				Kind:        "payment",
				Reference:   payment.Reference,
				Debit:       decimal.Zero,
				Credit:      payment.Amount,
				Description: string(payment.Method),
			})
		}
		for _, adjustment := range adjustments {
			if fromDate != nil && adjustment.CreatedAt.Before(*fromDate) {
				continue
			}
			if toDate != nil && adjustment.CreatedAt.After(*toDate) {
				continue
			}
			line := StatementLine{
				Date:        adjustment.CreatedAt,
				Kind:        "adjustment",
				Description: adjustment.Reason,
			}
			if adjustment.Delta.IsPositive() {
				line.Debit = adjustment.Delta
			} else {
				line.Credit = adjustment.Delta.Neg()
			}
			lines = append(lines, line)
		}
		sortStatement(lines)
		return lines, nil
	})
}

func sortStatement(lines []StatementLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Date.Before(lines[j].Date)
	})
}

// GetReconciliationStatus is the read the drivers poll during the day.
func GetReconciliationStatus(ctx context.Context, truckId int, date time.Time) (*models.DailyReconciliation, error) {
	return withReadRetry(ctx, func() (*models.DailyReconciliation, error) {
		return models.GetReconciliation(ctx, truckId, date)
	})
}
