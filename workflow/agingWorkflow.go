package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Aging uses FIFO settlement: all credit a customer ever paid (payments plus
// downward adjustments) extinguishes the oldest charges first, regardless of
// which invoice a payment was nominally tied to. What survives is bucketed by
// age. The computation is pure over the posted history, so recomputing it is
// always safe and always idempotent.

// AgingBuckets holds the surviving debt per age band. Field names reflect the
// default 30/60/90 bounds; BucketDays records the bounds actually used.
type AgingBuckets struct {
	Current    decimal.Decimal `json:"current"`
	Days31to60 decimal.Decimal `json:"days_31_to_60"`
	Days61to90 decimal.Decimal `json:"days_61_to_90"`
	Days91Plus decimal.Decimal `json:"days_91_plus"`
	BucketDays [3]int          `json:"bucket_days"`
}

func (b AgingBuckets) Total() decimal.Decimal {
	return b.Current.Add(b.Days31to60).Add(b.Days61to90).Add(b.Days91Plus)
}

// OutstandingItem is one charge in the FIFO queue: an invoice or a positive
// debt adjustment.
type OutstandingItem struct {
	Date   time.Time
	Amount decimal.Decimal
}

// BucketizeOutstanding applies credit to items oldest-first and buckets the
// remainders by age in days relative to asOf. Items dated after asOf count as
// current. Surplus credit (customer in credit) leaves all buckets at zero.
func BucketizeOutstanding(items []OutstandingItem, credit decimal.Decimal, asOf time.Time, bucketDays [3]int) AgingBuckets {
	buckets := AgingBuckets{
		Current:    decimal.Zero,
		Days31to60: decimal.Zero,
		Days61to90: decimal.Zero,
		Days91Plus: decimal.Zero,
		BucketDays: bucketDays,
	}

	sorted := make([]OutstandingItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	asOfDate := models.DateOnly(asOf)
	for _, item := range sorted {
		if !item.Amount.IsPositive() {
			continue
		}
		remaining := item.Amount
		if credit.IsPositive() {
			if credit.GreaterThanOrEqual(remaining) {
				credit = credit.Sub(remaining)
				continue
			}
			remaining = remaining.Sub(credit)
			credit = decimal.Zero
		}

		age := int(asOfDate.Sub(models.DateOnly(item.Date)).Hours() / 24)
		switch {
		case age <= bucketDays[0]:
			buckets.Current = buckets.Current.Add(remaining)
		case age <= bucketDays[1]:
			buckets.Days31to60 = buckets.Days31to60.Add(remaining)
		case age <= bucketDays[2]:
			buckets.Days61to90 = buckets.Days61to90.Add(remaining)
		default:
			buckets.Days91Plus = buckets.Days91Plus.Add(remaining)
		}
	}
	return buckets
}

// AgingSnapshot is the per-customer aging result the risk classifier and the
// reports consume.
type AgingSnapshot struct {
	CustomerId       int             `json:"customer_id"`
	CustomerName     string          `json:"customer_name"`
	AsOf             time.Time       `json:"as_of"`
	TotalDebt        decimal.Decimal `json:"total_debt"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	Buckets          AgingBuckets    `json:"buckets"`
	CreditLimit      decimal.Decimal `json:"credit_limit"`
	LastPaymentAt    *time.Time      `json:"last_payment_at"`
}

func agingCacheVersionKey(customerId int) string {
	return fmt.Sprintf("aging:ver:%d", customerId)
}

// agingCacheKey embeds the customer's cache version, so bumping the version
// orphans every cached snapshot at once regardless of its asOf date. Orphaned
// entries simply run out their TTL.
func agingCacheKey(customerId int, asOf time.Time) string {
	version, _ := config.GetRedisCounter(agingCacheVersionKey(customerId))
	return fmt.Sprintf("aging:%d:v%d:%s", customerId, version, models.DateOnly(asOf).Format("2006-01-02"))
}

// InvalidateAgingCache bumps the customer's cache version; posting paths call
// it after commit so the next read recomputes. A backdated posting invalidates
// historical asOf snapshots the same as today's.
func InvalidateAgingCache(customerId int) {
	_, _ = config.IncrRedisCounter(agingCacheVersionKey(customerId))
}

// ComputeAging builds the snapshot from posted history. Same-day results are
// served from the redis cache when available.
func ComputeAging(ctx context.Context, customerId int, asOf time.Time) (*AgingSnapshot, error) {
	key := agingCacheKey(customerId, asOf)
	var cached AgingSnapshot
	if found, err := config.GetRedisObject(key, &cached); err == nil && found {
		return &cached, nil
	}

	customer, err := models.GetCustomer(ctx, customerId)
	if err != nil {
		return nil, err
	}

	asOfEnd := models.DateOnly(asOf).Add(24*time.Hour - time.Nanosecond)
	invoices, err := models.ListInvoicesByCustomer(ctx, customerId, nil, &asOfEnd)
	if err != nil {
		return nil, wrapStorage(err)
	}
	payments, err := models.ListPaymentsByCustomer(ctx, customerId, nil, &asOfEnd)
	if err != nil {
		return nil, wrapStorage(err)
	}
	adjustments, err := models.ListAdjustmentsByCustomer(ctx, customerId)
	if err != nil {
		return nil, wrapStorage(err)
	}

	items := make([]OutstandingItem, 0, len(invoices))
	for _, invoice := range invoices {
		items = append(items, OutstandingItem{Date: invoice.InvoiceDate, Amount: invoice.NetAmount})
	}
	credit := decimal.Zero
	for _, payment := range payments {
		credit = credit.Add(payment.Amount)
	}
	for _, adjustment := range adjustments {
		if adjustment.CreatedAt.After(asOfEnd) {
			continue
		}
		if adjustment.Delta.IsPositive() {
			items = append(items, OutstandingItem{Date: adjustment.CreatedAt, Amount: adjustment.Delta})
		} else {
			credit = credit.Add(adjustment.Delta.Neg())
		}
	}

	buckets := BucketizeOutstanding(items, credit, asOf, config.GetAgingPolicy().BucketDays)
	snapshot := &AgingSnapshot{
		CustomerId:       customerId,
		CustomerName:     customer.Name,
		AsOf:             models.DateOnly(asOf),
		TotalDebt:        customer.TotalDebt,
		TotalOutstanding: buckets.Total(),
		Buckets:          buckets,
		CreditLimit:      customer.CreditLimit,
		LastPaymentAt:    customer.LastPaymentAt,
	}
	_ = config.SetRedisObject(key, snapshot, 15*time.Minute)
	return snapshot, nil
}

// DeriveBalance recomputes a customer balance from posted history:
// sum(invoices) - sum(payments) + sum(adjustments). Also returns the latest
// payment date, or nil when no payment exists.
func DeriveBalance(tx *gorm.DB, customerId int) (decimal.Decimal, *time.Time, error) {
	var invoiced, paid, adjusted decimal.Decimal
	if err := tx.Raw("SELECT COALESCE(SUM(net_amount), 0) FROM invoices WHERE customer_id = ?", customerId).
		Scan(&invoiced).Error; err != nil {
		return decimal.Zero, nil, wrapStorage(err)
	}
	if err := tx.Raw("SELECT COALESCE(SUM(amount), 0) FROM payments WHERE customer_id = ?", customerId).
		Scan(&paid).Error; err != nil {
		return decimal.Zero, nil, wrapStorage(err)
	}
	if err := tx.Raw("SELECT COALESCE(SUM(delta), 0) FROM debt_adjustments WHERE customer_id = ?", customerId).
		Scan(&adjusted).Error; err != nil {
		return decimal.Zero, nil, wrapStorage(err)
	}

	var lastPayment *time.Time
	var latest models.Payment
	err := tx.Where("customer_id = ?", customerId).Order("payment_date DESC, id DESC").First(&latest).Error
	if err == nil {
		lastPayment = &latest.PaymentDate
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil, wrapStorage(err)
	}

	return invoiced.Sub(paid).Add(adjusted), lastPayment, nil
}

// RecomputeCustomerBalance rebuilds one customer's stored balance from history
// under the posting lock. Returns true when a drift was found and corrected.
func RecomputeCustomerBalance(ctx context.Context, db *gorm.DB, logger *logrus.Logger, customerId int) (corrected bool, err error) {
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireCustomerPostingLock(tx, customerId); err != nil {
			return err
		}
		defer ReleaseCustomerPostingLock(tx, customerId)

		customer, err := lockCustomer(tx, customerId)
		if err != nil {
			return err
		}
		derived, lastPayment, err := DeriveBalance(tx, customerId)
		if err != nil {
			return err
		}
		if customer.TotalDebt.Equal(derived) {
			return nil
		}

		logger.WithFields(logrus.Fields{
			"customer_id": customerId,
			"stored":      customer.TotalDebt.String(),
			"derived":     derived.String(),
		}).Warn("balance drift corrected")

		updates := map[string]interface{}{"total_debt": derived}
		if lastPayment != nil {
			updates["last_payment_at"] = *lastPayment
		}
		if err := tx.Model(&models.Customer{}).Where("id = ?", customerId).Updates(updates).Error; err != nil {
			return wrapStorage(err)
		}
		if err := models.CreateAuditLog(tx, models.AuditActionRecomputeBalance, "customer", customerId, &customerId,
			map[string]string{"total_debt": customer.TotalDebt.String()},
			map[string]string{"total_debt": derived.String()},
			"balance rebuilt from posted history"); err != nil {
			return wrapStorage(err)
		}
		corrected = true
		return nil
	})
	if err == nil && corrected {
		InvalidateAgingCache(customerId)
	}
	return corrected, err
}

// RecomputeAllCustomers walks every customer and rebuilds drifted balances.
// Cancellation is honoured between customers, never mid-transaction.
func RecomputeAllCustomers(ctx context.Context, db *gorm.DB, logger *logrus.Logger) (checked, corrected int, err error) {
	var customerIds []int
	if err := db.WithContext(ctx).Model(&models.Customer{}).Order("id").Pluck("id", &customerIds).Error; err != nil {
		return 0, 0, wrapStorage(err)
	}
	for _, customerId := range customerIds {
		select {
		case <-ctx.Done():
			return checked, corrected, ctx.Err()
		default:
		}
		fixed, err := RecomputeCustomerBalance(ctx, db, logger, customerId)
		if err != nil {
			config.LogError(logger, "workflow", "RecomputeAllCustomers", "recompute", customerId, err)
			return checked, corrected, err
		}
		checked++
		if fixed {
			corrected++
		}
	}
	return checked, corrected, nil
}
