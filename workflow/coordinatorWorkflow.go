package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The coordinator composes the ledger and reconciliation engines into the two
// multi-step commands the POS terminals call. Each command is one database
// transaction: document row, balance posting, reconciliation drawdown, audit
// rows and outbox event all commit or roll back together.
//
// Lock acquisition failures are retried a bounded number of times with the
// whole transaction re-run from scratch; everything else surfaces on the
// first attempt. Mutations are never blindly retried on storage errors —
// that is what the client idempotency key is for.

const (
	lockRetryAttempts = 3
	lockRetryDelay    = 150 * time.Millisecond

	handlerCreateInvoice = "create_invoice"
	handlerRecordPayment = "record_payment"
)

type CreateInvoiceInput struct {
	CustomerId     int             `json:"customer_id" binding:"required"`
	TruckLoadId    int             `json:"truck_load_id" binding:"required"`
	SoldWeight     decimal.Decimal `json:"sold_weight" binding:"required"`
	UnitPrice      decimal.Decimal `json:"unit_price" binding:"required"`
	Discount       decimal.Decimal `json:"discount"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type InvoiceResult struct {
	Invoice        *models.Invoice             `json:"invoice"`
	NewBalance     decimal.Decimal             `json:"new_balance"`
	Reconciliation *models.DailyReconciliation `json:"reconciliation"`
}

type RecordPaymentInput struct {
	CustomerId       int                  `json:"customer_id" binding:"required"`
	InvoiceId        *int                 `json:"invoice_id"`
	Amount           decimal.Decimal      `json:"amount" binding:"required"`
	Method           models.PaymentMethod `json:"method" binding:"required"`
	Reference        string               `json:"reference"`
	Notes            string               `json:"notes"`
	PaymentDate      time.Time            `json:"payment_date"`
	AllowOverpayment bool                 `json:"allow_overpayment"`
	IdempotencyKey   string               `json:"idempotency_key"`
}

type PaymentResult struct {
	Payment    *models.Payment `json:"payment"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// runPosting wraps fn in a transaction and retries the whole thing when the
// only failure was a posting-lock conflict.
func runPosting(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return wrapStorage(ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
	return err
}

func (input *CreateInvoiceInput) validate() error {
	if !input.SoldWeight.IsPositive() {
		return NewDomainError(KindInvalidAmount, "sold weight must be positive, got %s", input.SoldWeight)
	}
	if !input.UnitPrice.IsPositive() {
		return NewDomainError(KindInvalidAmount, "unit price must be positive, got %s", input.UnitPrice)
	}
	if input.Discount.IsNegative() {
		return NewDomainError(KindInvalidAmount, "discount cannot be negative, got %s", input.Discount)
	}
	return nil
}

// CreateInvoiceAndSettle is the atomic sale: reserve weight on the truck load,
// post the invoice to the ledger, record the sale on the day's reconciliation.
func CreateInvoiceAndSettle(ctx context.Context, db *gorm.DB, logger *logrus.Logger, input CreateInvoiceInput) (*InvoiceResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.InvoiceDate.IsZero() {
		input.InvoiceDate = time.Now().UTC()
	}

	var result *InvoiceResult
	err := runPosting(ctx, db, func(tx *gorm.DB) error {
		if input.IdempotencyKey != "" {
			skip, err := BeginIdempotency(tx, handlerCreateInvoice, input.IdempotencyKey)
			if err != nil {
				return wrapStorage(err)
			}
			if skip {
				return ErrDuplicateCommand
			}
		}

		if err := AcquireCustomerPostingLock(tx, input.CustomerId); err != nil {
			return err
		}
		defer ReleaseCustomerPostingLock(tx, input.CustomerId)

		var load models.TruckLoad
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&load, input.TruckLoadId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewDomainError(KindInvalidAmount, "truck load %d not found", input.TruckLoadId)
		}
		if err != nil {
			return wrapStorage(err)
		}
		if load.Status == models.TruckLoadStatusReconciled {
			return NewDomainError(KindDayClosed, "truck load %d is already reconciled", load.ID)
		}
		if input.SoldWeight.GreaterThan(load.RemainingWeight()) {
			return NewDomainError(KindOverAllocation,
				"sold weight %s exceeds remaining %s on load %d", input.SoldWeight, load.RemainingWeight(), load.ID)
		}

		if err := AcquireTruckDayPostingLock(tx, load.TruckId, load.LoadDate); err != nil {
			return err
		}
		defer ReleaseTruckDayPostingLock(tx, load.TruckId, load.LoadDate)

		net := utils.RoundMoney(input.SoldWeight.Mul(input.UnitPrice).Sub(input.Discount))
		if !net.IsPositive() {
			return NewDomainError(KindInvalidAmount, "net amount %s must be positive", net)
		}

		number, err := models.NextInvoiceNumber(tx, models.DefaultInvoicePrefix)
		if err != nil {
			return wrapStorage(err)
		}
		invoice := models.Invoice{
			InvoiceNumber: number,
			CustomerId:    input.CustomerId,
			TruckLoadId:   input.TruckLoadId,
			SoldWeight:    input.SoldWeight,
			UnitPrice:     input.UnitPrice,
			Discount:      input.Discount,
			NetAmount:     net,
			InvoiceDate:   input.InvoiceDate,
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return wrapStorage(err)
		}

		newBalance, err := PostInvoice(tx, logger, input.CustomerId, net,
			LedgerRef{Type: "invoice", Id: invoice.ID, Number: number})
		if err != nil {
			return err
		}

		recon, err := recordSale(tx, load.TruckId, load.LoadDate, input.SoldWeight)
		if err != nil {
			return err
		}

		newSold := load.SoldWeight.Add(input.SoldWeight)
		status := models.TruckLoadStatusPartiallySold
		if newSold.GreaterThanOrEqual(load.GrossWeight) {
			status = models.TruckLoadStatusFullySold
		}
		if err := tx.Model(&load).
			Updates(map[string]interface{}{"sold_weight": newSold, "status": status}).Error; err != nil {
			return wrapStorage(err)
		}

		if err := models.PublishEvent(ctx, tx, models.EventTypeBalanceChanged, "invoice", invoice.ID,
			models.BalanceChangedEvent{
				CustomerId:    input.CustomerId,
				Action:        string(models.AuditActionPostInvoice),
				ReferenceType: "invoice",
				ReferenceId:   invoice.ID,
				Delta:         net.String(),
				NewBalance:    newBalance.String(),
				OccurredAt:    time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
			return wrapStorage(err)
		}

		if input.IdempotencyKey != "" {
			if err := MarkIdempotencySucceeded(tx, handlerCreateInvoice, input.IdempotencyKey); err != nil {
				return wrapStorage(err)
			}
		}
		result = &InvoiceResult{Invoice: &invoice, NewBalance: newBalance, Reconciliation: recon}
		return nil
	})
	if err != nil {
		markFailedAfterRollback(ctx, db, handlerCreateInvoice, input.IdempotencyKey, err)
		config.LogError(logger, "workflow", "CreateInvoiceAndSettle", "posting", input, err)
		return nil, err
	}
	InvalidateAgingCache(input.CustomerId)
	return result, nil
}

// RecordPaymentAndSettle posts a payment and the balance decrease atomically.
func RecordPaymentAndSettle(ctx context.Context, db *gorm.DB, logger *logrus.Logger, input RecordPaymentInput) (*PaymentResult, error) {
	if !input.Amount.IsPositive() {
		return nil, NewDomainError(KindInvalidAmount, "payment amount must be positive, got %s", input.Amount)
	}
	if !input.Method.Valid() {
		return nil, NewDomainError(KindInvalidAmount, "unknown payment method %q", input.Method)
	}
	if input.PaymentDate.IsZero() {
		input.PaymentDate = time.Now().UTC()
	}

	var result *PaymentResult
	err := runPosting(ctx, db, func(tx *gorm.DB) error {
		if input.IdempotencyKey != "" {
			skip, err := BeginIdempotency(tx, handlerRecordPayment, input.IdempotencyKey)
			if err != nil {
				return wrapStorage(err)
			}
			if skip {
				return ErrDuplicateCommand
			}
		}

		if err := AcquireCustomerPostingLock(tx, input.CustomerId); err != nil {
			return err
		}
		defer ReleaseCustomerPostingLock(tx, input.CustomerId)

		if input.InvoiceId != nil {
			var invoice models.Invoice
			err := tx.First(&invoice, *input.InvoiceId).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewDomainError(KindInvalidAmount, "invoice %d not found", *input.InvoiceId)
			}
			if err != nil {
				return wrapStorage(err)
			}
			if invoice.CustomerId != input.CustomerId {
				return NewDomainError(KindInvalidAmount,
					"invoice %d belongs to a different customer", *input.InvoiceId)
			}
		}

		payment := models.Payment{
			CustomerId:  input.CustomerId,
			InvoiceId:   input.InvoiceId,
			Amount:      input.Amount,
			Method:      input.Method,
			Reference:   input.Reference,
			Notes:       input.Notes,
			PaymentDate: input.PaymentDate,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return wrapStorage(err)
		}

		newBalance, err := PostPayment(tx, logger, input.CustomerId, input.Amount,
			input.PaymentDate, input.AllowOverpayment,
			LedgerRef{Type: "payment", Id: payment.ID})
		if err != nil {
			return err
		}

		if err := models.PublishEvent(ctx, tx, models.EventTypeBalanceChanged, "payment", payment.ID,
			models.BalanceChangedEvent{
				CustomerId:    input.CustomerId,
				Action:        string(models.AuditActionPostPayment),
				ReferenceType: "payment",
				ReferenceId:   payment.ID,
				Delta:         input.Amount.Neg().String(),
				NewBalance:    newBalance.String(),
				OccurredAt:    time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
			return wrapStorage(err)
		}

		if input.IdempotencyKey != "" {
			if err := MarkIdempotencySucceeded(tx, handlerRecordPayment, input.IdempotencyKey); err != nil {
				return wrapStorage(err)
			}
		}
		result = &PaymentResult{Payment: &payment, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		markFailedAfterRollback(ctx, db, handlerRecordPayment, input.IdempotencyKey, err)
		config.LogError(logger, "workflow", "RecordPaymentAndSettle", "posting", input, err)
		return nil, err
	}
	InvalidateAgingCache(input.CustomerId)
	return result, nil
}

// AdjustDebt wraps the ledger adjustment in its own locked transaction.
func AdjustDebt(ctx context.Context, db *gorm.DB, logger *logrus.Logger, customerId int, delta decimal.Decimal, reason string) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := runPosting(ctx, db, func(tx *gorm.DB) error {
		if err := AcquireCustomerPostingLock(tx, customerId); err != nil {
			return err
		}
		defer ReleaseCustomerPostingLock(tx, customerId)

		balance, err := PostDebtAdjustment(tx, logger, customerId, delta, reason)
		if err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	InvalidateAgingCache(customerId)
	return newBalance, nil
}

// markFailedAfterRollback records the failure outcome on the idempotency row,
// best-effort on the base connection. When the STARTED row was created inside
// the rolled-back transaction the update matches nothing and a retry simply
// starts over, which is the correct outcome anyway. A duplicate-command
// result is not a failure and the row stays SUCCEEDED.
func markFailedAfterRollback(ctx context.Context, db *gorm.DB, handlerName, clientKey string, cause error) {
	if clientKey == "" || errors.Is(cause, ErrDuplicateCommand) {
		return
	}
	_ = MarkIdempotencyFailed(db.WithContext(ctx), handlerName, clientKey, cause)
}
