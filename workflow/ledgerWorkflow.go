package workflow

import (
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

// The ledger engine owns Customer.TotalDebt. Every function here must run
// inside a transaction that already holds the customer posting lock; they
// additionally take a FOR UPDATE row lock so the read-modify-write on the
// balance is safe even against writers that bypassed the advisory lock.

// LedgerRef identifies the document a posting originates from, for the audit
// trail and the outbox event.
type LedgerRef struct {
	Type   string
	Id     int
	Number string
}

func lockCustomer(tx *gorm.DB, customerId int) (*models.Customer, error) {
	var customer models.Customer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&customer, customerId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewDomainError(KindInvalidAmount, "customer %d not found", customerId)
	}
	if err != nil {
		return nil, wrapStorage(err)
	}
	return &customer, nil
}

// PostInvoice increases the customer balance by the invoice net amount and
// returns the new balance.
func PostInvoice(tx *gorm.DB, logger *logrus.Logger, customerId int, netAmount decimal.Decimal, ref LedgerRef) (decimal.Decimal, error) {
	if !netAmount.IsPositive() {
		return decimal.Zero, NewDomainError(KindInvalidAmount, "invoice net amount must be positive, got %s", netAmount)
	}

	customer, err := lockCustomer(tx, customerId)
	if err != nil {
		return decimal.Zero, err
	}

	before := customer.TotalDebt
	after := before.Add(netAmount)
	if err := tx.Model(&models.Customer{}).Where("id = ?", customerId).
		Update("total_debt", after).Error; err != nil {
		config.LogError(logger, "workflow", "PostInvoice", "update balance", customerId, err)
		return decimal.Zero, wrapStorage(err)
	}

	if err := models.CreateAuditLog(tx, models.AuditActionPostInvoice, ref.Type, ref.Id, &customerId,
		map[string]string{"total_debt": before.String()},
		map[string]string{"total_debt": after.String()},
		"invoice "+ref.Number+" posted"); err != nil {
		config.LogError(logger, "workflow", "PostInvoice", "audit log", customerId, err)
		return decimal.Zero, wrapStorage(err)
	}
	return after, nil
}

// PostPayment decreases the customer balance. When the ledger policy forbids
// credit balances, a payment larger than the outstanding balance is rejected
// unless the caller set allowOverpayment explicitly (supervisor override).
func PostPayment(tx *gorm.DB, logger *logrus.Logger, customerId int, amount decimal.Decimal, paymentDate time.Time, allowOverpayment bool, ref LedgerRef) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, NewDomainError(KindInvalidAmount, "payment amount must be positive, got %s", amount)
	}

	customer, err := lockCustomer(tx, customerId)
	if err != nil {
		return decimal.Zero, err
	}

	before := customer.TotalDebt
	after := before.Sub(amount)
	if after.IsNegative() && !config.GetLedgerPolicy().AllowCreditBalance && !allowOverpayment {
		return decimal.Zero, NewDomainError(KindOverpaymentRejected,
			"payment %s exceeds outstanding balance %s", amount, before)
	}

	if err := tx.Model(&models.Customer{}).Where("id = ?", customerId).
		Updates(map[string]interface{}{"total_debt": after, "last_payment_at": paymentDate}).Error; err != nil {
		config.LogError(logger, "workflow", "PostPayment", "update balance", customerId, err)
		return decimal.Zero, wrapStorage(err)
	}

	if err := models.CreateAuditLog(tx, models.AuditActionPostPayment, ref.Type, ref.Id, &customerId,
		map[string]string{"total_debt": before.String()},
		map[string]string{"total_debt": after.String()},
		"payment received"); err != nil {
		config.LogError(logger, "workflow", "PostPayment", "audit log", customerId, err)
		return decimal.Zero, wrapStorage(err)
	}
	return after, nil
}

// PostDebtAdjustment records a signed administrative correction. A negative
// delta may push the balance below zero regardless of the credit policy;
// adjustments are how supervisors grant credit deliberately.
func PostDebtAdjustment(tx *gorm.DB, logger *logrus.Logger, customerId int, delta decimal.Decimal, reason string) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, NewDomainError(KindInvalidAmount, "adjustment delta cannot be zero")
	}
	if reason == "" {
		return decimal.Zero, NewDomainError(KindInvalidAmount, "adjustment reason is required")
	}

	customer, err := lockCustomer(tx, customerId)
	if err != nil {
		return decimal.Zero, err
	}

	userId, _ := utils.GetUserIdFromContext(tx.Statement.Context)
	adjustment := models.DebtAdjustment{
		CustomerId: customerId,
		Delta:      delta,
		Reason:     reason,
		UserId:     userId,
	}
	if err := tx.Create(&adjustment).Error; err != nil {
		config.LogError(logger, "workflow", "PostDebtAdjustment", "create adjustment", customerId, err)
		return decimal.Zero, wrapStorage(err)
	}

	before := customer.TotalDebt
	after := before.Add(delta)
	if err := tx.Model(&models.Customer{}).Where("id = ?", customerId).
		Update("total_debt", after).Error; err != nil {
		config.LogError(logger, "workflow", "PostDebtAdjustment", "update balance", customerId, err)
		return decimal.Zero, wrapStorage(err)
	}

	if err := models.CreateAuditLog(tx, models.AuditActionAdjustDebt, "debt_adjustment", adjustment.ID, &customerId,
		map[string]string{"total_debt": before.String()},
		map[string]string{"total_debt": after.String()},
		reason); err != nil {
		config.LogError(logger, "workflow", "PostDebtAdjustment", "audit log", customerId, err)
		return decimal.Zero, wrapStorage(err)
	}
	return after, nil
}
