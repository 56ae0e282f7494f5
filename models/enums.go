package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

type TruckLoadStatus string

const (
	TruckLoadStatusLoaded        TruckLoadStatus = "Loaded"
	TruckLoadStatusPartiallySold TruckLoadStatus = "PartiallySold"
	TruckLoadStatusFullySold     TruckLoadStatus = "FullySold"
	TruckLoadStatusReconciled    TruckLoadStatus = "Reconciled"
)

type ReconciliationStatus string

const (
	// ReconciliationStatusOpen is the state of a freshly opened truck-day;
	// sales accumulate against it until CloseDay.
	ReconciliationStatusOpen ReconciliationStatus = "Open"
	// ReconciliationStatusBalanced means the day closed within tolerance.
	ReconciliationStatusBalanced ReconciliationStatus = "Balanced"
	// ReconciliationStatusVariance means the day closed with an unexplained
	// difference; it stays flagged until an operator acknowledges it.
	ReconciliationStatusVariance ReconciliationStatus = "Variance"
	// ReconciliationStatusUnderReview is a reopened day being corrected;
	// sales/waste are editable again until the next CloseDay.
	ReconciliationStatusUnderReview ReconciliationStatus = "UnderReview"
)

type RiskTier string

const (
	RiskTierLow      RiskTier = "Low"
	RiskTierMedium   RiskTier = "Medium"
	RiskTierHigh     RiskTier = "High"
	RiskTierCritical RiskTier = "Critical"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "Cash"
	PaymentMethodBankTransfer PaymentMethod = "BankTransfer"
	PaymentMethodCheque       PaymentMethod = "Cheque"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCheque:
		return true
	}
	return false
}

type AuditAction string

const (
	AuditActionPostInvoice         AuditAction = "PostInvoice"
	AuditActionPostPayment         AuditAction = "PostPayment"
	AuditActionAdjustDebt          AuditAction = "AdjustDebt"
	AuditActionOpenDay             AuditAction = "OpenDay"
	AuditActionCloseDay            AuditAction = "CloseDay"
	AuditActionReopenDay           AuditAction = "ReopenDay"
	AuditActionAcknowledgeVariance AuditAction = "AcknowledgeVariance"
	AuditActionRecomputeBalance    AuditAction = "RecomputeBalance"
)

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending OutboxPublishStatus = "PENDING"
	OutboxPublishStatusSent    OutboxPublishStatus = "SENT"
	OutboxPublishStatusFailed  OutboxPublishStatus = "FAILED"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

type EventType string

const (
	EventTypeBalanceChanged EventType = "ledger.balance_changed"
	EventTypeDayClosed      EventType = "reconciliation.day_closed"
	EventTypeDayReopened    EventType = "reconciliation.day_reopened"
)

// Scan/Value keep the string enums usable as plain columns with older MySQL
// ENUM definitions still in place.
func scanEnum(value interface{}, name string) (string, error) {
	switch v := value.(type) {
	case []byte:
		return string(v), nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("cannot scan %T into %s", value, name)
	}
}

func (s *TruckLoadStatus) Scan(value interface{}) error {
	v, err := scanEnum(value, "TruckLoadStatus")
	if err != nil {
		return err
	}
	*s = TruckLoadStatus(v)
	return nil
}

func (s TruckLoadStatus) Value() (driver.Value, error) {
	if s == "" {
		return nil, errors.New("truck load status is empty")
	}
	return string(s), nil
}

func (s *ReconciliationStatus) Scan(value interface{}) error {
	v, err := scanEnum(value, "ReconciliationStatus")
	if err != nil {
		return err
	}
	*s = ReconciliationStatus(v)
	return nil
}

func (s ReconciliationStatus) Value() (driver.Value, error) {
	if s == "" {
		return nil, errors.New("reconciliation status is empty")
	}
	return string(s), nil
}
