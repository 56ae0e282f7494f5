package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"github.com/shopspring/decimal"
)

// DebtAdjustment is an administrative correction to a customer balance
// (write-off, credit, opening-balance fix). It is the compensating-entry
// mechanism for posted invoices/payments and is part of the history the
// balance can be rebuilt from.
type DebtAdjustment struct {
	ID         int             `gorm:"primary_key" json:"id"`
	CustomerId int             `gorm:"index;not null" json:"customer_id"`
	Delta      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"delta"`
	Reason     string          `gorm:"size:255;not null" json:"reason"`
	UserId     int             `gorm:"index" json:"user_id"`
	CreatedAt  time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func ListAdjustmentsByCustomer(ctx context.Context, customerId int) ([]*DebtAdjustment, error) {
	db := config.GetDB()
	var adjustments []*DebtAdjustment
	if err := db.WithContext(ctx).Where("customer_id = ?", customerId).Order("created_at, id").Find(&adjustments).Error; err != nil {
		return nil, err
	}
	return adjustments, nil
}
