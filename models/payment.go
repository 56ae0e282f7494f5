package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"github.com/shopspring/decimal"
)

// Payment is immutable once posted, same as Invoice.
type Payment struct {
	ID          int             `gorm:"primary_key" json:"id"`
	CustomerId  int             `gorm:"index;not null" json:"customer_id"`
	InvoiceId   *int            `gorm:"index" json:"invoice_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Method      PaymentMethod   `gorm:"size:20;not null" json:"method"`
	Reference   string          `gorm:"size:100" json:"reference"`
	Notes       string          `gorm:"type:text" json:"notes"`
	PaymentDate time.Time       `gorm:"not null;index" json:"payment_date"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetPayment(ctx context.Context, id int) (*Payment, error) {
	db := config.GetDB()
	var payment Payment
	if err := db.WithContext(ctx).First(&payment, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &payment, nil
}

func ListPaymentsByCustomer(ctx context.Context, customerId int, fromDate, toDate *time.Time) ([]*Payment, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Where("customer_id = ?", customerId)
	if fromDate != nil {
		query = query.Where("payment_date >= ?", fromDate)
	}
	if toDate != nil {
		query = query.Where("payment_date <= ?", toDate)
	}
	var payments []*Payment
	if err := query.Order("payment_date, id").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}
