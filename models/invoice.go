package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"github.com/shopspring/decimal"
)

// Invoice is an immutable financial fact once posted. There are deliberately
// no update functions in this file: corrections go through compensating
// DebtAdjustment entries, never in-place edits.
type Invoice struct {
	ID            int             `gorm:"primary_key" json:"id"`
	InvoiceNumber string          `gorm:"size:30;not null;uniqueIndex" json:"invoice_number"`
	CustomerId    int             `gorm:"index;not null" json:"customer_id"`
	TruckLoadId   int             `gorm:"index;not null" json:"truck_load_id"`
	SoldWeight    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"sold_weight"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Discount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	// NetAmount = sold_weight * unit_price - discount, rounded to 2 places at
	// persistence. It is the amount the ledger posted for this invoice.
	NetAmount   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"net_amount"`
	InvoiceDate time.Time       `gorm:"not null;index" json:"invoice_date"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	db := config.GetDB()
	var invoice Invoice
	if err := db.WithContext(ctx).First(&invoice, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &invoice, nil
}

func ListInvoicesByCustomer(ctx context.Context, customerId int, fromDate, toDate *time.Time) ([]*Invoice, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Where("customer_id = ?", customerId)
	if fromDate != nil {
		query = query.Where("invoice_date >= ?", fromDate)
	}
	if toDate != nil {
		query = query.Where("invoice_date <= ?", toDate)
	}
	var invoices []*Invoice
	if err := query.Order("invoice_date, id").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func ListInvoicesByTruckLoad(ctx context.Context, truckLoadId int) ([]*Invoice, error) {
	db := config.GetDB()
	var invoices []*Invoice
	if err := db.WithContext(ctx).Where("truck_load_id = ?", truckLoadId).Order("id").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}
