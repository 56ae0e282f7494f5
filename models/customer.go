package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"github.com/shopspring/decimal"
)

type Customer struct {
	ID      int    `gorm:"primary_key" json:"id"`
	Name    string `gorm:"size:100;not null;uniqueIndex" json:"name" binding:"required"`
	Email   string `gorm:"size:100" json:"email"`
	Phone   string `gorm:"size:20" json:"phone"`
	Address string `gorm:"size:255" json:"address"`
	Notes   string `gorm:"type:text" json:"notes"`
	// TotalDebt is the authoritative running balance:
	// sum(invoice net amounts) - sum(payments) + sum(adjustments).
	// Only the ledger workflow writes it, always under the customer posting lock.
	// It is derived data and can be rebuilt from history (cmd/aging-recompute).
	TotalDebt     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_debt"`
	CreditLimit   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit_limit"`
	LastPaymentAt *time.Time      `json:"last_payment_at"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name        string          `json:"name" binding:"required"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Address     string          `json:"address"`
	Notes       string          `json:"notes"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

func (input *NewCustomer) validate(ctx context.Context, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Customer](ctx, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateUnique[Customer](ctx, "name", input.Name, id); err != nil {
		return err
	}
	if input.Email != "" {
		if !utils.IsValidEmail(input.Email) {
			return errors.New("email is not valid")
		}
		if err := utils.ValidateUnique[Customer](ctx, "email", input.Email, id); err != nil {
			return err
		}
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return errors.New("phone number is not valid")
		}
		if err := utils.ValidateUnique[Customer](ctx, "phone", input.Phone, id); err != nil {
			return err
		}
	}
	if input.CreditLimit.IsNegative() {
		return errors.New("credit limit cannot be negative")
	}
	return nil
}

func CreateCustomer(ctx context.Context, input NewCustomer) (*Customer, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}
	customer := Customer{
		Name:        input.Name,
		Email:       input.Email,
		Phone:       input.Phone,
		Address:     input.Address,
		Notes:       input.Notes,
		TotalDebt:   decimal.Zero,
		CreditLimit: input.CreditLimit,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpdateCustomer updates contact fields only. TotalDebt is never writable here.
func UpdateCustomer(ctx context.Context, id int, input NewCustomer) (*Customer, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}
	db := config.GetDB()
	var customer Customer
	if err := db.WithContext(ctx).First(&customer, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	customer.Name = input.Name
	customer.Email = input.Email
	customer.Phone = input.Phone
	customer.Address = input.Address
	customer.Notes = input.Notes
	customer.CreditLimit = input.CreditLimit
	if err := db.WithContext(ctx).Save(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func ToggleActiveCustomer(ctx context.Context, id int, isActive bool) (*Customer, error) {
	db := config.GetDB()
	var customer Customer
	if err := db.WithContext(ctx).First(&customer, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	customer.IsActive = &isActive
	if err := db.WithContext(ctx).Save(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	db := config.GetDB()
	var customer Customer
	if err := db.WithContext(ctx).First(&customer, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &customer, nil
}

func ListCustomers(ctx context.Context, search string, activeOnly bool) ([]*Customer, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Order("name")
	if search != "" {
		query = query.Where("(name LIKE ? OR phone LIKE ?)", "%"+search+"%", "%"+search+"%")
	}
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var customers []*Customer
	if err := query.Find(&customers).Error; err != nil {
		return nil, err
	}
	return customers, nil
}
