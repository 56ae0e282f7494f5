package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
)

type Truck struct {
	ID                 int       `gorm:"primary_key" json:"id"`
	RegistrationNumber string    `gorm:"size:30;not null;uniqueIndex" json:"registration_number" binding:"required"`
	DriverName         string    `gorm:"size:100" json:"driver_name"`
	DriverPhone        string    `gorm:"size:20" json:"driver_phone"`
	Notes              string    `gorm:"type:text" json:"notes"`
	IsActive           *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTruck struct {
	RegistrationNumber string `json:"registration_number" binding:"required"`
	DriverName         string `json:"driver_name"`
	DriverPhone        string `json:"driver_phone"`
	Notes              string `json:"notes"`
}

/// Trucks are referenced by loads and invoices, so they are never hard-deleted:
// ToggleActiveTruck is the only way to retire one.

func (input *NewTruck) validate(ctx context.Context, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Truck](ctx, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateUnique[Truck](ctx, "registration_number", input.RegistrationNumber, id); err != nil {
		return err
	}
	if input.DriverPhone != "" {
		if err := utils.ValidatePhoneNumber(input.DriverPhone, utils.CountryCode); err != nil {
			return errors.New("driver phone is not valid")
		}
	}
	return nil
}

func CreateTruck(ctx context.Context, input NewTruck) (*Truck, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}
	truck := Truck{
		RegistrationNumber: input.RegistrationNumber,
		DriverName:         input.DriverName,
		DriverPhone:        input.DriverPhone,
		Notes:              input.Notes,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&truck).Error; err != nil {
		return nil, err
	}
	return &truck, nil
}

func UpdateTruck(ctx context.Context, id int, input NewTruck) (*Truck, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}
	db := config.GetDB()
	var truck Truck
	if err := db.WithContext(ctx).First(&truck, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	truck.RegistrationNumber = input.RegistrationNumber
	truck.DriverName = input.DriverName
	truck.DriverPhone = input.DriverPhone
	truck.Notes = input.Notes
	if err := db.WithContext(ctx).Save(&truck).Error; err != nil {
		return nil, err
	}
	return &truck, nil
}

func ToggleActiveTruck(ctx context.Context, id int, isActive bool) (*Truck, error) {
	db := config.GetDB()
	var truck Truck
	if err := db.WithContext(ctx).First(&truck, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	truck.IsActive = &isActive
	if err := db.WithContext(ctx).Save(&truck).Error; err != nil {
		return nil, err
	}
	return &truck, nil
}

func GetTruck(ctx context.Context, id int) (*Truck, error) {
	db := config.GetDB()
	var truck Truck
	if err := db.WithContext(ctx).First(&truck, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &truck, nil
}

func ListTrucks(ctx context.Context, activeOnly bool) ([]*Truck, error) {
	db := config.GetDB()
	var trucks []*Truck
	query := db.WithContext(ctx).Order("registration_number")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&trucks).Error; err != nil {
		return nil, err
	}
	return trucks, nil
}
