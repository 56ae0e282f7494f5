package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"github.com/shopspring/decimal"
)

// TruckLoad is one batch of slaughtered product loaded onto a truck.
// SoldWeight accumulates from posted invoices and can never exceed GrossWeight;
// the drawdown itself happens inside the posting transaction (workflow package).
type TruckLoad struct {
	ID          int             `gorm:"primary_key" json:"id"`
	TruckId     int             `gorm:"index;not null" json:"truck_id" binding:"required"`
	LoadDate    time.Time       `gorm:"type:date;not null;index" json:"load_date" binding:"required"`
	GrossWeight decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"gross_weight" binding:"required"`
	CageCount   int             `gorm:"not null" json:"cage_count" binding:"required"`
	SoldWeight  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sold_weight"`
	Status      TruckLoadStatus `gorm:"size:20;not null;default:'Loaded'" json:"status"`
	// IsValid is false when the weight-per-cage falls outside the configured
	// plausibility band. Invalid loads are kept (the birds are on the truck
	// either way) but flagged for the back office.
	IsValid   *bool     `gorm:"not null;default:true" json:"is_valid"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTruckLoad struct {
	TruckId     int             `json:"truck_id" binding:"required"`
	LoadDate    time.Time       `json:"load_date" binding:"required"`
	GrossWeight decimal.Decimal `json:"gross_weight" binding:"required"`
	CageCount   int             `json:"cage_count" binding:"required"`
}

func (l *TruckLoad) RemainingWeight() decimal.Decimal {
	return l.GrossWeight.Sub(l.SoldWeight)
}

// WeightPerCageInBand reports whether gross weight / cage count falls inside
// [min, max]. Division is exact enough at 4 places for a plausibility check.
func WeightPerCageInBand(grossWeight decimal.Decimal, cageCount int, min, max decimal.Decimal) bool {
	if cageCount <= 0 {
		return false
	}
	perCage := grossWeight.DivRound(decimal.NewFromInt(int64(cageCount)), 4)
	return perCage.GreaterThanOrEqual(min) && perCage.LessThanOrEqual(max)
}

func (input *NewTruckLoad) validate(ctx context.Context) error {
	if err := utils.ValidateResourceId[Truck](ctx, input.TruckId); err != nil {
		return errors.New("truck not found")
	}
	if !input.GrossWeight.IsPositive() {
		return errors.New("gross weight must be positive")
	}
	if input.CageCount <= 0 {
		return errors.New("cage count must be positive")
	}
	return nil
}

func CreateTruckLoad(ctx context.Context, input NewTruckLoad) (*TruckLoad, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	policy := config.GetReconciliationPolicy()
	inBand := WeightPerCageInBand(input.GrossWeight, input.CageCount, policy.MinKgPerCage, policy.MaxKgPerCage)
	load := TruckLoad{
		TruckId:     input.TruckId,
		LoadDate:    input.LoadDate,
		GrossWeight: input.GrossWeight,
		CageCount:   input.CageCount,
		SoldWeight:  decimal.Zero,
		Status:      TruckLoadStatusLoaded,
		IsValid:     &inBand,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&load).Error; err != nil {
		return nil, err
	}
	return &load, nil
}

func GetTruckLoad(ctx context.Context, id int) (*TruckLoad, error) {
	db := config.GetDB()
	var load TruckLoad
	if err := db.WithContext(ctx).First(&load, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &load, nil
}

func ListTruckLoads(ctx context.Context, truckId int, fromDate, toDate *time.Time) ([]*TruckLoad, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Where("truck_id = ?", truckId)
	if fromDate != nil {
		query = query.Where("load_date >= ?", fromDate)
	}
	if toDate != nil {
		query = query.Where("load_date <= ?", toDate)
	}
	var loads []*TruckLoad
	if err := query.Order("load_date DESC, id DESC").Find(&loads).Error; err != nil {
		return nil, err
	}
	return loads, nil
}
