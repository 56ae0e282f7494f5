package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"github.com/shopspring/decimal"
)

// DailyReconciliation is the end-of-day record for one (truck, date):
// loaded weight vs accumulated sold weight vs declared waste.
//
// Grain: one row per (truck_id, recon_date), enforced by a unique index;
// the duplicate-key error on insert is how OpenDay detects a second open.
//
// State machine:
//
//	Open -> (sales recorded) -> Balanced | Variance
//	Balanced | Variance -> (Reopen, audited) -> UnderReview -> Balanced | Variance
type DailyReconciliation struct {
	ID           int                  `gorm:"primary_key" json:"id"`
	TruckId      int                  `gorm:"not null;index:uniq_truck_day,unique" json:"truck_id"`
	ReconDate    time.Time            `gorm:"type:date;not null;index:uniq_truck_day,unique" json:"recon_date"`
	LoadedWeight decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"loaded_weight"`
	SoldWeight   decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"sold_weight"`
	WasteWeight  decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"waste_weight"`
	Variance     decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"variance"`
	ToleranceKg  decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"tolerance_kg"`
	Status       ReconciliationStatus `gorm:"size:20;not null;default:'Open'" json:"status"`
	ClosedAt     *time.Time           `json:"closed_at"`
	ReopenCount  int                  `gorm:"default:0" json:"reopen_count"`
	// Acknowledgement of a Variance day by a reviewer. Status stays Variance;
	// a nil ReviewedAt is what "requires review" means operationally.
	ReviewedBy *int       `json:"reviewed_by"`
	ReviewedAt *time.Time `json:"reviewed_at"`
	ReviewNote string     `gorm:"size:255" json:"review_note"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *DailyReconciliation) Editable() bool {
	return r.Status == ReconciliationStatusOpen || r.Status == ReconciliationStatusUnderReview
}

func (r *DailyReconciliation) Closed() bool {
	return r.Status == ReconciliationStatusBalanced || r.Status == ReconciliationStatusVariance
}

func GetReconciliation(ctx context.Context, truckId int, date time.Time) (*DailyReconciliation, error) {
	db := config.GetDB()
	var recon DailyReconciliation
	err := db.WithContext(ctx).
		Where("truck_id = ? AND recon_date = ?", truckId, DateOnly(date)).
		First(&recon).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &recon, nil
}

func ListReconciliations(ctx context.Context, truckId *int, fromDate, toDate *time.Time, status *ReconciliationStatus) ([]*DailyReconciliation, error) {
	db := config.GetDB()
	query := db.WithContext(ctx)
	if truckId != nil {
		query = query.Where("truck_id = ?", *truckId)
	}
	if fromDate != nil {
		query = query.Where("recon_date >= ?", DateOnly(*fromDate))
	}
	if toDate != nil {
		query = query.Where("recon_date <= ?", DateOnly(*toDate))
	}
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var recons []*DailyReconciliation
	if err := query.Order("recon_date DESC, truck_id").Find(&recons).Error; err != nil {
		return nil, err
	}
	return recons, nil
}

// DateOnly truncates a timestamp to its calendar date in UTC. Reconciliation
// keys are dates, never instants.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
