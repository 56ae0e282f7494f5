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

// Reconciliation tracks loaded vs sold vs waste per (truck, date). OpenDay,
// CloseDay, ReopenDay and AcknowledgeVariance are commands with their own
// transactions; recordSale is tx-level because it runs inside the invoice
// posting transaction (see coordinatorWorkflow.go).

func lockReconciliation(tx *gorm.DB, truckId int, date time.Time) (*models.DailyReconciliation, error) {
	var recon models.DailyReconciliation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("truck_id = ? AND recon_date = ?", truckId, models.DateOnly(date)).
		First(&recon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewDomainError(KindReconciliationNotFound,
			"no reconciliation for truck %d on %s", truckId, models.DateOnly(date).Format("2006-01-02"))
	}
	if err != nil {
		return nil, wrapStorage(err)
	}
	return &recon, nil
}

// OpenDay creates the reconciliation row for a truck-day. The unique index on
// (truck_id, recon_date) makes a second open fail with a duplicate-key error,
// which surfaces as DuplicateReconciliation.
func OpenDay(ctx context.Context, db *gorm.DB, logger *logrus.Logger, truckId int, date time.Time, loadedWeight decimal.Decimal) (*models.DailyReconciliation, error) {
	if !loadedWeight.IsPositive() {
		return nil, NewDomainError(KindInvalidAmount, "loaded weight must be positive, got %s", loadedWeight)
	}
	if err := utils.ValidateResourceId[models.Truck](ctx, truckId); err != nil {
		return nil, NewDomainError(KindInvalidAmount, "truck %d not found", truckId)
	}

	recon := models.DailyReconciliation{
		TruckId:      truckId,
		ReconDate:    models.DateOnly(date),
		LoadedWeight: loadedWeight,
		SoldWeight:   decimal.Zero,
		WasteWeight:  decimal.Zero,
		Variance:     decimal.Zero,
		ToleranceKg:  config.GetReconciliationPolicy().ToleranceKg,
		Status:       models.ReconciliationStatusOpen,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&recon).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return NewDomainError(KindDuplicateReconciliation,
					"reconciliation already open for truck %d on %s", truckId, recon.ReconDate.Format("2006-01-02"))
			}
			return wrapStorage(err)
		}
		return models.CreateAuditLog(tx, models.AuditActionOpenDay, "reconciliation", recon.ID, nil,
			nil, recon, "day opened")
	})
	if err != nil {
		config.LogError(logger, "workflow", "OpenDay", "open day", truckId, err)
		return nil, err
	}
	return &recon, nil
}

// recordSale accumulates sold weight onto the day's reconciliation. Caller
// holds the truck-day posting lock and runs inside the posting transaction.
func recordSale(tx *gorm.DB, truckId int, date time.Time, soldWeight decimal.Decimal) (*models.DailyReconciliation, error) {
	if !soldWeight.IsPositive() {
		return nil, NewDomainError(KindInvalidAmount, "sold weight must be positive, got %s", soldWeight)
	}
	recon, err := lockReconciliation(tx, truckId, date)
	if err != nil {
		return nil, err
	}
	if !recon.Editable() {
		return nil, NewDomainError(KindDayClosed,
			"truck %d day %s is %s", truckId, recon.ReconDate.Format("2006-01-02"), recon.Status)
	}

	newSold := recon.SoldWeight.Add(soldWeight)
	if newSold.GreaterThan(recon.LoadedWeight) {
		return nil, NewDomainError(KindOverAllocation,
			"sold %s would exceed loaded %s for truck %d", newSold, recon.LoadedWeight, truckId)
	}
	if err := tx.Model(recon).Update("sold_weight", newSold).Error; err != nil {
		return nil, wrapStorage(err)
	}
	recon.SoldWeight = newSold
	return recon, nil
}

// SettleDay is the close-day decision: variance = loaded - sold - waste, and
// the day is Balanced iff |variance| is within tolerance. The exact variance
// is stored either way.
func SettleDay(loaded, sold, waste, toleranceKg decimal.Decimal) (decimal.Decimal, models.ReconciliationStatus) {
	variance := loaded.Sub(sold).Sub(waste)
	if variance.Abs().LessThanOrEqual(toleranceKg) {
		return variance, models.ReconciliationStatusBalanced
	}
	return variance, models.ReconciliationStatusVariance
}

// CloseDay computes variance = loaded - sold - waste and settles the status:
// Balanced within tolerance, Variance otherwise. The truck's loads for the
// date move to Reconciled either way; a Variance day is closed, just flagged.
func CloseDay(ctx context.Context, db *gorm.DB, logger *logrus.Logger, truckId int, date time.Time, wasteWeight decimal.Decimal) (*models.DailyReconciliation, error) {
	if wasteWeight.IsNegative() {
		return nil, NewDomainError(KindInvalidAmount, "waste weight cannot be negative, got %s", wasteWeight)
	}

	var result *models.DailyReconciliation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireTruckDayPostingLock(tx, truckId, date); err != nil {
			return err
		}
		defer ReleaseTruckDayPostingLock(tx, truckId, date)

		recon, err := lockReconciliation(tx, truckId, date)
		if err != nil {
			return err
		}
		if !recon.Editable() {
			return NewDomainError(KindDayClosed,
				"truck %d day %s already closed as %s", truckId, recon.ReconDate.Format("2006-01-02"), recon.Status)
		}
		before := *recon

		variance, status := SettleDay(recon.LoadedWeight, recon.SoldWeight, wasteWeight, recon.ToleranceKg)
		now := time.Now().UTC()
		updates := map[string]interface{}{
			"waste_weight": wasteWeight,
			"variance":     variance,
			"status":       status,
			"closed_at":    now,
		}
		if err := tx.Model(recon).Updates(updates).Error; err != nil {
			return wrapStorage(err)
		}
		recon.WasteWeight = wasteWeight
		recon.Variance = variance
		recon.Status = status
		recon.ClosedAt = &now

		if err := tx.Model(&models.TruckLoad{}).
			Where("truck_id = ? AND load_date = ?", truckId, recon.ReconDate).
			Update("status", models.TruckLoadStatusReconciled).Error; err != nil {
			return wrapStorage(err)
		}

		if err := models.CreateAuditLog(tx, models.AuditActionCloseDay, "reconciliation", recon.ID, nil,
			before, recon, "day closed"); err != nil {
			return wrapStorage(err)
		}
		if err := models.PublishEvent(ctx, tx, models.EventTypeDayClosed, "reconciliation", recon.ID,
			models.DayClosedEvent{
				TruckId:   truckId,
				ReconDate: recon.ReconDate.Format("2006-01-02"),
				Status:    string(status),
				Variance:  variance.String(),
			}); err != nil {
			return wrapStorage(err)
		}
		result = recon
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "CloseDay", "close day", truckId, err)
		return nil, err
	}
	return result, nil
}

// ReopenDay moves a closed day back to UnderReview so corrections can be
// posted. The reason is mandatory and lands in the audit trail.
func ReopenDay(ctx context.Context, db *gorm.DB, logger *logrus.Logger, truckId int, date time.Time, reason string) (*models.DailyReconciliation, error) {
	if reason == "" {
		return nil, NewDomainError(KindInvalidAmount, "reopen reason is required")
	}

	var result *models.DailyReconciliation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireTruckDayPostingLock(tx, truckId, date); err != nil {
			return err
		}
		defer ReleaseTruckDayPostingLock(tx, truckId, date)

		recon, err := lockReconciliation(tx, truckId, date)
		if err != nil {
			return err
		}
		if !recon.Closed() {
			return NewDomainError(KindInvalidAmount,
				"truck %d day %s is %s, only closed days can be reopened", truckId, recon.ReconDate.Format("2006-01-02"), recon.Status)
		}
		before := *recon

		updates := map[string]interface{}{
			"status":       models.ReconciliationStatusUnderReview,
			"closed_at":    nil,
			"reopen_count": recon.ReopenCount + 1,
		}
		if err := tx.Model(recon).Updates(updates).Error; err != nil {
			return wrapStorage(err)
		}
		recon.Status = models.ReconciliationStatusUnderReview
		recon.ClosedAt = nil
		recon.ReopenCount++

		// CloseDay parked the day's loads as Reconciled; put them back in play
		// so a corrective sale can draw against the remaining weight. The next
		// CloseDay parks them again.
		if err := tx.Model(&models.TruckLoad{}).
			Where("truck_id = ? AND load_date = ? AND status = ?",
				truckId, recon.ReconDate, models.TruckLoadStatusReconciled).
			Update("status", gorm.Expr("CASE WHEN sold_weight >= gross_weight THEN ? WHEN sold_weight > 0 THEN ? ELSE ? END",
				models.TruckLoadStatusFullySold, models.TruckLoadStatusPartiallySold, models.TruckLoadStatusLoaded)).
			Error; err != nil {
			return wrapStorage(err)
		}

		if err := models.CreateAuditLog(tx, models.AuditActionReopenDay, "reconciliation", recon.ID, nil,
			before, recon, reason); err != nil {
			return wrapStorage(err)
		}
		if err := models.PublishEvent(ctx, tx, models.EventTypeDayReopened, "reconciliation", recon.ID,
			models.DayClosedEvent{
				TruckId:   truckId,
				ReconDate: recon.ReconDate.Format("2006-01-02"),
				Status:    string(recon.Status),
				Variance:  recon.Variance.String(),
				Reason:    reason,
			}); err != nil {
			return wrapStorage(err)
		}
		result = recon
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "ReopenDay", "reopen day", truckId, err)
		return nil, err
	}
	return result, nil
}

// AcknowledgeVariance records that a reviewer has seen a Variance day. The
// status stays Variance; ReviewedAt is what clears it from the review queue.
func AcknowledgeVariance(ctx context.Context, db *gorm.DB, logger *logrus.Logger, truckId int, date time.Time, note string) (*models.DailyReconciliation, error) {
	var result *models.DailyReconciliation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recon, err := lockReconciliation(tx, truckId, date)
		if err != nil {
			return err
		}
		if recon.Status != models.ReconciliationStatusVariance {
			return NewDomainError(KindInvalidAmount,
				"truck %d day %s is %s, only Variance days need acknowledgement", truckId, recon.ReconDate.Format("2006-01-02"), recon.Status)
		}
		before := *recon

		now := time.Now().UTC()
		reviewerId, _ := utils.GetUserIdFromContext(ctx)
		updates := map[string]interface{}{
			"reviewed_by": reviewerId,
			"reviewed_at": now,
			"review_note": note,
		}
		if err := tx.Model(recon).Updates(updates).Error; err != nil {
			return wrapStorage(err)
		}
		recon.ReviewedBy = &reviewerId
		recon.ReviewedAt = &now
		recon.ReviewNote = note

		if err := models.CreateAuditLog(tx, models.AuditActionAcknowledgeVariance, "reconciliation", recon.ID, nil,
			before, recon, note); err != nil {
			return wrapStorage(err)
		}
		result = recon
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "AcknowledgeVariance", "acknowledge", truckId, err)
		return nil, err
	}
	return result, nil
}
