package reports

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"github.com/shopspring/decimal"
)

type ReconciliationRow struct {
	TruckID            int             `json:"truckId"`
	RegistrationNumber string          `json:"registrationNumber"`
	ReconDate          time.Time       `json:"reconDate"`
	LoadedWeight       decimal.Decimal `json:"loadedWeight"`
	SoldWeight         decimal.Decimal `json:"soldWeight"`
	WasteWeight        decimal.Decimal `json:"wasteWeight"`
	Variance           decimal.Decimal `json:"variance"`
	Status             string          `json:"status"`
	ReopenCount        int             `json:"reopenCount"`
	Acknowledged       bool            `json:"acknowledged"`
}

type ReconciliationReport struct {
	Rows          []*ReconciliationRow `json:"rows"`
	TotalLoaded   decimal.Decimal      `json:"totalLoaded"`
	TotalSold     decimal.Decimal      `json:"totalSold"`
	TotalWaste    decimal.Decimal      `json:"totalWaste"`
	TotalVariance decimal.Decimal      `json:"totalVariance"`
	VarianceDays  int                  `json:"varianceDays"`
	// PendingReview counts Variance days no reviewer has acknowledged yet.
	PendingReview int `json:"pendingReview"`
}

func GetDailyReconciliationReport(ctx context.Context, fromDate, toDate time.Time, truckId *int) (*ReconciliationReport, error) {
	started := time.Now()
	cacheKey := fmt.Sprintf("report:reconciliation:%s:%s:%d",
		models.DateOnly(fromDate).Format("2006-01-02"),
		models.DateOnly(toDate).Format("2006-01-02"),
		utils.DereferencePtr(truckId, 0))
	if reportCacheEnabled() {
		var cached ReconciliationReport
		if found, err := cacheGet(cacheKey, &cached); err == nil && found {
			return &cached, nil
		}
	}

	sql := `
SELECT
    dr.truck_id,
    trucks.registration_number,
    dr.recon_date,
    dr.loaded_weight,
    dr.sold_weight,
    dr.waste_weight,
    dr.variance,
    dr.status,
    dr.reopen_count,
    (dr.reviewed_at IS NOT NULL) AS acknowledged
FROM
    daily_reconciliations dr
    LEFT JOIN trucks ON trucks.id = dr.truck_id
WHERE
    dr.recon_date >= @fromDate AND dr.recon_date <= @toDate
{{- if .truckId }}
    AND dr.truck_id = @truckId
{{- end }}
ORDER BY dr.recon_date DESC, trucks.registration_number
`
	sql, err := utils.ExecTemplate(sql, map[string]interface{}{
		"truckId": utils.DereferencePtr(truckId, 0),
	})
	if err != nil {
		return nil, err
	}

	var rows []*ReconciliationRow
	db := config.GetDB()
	err = db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"fromDate": models.DateOnly(fromDate),
		"toDate":   models.DateOnly(toDate),
		"truckId":  utils.DereferencePtr(truckId, 0),
	}).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{
		Rows:          rows,
		TotalLoaded:   decimal.Zero,
		TotalSold:     decimal.Zero,
		TotalWaste:    decimal.Zero,
		TotalVariance: decimal.Zero,
	}
	for _, row := range rows {
		report.TotalLoaded = report.TotalLoaded.Add(row.LoadedWeight)
		report.TotalSold = report.TotalSold.Add(row.SoldWeight)
		report.TotalWaste = report.TotalWaste.Add(row.WasteWeight)
		report.TotalVariance = report.TotalVariance.Add(row.Variance)
		if row.Status == string(models.ReconciliationStatusVariance) {
			report.VarianceDays++
			if !row.Acknowledged {
				report.PendingReview++
			}
		}
	}

	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, report, reportCacheTTL())
	}
	logSlowReport(ctx, "daily_reconciliation", started, map[string]any{"rows": len(rows)})
	return report, nil
}
