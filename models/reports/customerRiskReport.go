package reports

import (
	"context"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"bitbucket.org/mmdatafocus/poultry_backend/workflow"
)

type CustomerRiskReport struct {
	AsOf time.Time                  `json:"asOf"`
	Rows []*workflow.RiskAssessment `json:"rows"`
}

// GetCustomerRiskReport classifies every customer with outstanding debt,
// worst first.
func GetCustomerRiskReport(ctx context.Context, asOf time.Time) (*CustomerRiskReport, error) {
	started := time.Now()
	customers, err := models.ListCustomers(ctx, "", true)
	if err != nil {
		return nil, err
	}

	policy := config.GetRiskPolicy()
	report := &CustomerRiskReport{AsOf: models.DateOnly(asOf)}
	for _, customer := range customers {
		snapshot, err := workflow.ComputeAging(ctx, customer.ID, asOf)
		if err != nil {
			return nil, err
		}
		if !snapshot.TotalOutstanding.IsPositive() {
			continue
		}
		assessment := workflow.ClassifyRisk(snapshot, asOf, policy)
		report.Rows = append(report.Rows, &assessment)
	}
	sort.SliceStable(report.Rows, func(i, j int) bool {
		return report.Rows[i].Score.GreaterThan(report.Rows[j].Score)
	})
	logSlowReport(ctx, "customer_risk", started, map[string]any{"rows": len(report.Rows)})
	return report, nil
}
