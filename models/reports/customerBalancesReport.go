package reports

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"github.com/shopspring/decimal"
)

type CustomerBalance struct {
	CustomerID     int             `json:"customerId"`
	CustomerName   string          `json:"customerName"`
	InvoicedAmount decimal.Decimal `json:"invoicedAmount"`
	ReceivedAmount decimal.Decimal `json:"receivedAmount"`
	AdjustedAmount decimal.Decimal `json:"adjustedAmount"`
	DerivedBalance decimal.Decimal `json:"derivedBalance"`
	StoredBalance  decimal.Decimal `json:"storedBalance"`
	// Drift is stored - derived; non-zero rows need a balance recompute.
	Drift        decimal.Decimal `json:"drift"`
	CreditLimit  decimal.Decimal `json:"creditLimit"`
	InvoiceCount int             `json:"invoiceCount"`
}

func GetCustomerBalancesReport(ctx context.Context, activeOnly bool) ([]*CustomerBalance, error) {
	started := time.Now()
	cacheKey := fmt.Sprintf("report:customer_balances:%t", activeOnly)
	if reportCacheEnabled() {
		var cached []*CustomerBalance
		if found, err := cacheGet(cacheKey, &cached); err == nil && found {
			return cached, nil
		}
	}

	sql := `
SELECT
    customers.id AS customer_id,
    customers.name AS customer_name,
    COALESCE(iv.total_invoiced, 0) AS invoiced_amount,
    COALESCE(pay.total_received, 0) AS received_amount,
    COALESCE(adj.total_adjusted, 0) AS adjusted_amount,
    COALESCE(iv.total_invoiced, 0) - COALESCE(pay.total_received, 0) + COALESCE(adj.total_adjusted, 0) AS derived_balance,
    customers.total_debt AS stored_balance,
    customers.total_debt - (COALESCE(iv.total_invoiced, 0) - COALESCE(pay.total_received, 0) + COALESCE(adj.total_adjusted, 0)) AS drift,
    customers.credit_limit,
    COALESCE(iv.invoice_count, 0) AS invoice_count
FROM
    customers
    LEFT JOIN (
        SELECT customer_id, SUM(net_amount) AS total_invoiced, COUNT(id) AS invoice_count
        FROM invoices GROUP BY customer_id
    ) iv ON iv.customer_id = customers.id
    LEFT JOIN (
        SELECT customer_id, SUM(amount) AS total_received
        FROM payments GROUP BY customer_id
    ) pay ON pay.customer_id = customers.id
    LEFT JOIN (
        SELECT customer_id, SUM(delta) AS total_adjusted
        FROM debt_adjustments GROUP BY customer_id
    ) adj ON adj.customer_id = customers.id
{{- if .activeOnly }}
WHERE customers.is_active = 1
{{- end }}
ORDER BY customers.name
`
	var results []*CustomerBalance
	db := config.GetDB()
	sql, err := utils.ExecTemplate(sql, map[string]interface{}{"activeOnly": activeOnly})
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Raw(sql).Scan(&results).Error; err != nil {
		return nil, err
	}

	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, results, reportCacheTTL())
	}
	logSlowReport(ctx, "customer_balances", started, map[string]any{"rows": len(results)})
	return results, nil
}
