package reports

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Sheet1"

func setHeaderRow(f *excelize.File, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, h)
	}
}

// ExportAgingSummaryExcel renders the aging summary as a spreadsheet for the
// back office. Numbers go out as strings so Excel does not re-round them.
func ExportAgingSummaryExcel(report *AgingSummaryReport) (*excelize.File, error) {
	f := excelize.NewFile()
	setHeaderRow(f, []string{
		"Customer",
		fmt.Sprintf("0-%d days", report.BucketDays[0]),
		fmt.Sprintf("%d-%d days", report.BucketDays[0]+1, report.BucketDays[1]),
		fmt.Sprintf("%d-%d days", report.BucketDays[1]+1, report.BucketDays[2]),
		fmt.Sprintf("%d+ days", report.BucketDays[2]+1),
		"Total",
	})
	row := 2
	for _, r := range report.Rows {
		f.SetCellValue(exportSheet, fmt.Sprintf("A%d", row), r.CustomerName)
		f.SetCellValue(exportSheet, fmt.Sprintf("B%d", row), r.Current.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("C%d", row), r.Days31to60.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("D%d", row), r.Days61to90.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("E%d", row), r.Days91Plus.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("F%d", row), r.Total.String())
		row++
	}
	f.SetCellValue(exportSheet, fmt.Sprintf("A%d", row), report.Totals.CustomerName)
	f.SetCellValue(exportSheet, fmt.Sprintf("B%d", row), report.Totals.Current.String())
	f.SetCellValue(exportSheet, fmt.Sprintf("C%d", row), report.Totals.Days31to60.String())
	f.SetCellValue(exportSheet, fmt.Sprintf("D%d", row), report.Totals.Days61to90.String())
	f.SetCellValue(exportSheet, fmt.Sprintf("E%d", row), report.Totals.Days91Plus.String())
	f.SetCellValue(exportSheet, fmt.Sprintf("F%d", row), report.Totals.Total.String())
	return f, nil
}

func ExportCustomerBalancesExcel(rows []*CustomerBalance) (*excelize.File, error) {
	f := excelize.NewFile()
	setHeaderRow(f, []string{"Customer", "Invoiced", "Received", "Adjusted", "Balance", "Drift", "Credit Limit", "Invoices"})
	for i, r := range rows {
		row := i + 2
		f.SetCellValue(exportSheet, fmt.Sprintf("A%d", row), r.CustomerName)
		f.SetCellValue(exportSheet, fmt.Sprintf("B%d", row), r.InvoicedAmount.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("C%d", row), r.ReceivedAmount.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("D%d", row), r.AdjustedAmount.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("E%d", row), r.StoredBalance.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("F%d", row), r.Drift.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("G%d", row), r.CreditLimit.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("H%d", row), r.InvoiceCount)
	}
	return f, nil
}

func ExportReconciliationExcel(report *ReconciliationReport) (*excelize.File, error) {
	f := excelize.NewFile()
	setHeaderRow(f, []string{"Truck", "Date", "Loaded", "Sold", "Waste", "Variance", "Status", "Reopens", "Acknowledged"})
	for i, r := range report.Rows {
		row := i + 2
		f.SetCellValue(exportSheet, fmt.Sprintf("A%d", row), r.RegistrationNumber)
		f.SetCellValue(exportSheet, fmt.Sprintf("B%d", row), r.ReconDate.Format("2006-01-02"))
		f.SetCellValue(exportSheet, fmt.Sprintf("C%d", row), r.LoadedWeight.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("D%d", row), r.SoldWeight.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("E%d", row), r.WasteWeight.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("F%d", row), r.Variance.String())
		f.SetCellValue(exportSheet, fmt.Sprintf("G%d", row), r.Status)
		f.SetCellValue(exportSheet, fmt.Sprintf("H%d", row), r.ReopenCount)
		f.SetCellValue(exportSheet, fmt.Sprintf("I%d", row), r.Acknowledged)
	}
	return f, nil
}
