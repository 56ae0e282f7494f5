package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"bitbucket.org/mmdatafocus/poultry_backend/models/reports"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"bitbucket.org/mmdatafocus/poultry_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// respondError maps workflow error kinds onto HTTP statuses. Anything
// unclassified is a 500 with a generic body; the cause goes to the log only.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	case errors.Is(err, utils.ErrorDuplicateValue):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	switch workflow.KindOf(err) {
	case workflow.KindReconciliationNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": workflow.KindOf(err)})
	case workflow.KindDuplicateReconciliation, workflow.KindDuplicateCommand, workflow.KindConcurrencyConflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": workflow.KindOf(err)})
	case workflow.KindInvalidAmount, workflow.KindOverAllocation, workflow.KindOverpaymentRejected, workflow.KindDayClosed:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": workflow.KindOf(err)})
	case workflow.KindStorageUnavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable", "kind": workflow.KindOf(err)})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func dateQuery(c *gin.Context, name string, def time.Time) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return d, true
}

func optionalDateQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD"})
		return nil, false
	}
	return &d, true
}

func writeExcel(c *gin.Context, f *excelize.File, filename string) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

// ---- auth ----

func loginHandler() gin.HandlerFunc {
	type loginInput struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var input loginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := models.AuthenticateUser(c.Request.Context(), input.Username, input.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		token, err := utils.JwtGenerate(user.ID, user.Name, user.Role)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}

// ---- customers ----

func createCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCustomer
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		customer, err := models.CreateCustomer(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func updateCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewCustomer
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		customer, err := models.UpdateCustomer(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}

func toggleCustomerHandler() gin.HandlerFunc {
	type toggleInput struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input toggleInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		customer, err := models.ToggleActiveCustomer(c.Request.Context(), id, *input.IsActive)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}

func listCustomersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customers, err := models.ListCustomers(c.Request.Context(), c.Query("search"), c.Query("active") == "true")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, customers)
	}
}

func customerSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		asOf, ok := dateQuery(c, "as_of", time.Now().UTC())
		if !ok {
			return
		}
		snapshot, err := workflow.GetCustomerSnapshot(c.Request.Context(), id, asOf)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

func customerStatementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		fromDate, ok := optionalDateQuery(c, "from")
		if !ok {
			return
		}
		toDate, ok := optionalDateQuery(c, "to")
		if !ok {
			return
		}
		lines, err := workflow.GetCustomerStatement(c.Request.Context(), id, fromDate, toDate)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, lines)
	}
}

func customerPaymentPlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		months, err := strconv.Atoi(c.DefaultQuery("months", "3"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "months must be a number"})
			return
		}
		customer, err := models.GetCustomer(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		plan, err := workflow.SuggestPaymentPlan(customer.TotalDebt, months)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

func adjustDebtHandler() gin.HandlerFunc {
	type adjustInput struct {
		Delta  decimal.Decimal `json:"delta" binding:"required"`
		Reason string          `json:"reason" binding:"required"`
	}
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input adjustInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		balance, err := workflow.AdjustDebt(c.Request.Context(), config.GetDB(), config.GetLogger(), id, input.Delta, input.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"new_balance": balance})
	}
}

// ---- trucks and loads ----

func createTruckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewTruck
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		truck, err := models.CreateTruck(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, truck)
	}
}

func updateTruckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewTruck
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		truck, err := models.UpdateTruck(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, truck)
	}
}

func listTrucksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trucks, err := models.ListTrucks(c.Request.Context(), c.Query("active") == "true")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, trucks)
	}
}

func createTruckLoadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewTruckLoad
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		load, err := models.CreateTruckLoad(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, load)
	}
}

func listTruckLoadsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		fromDate, ok := optionalDateQuery(c, "from")
		if !ok {
			return
		}
		toDate, ok := optionalDateQuery(c, "to")
		if !ok {
			return
		}
		loads, err := models.ListTruckLoads(c.Request.Context(), id, fromDate, toDate)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, loads)
	}
}

// ---- posting commands ----

func createInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.CreateInvoiceInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := workflow.CreateInvoiceAndSettle(c.Request.Context(), config.GetDB(), config.GetLogger(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func recordPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.RecordPaymentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := workflow.RecordPaymentAndSettle(c.Request.Context(), config.GetDB(), config.GetLogger(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

// ---- reconciliation ----

type reconDayInput struct {
	TruckId int    `json:"truck_id" binding:"required"`
	Date    string `json:"date" binding:"required"`
}

func (input *reconDayInput) parsedDate(c *gin.Context) (time.Time, bool) {
	d, err := time.Parse("2006-01-02", input.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return d, true
}

func openDayHandler() gin.HandlerFunc {
	type openInput struct {
		reconDayInput
		LoadedWeight decimal.Decimal `json:"loaded_weight" binding:"required"`
	}
	return func(c *gin.Context) {
		var input openInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, ok := input.parsedDate(c)
		if !ok {
			return
		}
		recon, err := workflow.OpenDay(c.Request.Context(), config.GetDB(), config.GetLogger(), input.TruckId, date, input.LoadedWeight)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, recon)
	}
}

func closeDayHandler() gin.HandlerFunc {
	type closeInput struct {
		reconDayInput
		WasteWeight decimal.Decimal `json:"waste_weight"`
	}
	return func(c *gin.Context) {
		var input closeInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, ok := input.parsedDate(c)
		if !ok {
			return
		}
		recon, err := workflow.CloseDay(c.Request.Context(), config.GetDB(), config.GetLogger(), input.TruckId, date, input.WasteWeight)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func reopenDayHandler() gin.HandlerFunc {
	type reopenInput struct {
		reconDayInput
		Reason string `json:"reason" binding:"required"`
	}
	return func(c *gin.Context) {
		var input reopenInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, ok := input.parsedDate(c)
		if !ok {
			return
		}
		recon, err := workflow.ReopenDay(c.Request.Context(), config.GetDB(), config.GetLogger(), input.TruckId, date, input.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func acknowledgeVarianceHandler() gin.HandlerFunc {
	type ackInput struct {
		reconDayInput
		Note string `json:"note"`
	}
	return func(c *gin.Context) {
		var input ackInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, ok := input.parsedDate(c)
		if !ok {
			return
		}
		recon, err := workflow.AcknowledgeVariance(c.Request.Context(), config.GetDB(), config.GetLogger(), input.TruckId, date, input.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func reconciliationStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		truckId, err := strconv.Atoi(c.Query("truck_id"))
		if err != nil || truckId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "truck_id is required"})
			return
		}
		date, ok := dateQuery(c, "date", time.Now().UTC())
		if !ok {
			return
		}
		recon, err := workflow.GetReconciliationStatus(c.Request.Context(), truckId, date)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recon)
	}
}

func listReconciliationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var truckId *int
		if raw := c.Query("truck_id"); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid truck_id"})
				return
			}
			truckId = &id
		}
		fromDate, ok := optionalDateQuery(c, "from")
		if !ok {
			return
		}
		toDate, ok := optionalDateQuery(c, "to")
		if !ok {
			return
		}
		var status *models.ReconciliationStatus
		if raw := c.Query("status"); raw != "" {
			s := models.ReconciliationStatus(raw)
			status = &s
		}
		recons, err := models.ListReconciliations(c.Request.Context(), truckId, fromDate, toDate, status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recons)
	}
}

// ---- reports ----

func agingSummaryReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		asOf, ok := dateQuery(c, "as_of", time.Now().UTC())
		if !ok {
			return
		}
		report, err := reports.GetAgingSummaryReport(c.Request.Context(), asOf)
		if err != nil {
			respondError(c, err)
			return
		}
		if c.Query("format") == "xlsx" {
			f, err := reports.ExportAgingSummaryExcel(report)
			if err != nil {
				respondError(c, err)
				return
			}
			writeExcel(c, f, "aging-summary.xlsx")
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func customerBalancesReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := reports.GetCustomerBalancesReport(c.Request.Context(), c.Query("active") == "true")
		if err != nil {
			respondError(c, err)
			return
		}
		if c.Query("format") == "xlsx" {
			f, err := reports.ExportCustomerBalancesExcel(rows)
			if err != nil {
				respondError(c, err)
				return
			}
			writeExcel(c, f, "customer-balances.xlsx")
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func reconciliationReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now().UTC()
		fromDate, ok := dateQuery(c, "from", now.AddDate(0, 0, -30))
		if !ok {
			return
		}
		toDate, ok := dateQuery(c, "to", now)
		if !ok {
			return
		}
		var truckId *int
		if raw := c.Query("truck_id"); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid truck_id"})
				return
			}
			truckId = &id
		}
		report, err := reports.GetDailyReconciliationReport(c.Request.Context(), fromDate, toDate, truckId)
		if err != nil {
			respondError(c, err)
			return
		}
		if c.Query("format") == "xlsx" {
			f, err := reports.ExportReconciliationExcel(report)
			if err != nil {
				respondError(c, err)
				return
			}
			writeExcel(c, f, "reconciliation.xlsx")
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func customerRiskReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		asOf, ok := dateQuery(c, "as_of", time.Now().UTC())
		if !ok {
			return
		}
		report, err := reports.GetCustomerRiskReport(c.Request.Context(), asOf)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// ---- ops ----

// outboxReplayHandler resets FAILED outbox rows to PENDING so the dispatcher
// picks them up again.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		result := db.WithContext(c.Request.Context()).
			Model(&models.OutboxRecord{}).
			Where("publish_status = ?", models.OutboxPublishStatusFailed).
			Updates(map[string]interface{}{
				"publish_status": models.OutboxPublishStatusPending,
				"locked_at":      nil,
			})
		if result.Error != nil {
			respondError(c, result.Error)
			return
		}
		c.JSON(http.StatusOK, gin.H{"requeued": result.RowsAffected})
	}
}

func recomputeBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checked, corrected, err := workflow.RecomputeAllCustomers(c.Request.Context(), config.GetDB(), config.GetLogger())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"checked": checked, "corrected": corrected})
	}
}
