package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"bitbucket.org/mmdatafocus/poultry_backend/workflow"
	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "poultry_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedis()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func newTestCustomer(t *testing.T, ctx context.Context, name string) *models.Customer {
	t.Helper()
	customer, err := models.CreateCustomer(ctx, models.NewCustomer{Name: name})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	return customer
}

func newTestTruckWithLoad(t *testing.T, ctx context.Context, reg string, loadDate time.Time, gross string, cages int) (*models.Truck, *models.TruckLoad) {
	t.Helper()
	truck, err := models.CreateTruck(ctx, models.NewTruck{RegistrationNumber: reg})
	if err != nil {
		t.Fatalf("CreateTruck: %v", err)
	}
	load, err := models.CreateTruckLoad(ctx, models.NewTruckLoad{
		TruckId:     truck.ID,
		LoadDate:    loadDate,
		GrossWeight: dec(t, gross),
		CageCount:   cages,
	})
	if err != nil {
		t.Fatalf("CreateTruckLoad: %v", err)
	}
	return truck, load
}

func TestInvoiceAndPaymentPosting(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()
	logger := config.GetLogger()

	customer := newTestCustomer(t, ctx, "Posting Restaurant")
	loadDate := models.DateOnly(time.Now().UTC())
	truck, load := newTestTruckWithLoad(t, ctx, "DMS-1001", loadDate, "1000", 50)

	if _, err := workflow.OpenDay(ctx, db, logger, truck.ID, loadDate, dec(t, "1000")); err != nil {
		t.Fatalf("OpenDay: %v", err)
	}

	// 150 kg at 4.20/kg with 5.00 discount: net = 625.00
	result, err := workflow.CreateInvoiceAndSettle(ctx, db, logger, workflow.CreateInvoiceInput{
		CustomerId:  customer.ID,
		TruckLoadId: load.ID,
		SoldWeight:  dec(t, "150"),
		UnitPrice:   dec(t, "4.20"),
		Discount:    dec(t, "5.00"),
		InvoiceDate: loadDate,
	})
	if err != nil {
		t.Fatalf("CreateInvoiceAndSettle: %v", err)
	}
	if !result.Invoice.NetAmount.Equal(dec(t, "625.00")) {
		t.Errorf("net amount = %s, want 625.00", result.Invoice.NetAmount)
	}
	if !result.NewBalance.Equal(dec(t, "625.00")) {
		t.Errorf("balance = %s, want 625.00", result.NewBalance)
	}
	if result.Invoice.InvoiceNumber == "" {
		t.Errorf("invoice number not assigned")
	}
	if !result.Reconciliation.SoldWeight.Equal(dec(t, "150")) {
		t.Errorf("reconciliation sold = %s, want 150", result.Reconciliation.SoldWeight)
	}

	// The load drew down.
	updated, err := models.GetTruckLoad(ctx, load.ID)
	if err != nil {
		t.Fatalf("GetTruckLoad: %v", err)
	}
	if !updated.SoldWeight.Equal(dec(t, "150")) || updated.Status != models.TruckLoadStatusPartiallySold {
		t.Errorf("load after sale: sold=%s status=%s", updated.SoldWeight, updated.Status)
	}

	// Partial payment brings the balance down.
	payment, err := workflow.RecordPaymentAndSettle(ctx, db, logger, workflow.RecordPaymentInput{
		CustomerId:  customer.ID,
		Amount:      dec(t, "500"),
		Method:      models.PaymentMethodCash,
		PaymentDate: loadDate,
	})
	if err != nil {
		t.Fatalf("RecordPaymentAndSettle: %v", err)
	}
	if !payment.NewBalance.Equal(dec(t, "125.00")) {
		t.Errorf("balance after payment = %s, want 125.00", payment.NewBalance)
	}

	// Overpayment is rejected under the default policy...
	_, err = workflow.RecordPaymentAndSettle(ctx, db, logger, workflow.RecordPaymentInput{
		CustomerId:  customer.ID,
		Amount:      dec(t, "200"),
		Method:      models.PaymentMethodCash,
		PaymentDate: loadDate,
	})
	if !errors.Is(err, workflow.ErrOverpaymentRejected) {
		t.Fatalf("overpayment err = %v, want OverpaymentRejected", err)
	}

	// ...and the rejected attempt must not have written a payment row.
	payments, err := models.ListPaymentsByCustomer(ctx, customer.ID, nil, nil)
	if err != nil {
		t.Fatalf("ListPaymentsByCustomer: %v", err)
	}
	if len(payments) != 1 {
		t.Errorf("payment rows = %d, want 1", len(payments))
	}

	// Supervisor override allows it through and leaves a credit balance.
	overpay, err := workflow.RecordPaymentAndSettle(ctx, db, logger, workflow.RecordPaymentInput{
		CustomerId:       customer.ID,
		Amount:           dec(t, "200"),
		Method:           models.PaymentMethodCash,
		PaymentDate:      loadDate,
		AllowOverpayment: true,
	})
	if err != nil {
		t.Fatalf("override payment: %v", err)
	}
	if !overpay.NewBalance.Equal(dec(t, "-75.00")) {
		t.Errorf("credit balance = %s, want -75.00", overpay.NewBalance)
	}
}

func TestInvoiceIdempotencyKey(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()
	logger := config.GetLogger()

	customer := newTestCustomer(t, ctx, "Retry Restaurant")
	loadDate := models.DateOnly(time.Now().UTC())
	truck, load := newTestTruckWithLoad(t, ctx, "DMS-2002", loadDate, "500", 25)
	if _, err := workflow.OpenDay(ctx, db, logger, truck.ID, loadDate, dec(t, "500")); err != nil {
		t.Fatalf("OpenDay: %v", err)
	}

	input := workflow.CreateInvoiceInput{
		CustomerId:     customer.ID,
		TruckLoadId:    load.ID,
		SoldWeight:     dec(t, "100"),
		UnitPrice:      dec(t, "3"),
		InvoiceDate:    loadDate,
		IdempotencyKey: "pos-7-cmd-42",
	}
	first, err := workflow.CreateInvoiceAndSettle(ctx, db, logger, input)
	if err != nil {
		t.Fatalf("first submission: %v", err)
	}

	// The network retry with the same key must not double-post.
	_, err = workflow.CreateInvoiceAndSettle(ctx, db, logger, input)
	if !errors.Is(err, workflow.ErrDuplicateCommand) {
		t.Fatalf("second submission err = %v, want DuplicateCommand", err)
	}

	refreshed, err := models.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if !refreshed.TotalDebt.Equal(first.NewBalance) {
		t.Errorf("balance after replay = %s, want %s", refreshed.TotalDebt, first.NewBalance)
	}
	invoices, err := models.ListInvoicesByCustomer(ctx, customer.ID, nil, nil)
	if err != nil {
		t.Fatalf("ListInvoicesByCustomer: %v", err)
	}
	if len(invoices) != 1 {
		t.Errorf("invoice rows = %d, want 1", len(invoices))
	}
}

func TestReconciliationLifecycle(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()
	logger := config.GetLogger()

	customer := newTestCustomer(t, ctx, "Recon Restaurant")
	loadDate := models.DateOnly(time.Now().UTC())
	truck, load := newTestTruckWithLoad(t, ctx, "DMS-3003", loadDate, "1000", 40)

	if _, err := workflow.OpenDay(ctx, db, logger, truck.ID, loadDate, dec(t, "1000")); err != nil {
		t.Fatalf("OpenDay: %v", err)
	}
	// A second open for the same truck-day is a duplicate.
	_, err := workflow.OpenDay(ctx, db, logger, truck.ID, loadDate, dec(t, "1000"))
	if !errors.Is(err, workflow.ErrDuplicateReconciliation) {
		t.Fatalf("second OpenDay err = %v, want DuplicateReconciliation", err)
	}

	sell := func(weight string) (*workflow.InvoiceResult, error) {
		return workflow.CreateInvoiceAndSettle(ctx, db, logger, workflow.CreateInvoiceInput{
			CustomerId:  customer.ID,
			TruckLoadId: load.ID,
			SoldWeight:  dec(t, weight),
			UnitPrice:   dec(t, "4"),
			InvoiceDate: loadDate,
		})
	}
	if _, err := sell("980"); err != nil {
		t.Fatalf("sell 980: %v", err)
	}
	// Selling more than remains on the load is over-allocation.
	if _, err := sell("100"); !errors.Is(err, workflow.ErrOverAllocation) {
		t.Fatalf("oversell err = %v, want OverAllocation", err)
	}

	// loaded 1000, sold 980, waste 15: variance 5 > 0.5 tolerance.
	closed, err := workflow.CloseDay(ctx, db, logger, truck.ID, loadDate, dec(t, "15"))
	if err != nil {
		t.Fatalf("CloseDay: %v", err)
	}
	if closed.Status != models.ReconciliationStatusVariance {
		t.Fatalf("status = %s, want Variance", closed.Status)
	}
	if !closed.Variance.Equal(dec(t, "5")) {
		t.Errorf("variance = %s, want 5", closed.Variance)
	}

	// Sales against a closed day bounce.
	if _, err := sell("10"); !errors.Is(err, workflow.ErrDayClosed) {
		t.Fatalf("sale on closed day err = %v, want DayClosed", err)
	}

	// Acknowledge the variance; status stays Variance but it is marked reviewed.
	acked, err := workflow.AcknowledgeVariance(ctx, db, logger, truck.ID, loadDate, "scale drift, mechanic notified")
	if err != nil {
		t.Fatalf("AcknowledgeVariance: %v", err)
	}
	if acked.Status != models.ReconciliationStatusVariance || acked.ReviewedAt == nil {
		t.Errorf("after ack: status=%s reviewedAt=%v", acked.Status, acked.ReviewedAt)
	}

	// Reopen for correction: the day's loads must come back in play so the
	// missing sale can be posted before closing again.
	reopened, err := workflow.ReopenDay(ctx, db, logger, truck.ID, loadDate, "driver reported extra waste")
	if err != nil {
		t.Fatalf("ReopenDay: %v", err)
	}
	if reopened.Status != models.ReconciliationStatusUnderReview || reopened.ReopenCount != 1 {
		t.Errorf("after reopen: status=%s reopens=%d", reopened.Status, reopened.ReopenCount)
	}
	restored, err := models.GetTruckLoad(ctx, load.ID)
	if err != nil {
		t.Fatalf("GetTruckLoad after reopen: %v", err)
	}
	if restored.Status != models.TruckLoadStatusPartiallySold {
		t.Errorf("load status after reopen = %s, want PartiallySold", restored.Status)
	}
	if _, err := sell("10"); err != nil {
		t.Fatalf("corrective sale after reopen: %v", err)
	}
	reclosed, err := workflow.CloseDay(ctx, db, logger, truck.ID, loadDate, dec(t, "9.8"))
	if err != nil {
		t.Fatalf("second CloseDay: %v", err)
	}
	if reclosed.Status != models.ReconciliationStatusBalanced {
		t.Errorf("status after correction = %s, want Balanced", reclosed.Status)
	}
	if !reclosed.SoldWeight.Equal(dec(t, "990")) {
		t.Errorf("sold after correction = %s, want 990", reclosed.SoldWeight)
	}
}

func TestBalanceRecomputeFixesDrift(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()
	logger := config.GetLogger()

	customer := newTestCustomer(t, ctx, "Drift Restaurant")
	loadDate := models.DateOnly(time.Now().UTC())
	truck, load := newTestTruckWithLoad(t, ctx, "DMS-4004", loadDate, "300", 15)
	if _, err := workflow.OpenDay(ctx, db, logger, truck.ID, loadDate, dec(t, "300")); err != nil {
		t.Fatalf("OpenDay: %v", err)
	}
	if _, err := workflow.CreateInvoiceAndSettle(ctx, db, logger, workflow.CreateInvoiceInput{
		CustomerId:  customer.ID,
		TruckLoadId: load.ID,
		SoldWeight:  dec(t, "50"),
		UnitPrice:   dec(t, "4"),
		InvoiceDate: loadDate,
	}); err != nil {
		t.Fatalf("CreateInvoiceAndSettle: %v", err)
	}
	if _, err := workflow.AdjustDebt(ctx, db, logger, customer.ID, dec(t, "-20"), "loyalty credit"); err != nil {
		t.Fatalf("AdjustDebt: %v", err)
	}

	// Corrupt the stored balance behind the ledger's back.
	if err := db.Model(&models.Customer{}).Where("id = ?", customer.ID).
		Update("total_debt", dec(t, "999999")).Error; err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}

	corrected, err := workflow.RecomputeCustomerBalance(ctx, db, logger, customer.ID)
	if err != nil {
		t.Fatalf("RecomputeCustomerBalance: %v", err)
	}
	if !corrected {
		t.Fatalf("drift not detected")
	}
	refreshed, err := models.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if !refreshed.TotalDebt.Equal(dec(t, "180.00")) {
		t.Errorf("rebuilt balance = %s, want 180.00", refreshed.TotalDebt)
	}

	// A second run is a no-op.
	corrected, err = workflow.RecomputeCustomerBalance(ctx, db, logger, customer.ID)
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if corrected {
		t.Errorf("recompute corrected an already-correct balance")
	}
}

func TestBackdatedPaymentRefreshesAgingSnapshot(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()
	logger := config.GetLogger()

	customer := newTestCustomer(t, ctx, "Backdated Restaurant")
	loadDate := models.DateOnly(time.Now().UTC().AddDate(0, 0, -45))
	truck, load := newTestTruckWithLoad(t, ctx, "DMS-6006", loadDate, "300", 15)
	if _, err := workflow.OpenDay(ctx, db, logger, truck.ID, loadDate, dec(t, "300")); err != nil {
		t.Fatalf("OpenDay: %v", err)
	}
	if _, err := workflow.CreateInvoiceAndSettle(ctx, db, logger, workflow.CreateInvoiceInput{
		CustomerId:  customer.ID,
		TruckLoadId: load.ID,
		SoldWeight:  dec(t, "100"),
		UnitPrice:   dec(t, "2"),
		InvoiceDate: loadDate,
	}); err != nil {
		t.Fatalf("CreateInvoiceAndSettle: %v", err)
	}

	// Prime the cache: the 45-day-old invoice sits in the 31-60 bucket.
	asOf := time.Now().UTC()
	before, err := workflow.ComputeAging(ctx, customer.ID, asOf)
	if err != nil {
		t.Fatalf("ComputeAging: %v", err)
	}
	if !before.Buckets.Days31to60.Equal(dec(t, "200.00")) {
		t.Fatalf("primed 31-60 bucket = %s, want 200.00", before.Buckets.Days31to60)
	}

	// A payment dated back near the invoice must show up on the very next
	// read of the same asOf, not after the cache TTL.
	backdated := loadDate.Add(24 * time.Hour)
	if _, err := workflow.RecordPaymentAndSettle(ctx, db, logger, workflow.RecordPaymentInput{
		CustomerId:  customer.ID,
		Amount:      dec(t, "80"),
		Method:      models.PaymentMethodCash,
		PaymentDate: backdated,
	}); err != nil {
		t.Fatalf("backdated payment: %v", err)
	}

	after, err := workflow.ComputeAging(ctx, customer.ID, asOf)
	if err != nil {
		t.Fatalf("ComputeAging after payment: %v", err)
	}
	if !after.TotalOutstanding.Equal(dec(t, "120.00")) {
		t.Errorf("outstanding after backdated payment = %s, want 120.00", after.TotalOutstanding)
	}
	if !after.Buckets.Days31to60.Equal(dec(t, "120.00")) {
		t.Errorf("31-60 bucket after backdated payment = %s, want 120.00", after.Buckets.Days31to60)
	}
}

func TestConcurrentPaymentsSerialize(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()
	logger := config.GetLogger()

	customer := newTestCustomer(t, ctx, "Concurrent Restaurant")
	loadDate := models.DateOnly(time.Now().UTC())
	truck, load := newTestTruckWithLoad(t, ctx, "DMS-5005", loadDate, "2000", 80)
	if _, err := workflow.OpenDay(ctx, db, logger, truck.ID, loadDate, dec(t, "2000")); err != nil {
		t.Fatalf("OpenDay: %v", err)
	}
	if _, err := workflow.CreateInvoiceAndSettle(ctx, db, logger, workflow.CreateInvoiceInput{
		CustomerId:  customer.ID,
		TruckLoadId: load.ID,
		SoldWeight:  dec(t, "1000"),
		UnitPrice:   dec(t, "1"),
		InvoiceDate: loadDate,
	}); err != nil {
		t.Fatalf("CreateInvoiceAndSettle: %v", err)
	}

	// 10 concurrent payments of 10 against a 1000 balance: the posting lock
	// must serialize them so no decrement is lost.
	const workers = 10
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := workflow.RecordPaymentAndSettle(ctx, db, logger, workflow.RecordPaymentInput{
				CustomerId:  customer.ID,
				Amount:      dec(t, "10"),
				Method:      models.PaymentMethodCash,
				Reference:   fmt.Sprintf("conc-%d", n),
				PaymentDate: loadDate,
			})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent payment: %v", err)
		}
	}

	refreshed, err := models.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if !refreshed.TotalDebt.Equal(dec(t, "900.00")) {
		t.Errorf("balance after concurrent payments = %s, want 900.00", refreshed.TotalDebt)
	}
}
