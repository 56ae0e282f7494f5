// aging-recompute rebuilds every customer's stored balance from posted
// history and reports drift. Safe to run while the API is live: each customer
// is corrected under the same posting lock the API uses, and a redis lock
// keeps concurrent runs of this job from stacking up.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/aging-recompute
//
// Ctrl-C stops cleanly between customers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/workflow"
	"github.com/bsm/redislock"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedis()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	logger := config.GetLogger()

	// Best-effort job lock; the per-customer posting locks are the real guard.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "job:aging-recompute", 30*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			fmt.Fprintln(os.Stderr, "another aging-recompute run holds the job lock; exiting")
			os.Exit(1)
		}
		if err == nil {
			defer lock.Release(context.Background())
		}
	}

	started := time.Now()
	checked, corrected, err := workflow.RecomputeAllCustomers(ctx, db, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Printf("interrupted after %d customers (%d corrected)\n", checked, corrected)
			return
		}
		fmt.Fprintf(os.Stderr, "recompute failed after %d customers: %v\n", checked, err)
		os.Exit(1)
	}
	fmt.Printf("checked %d customers, corrected %d, took %s\n", checked, corrected, time.Since(started).Round(time.Millisecond))
}
