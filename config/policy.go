package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Policy knobs for the posting/reconciliation engines. The source behaviour
// around these values is configurable per deployment; nothing below is
// hard-coded into the workflows.
//
// Env overrides:
// - LEDGER_ALLOW_CREDIT_BALANCE (default false): overpayments create customer credit
//   instead of being rejected.
// - RECON_TOLERANCE_KG (default 0.5): |loaded - sold - waste| within this closes Balanced.
// - LOAD_MIN_KG_PER_CAGE / LOAD_MAX_KG_PER_CAGE (default 10 / 35): plausibility band,
//   out-of-band loads are created flagged invalid.
// - AGING_BUCKET_DAYS (default "30,60,90"): upper bounds of the first three buckets.
// - RISK_DEFAULT_CREDIT_LIMIT (default 1000000): used when a customer has no limit set.
// - READ_RETRY_ATTEMPTS / READ_RETRY_DELAY_MS (default 3 / 200): idempotent reads only.

type LedgerPolicy struct {
	AllowCreditBalance bool
}

type ReconciliationPolicy struct {
	ToleranceKg  decimal.Decimal
	MinKgPerCage decimal.Decimal
	MaxKgPerCage decimal.Decimal
}

type AgingPolicy struct {
	// BucketDays holds the inclusive upper bound, in days, of the first three
	// aging buckets. The fourth bucket is open-ended.
	BucketDays [3]int
}

type RiskPolicy struct {
	DefaultCreditLimit decimal.Decimal

	// Score weights. Score = OverdueWeight*fractionOver60d
	// + ExposureWeight*min(debt/creditLimit, 1) + StaleWeight*staleness,
	// where staleness saturates at StalePaymentDays since the last payment.
	OverdueWeight    decimal.Decimal
	ExposureWeight   decimal.Decimal
	StaleWeight      decimal.Decimal
	StalePaymentDays int

	// Tier cut-offs on the 0..100 score.
	MediumScore   decimal.Decimal
	HighScore     decimal.Decimal
	CriticalScore decimal.Decimal
}

type RetryPolicy struct {
	ReadAttempts int
	ReadDelay    time.Duration
}

func GetLedgerPolicy() LedgerPolicy {
	return LedgerPolicy{
		AllowCreditBalance: boolFromEnv("LEDGER_ALLOW_CREDIT_BALANCE", false),
	}
}

func GetReconciliationPolicy() ReconciliationPolicy {
	return ReconciliationPolicy{
		ToleranceKg:  decimalFromEnv("RECON_TOLERANCE_KG", "0.5"),
		MinKgPerCage: decimalFromEnv("LOAD_MIN_KG_PER_CAGE", "10"),
		MaxKgPerCage: decimalFromEnv("LOAD_MAX_KG_PER_CAGE", "35"),
	}
}

func GetAgingPolicy() AgingPolicy {
	p := AgingPolicy{BucketDays: [3]int{30, 60, 90}}
	raw := strings.TrimSpace(os.Getenv("AGING_BUCKET_DAYS"))
	if raw == "" {
		return p
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return p
	}
	var days [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			return p
		}
		days[i] = n
	}
	if days[0] < days[1] && days[1] < days[2] {
		p.BucketDays = days
	}
	return p
}

func GetRiskPolicy() RiskPolicy {
	return RiskPolicy{
		DefaultCreditLimit: decimalFromEnv("RISK_DEFAULT_CREDIT_LIMIT", "1000000"),
		OverdueWeight:      decimalFromEnv("RISK_OVERDUE_WEIGHT", "50"),
		ExposureWeight:     decimalFromEnv("RISK_EXPOSURE_WEIGHT", "30"),
		StaleWeight:        decimalFromEnv("RISK_STALE_WEIGHT", "20"),
		StalePaymentDays:   intPolicyFromEnv("RISK_STALE_PAYMENT_DAYS", 90),
		MediumScore:        decimalFromEnv("RISK_MEDIUM_SCORE", "25"),
		HighScore:          decimalFromEnv("RISK_HIGH_SCORE", "50"),
		CriticalScore:      decimalFromEnv("RISK_CRITICAL_SCORE", "75"),
	}
}

func GetRetryPolicy() RetryPolicy {
	return RetryPolicy{
		ReadAttempts: intPolicyFromEnv("READ_RETRY_ATTEMPTS", 3),
		ReadDelay:    time.Duration(intPolicyFromEnv("READ_RETRY_DELAY_MS", 200)) * time.Millisecond,
	}
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes") || strings.EqualFold(v, "on")
}

func decimalFromEnv(key string, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}

func intPolicyFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
