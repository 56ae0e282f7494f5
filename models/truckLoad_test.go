package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestWeightPerCageInBand(t *testing.T) {
	min := decimal.NewFromInt(10)
	max := decimal.NewFromInt(35)

	cases := []struct {
		gross  string
		cages  int
		inBand bool
	}{
		{"2000", 100, true},  // 20 kg/cage
		{"1000", 100, true},  // 10 kg/cage, lower bound inclusive
		{"3500", 100, true},  // 35 kg/cage, upper bound inclusive
		{"999", 100, false},  // 9.99 kg/cage
		{"3501", 100, false}, // 35.01 kg/cage
		{"500", 0, false},    // no cages is never plausible
		{"500", -3, false},
	}
	for _, tc := range cases {
		gross, _ := decimal.NewFromString(tc.gross)
		if got := WeightPerCageInBand(gross, tc.cages, min, max); got != tc.inBand {
			t.Errorf("WeightPerCageInBand(%s, %d) = %v, want %v", tc.gross, tc.cages, got, tc.inBand)
		}
	}
}

func TestRemainingWeight(t *testing.T) {
	gross, _ := decimal.NewFromString("1200.5")
	sold, _ := decimal.NewFromString("450.25")
	load := TruckLoad{GrossWeight: gross, SoldWeight: sold}

	want, _ := decimal.NewFromString("750.25")
	if got := load.RemainingWeight(); !got.Equal(want) {
		t.Errorf("RemainingWeight = %s, want %s", got, want)
	}
}

func TestDateOnly(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	stamp := time.Date(2025, 6, 1, 23, 45, 0, 0, loc)

	got := DateOnly(stamp)
	want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DateOnly = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("DateOnly location = %v, want UTC", got.Location())
	}
}
