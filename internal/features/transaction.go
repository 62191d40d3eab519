// Package features turns raw card transactions into the fixed-order numeric
// vectors both fraud classifiers were trained on.
//
// Two derivation modes exist. Derive handles one incoming transaction at
// inference time, where no card history is known and the behavioural
// features fall back to neutral values. DeriveBatch handles a full training
// dataset and computes per-card gaps, distances and amount aggregates.
package features

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrParse reports a transaction time that matches none of the accepted layouts.
	ErrParse = errors.New("parse error")
	// ErrSchema reports feature columns that are missing, unknown or out of order.
	ErrSchema = errors.New("schema error")
	// ErrFeature reports a required numeric input that is missing or not finite.
	ErrFeature = errors.New("feature error")
)

// Transaction is one raw card transaction as received from the caller.
// Nullable numeric inputs are pointers; nil means the field was not supplied.
type Transaction struct {
	Time          string   `json:"trans_date_trans_time"`
	CardNumber    string   `json:"cc_num"`
	Type          string   `json:"transaction_type"`
	Amount        *float64 `json:"amt"`
	City          string   `json:"city"`
	Lat           *float64 `json:"lat"`
	Long          *float64 `json:"long"`
	TransactionID string   `json:"trans_num"`
	MerchLat      *float64 `json:"merch_lat"`
	MerchLong     *float64 `json:"merch_long"`
	// Index is the row index column carried by the training data. Zero when absent.
	Index *float64 `json:"index,omitempty"`
}

// requestLayouts are accepted for live requests (HTML datetime-local first).
var requestLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// batchLayouts are accepted for training CSV rows, which are day-first.
var batchLayouts = []string{
	"02-01-2006 15:04",
	"02-01-2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime parses a request transaction time.
func ParseTime(s string) (time.Time, error) {
	return parseWith(s, requestLayouts)
}

// ParseBatchTime parses a training dataset transaction time.
func ParseBatchTime(s string) (time.Time, error) {
	return parseWith(s, batchLayouts)
}

func parseWith(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: transaction time is empty", ErrParse)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: transaction time %q does not match %s", ErrParse, s, layouts[0])
}

// Float returns a pointer to v. It keeps literal transactions in tests and
// decoders short.
func Float(v float64) *float64 {
	return &v
}

func required(name string, v *float64) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s is missing", ErrFeature, name)
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, fmt.Errorf("%w: %s is not a finite number", ErrFeature, name)
	}
	return *v, nil
}

func categorical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return unknownCategory
	}
	return v
}

// dayOfWeek numbers weekdays from Monday = 0, the convention the models were trained with.
func dayOfWeek(t time.Time) float64 {
	return float64((int(t.Weekday()) + 6) % 7)
}
