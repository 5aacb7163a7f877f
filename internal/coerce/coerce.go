// Package coerce maps raw source text into typed silver values. Every
// function is total: unparseable input degrades to a sentinel default and a
// coerced flag instead of an error, so downstream layers never see malformed
// data.
package coerce

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hyperengineering/strata/internal/types"
)

// EpochDate is the sentinel substituted for unparseable timestamps.
var EpochDate = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// zeroPrice is the sentinel substituted for unparseable prices.
var zeroPrice = decimal.New(0, -2)

// cleanLayouts parse without marking the record coerced. Fractional seconds
// are accepted on the time-bearing forms.
var cleanLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// lenientLayouts parse non-zero-padded variants; a hit still marks the
// record coerced.
var lenientLayouts = []string{
	"2006-1-2 15:4:5",
	"2006-1-2",
}

// Date parses a timestamp down to its calendar date. The date is taken in
// the timestamp's own offset, never converted. Returns the epoch sentinel
// and true when no layout matches.
func Date(value string) (time.Time, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return EpochDate, true
	}
	for _, layout := range cleanLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return dateOf(parsed), false
		}
	}
	for _, layout := range lenientLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return dateOf(parsed), true
		}
	}
	return EpochDate, true
}

func dateOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Price parses a monetary value to two decimal places, half-up. Negative
// values are valid. Returns 0.00 and true when the text is empty or not a
// number.
func Price(value string) (decimal.Decimal, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return zeroPrice, true
	}
	parsed, err := decimal.NewFromString(text)
	if err != nil {
		return zeroPrice, true
	}
	return parsed.Round(2), false
}

// UserID parses a non-negative integer identifier. Fractional input
// truncates toward zero and marks the record coerced; negative, huge, or
// unparseable input yields 0 and marks it coerced.
func UserID(value string) (int64, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return 0, true
	}
	parsed, err := decimal.NewFromString(text)
	if err != nil {
		return 0, true
	}
	if parsed.IsNegative() {
		return 0, true
	}
	truncated := parsed.Truncate(0)
	if !truncated.BigInt().IsInt64() {
		return 0, true
	}
	return truncated.IntPart(), !parsed.Equal(truncated)
}

// Record coerces all three fields of a raw row into a typed record. Quality
// is OK only when every field parsed cleanly.
func Record(raw types.RawRecord) types.TypedRecord {
	date, dateCoerced := Date(raw.Timestamp)
	price, priceCoerced := Price(raw.Price)
	userID, userCoerced := UserID(raw.UserID)

	quality := types.QualityOK
	if dateCoerced || priceCoerced || userCoerced {
		quality = types.QualityCoerced
	}
	return types.TypedRecord{
		RawID:      raw.ID,
		SourceName: raw.SourceName,
		EventDate:  date,
		Price:      price,
		UserID:     userID,
		Quality:    quality,
	}
}
