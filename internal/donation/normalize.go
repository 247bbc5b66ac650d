// Package donation ingests donation events over a push channel with a
// polling fallback, normalizes raw platform payloads, and hands each event
// to the work queue exactly once.
package donation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"drawstream/internal/domain"
)

// Normalize converts a raw platform payload into a canonical DonationEvent.
// The platform is loose about field names; both the push and poll paths use
// the same alternates.
func Normalize(item map[string]any) (domain.DonationEvent, error) {
	id := stringField(item, "id")
	if id == "" {
		return domain.DonationEvent{}, fmt.Errorf("donation payload has no id")
	}
	amountRaw := stringField(item, "amount_main", "amount")
	if amountRaw == "" {
		amountRaw = "0"
	}
	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return domain.DonationEvent{}, fmt.Errorf("donation %s: bad amount %q: %w", id, amountRaw, err)
	}
	currency := stringField(item, "currency", "currency_code")
	if currency == "" {
		currency = "USD"
	}
	ts, err := parseTimestamp(stringField(item, "created_at", "date_created"))
	if err != nil {
		return domain.DonationEvent{}, fmt.Errorf("donation %s: %w", id, err)
	}
	return domain.DonationEvent{
		ID:        id,
		Donor:     stringField(item, "username", "name", "nickname"),
		Message:   stringField(item, "message"),
		Amount:    amount,
		Currency:  currency,
		Timestamp: ts,
	}, nil
}

func stringField(item map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := item[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			// JSON numbers decode as float64; ids and amounts may arrive numeric.
			if v == float64(int64(v)) {
				return fmt.Sprintf("%d", int64(v))
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
