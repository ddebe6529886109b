/*
ledger.go - Append-only delivery ledger

PURPOSE:
  The Ledger is the only way delivery records enter the system. Every
  report reads from it; nothing ever edits or removes a row.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. STAMPED: Every new record carries the submitting session's username.
  3. CHECKED AT WRITE: outlet is non-blank and sold <= delivered.
     Rows from older schema revisions are not re-validated on read;
     reports flag them instead (DeliveryRecord.Oversold).

EXAMPLE:
  l := ledger.New(store)
  rec, err := l.RecordDelivery(ctx, session, ledger.NewDelivery{
      Date: ledger.NewDate(2024, time.May, 1), OutletName: "Toko A",
      QuantityDelivered: 100, QuantitySold: 40, UnitPrice: 5000,
  })
  // rec.Revenue() == 200000
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Ledger is the Ledger Store service.
type Ledger struct {
	store RecordStore
}

func New(store RecordStore) *Ledger {
	return &Ledger{store: store}
}

// RecordDelivery validates and appends a delivery owned by the caller.
func (l *Ledger) RecordDelivery(ctx context.Context, s Session, d NewDelivery) (DeliveryRecord, error) {
	if !s.Authenticated() {
		return DeliveryRecord{}, ErrUnauthenticated
	}
	if err := ValidateDelivery(d); err != nil {
		return DeliveryRecord{}, err
	}

	rec, err := l.store.AppendRecord(ctx, DeliveryRecord{
		Date:              d.Date,
		OutletName:        d.OutletName,
		QuantityDelivered: d.QuantityDelivered,
		QuantitySold:      d.QuantitySold,
		UnitPrice:         d.UnitPrice,
		OwnerUsername:     s.Username,
	})
	if err != nil {
		return DeliveryRecord{}, fmt.Errorf("record delivery: %w", err)
	}
	return rec, nil
}

// QueryRecords returns the records matching filter, ordered by date then ID.
// It applies no visibility rule; report.Engine scopes results per caller.
func (l *Ledger) QueryRecords(ctx context.Context, filter RecordFilter) ([]DeliveryRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	recs, err := l.store.QueryRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return recs, nil
}

// ValidateDelivery applies the submission-time rules.
func ValidateDelivery(d NewDelivery) error {
	if d.Date.IsZero() {
		return &ValidationError{Field: "date", Err: ErrInvalidInput}
	}
	if strings.TrimSpace(d.OutletName) == "" {
		return ErrEmptyOutlet
	}
	if d.QuantityDelivered < 0 {
		return &ValidationError{Field: "quantity_delivered", Value: d.QuantityDelivered, Err: ErrInvalidInput}
	}
	if d.QuantitySold < 0 {
		return &ValidationError{Field: "quantity_sold", Value: d.QuantitySold, Err: ErrInvalidInput}
	}
	if d.UnitPrice < 0 {
		return &ValidationError{Field: "unit_price", Value: d.UnitPrice, Err: ErrInvalidInput}
	}
	if d.QuantitySold > d.QuantityDelivered {
		return &OversoldError{Delivered: d.QuantityDelivered, Sold: d.QuantitySold}
	}
	return nil
}
