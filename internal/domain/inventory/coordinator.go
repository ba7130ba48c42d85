package inventory

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/dealdesk/internal/domain/pricing"
)

// Coordinator performs all-or-nothing stock commitment for a quotation.
type Coordinator struct {
	store Store
	lg    *zap.Logger
	now   func() time.Time
}

// NewCoordinator creates a Coordinator over the given store.
func NewCoordinator(store Store, lg *zap.Logger) *Coordinator {
	return &Coordinator{store: store, lg: lg, now: time.Now}
}

// Reserve commits stock for every line of the quotation. Serialized lines flip
// their referenced units to sold; non-serialized lines decrement the item's
// available quantity. If any line fails, every line already committed within
// this call is reversed before the error is returned, so a failed reservation
// leaves no stock mutated.
func (c *Coordinator) Reserve(ctx context.Context, quotationID string, lines []pricing.LineItem) (*Reservation, error) {
	if _, err := c.store.GetReservation(ctx, quotationID); err == nil {
		return nil, ErrAlreadyReserved
	} else if !errors.Is(err, ErrReservationNotFound) {
		return nil, errors.Wrap(err, "check existing reservation")
	}

	res := &Reservation{
		QuotationID: quotationID,
		CreatedAt:   c.now(),
	}

	for _, line := range lines {
		var err error
		if len(line.SerializedUnits) > 0 {
			err = c.store.MarkUnitsSold(ctx, quotationID, line.SerializedUnits)
		} else {
			err = c.store.DecrementStock(ctx, line.CatalogItemID, line.Quantity)
		}
		if err != nil {
			c.rollback(ctx, res.Lines)
			return nil, err
		}

		res.Lines = append(res.Lines, ReservedLine{
			CatalogItemID: line.CatalogItemID,
			Quantity:      line.Quantity,
			VINs:          line.SerializedUnits,
		})
	}

	if err := c.store.SaveReservation(ctx, res); err != nil {
		c.rollback(ctx, res.Lines)
		return nil, errors.Wrap(err, "save reservation")
	}

	return res, nil
}

// Release reverses a previously committed reservation. It reads back the
// persisted record of what this coordinator reserved rather than recomputing
// from the quotation, then restores exactly those quantities and units.
func (c *Coordinator) Release(ctx context.Context, quotationID string) error {
	res, err := c.store.GetReservation(ctx, quotationID)
	if err != nil {
		return err
	}

	c.rollback(ctx, res.Lines)

	if err := c.store.DeleteReservation(ctx, quotationID); err != nil {
		return errors.Wrap(err, "delete reservation")
	}
	return nil
}

// rollback reverses committed lines in reverse order. Failures are logged and
// skipped: a partially failed rollback must still attempt the remaining lines.
func (c *Coordinator) rollback(ctx context.Context, lines []ReservedLine) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		var err error
		if len(line.VINs) > 0 {
			err = c.store.ReleaseUnits(ctx, line.VINs)
		} else {
			err = c.store.RestoreStock(ctx, line.CatalogItemID, line.Quantity)
		}
		if err != nil {
			c.lg.Error("reservation rollback step failed",
				zap.String("catalog_item_id", line.CatalogItemID),
				zap.Strings("vins", line.VINs),
				zap.Error(err),
			)
		}
	}
}
