// Package inventory commits stock and serialized-unit allocation for accepted
// quotations. All storage operations it depends on are atomic conditional
// updates, which is what makes at-most-capacity allocation hold under
// concurrent acceptance.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Unit statuses for VIN-tracked inventory.
const (
	UnitAvailable = "available"
	UnitHold      = "hold"
	UnitSold      = "sold"
)

var (
	// ErrReservationNotFound is returned when releasing a quotation that has
	// no committed reservation.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrAlreadyReserved is returned when a quotation already holds a
	// committed reservation.
	ErrAlreadyReserved = errors.New("quotation already reserved")
)

// InsufficientStockError indicates the atomic compare-and-decrement on a
// non-serialized stock record failed.
type InsufficientStockError struct {
	CatalogItemID string
	Requested     int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s (requested %d)", e.CatalogItemID, e.Requested)
}

// UnitUnavailableError indicates a referenced serialized unit was no longer
// available at commit time.
type UnitUnavailableError struct {
	VIN string
}

func (e *UnitUnavailableError) Error() string {
	return fmt.Sprintf("unit %s is not available", e.VIN)
}

// ReservedLine records what was committed for one quotation line: either a
// quantity decrement or a set of flipped units, never both.
type ReservedLine struct {
	CatalogItemID string   `json:"catalog_item_id"`
	Quantity      int      `json:"quantity"`
	VINs          []string `json:"vins,omitempty"`
}

// Reservation is the durable record of everything the coordinator committed
// for a quotation. Release reverses exactly these lines.
type Reservation struct {
	QuotationID string         `json:"quotation_id"`
	Lines       []ReservedLine `json:"lines"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Store provides the atomic stock operations backing the coordinator. Every
// mutating call either fully applies or fully fails; the check and the write
// happen in the same storage-level statement, not in application code.
type Store interface {
	// DecrementStock atomically checks available_quantity >= qty and
	// decrements it. Fails with *InsufficientStockError otherwise.
	DecrementStock(ctx context.Context, catalogItemID string, qty int) error
	// RestoreStock adds qty back to the item's available quantity.
	RestoreStock(ctx context.Context, catalogItemID string, qty int) error
	// MarkUnitsSold flips every listed unit from available to sold for the
	// quotation, all-or-nothing. Fails with *UnitUnavailableError when any
	// unit is no longer available, leaving none of them flipped.
	MarkUnitsSold(ctx context.Context, quotationID string, vins []string) error
	// ReleaseUnits flips the listed units back to available.
	ReleaseUnits(ctx context.Context, vins []string) error

	SaveReservation(ctx context.Context, res *Reservation) error
	// GetReservation returns ErrReservationNotFound when none exists.
	GetReservation(ctx context.Context, quotationID string) (*Reservation, error)
	DeleteReservation(ctx context.Context, quotationID string) error
}
