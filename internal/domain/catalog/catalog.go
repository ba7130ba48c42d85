// Package catalog is the read model for priced items referenced by quotation
// lines. Prices are snapshotted into the quotation at creation time and never
// re-read afterwards.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/dealdesk/internal/domain/money"
)

// ErrNotFound is returned when a requested catalog item does not exist.
var ErrNotFound = errors.New("catalog item not found")

// UnitMismatchError indicates a serialized line whose quantity does not match
// its referenced unit count, or a unit belonging to a different item.
type UnitMismatchError struct {
	CatalogItemID string
	Reason        string
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("serialized units invalid for item %s: %s", e.CatalogItemID, e.Reason)
}

// Item is a sellable catalog entry. Serialized items are tracked per unit
// (one VIN per physical unit); non-serialized items carry a plain quantity.
type Item struct {
	ID                string
	Name              string
	UnitPrice         money.Money
	Serialized        bool
	AvailableQuantity int
}

// Repository defines read operations over the catalog.
type Repository interface {
	// GetByIDs loads the listed items. Any missing id fails the whole call
	// with ErrNotFound.
	GetByIDs(ctx context.Context, ids []string) ([]Item, error)
	// UnitStatuses returns vin -> status for the given units of an item.
	// Unknown VINs are absent from the result.
	UnitStatuses(ctx context.Context, catalogItemID string, vins []string) (map[string]string, error)
}
