// Package customer is the directory read model whose contact fields are
// snapshotted into quotations and invoices.
package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer holds the contact and billing fields copied into documents.
type Customer struct {
	ID      string
	Name    string
	Email   string
	Phone   string
	Billing string
}

// Directory defines read operations over the customer directory.
type Directory interface {
	GetByID(ctx context.Context, id string) (*Customer, error)
}
