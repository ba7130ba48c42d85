// Package quotation owns the quotation document and its lifecycle: the closed
// status set, the transition table, optimistic concurrency via the version
// token, and the side effects of acceptance and conversion.
package quotation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/dealdesk/internal/domain/pricing"
)

// Status is the sole authority for which actions are legal on a quotation.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusViewed    Status = "viewed"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusConverted Status = "converted"
)

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusConverted:
		return true
	}
	return false
}

// Action is a requested lifecycle transition.
type Action string

const (
	ActionSend    Action = "send"
	ActionView    Action = "view"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionExpire  Action = "expire"
	ActionConvert Action = "convert"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
)

// transitions is the complete table of legal (status, action) pairs and the
// status each lands in. Anything absent is an InvalidTransitionError.
var transitions = map[Status]map[Action]Status{
	StatusDraft: {
		ActionSend:   StatusSent,
		ActionEdit:   StatusDraft,
		ActionDelete: StatusDraft,
		ActionExpire: StatusExpired,
	},
	StatusSent: {
		ActionView:   StatusViewed,
		ActionAccept: StatusAccepted,
		ActionReject: StatusRejected,
		ActionExpire: StatusExpired,
	},
	StatusViewed: {
		ActionView:   StatusViewed, // idempotent no-op
		ActionAccept: StatusAccepted,
		ActionReject: StatusRejected,
		ActionExpire: StatusExpired,
	},
	StatusAccepted: {
		ActionConvert: StatusConverted,
		ActionExpire:  StatusExpired,
	},
}

// Next returns the status reached by applying action in from. Pairs outside
// the table fail with *InvalidTransitionError.
func Next(from Status, action Action) (Status, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return "", &InvalidTransitionError{From: from, Action: action}
}

// Sentinel errors of the lifecycle.
var (
	ErrEmptyLineItems = errors.New("at least one line item is required")
	ErrStaleVersion   = errors.New("stale version, re-read and retry")
	ErrNotFound       = errors.New("quotation not found")
	ErrPastValidUntil = errors.New("quotation validity period has passed")
	ErrNotYetExpired  = errors.New("quotation validity period has not passed")
)

// InvalidTransitionError indicates the requested action is not legal for the
// quotation's current status.
type InvalidTransitionError struct {
	From   Status
	Action Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %q is not allowed in status %q", e.Action, e.From)
}

// CustomerSnapshot holds the directory fields copied into the document at
// creation time.
type CustomerSnapshot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Billing string `json:"billing"`
}

// Quotation is the priced proposal document. It is owned exclusively by the
// lifecycle service once created; every mutating transition bumps Version.
type Quotation struct {
	ID           string
	Customer     CustomerSnapshot
	Currency     string
	ExchangeRate decimal.Decimal // base->currency, locked at creation
	Status       Status
	Discount     pricing.DiscountSpec
	VATRate      *decimal.Decimal
	LineItems    []pricing.LineItem
	Expenses     []pricing.AdditionalExpense
	Breakdown    pricing.Breakdown
	ValidUntil   time.Time
	CreatedBy    string
	Version      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListFilter narrows List results.
type ListFilter struct {
	Status     Status // empty matches all
	CustomerID string // empty matches all
	Limit      int
	Offset     int
}

// Repository defines persistence for quotations. Update and Delete apply only
// when the stored version equals expectedVersion and fail with
// ErrStaleVersion otherwise; that conditional write is what detects
// read-modify-write races.
type Repository interface {
	Create(ctx context.Context, q *Quotation) error
	Get(ctx context.Context, id string) (*Quotation, error)
	List(ctx context.Context, filter ListFilter) ([]Quotation, error)
	// Update persists q (whose Version is already bumped) when the stored
	// row still carries expectedVersion.
	Update(ctx context.Context, q *Quotation, expectedVersion int) error
	Delete(ctx context.Context, id string, expectedVersion int) error
	// ListExpirable returns non-terminal quotations whose validity lapsed
	// before now, for the background expiry sweep.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]Quotation, error)
}
