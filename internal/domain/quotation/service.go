package quotation

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/dealdesk/internal/domain/auth"
	"github.com/xenking/dealdesk/internal/domain/catalog"
	"github.com/xenking/dealdesk/internal/domain/currency"
	"github.com/xenking/dealdesk/internal/domain/customer"
	"github.com/xenking/dealdesk/internal/domain/inventory"
	"github.com/xenking/dealdesk/internal/domain/pricing"
)

// RateSource locks and serves exchange rates for document pricing.
// *currency.Converter satisfies it.
type RateSource interface {
	Rate(ctx context.Context, target string) (decimal.Decimal, error)
	LockedTo(quote string, locked decimal.Decimal) currency.ConvertFunc
}

// Reserver commits and reverses inventory for a quotation.
// *inventory.Coordinator satisfies it.
type Reserver interface {
	Reserve(ctx context.Context, quotationID string, lines []pricing.LineItem) (*inventory.Reservation, error)
	Release(ctx context.Context, quotationID string) error
}

// DocumentIssuer spawns the downstream financial documents (invoice, receipt)
// for a quotation being converted. It must consume the quotation's breakdown
// verbatim, never reprice.
type DocumentIssuer interface {
	Issue(ctx context.Context, q *Quotation) (invoiceNumber string, err error)
}

// LineInput references a catalog item when creating or editing a quotation.
// The unit price is snapshotted from the catalog, not supplied by the caller.
type LineInput struct {
	CatalogItemID   string
	Quantity        int
	SerializedUnits []string
}

// CreateRequest holds the input for creating a quotation.
type CreateRequest struct {
	CustomerID string
	Currency   string
	Lines      []LineInput
	Discount   pricing.DiscountSpec
	VATRate    *decimal.Decimal
	Expenses   []pricing.AdditionalExpense
	ValidUntil time.Time // zero value means now + the configured validity period
}

// EditRequest holds the replacement inputs for an edit-while-draft.
type EditRequest struct {
	Lines    []LineInput
	Discount pricing.DiscountSpec
	VATRate  *decimal.Decimal
	Expenses []pricing.AdditionalExpense
}

// Service is the quotation lifecycle: it owns every mutation of the document
// and orchestrates pricing, inventory commitment, and document issuance.
type Service struct {
	quotes    Repository
	items     catalog.Repository
	customers customer.Directory
	rates     RateSource
	stock     Reserver
	documents DocumentIssuer
	gate      auth.PermissionGate
	lg        *zap.Logger

	validity time.Duration
	now      func() time.Time
}

// NewService creates the lifecycle service. validity is the default window
// between creation and validUntil when the caller does not set one.
func NewService(
	quotes Repository,
	items catalog.Repository,
	customers customer.Directory,
	rates RateSource,
	stock Reserver,
	documents DocumentIssuer,
	gate auth.PermissionGate,
	lg *zap.Logger,
	validity time.Duration,
) *Service {
	if validity <= 0 {
		validity = 14 * 24 * time.Hour
	}
	return &Service{
		quotes:    quotes,
		items:     items,
		customers: customers,
		rates:     rates,
		stock:     stock,
		documents: documents,
		gate:      gate,
		lg:        lg,
		validity:  validity,
		now:       time.Now,
	}
}

// authorize short-circuits with ErrForbidden before any side effect runs.
func (s *Service) authorize(ctx context.Context, actor auth.Actor, action string) error {
	if !s.gate.Authorize(ctx, actor, action, "quotation") {
		return errors.Wrapf(auth.ErrForbidden, "%s quotation", action)
	}
	return nil
}

// Create validates the line set, snapshots customer and catalog data, locks
// the exchange rate, prices the document, and persists it as a draft.
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*Quotation, error) {
	if err := s.authorize(ctx, actor, "create"); err != nil {
		return nil, err
	}
	if len(req.Lines) == 0 {
		return nil, ErrEmptyLineItems
	}

	cust, err := s.customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup customer")
	}

	lines, err := s.snapshotLines(ctx, req.Lines, nil)
	if err != nil {
		return nil, err
	}

	locked, err := s.rates.Rate(ctx, req.Currency)
	if err != nil {
		return nil, errors.Wrap(err, "lock exchange rate")
	}

	breakdown, err := pricing.Price(ctx, lines, req.Discount, req.VATRate, req.Expenses,
		req.Currency, s.rates.LockedTo(req.Currency, locked))
	if err != nil {
		return nil, err
	}

	now := s.now()
	validUntil := req.ValidUntil
	if validUntil.IsZero() {
		validUntil = now.Add(s.validity)
	}

	q := &Quotation{
		ID: uuid.New().String(),
		Customer: CustomerSnapshot{
			ID:      cust.ID,
			Name:    cust.Name,
			Email:   cust.Email,
			Phone:   cust.Phone,
			Billing: cust.Billing,
		},
		Currency:     req.Currency,
		ExchangeRate: locked,
		Status:       StatusDraft,
		Discount:     req.Discount,
		VATRate:      req.VATRate,
		LineItems:    lines,
		Expenses:     req.Expenses,
		Breakdown:    breakdown,
		ValidUntil:   validUntil,
		CreatedBy:    actor.ID,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.quotes.Create(ctx, q); err != nil {
		return nil, errors.Wrap(err, "create quotation")
	}
	return q, nil
}

// Edit replaces the priced inputs of a draft and reprices it with the
// document's locked rate. Prices already snapshotted on the document are kept
// for lines that survive the edit; only new items are read from the catalog.
func (s *Service) Edit(ctx context.Context, actor auth.Actor, id string, version int, req EditRequest) (*Quotation, error) {
	if err := s.authorize(ctx, actor, "edit"); err != nil {
		return nil, err
	}

	q, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Next(q.Status, ActionEdit); err != nil {
		return nil, err
	}
	if len(req.Lines) == 0 {
		return nil, ErrEmptyLineItems
	}

	existing := make(map[string]pricing.LineItem, len(q.LineItems))
	for _, line := range q.LineItems {
		existing[line.CatalogItemID] = line
	}

	lines, err := s.snapshotLines(ctx, req.Lines, existing)
	if err != nil {
		return nil, err
	}

	breakdown, err := pricing.Price(ctx, lines, req.Discount, req.VATRate, req.Expenses,
		q.Currency, s.rates.LockedTo(q.Currency, q.ExchangeRate))
	if err != nil {
		return nil, err
	}

	q.LineItems = lines
	q.Discount = req.Discount
	q.VATRate = req.VATRate
	q.Expenses = req.Expenses
	q.Breakdown = breakdown
	q.Version++
	q.UpdatedAt = s.now()

	if err := s.quotes.Update(ctx, q, version); err != nil {
		return nil, err
	}
	return q, nil
}

// Send moves a draft with at least one line item to sent.
func (s *Service) Send(ctx context.Context, actor auth.Actor, id string, version int) (*Quotation, error) {
	return s.transition(ctx, actor, id, version, ActionSend)
}

// View marks a sent quotation as viewed. Viewing an already viewed quotation
// is a no-op, not an error.
func (s *Service) View(ctx context.Context, actor auth.Actor, id string, version int) (*Quotation, error) {
	return s.transition(ctx, actor, id, version, ActionView)
}

// Accept moves a sent or viewed quotation to accepted, provided its validity
// period has not passed.
func (s *Service) Accept(ctx context.Context, actor auth.Actor, id string, version int) (*Quotation, error) {
	return s.transition(ctx, actor, id, version, ActionAccept)
}

// Reject moves a sent or viewed quotation to rejected.
func (s *Service) Reject(ctx context.Context, actor auth.Actor, id string, version int) (*Quotation, error) {
	return s.transition(ctx, actor, id, version, ActionReject)
}

func (s *Service) transition(ctx context.Context, actor auth.Actor, id string, version int, action Action) (*Quotation, error) {
	if err := s.authorize(ctx, actor, string(action)); err != nil {
		return nil, err
	}

	q, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := Next(q.Status, action)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionSend:
		if len(q.LineItems) == 0 {
			return nil, ErrEmptyLineItems
		}
	case ActionView:
		if q.Status == StatusViewed {
			return q, nil
		}
	case ActionAccept:
		if s.now().After(q.ValidUntil) {
			return nil, ErrPastValidUntil
		}
	}

	q.Status = next
	q.Version++
	q.UpdatedAt = s.now()

	if err := s.quotes.Update(ctx, q, version); err != nil {
		return nil, err
	}
	return q, nil
}

// Expire is the system-triggered transition for quotations whose validity
// lapsed. It is not gated: no user initiates it.
func (s *Service) Expire(ctx context.Context, id string) (*Quotation, error) {
	q, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Next(q.Status, ActionExpire)
	if err != nil {
		return nil, err
	}
	if !s.now().After(q.ValidUntil) {
		return nil, ErrNotYetExpired
	}

	q.Status = next
	q.Version++
	q.UpdatedAt = s.now()

	if err := s.quotes.Update(ctx, q, q.Version-1); err != nil {
		return nil, err
	}
	return q, nil
}

// ExpireOverdue sweeps non-terminal quotations whose validity lapsed and
// expires them. StaleVersion losses are skipped; the next sweep retries.
func (s *Service) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	overdue, err := s.quotes.ListExpirable(ctx, s.now(), limit)
	if err != nil {
		return 0, errors.Wrap(err, "list expirable")
	}

	expired := 0
	for i := range overdue {
		if _, err := s.Expire(ctx, overdue[i].ID); err != nil {
			if errors.Is(err, ErrStaleVersion) {
				continue
			}
			return expired, errors.Wrapf(err, "expire %s", overdue[i].ID)
		}
		expired++
	}
	return expired, nil
}

// Convert commits inventory for an accepted quotation, issues the invoice and
// receipt, and marks it converted. The reservation is all-or-nothing; any
// later failure within this call releases it before returning.
func (s *Service) Convert(ctx context.Context, actor auth.Actor, id string, version int) (*Quotation, error) {
	if err := s.authorize(ctx, actor, string(ActionConvert)); err != nil {
		return nil, err
	}

	q, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Next(q.Status, ActionConvert)
	if err != nil {
		return nil, err
	}
	// Check before reserving: committing stock on a stale read would have to
	// be unwound immediately.
	if q.Version != version {
		return nil, ErrStaleVersion
	}

	if _, err := s.stock.Reserve(ctx, q.ID, q.LineItems); err != nil {
		return nil, err
	}

	number, err := s.documents.Issue(ctx, q)
	if err != nil {
		s.releaseAfterFailure(ctx, q.ID, "issue documents")
		return nil, errors.Wrap(err, "issue documents")
	}

	q.Status = next
	q.Version++
	q.UpdatedAt = s.now()

	if err := s.quotes.Update(ctx, q, version); err != nil {
		// A concurrent reject or expire won the version race after the
		// invoice was written; undo the stock commitment and surface the
		// conflict. The orphaned invoice needs manual voiding.
		s.releaseAfterFailure(ctx, q.ID, "commit converted status")
		s.lg.Error("conversion lost version race after invoice issuance",
			zap.String("quotation_id", q.ID),
			zap.String("invoice_number", number),
			zap.Error(err),
		)
		return nil, err
	}

	s.lg.Info("quotation converted",
		zap.String("quotation_id", q.ID),
		zap.String("invoice_number", number),
	)
	return q, nil
}

func (s *Service) releaseAfterFailure(ctx context.Context, quotationID, stage string) {
	if err := s.stock.Release(ctx, quotationID); err != nil {
		s.lg.Error("failed to release reservation after "+stage,
			zap.String("quotation_id", quotationID),
			zap.Error(err),
		)
	}
}

// Delete removes a draft. Quotations past draft are never deleted, only
// transitioned.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id string, version int) error {
	if err := s.authorize(ctx, actor, string(ActionDelete)); err != nil {
		return err
	}

	q, err := s.quotes.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := Next(q.Status, ActionDelete); err != nil {
		return err
	}

	return s.quotes.Delete(ctx, id, version)
}

// Duplicate creates a fresh draft from an existing quotation. The copy is a
// new document: it gets its own id, version 1, a newly locked exchange rate,
// a fresh validity window, and a breakdown repriced at that new rate.
func (s *Service) Duplicate(ctx context.Context, actor auth.Actor, id string) (*Quotation, error) {
	if err := s.authorize(ctx, actor, "create"); err != nil {
		return nil, err
	}

	src, err := s.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	locked, err := s.rates.Rate(ctx, src.Currency)
	if err != nil {
		return nil, errors.Wrap(err, "lock exchange rate")
	}

	lines := make([]pricing.LineItem, len(src.LineItems))
	copy(lines, src.LineItems)

	breakdown, err := pricing.Price(ctx, lines, src.Discount, src.VATRate, src.Expenses,
		src.Currency, s.rates.LockedTo(src.Currency, locked))
	if err != nil {
		return nil, err
	}

	now := s.now()
	dup := &Quotation{
		ID:           uuid.New().String(),
		Customer:     src.Customer,
		Currency:     src.Currency,
		ExchangeRate: locked,
		Status:       StatusDraft,
		Discount:     src.Discount,
		VATRate:      src.VATRate,
		LineItems:    lines,
		Expenses:     src.Expenses,
		Breakdown:    breakdown,
		ValidUntil:   now.Add(s.validity),
		CreatedBy:    actor.ID,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.quotes.Create(ctx, dup); err != nil {
		return nil, errors.Wrap(err, "create duplicate")
	}
	return dup, nil
}

// Get returns a quotation by id.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*Quotation, error) {
	if err := s.authorize(ctx, actor, "read"); err != nil {
		return nil, err
	}
	return s.quotes.Get(ctx, id)
}

// List returns quotations matching the filter.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter ListFilter) ([]Quotation, error) {
	if err := s.authorize(ctx, actor, "read"); err != nil {
		return nil, err
	}
	return s.quotes.List(ctx, filter)
}

// snapshotLines resolves line inputs against the catalog, snapshotting the
// unit price and name. When reuse is non-nil (edit), lines for items already
// on the document keep their original snapshotted price.
func (s *Service) snapshotLines(ctx context.Context, inputs []LineInput, reuse map[string]pricing.LineItem) ([]pricing.LineItem, error) {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if _, ok := reuse[in.CatalogItemID]; !ok {
			ids = append(ids, in.CatalogItemID)
		}
	}

	byID := make(map[string]catalog.Item, len(ids))
	if len(ids) > 0 {
		fetched, err := s.items.GetByIDs(ctx, ids)
		if err != nil {
			return nil, errors.Wrap(err, "get catalog items")
		}
		for _, item := range fetched {
			byID[item.ID] = item
		}
	}

	lines := make([]pricing.LineItem, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity < 1 {
			return nil, &pricing.InvalidQuantityError{CatalogItemID: in.CatalogItemID}
		}

		if prev, ok := reuse[in.CatalogItemID]; ok {
			// The serialized flag was snapshotted with the price, so an edit
			// runs the same unit checks as creation.
			if prev.Serialized {
				if err := s.checkSerialized(ctx, in.CatalogItemID, in); err != nil {
					return nil, err
				}
			} else if len(in.SerializedUnits) > 0 {
				return nil, &catalog.UnitMismatchError{
					CatalogItemID: in.CatalogItemID,
					Reason:        "item is not serialized",
				}
			}
			prev.Quantity = in.Quantity
			prev.SerializedUnits = in.SerializedUnits
			lines = append(lines, prev)
			continue
		}

		item, ok := byID[in.CatalogItemID]
		if !ok {
			return nil, errors.Wrapf(catalog.ErrNotFound, "%s", in.CatalogItemID)
		}

		if item.Serialized {
			if err := s.checkSerialized(ctx, item.ID, in); err != nil {
				return nil, err
			}
		} else if len(in.SerializedUnits) > 0 {
			return nil, &catalog.UnitMismatchError{
				CatalogItemID: item.ID,
				Reason:        "item is not serialized",
			}
		}

		lines = append(lines, pricing.LineItem{
			CatalogItemID:   item.ID,
			Name:            item.Name,
			UnitPrice:       item.UnitPrice,
			Quantity:        in.Quantity,
			Serialized:      item.Serialized,
			SerializedUnits: in.SerializedUnits,
		})
	}
	return lines, nil
}

// checkSerialized enforces quantity == unit count and that every referenced
// unit currently exists for the item and is available. The authoritative
// availability check happens again at commit time inside the reservation.
func (s *Service) checkSerialized(ctx context.Context, itemID string, in LineInput) error {
	if len(in.SerializedUnits) != in.Quantity {
		return &catalog.UnitMismatchError{
			CatalogItemID: itemID,
			Reason:        "quantity does not match unit count",
		}
	}

	statuses, err := s.items.UnitStatuses(ctx, itemID, in.SerializedUnits)
	if err != nil {
		return errors.Wrap(err, "check unit statuses")
	}
	for _, vin := range in.SerializedUnits {
		status, ok := statuses[vin]
		if !ok {
			return &inventory.UnitUnavailableError{VIN: vin}
		}
		if status != inventory.UnitAvailable {
			return &inventory.UnitUnavailableError{VIN: vin}
		}
	}
	return nil
}
