// Package order drives a single order attempt from draft to broker outcome.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketvalues/internal/interfaces"
	"marketvalues/internal/logger"
	"marketvalues/internal/types"

	"github.com/google/uuid"
)

type State int

const (
	Editing State = iota
	PendingConfirmation
	Submitting
	Settled
	Rejected
)

func (s State) String() string {
	switch s {
	case Editing:
		return "editing"
	case PendingConfirmation:
		return "pending_confirmation"
	case Submitting:
		return "submitting"
	case Settled:
		return "settled"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	msgRejected = "Order failed"
	msgFailed   = "Failed to place order"
)

var ErrInvalidState = errors.New("order: not allowed in the current state")

// ValidationError is a draft problem caught before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate checks the draft preconditions for submission.
func Validate(d types.OrderDraft) error {
	switch {
	case d.Symbol == "":
		return &ValidationError{Field: "symbol", Message: "Symbol is required"}
	case d.Qty < 1:
		return &ValidationError{Field: "qty", Message: "Quantity must be at least 1"}
	case d.NeedsPrice() && d.Price == nil:
		return &ValidationError{Field: "price", Message: fmt.Sprintf("Price is required for %s orders", d.OrderType)}
	case d.NeedsTrigger() && d.TriggerPrice == nil:
		return &ValidationError{Field: "trigger_price", Message: fmt.Sprintf("Trigger price is required for %s orders", d.OrderType)}
	}
	return nil
}

// Controller is one order attempt. A rejection hands control back to
// Editing with the draft intact; a settled attempt is final.
type Controller struct {
	session interfaces.OrderSession
	journal interfaces.OrderJournal

	mu        sync.Mutex
	state     State
	draft     types.OrderDraft
	frozen    types.OrderDraft
	rejection string
	attemptID string
	closing   bool

	now   func() time.Time
	newID func() string
}

// New starts an attempt in Editing. journal may be nil.
func New(session interfaces.OrderSession, journal interfaces.OrderJournal, draft types.OrderDraft) *Controller {
	return &Controller{
		session: session,
		journal: journal,
		draft:   draft.Clone(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Draft() types.OrderDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.Clone()
}

// LastRejection is the message of the most recent rejected submission.
func (c *Controller) LastRejection() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejection
}

// AttemptID identifies the latest confirmed submission.
func (c *Controller) AttemptID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attemptID
}

// Edit changes the draft. Only allowed while Editing.
func (c *Controller) Edit(fn func(d *types.OrderDraft)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Editing {
		return ErrInvalidState
	}
	fn(&c.draft)
	return nil
}

// Submit validates the draft and freezes it for confirmation. A
// *ValidationError leaves the controller in Editing.
func (c *Controller) Submit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Editing {
		return ErrInvalidState
	}
	if err := Validate(c.draft); err != nil {
		return err
	}
	c.frozen = c.draft.Clone()
	c.setStateLocked(PendingConfirmation)
	return nil
}

// Cancel backs out of confirmation with the draft unchanged.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != PendingConfirmation {
		return ErrInvalidState
	}
	c.setStateLocked(Editing)
	return nil
}

// Confirm submits the frozen draft exactly once. On success the session is
// refreshed once and the attempt is Settled. On a refusal or failure the
// returned result carries the message shown to the user and the controller
// is back in Editing; a transport or auth failure is also returned as err.
func (c *Controller) Confirm(ctx context.Context) (types.OrderResult, error) {
	c.mu.Lock()
	if c.state != PendingConfirmation {
		c.mu.Unlock()
		return types.OrderResult{}, ErrInvalidState
	}
	c.attemptID = c.newID()
	draft, id, closing := c.frozen.Clone(), c.attemptID, c.closing
	c.setStateLocked(Submitting)
	c.mu.Unlock()

	op := logger.StartOperation(ctx, "order.confirm", "attempt_id", id, "symbol", draft.Symbol)
	ctx = op.GetContext()
	res, err := c.session.PlaceOrder(ctx, draft)

	c.mu.Lock()
	if err == nil && res.OK() {
		c.rejection = ""
		c.setStateLocked(Settled)
	} else {
		res = rejected(res, err)
		c.rejection = res.Message
		c.setStateLocked(Rejected)
		c.setStateLocked(Editing)
	}
	c.mu.Unlock()

	c.record(ctx, id, draft, res, closing)
	if res.OK() {
		c.session.RefreshAfterOrder(ctx)
	}
	if err != nil {
		op.EndWithError(err, "status", res.Status)
	} else {
		op.End("status", res.Status, "order_id", res.OrderID)
	}
	return res, err
}

func rejected(res types.OrderResult, err error) types.OrderResult {
	out := types.OrderResult{Status: types.StatusError, OrderID: res.OrderID, Message: res.Message}
	if out.Message == "" {
		if err != nil {
			out.Message = msgFailed
		} else {
			out.Message = msgRejected
		}
	}
	return out
}

func (c *Controller) record(ctx context.Context, id string, d types.OrderDraft, res types.OrderResult, closing bool) {
	logger.Order(ctx, d.Symbol, string(d.TransactionType), d.Qty, res.OrderID, res.Status,
		"attempt_id", id,
		"order_type", string(d.OrderType),
		"product", string(d.Product),
		"message", res.Message,
		"closing", closing,
	)
	if c.journal == nil {
		return
	}
	e := types.JournalEntry{
		Time:      c.now(),
		AttemptID: id,
		Symbol:    d.Symbol,
		Side:      string(d.TransactionType),
		OrderType: string(d.OrderType),
		Product:   string(d.Product),
		Qty:       d.Qty,
		OrderID:   res.OrderID,
		Status:    res.Status,
		Message:   res.Message,
		Closing:   closing,
	}
	if d.Price != nil {
		e.Price = *d.Price
	}
	if err := c.journal.Append(e); err != nil {
		logger.Warn(ctx, "Failed to journal order attempt", "attempt_id", id, "error", err)
	}
}

func (c *Controller) setStateLocked(s State) {
	logger.Debug(context.Background(), "Order state changed", "from", c.state.String(), "to", s.String(), "symbol", c.draft.Symbol)
	c.state = s
}

// CloseDraft builds the market order that flattens pos.
func CloseDraft(pos types.Position) (types.OrderDraft, error) {
	qty, opened := pos.Quantity, types.Buy
	if qty < 0 {
		qty, opened = -qty, types.Sell
	}
	if qty == 0 {
		return types.OrderDraft{}, &ValidationError{Field: "qty", Message: "Position has no open quantity"}
	}
	symbol := pos.InstrumentToken
	if symbol == "" {
		symbol = pos.TradingSymbol
	}
	product := types.Product(pos.Product)
	if product == "" {
		product = types.ProductMIS
	}
	return types.OrderDraft{
		Symbol:          symbol,
		TransactionType: opened.Opposite(),
		OrderType:       types.Market,
		Product:         product,
		Qty:             qty,
		Validity:        types.ValidityDay,
	}, nil
}

// ClosePosition places the flattening order for pos without a
// confirmation step.
func ClosePosition(ctx context.Context, session interfaces.OrderSession, journal interfaces.OrderJournal, pos types.Position) (types.OrderResult, error) {
	d, err := CloseDraft(pos)
	if err != nil {
		return types.OrderResult{}, err
	}
	c := New(session, journal, d)
	c.closing = true
	if err := c.Submit(); err != nil {
		return types.OrderResult{}, err
	}
	return c.Confirm(ctx)
}
