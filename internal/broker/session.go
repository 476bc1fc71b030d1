package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"marketvalues/internal/interfaces"
	"marketvalues/internal/logger"
	"marketvalues/internal/types"
)

type LinkState int

const (
	LinkUnlinked LinkState = iota
	LinkLinking
	LinkLinked
)

func (s LinkState) String() string {
	switch s {
	case LinkLinking:
		return "linking"
	case LinkLinked:
		return "linked"
	}
	return "unlinked"
}

type resource int

const (
	resStatus resource = iota
	resProfile
	resFunds
	resHoldings
	resPositions
	resOrders
	resTrades
	numResources
)

var resourceNames = [numResources]string{"status", "profile", "funds", "holdings", "positions", "orders", "trades"}

func (r resource) String() string { return resourceNames[r] }

// errSuperseded is returned by a fetch whose result was discarded because a
// newer fetch of the same resource was issued.
var errSuperseded = errors.New("broker: fetch superseded by a newer request")

// ErrOrderNotOpen is returned when a cached order is no longer open and so
// cannot be modified or cancelled.
var ErrOrderNotOpen = errors.New("broker: order is not open")

// Session caches broker-account data and proxies order mutations. Only its
// own methods write the caches; readers get copies.
//
// Fetches of the same resource are sequenced: issuing a new one cancels the
// one in flight, and only the most recently issued request may write.
type Session struct {
	api interfaces.BrokerAPI

	mu        sync.RWMutex
	link      LinkState
	tokenDate string
	profile   *types.Profile
	funds     *types.Funds
	holdings  []types.Holding
	positions []types.Position
	orders    []types.Order
	trades    []types.Trade
	loading   int

	seq     [numResources]uint64
	cancels [numResources]context.CancelFunc

	onUnlinked []func()
}

var _ interfaces.OrderSession = (*Session)(nil)

func NewSession(api interfaces.BrokerAPI) *Session {
	return &Session{api: api}
}

func (s *Session) begin(ctx context.Context, r resource) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel := s.cancels[r]; cancel != nil {
		cancel()
	}
	s.seq[r]++
	rctx, cancel := context.WithCancel(ctx)
	s.cancels[r] = cancel
	if r == resHoldings || r == resPositions {
		s.loading++
	}
	return rctx, s.seq[r]
}

// finishLocked reports whether request id is still the latest for r.
func (s *Session) finishLocked(r resource, id uint64) bool {
	if r == resHoldings || r == resPositions {
		s.loading--
	}
	if s.seq[r] != id {
		return false
	}
	if s.cancels[r] != nil {
		s.cancels[r]()
		s.cancels[r] = nil
	}
	return true
}

// fetch runs one sequenced request for r and hands the outcome to apply
// while the lock is held. apply must install an empty value on error.
func fetch[T any](s *Session, ctx context.Context, r resource, call func(context.Context) (T, error), apply func(v T, err error)) error {
	rctx, id := s.begin(ctx, r)
	v, err := call(rctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finishLocked(r, id) {
		logger.Debug(ctx, "Discarding superseded broker fetch", "resource", r.String())
		return errSuperseded
	}
	if err != nil {
		logger.Warn(ctx, "Broker fetch failed", "resource", r.String(), "error", err)
		if IsAuthError(err) {
			s.demoteLocked(ctx, err)
		}
	}
	apply(v, err)
	return err
}

// OnUnlinked registers fn to run whenever the session drops to unlinked. fn
// runs with the session lock held and must not call back into the Session.
func (s *Session) OnUnlinked(fn func()) {
	s.mu.Lock()
	s.onUnlinked = append(s.onUnlinked, fn)
	s.mu.Unlock()
}

func (s *Session) setLinkLocked(l LinkState) {
	prev := s.link
	s.link = l
	if l == LinkUnlinked && prev != LinkUnlinked {
		for _, fn := range s.onUnlinked {
			fn()
		}
	}
}

// demoteLocked fails closed: the link is treated as gone and every cache is dropped.
func (s *Session) demoteLocked(ctx context.Context, cause error) {
	if s.link != LinkUnlinked {
		logger.Warn(ctx, "Broker link lost", "from", s.link.String(), "error", cause)
	}
	s.setLinkLocked(LinkUnlinked)
	s.tokenDate = ""
	s.clearLocked()
}

func (s *Session) clearLocked() {
	s.profile = nil
	s.funds = nil
	s.holdings = nil
	s.positions = nil
	s.orders = nil
	s.trades = nil
}

// CheckStatus refreshes the link status. An error reads as unlinked. A
// pending link stays pending until the backend reports it linked.
func (s *Session) CheckStatus(ctx context.Context) (types.LinkStatus, error) {
	var out types.LinkStatus
	err := fetch(s, ctx, resStatus, s.api.Status, func(st types.LinkStatus, err error) {
		switch {
		case err != nil:
			s.setLinkLocked(LinkUnlinked)
			out = types.LinkStatus{}
		case st.Linked:
			s.link = LinkLinked
			s.tokenDate = st.TokenDate
			out = st
		case s.link == LinkLinking:
			out = st
		default:
			s.setLinkLocked(LinkUnlinked)
			s.tokenDate = ""
			out = st
		}
	})
	if errors.Is(err, errSuperseded) {
		return s.LinkStatus(), nil
	}
	return out, err
}

// BeginLink returns the broker authorisation URL and marks the link pending.
func (s *Session) BeginLink(ctx context.Context) (string, error) {
	u, err := s.api.AuthURL(ctx)
	if err != nil {
		if IsAuthError(err) {
			s.mu.Lock()
			s.demoteLocked(ctx, err)
			s.mu.Unlock()
		}
		return "", err
	}
	s.mu.Lock()
	if s.link != LinkLinked {
		s.link = LinkLinking
	}
	s.mu.Unlock()
	return u, nil
}

// Unlink removes the broker link and clears every cache. In-flight fetches
// are cancelled and can no longer write.
func (s *Session) Unlink(ctx context.Context) error {
	if err := s.api.Unlink(ctx); err != nil && !IsAuthError(err) {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for r := range s.cancels {
		if s.cancels[r] != nil {
			s.cancels[r]()
			s.cancels[r] = nil
		}
		s.seq[r]++
	}
	s.setLinkLocked(LinkUnlinked)
	s.tokenDate = ""
	s.clearLocked()
	return nil
}

func (s *Session) FetchProfile(ctx context.Context) error {
	return fetch(s, ctx, resProfile, s.api.Profile, func(v types.Profile, err error) {
		if err != nil {
			s.profile = nil
			return
		}
		s.profile = &v
	})
}

func (s *Session) FetchFunds(ctx context.Context) error {
	return fetch(s, ctx, resFunds, s.api.Funds, func(v types.Funds, err error) {
		if err != nil {
			s.funds = nil
			return
		}
		s.funds = &v
	})
}

func (s *Session) FetchHoldings(ctx context.Context) error {
	return fetch(s, ctx, resHoldings, s.api.Holdings, func(v []types.Holding, err error) {
		if err != nil {
			v = nil
		}
		s.holdings = v
	})
}

func (s *Session) FetchPositions(ctx context.Context) error {
	return fetch(s, ctx, resPositions, s.api.Positions, func(v []types.Position, err error) {
		if err != nil {
			v = nil
		}
		s.positions = v
	})
}

func (s *Session) FetchOrders(ctx context.Context) error {
	return fetch(s, ctx, resOrders, s.api.Orders, func(v []types.Order, err error) {
		if err != nil {
			v = nil
		}
		s.orders = v
	})
}

func (s *Session) FetchTrades(ctx context.Context) error {
	return fetch(s, ctx, resTrades, s.api.Trades, func(v []types.Trade, err error) {
		if err != nil {
			v = nil
		}
		s.trades = v
	})
}

// RefreshAll loads every account resource concurrently.
func (s *Session) RefreshAll(ctx context.Context) {
	op := logger.StartOperation(ctx, "broker.refresh_all")
	s.parallel(op.GetContext(), s.FetchProfile, s.FetchFunds, s.FetchHoldings, s.FetchPositions, s.FetchOrders, s.FetchTrades)
	op.End("link", s.Link().String())
}

// RefreshAfterOrder is the one refresh cycle that follows a settled order.
func (s *Session) RefreshAfterOrder(ctx context.Context) {
	s.parallel(ctx, s.FetchPositions, s.FetchOrders, s.FetchTrades, s.FetchFunds)
}

func (s *Session) parallel(ctx context.Context, fns ...func(context.Context) error) {
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func(fn func(context.Context) error) {
			defer wg.Done()
			_ = fn(ctx)
		}(fn)
	}
	wg.Wait()
}

// PlaceOrder submits draft once. It is never retried.
func (s *Session) PlaceOrder(ctx context.Context, draft types.OrderDraft) (types.OrderResult, error) {
	res, err := s.api.PlaceOrder(ctx, draft)
	s.afterMutation(ctx, err)
	return res, err
}

// ModifyOrder changes an open order once and, when the broker accepts it,
// runs the post-order refresh.
func (s *Session) ModifyOrder(ctx context.Context, orderID string, patch types.OrderPatch) (types.OrderResult, error) {
	if err := s.checkOpen(orderID); err != nil {
		return types.OrderResult{}, err
	}
	res, err := s.api.ModifyOrder(ctx, orderID, patch)
	s.afterMutation(ctx, err)
	if err == nil && res.OK() {
		s.RefreshAfterOrder(ctx)
	}
	return res, err
}

// CancelOrder cancels an open order once and, when the broker accepts it,
// runs the post-order refresh.
func (s *Session) CancelOrder(ctx context.Context, orderID string) (types.OrderResult, error) {
	if err := s.checkOpen(orderID); err != nil {
		return types.OrderResult{}, err
	}
	res, err := s.api.CancelOrder(ctx, orderID)
	s.afterMutation(ctx, err)
	if err == nil && res.OK() {
		s.RefreshAfterOrder(ctx)
	}
	return res, err
}

// checkOpen refuses orders the cache already knows are finished. Orders
// missing from the cache are left to the broker to judge.
func (s *Session) checkOpen(orderID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.OrderID == orderID && !o.Open() {
			return fmt.Errorf("%w: %s is %s", ErrOrderNotOpen, orderID, o.Status)
		}
	}
	return nil
}

func (s *Session) afterMutation(ctx context.Context, err error) {
	if err != nil && IsAuthError(err) {
		s.mu.Lock()
		s.demoteLocked(ctx, err)
		s.mu.Unlock()
	}
}

func (s *Session) Link() LinkState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link
}

func (s *Session) LinkStatus() types.LinkStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.LinkStatus{Linked: s.link == LinkLinked, TokenDate: s.tokenDate}
}

// Loading is true while a holdings or positions fetch is in flight.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

func (s *Session) Profile() (types.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return types.Profile{}, false
	}
	return *s.profile, true
}

func (s *Session) Funds() (types.Funds, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.funds == nil {
		return types.Funds{}, false
	}
	return *s.funds, true
}

func (s *Session) Holdings() []types.Holding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Holding(nil), s.holdings...)
}

func (s *Session) Positions() []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Position(nil), s.positions...)
}

func (s *Session) Orders() []types.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Order(nil), s.orders...)
}

func (s *Session) Trades() []types.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Trade(nil), s.trades...)
}
