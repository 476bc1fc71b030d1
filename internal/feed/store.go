// Package feed holds the quotes currently shown and the user's selection.
package feed

import (
	"context"
	"fmt"
	"sync"

	"marketvalues/internal/interfaces"
	"marketvalues/internal/prefs"
	"marketvalues/internal/types"
)

// Reader is the read-only view handed to consumers of the feed.
type Reader interface {
	Quotes() []types.Quote
	Quote(symbol string) (types.Quote, bool)
	Selected() string
	Connected() bool
}

// Store is written only by the price channel handler and by SelectSymbol.
// It never performs network I/O.
type Store struct {
	mu        sync.RWMutex
	quotes    []types.Quote
	bySymbol  map[string]int
	selected  string
	connected bool

	state         interfaces.StateStore
	defaultSymbol string
}

var _ Reader = (*Store)(nil)

func NewStore(state interfaces.StateStore, defaultSymbol string) *Store {
	return &Store{
		bySymbol:      map[string]int{},
		selected:      defaultSymbol,
		state:         state,
		defaultSymbol: defaultSymbol,
	}
}

// Load restores the persisted selection, keeping the default when none was saved.
func (s *Store) Load(ctx context.Context) error {
	if s.state == nil {
		return nil
	}
	v, ok, err := s.state.Get(ctx, prefs.KeySelectedStock)
	if err != nil {
		return fmt.Errorf("load selected symbol: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok && v != "" {
		s.selected = v
	} else {
		s.selected = s.defaultSymbol
	}
	return nil
}

// ApplySnapshot replaces the held quotes. Symbols missing from quotes are dropped.
func (s *Store) ApplySnapshot(quotes []types.Quote) {
	next := make([]types.Quote, len(quotes))
	copy(next, quotes)
	idx := make(map[string]int, len(next))
	for i, q := range next {
		idx[q.Symbol] = i
	}

	s.mu.Lock()
	s.quotes = next
	s.bySymbol = idx
	s.mu.Unlock()
}

func (s *Store) Quotes() []types.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Quote, len(s.quotes))
	copy(out, s.quotes)
	return out
}

func (s *Store) Quote(symbol string) (types.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.bySymbol[symbol]
	if !ok {
		return types.Quote{}, false
	}
	return s.quotes[i], true
}

// SelectSymbol sets the selection and persists it. The in-memory selection
// changes even when persisting fails.
func (s *Store) SelectSymbol(ctx context.Context, symbol string) error {
	s.mu.Lock()
	s.selected = symbol
	s.mu.Unlock()

	if s.state == nil {
		return nil
	}
	if err := s.state.Set(ctx, prefs.KeySelectedStock, symbol); err != nil {
		return fmt.Errorf("persist selected symbol: %w", err)
	}
	return nil
}

func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

func (s *Store) SetConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
