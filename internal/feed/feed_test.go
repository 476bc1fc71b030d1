package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"marketvalues/internal/channel"
	"marketvalues/internal/fanout"
	"marketvalues/internal/prefs"
	"marketvalues/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memState struct {
	mu   sync.Mutex
	vals map[string]string
	fail error
}

func newMemState() *memState { return &memState{vals: map[string]string{}} }

func (m *memState) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memState) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.vals[key] = value
	return nil
}

func (m *memState) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

func TestPriceSnapshotReplacesQuotes(t *testing.T) {
	store := NewStore(nil, "RELIANCE.NS")
	h := NewPriceHandler(store, nil)
	ctx := context.Background()

	h.HandleMessage(ctx, []byte(`{"type":"prices","data":[{"symbol":"TCS.NS","current_price":3500,"previous_close":3450,"change":50,"percent_change":1.45}]}`))
	got := store.Quotes()
	require.Len(t, got, 1)
	assert.Equal(t, "TCS.NS", got[0].Symbol)
	assert.Equal(t, 3500.0, got[0].CurrentPrice)

	h.HandleMessage(ctx, []byte(`{"type":"prices","data":[{"symbol":"INFY.NS","current_price":1500}]}`))
	_, ok := store.Quote("TCS.NS")
	assert.False(t, ok, "symbols absent from the snapshot must be dropped")
	q, ok := store.Quote("INFY.NS")
	require.True(t, ok)
	assert.Equal(t, 1500.0, q.CurrentPrice)
}

func TestLegacyArrayMatchesEnvelope(t *testing.T) {
	quotes := `[{"symbol":"TCS.NS","current_price":3500},{"symbol":"HDFCBANK.NS","current_price":1620.5}]`

	legacy := NewStore(nil, "RELIANCE.NS")
	NewPriceHandler(legacy, nil).HandleMessage(context.Background(), []byte(quotes))

	tagged := NewStore(nil, "RELIANCE.NS")
	NewPriceHandler(tagged, nil).HandleMessage(context.Background(), []byte(`{"type":"prices","data":`+quotes+`}`))

	assert.Equal(t, tagged.Quotes(), legacy.Quotes())
	assert.Len(t, legacy.Quotes(), 2)
}

func TestAlertMessageIsPublished(t *testing.T) {
	d := fanout.NewDispatcher[types.Alert]("alerts")
	var got []types.Alert
	d.Subscribe(func(_ context.Context, a types.Alert) { got = append(got, a) })

	store := NewStore(nil, "RELIANCE.NS")
	NewPriceHandler(store, d).HandleMessage(context.Background(),
		[]byte(`{"type":"alert","data":{"id":4,"symbol":"TCS.NS","condition":"above","target_price":3500,"current_price":3512.5,"is_active":false}}`))

	require.Len(t, got, 1)
	assert.Equal(t, types.ConditionAbove, got[0].Condition)
	assert.Equal(t, 3512.5, got[0].CurrentPrice)
	assert.Empty(t, store.Quotes())
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	store := NewStore(nil, "RELIANCE.NS")
	h := NewPriceHandler(store, nil)
	h.HandleMessage(context.Background(), []byte(`[{"symbol":"TCS.NS","current_price":1}]`))

	for _, raw := range []string{`not json`, `{"type":"heartbeat"}`, `{"type":"prices"}`, `{"type":"prices","data":{"x":1}}`, `[1,2`} {
		assert.NotPanics(t, func() { h.HandleMessage(context.Background(), []byte(raw)) }, raw)
	}
	assert.Len(t, store.Quotes(), 1)
}

func TestDecodePriceMessage_UnknownType(t *testing.T) {
	_, err := DecodePriceMessage([]byte(`{"type":"heartbeat"}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestSelectSymbol_Persists(t *testing.T) {
	state := newMemState()
	store := NewStore(state, "RELIANCE.NS")
	ctx := context.Background()

	require.NoError(t, store.Load(ctx))
	assert.Equal(t, "RELIANCE.NS", store.Selected())

	require.NoError(t, store.SelectSymbol(ctx, "TCS.NS"))
	assert.Equal(t, "TCS.NS", state.vals[prefs.KeySelectedStock])

	restarted := NewStore(state, "RELIANCE.NS")
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, "TCS.NS", restarted.Selected())
}

func TestSelectSymbol_PersistFailureKeepsSelection(t *testing.T) {
	state := newMemState()
	state.fail = errors.New("disk full")
	store := NewStore(state, "RELIANCE.NS")

	err := store.SelectSymbol(context.Background(), "INFY.NS")
	require.Error(t, err)
	assert.Equal(t, "INFY.NS", store.Selected())
}

func TestHandleState_DrivesConnected(t *testing.T) {
	store := NewStore(nil, "RELIANCE.NS")
	h := NewPriceHandler(store, nil)

	h.HandleState(channel.Open)
	assert.True(t, store.Connected())
	h.HandleState(channel.Reconnecting)
	assert.False(t, store.Connected())
}

func TestQuotesReturnsCopy(t *testing.T) {
	store := NewStore(nil, "RELIANCE.NS")
	store.ApplySnapshot([]types.Quote{{Symbol: "TCS.NS", CurrentPrice: 1}})

	q := store.Quotes()
	q[0].CurrentPrice = 99
	got, _ := store.Quote("TCS.NS")
	assert.Equal(t, 1.0, got.CurrentPrice)
}
