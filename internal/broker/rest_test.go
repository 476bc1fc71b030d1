package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketvalues/internal/api"
	"marketvalues/internal/prefs"
	"marketvalues/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restBackend(t *testing.T, token string, h http.Handler) *RESTBackend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := api.NewClient(api.WithBaseURL(srv.URL), api.WithHTTPClient(srv.Client()))
	return NewRESTBackend(client, prefs.StaticToken(token))
}

func TestRESTFetchSendsBearerToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upstox/positions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `[{"instrument_token":"NSE_EQ|INE467B01029","trading_symbol":"TCS","quantity":-10,"average_price":3500,"last_price":3480,"pnl":200,"product":"I"}]`)
	})
	b := restBackend(t, "abc", mux)

	got, err := b.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "TCS", got[0].Label())
	assert.Equal(t, -10, got[0].Quantity)
	assert.Equal(t, "I", got[0].Product)
}

func TestRESTStatusCodesMapToAuthErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upstox/funds", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"Could not validate credentials"}`)
	})
	mux.HandleFunc("/api/upstox/holdings", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"detail":"Upstox account not linked"}`)
	})
	mux.HandleFunc("/api/upstox/trades", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"detail":"upstream timeout"}`)
	})
	b := restBackend(t, "abc", mux)
	ctx := context.Background()

	_, err := b.Funds(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = b.Holdings(ctx)
	assert.ErrorIs(t, err, ErrNotLinked)

	_, err = b.Trades(ctx)
	require.Error(t, err)
	assert.False(t, IsAuthError(err))
	var he *api.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "upstream timeout", he.Detail())
}

func TestRESTMissingTokenIsUnauthorized(t *testing.T) {
	called := false
	b := restBackend(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	_, err := b.Orders(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, called)
}

func TestRESTPlaceOrderBody(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upstox/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		fmt.Fprint(w, `{"status":"success","order_id":"240101000001"}`)
	})
	b := restBackend(t, "abc", mux)

	d := types.NewOrderDraft("RELIANCE")
	res, err := b.PlaceOrder(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "240101000001", res.OrderID)

	assert.Equal(t, "RELIANCE", body["symbol"])
	assert.Equal(t, "BUY", body["transaction_type"])
	assert.Equal(t, "MARKET", body["order_type"])
	assert.Equal(t, "CNC", body["product"])
	assert.Equal(t, float64(1), body["qty"])
	assert.Equal(t, "DAY", body["validity"])
	assert.Contains(t, body, "price")
	assert.Nil(t, body["price"])
	assert.Nil(t, body["trigger_price"])
}

func TestRESTOrderRefusalIsAnErrorResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upstox/orders/240101000001", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"detail":"Order already completed"}`)
	})
	b := restBackend(t, "abc", mux)

	res, err := b.CancelOrder(context.Background(), "240101000001")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, res.Status)
	assert.Equal(t, "Order already completed", res.Message)
}

func TestRESTModifyOmitsUnsetFields(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upstox/orders/42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		fmt.Fprint(w, `{"status":"success","order_id":"42"}`)
	})
	b := restBackend(t, "abc", mux)

	qty := 5
	res, err := b.ModifyOrder(context.Background(), "42", types.OrderPatch{Qty: &qty})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, map[string]any{"qty": float64(5)}, body)
}
