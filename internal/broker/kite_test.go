package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketvalues/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

func kiteServer(t *testing.T, h http.HandlerFunc) *KiteBackend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewKiteBackend(KiteParams{
		APIKey:      "key",
		AccessToken: "token",
		BaseURI:     srv.URL,
		HTTPClient:  srv.Client(),
	})
}

func TestKitePlaceOrder(t *testing.T) {
	var form map[string]string
	k := kiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		form = map[string]string{
			"path":          r.URL.Path,
			"exchange":      r.PostForm.Get("exchange"),
			"tradingsymbol": r.PostForm.Get("tradingsymbol"),
			"product":       r.PostForm.Get("product"),
			"order_type":    r.PostForm.Get("order_type"),
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"success","data":{"order_id":"151220000000000"}}`)
	})

	d := types.NewOrderDraft("BSE:INFY")
	d.Product = types.ProductDelivery
	d.OrderType = types.Limit
	d.Price = types.Float(1500)

	res, err := k.PlaceOrder(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "151220000000000", res.OrderID)

	assert.Equal(t, "/orders/regular", form["path"])
	assert.Equal(t, "BSE", form["exchange"])
	assert.Equal(t, "INFY", form["tradingsymbol"])
	assert.Equal(t, "NRML", form["product"])
	assert.Equal(t, "LIMIT", form["order_type"])
}

func TestKiteTokenExceptionIsUnauthorized(t *testing.T) {
	k := kiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"status":"error","error_type":"TokenException","message":"Incorrect api_key or access_token."}`)
	})

	_, err := k.Positions(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = k.PlaceOrder(context.Background(), types.NewOrderDraft("INFY"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestKiteRejectionIsAnErrorResult(t *testing.T) {
	k := kiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","error_type":"InputException","message":"Insufficient funds"}`)
	})

	res, err := k.PlaceOrder(context.Background(), types.NewOrderDraft("INFY"))
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, "Insufficient funds", res.Message)
}

func TestKiteWithoutTokenIsNotLinked(t *testing.T) {
	k := NewKiteBackend(KiteParams{APIKey: "key"})

	st, err := k.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Linked)

	_, err = k.Holdings(context.Background())
	assert.ErrorIs(t, err, ErrNotLinked)
	assert.NoError(t, k.Unlink(context.Background()))
}

func TestKiteErrMapping(t *testing.T) {
	err := kiteErr(kiteconnect.Error{ErrorType: kiteconnect.TokenError, Message: "session expired"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	other := kiteconnect.Error{ErrorType: "NetworkException", Message: "gateway timed out"}
	assert.Equal(t, error(other), kiteErr(other))
	assert.Equal(t, "gateway timed out", kiteMessage(other))
	assert.NoError(t, kiteErr(nil))
}

func TestKiteInstrumentAndProduct(t *testing.T) {
	k := NewKiteBackend(KiteParams{APIKey: "key"})

	ex, ts := k.instrument("RELIANCE")
	assert.Equal(t, "NSE", ex)
	assert.Equal(t, "RELIANCE", ts)

	ex, ts = k.instrument("NFO:NIFTY24DECFUT")
	assert.Equal(t, "NFO", ex)
	assert.Equal(t, "NIFTY24DECFUT", ts)

	assert.Equal(t, "NRML", kiteProduct(types.ProductDelivery))
	assert.Equal(t, "MIS", kiteProduct(types.ProductMIS))
	assert.Equal(t, "CNC", kiteProduct(types.ProductCNC))
}

func TestStamp(t *testing.T) {
	assert.Equal(t, "", stamp(time.Time{}))
	ts := time.Date(2026, 10, 19, 9, 15, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-19T09:15:00Z", stamp(ts))
	assert.Equal(t, 3, asInt(3.0))
}
