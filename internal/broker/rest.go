package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"marketvalues/internal/api"
	"marketvalues/internal/interfaces"
	"marketvalues/internal/types"
)

const restPrefix = "/api/upstox"

// RESTBackend reaches the broker through the dashboard backend's
// /api/upstox endpoints, authenticated with the user's bearer token.
type RESTBackend struct {
	client *api.Client
	tokens interfaces.TokenSource
}

var _ interfaces.BrokerAPI = (*RESTBackend)(nil)

func NewRESTBackend(client *api.Client, tokens interfaces.TokenSource) *RESTBackend {
	return &RESTBackend{client: client, tokens: tokens}
}

func (b *RESTBackend) bearer(ctx context.Context) (api.CallOption, error) {
	tok, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return api.Bearer(tok), nil
}

// classify maps backend status codes onto the session's error taxonomy.
func classify(err error) error {
	var he *api.HTTPError
	if !errors.As(err, &he) {
		return err
	}
	switch {
	case he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, he.Detail())
	case he.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(he.Detail()), "not linked"):
		return fmt.Errorf("%w: %s", ErrNotLinked, he.Detail())
	}
	return err
}

func (b *RESTBackend) get(ctx context.Context, path string, out any) error {
	auth, err := b.bearer(ctx)
	if err != nil {
		return err
	}
	return classify(b.client.GetJSON(ctx, restPrefix+path, out, auth))
}

// mutate performs one order round-trip. Backend refusals that carry a
// message come back as an error OrderResult; auth failures and transport
// errors come back as errors.
func (b *RESTBackend) mutate(ctx context.Context, method, path string, body any) (types.OrderResult, error) {
	auth, err := b.bearer(ctx)
	if err != nil {
		return types.OrderResult{}, err
	}

	resp, err := b.client.Do(ctx, method, restPrefix+path, body, auth)
	if err != nil {
		err = classify(err)
		var he *api.HTTPError
		if !IsAuthError(err) && errors.As(err, &he) && he.Detail() != "" {
			return types.OrderResult{Status: types.StatusError, Message: he.Detail()}, nil
		}
		return types.OrderResult{}, err
	}

	var out types.OrderResult
	if err := resp.ParseJSON(&out); err != nil {
		return types.OrderResult{}, err
	}
	return out, nil
}

func (b *RESTBackend) AuthURL(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := b.get(ctx, "/auth-url", &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (b *RESTBackend) Status(ctx context.Context) (types.LinkStatus, error) {
	var out types.LinkStatus
	err := b.get(ctx, "/status", &out)
	return out, err
}

func (b *RESTBackend) Unlink(ctx context.Context) error {
	auth, err := b.bearer(ctx)
	if err != nil {
		return err
	}
	_, err = b.client.Do(ctx, http.MethodDelete, restPrefix+"/unlink", nil, auth)
	return classify(err)
}

func (b *RESTBackend) Profile(ctx context.Context) (types.Profile, error) {
	var out types.Profile
	err := b.get(ctx, "/profile", &out)
	return out, err
}

func (b *RESTBackend) Funds(ctx context.Context) (types.Funds, error) {
	var out types.Funds
	err := b.get(ctx, "/funds", &out)
	return out, err
}

func (b *RESTBackend) Holdings(ctx context.Context) ([]types.Holding, error) {
	var out []types.Holding
	err := b.get(ctx, "/holdings", &out)
	return out, err
}

func (b *RESTBackend) Positions(ctx context.Context) ([]types.Position, error) {
	var out []types.Position
	err := b.get(ctx, "/positions", &out)
	return out, err
}

func (b *RESTBackend) Orders(ctx context.Context) ([]types.Order, error) {
	var out []types.Order
	err := b.get(ctx, "/orders", &out)
	return out, err
}

func (b *RESTBackend) Trades(ctx context.Context) ([]types.Trade, error) {
	var out []types.Trade
	err := b.get(ctx, "/trades", &out)
	return out, err
}

func (b *RESTBackend) PlaceOrder(ctx context.Context, draft types.OrderDraft) (types.OrderResult, error) {
	return b.mutate(ctx, http.MethodPost, "/orders", draft)
}

func (b *RESTBackend) ModifyOrder(ctx context.Context, orderID string, patch types.OrderPatch) (types.OrderResult, error) {
	return b.mutate(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID), patch)
}

func (b *RESTBackend) CancelOrder(ctx context.Context, orderID string) (types.OrderResult, error) {
	return b.mutate(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil)
}
