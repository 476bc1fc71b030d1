package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketvalues/internal/interfaces"
	"marketvalues/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

type KiteParams struct {
	APIKey      string
	AccessToken string
	Exchange    string
	BaseURI     string
	HTTPClient  *http.Client
}

// KiteBackend talks to Zerodha directly through gokiteconnect. Symbols are
// "EXCHANGE:TRADINGSYMBOL" or a bare trading symbol on the default exchange.
type KiteBackend struct {
	kc       *kiteconnect.Client
	exchange string
	hasToken bool
}

var _ interfaces.BrokerAPI = (*KiteBackend)(nil)

func NewKiteBackend(p KiteParams) *KiteBackend {
	kc := kiteconnect.New(p.APIKey)
	if p.AccessToken != "" {
		kc.SetAccessToken(p.AccessToken)
	}
	if p.BaseURI != "" {
		kc.SetBaseURI(p.BaseURI)
	}
	if p.HTTPClient != nil {
		kc.SetHTTPClient(p.HTTPClient)
	}
	if p.Exchange == "" {
		p.Exchange = "NSE"
	}
	return &KiteBackend{kc: kc, exchange: p.Exchange, hasToken: p.AccessToken != ""}
}

// kiteErr maps TokenException to ErrUnauthorized and keeps everything else.
func kiteErr(err error) error {
	if err == nil {
		return nil
	}
	var ke kiteconnect.Error
	if errors.As(err, &ke) && ke.ErrorType == kiteconnect.TokenError {
		return fmt.Errorf("%w: %s", ErrUnauthorized, ke.Message)
	}
	var kp *kiteconnect.Error
	if errors.As(err, &kp) && kp.ErrorType == kiteconnect.TokenError {
		return fmt.Errorf("%w: %s", ErrUnauthorized, kp.Message)
	}
	return err
}

// kiteMessage is the user-facing text of a Kite error.
func kiteMessage(err error) string {
	var ke kiteconnect.Error
	if errors.As(err, &ke) && ke.Message != "" {
		return ke.Message
	}
	var kp *kiteconnect.Error
	if errors.As(err, &kp) && kp.Message != "" {
		return kp.Message
	}
	return err.Error()
}

func (k *KiteBackend) requireToken(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !k.hasToken {
		return fmt.Errorf("%w: no kite access token", ErrNotLinked)
	}
	return nil
}

func (k *KiteBackend) AuthURL(ctx context.Context) (string, error) {
	return k.kc.GetLoginURL(), nil
}

func (k *KiteBackend) Status(ctx context.Context) (types.LinkStatus, error) {
	if !k.hasToken {
		return types.LinkStatus{Linked: false}, nil
	}
	if _, err := k.kc.GetUserProfile(); err != nil {
		err = kiteErr(err)
		if IsAuthError(err) {
			return types.LinkStatus{Linked: false}, nil
		}
		return types.LinkStatus{}, err
	}
	return types.LinkStatus{Linked: true}, nil
}

func (k *KiteBackend) Unlink(ctx context.Context) error {
	if !k.hasToken {
		return nil
	}
	if _, err := k.kc.InvalidateAccessToken(); err != nil {
		return kiteErr(err)
	}
	k.kc.SetAccessToken("")
	k.hasToken = false
	return nil
}

func (k *KiteBackend) Profile(ctx context.Context) (types.Profile, error) {
	if err := k.requireToken(ctx); err != nil {
		return types.Profile{}, err
	}
	p, err := k.kc.GetUserProfile()
	if err != nil {
		return types.Profile{}, kiteErr(err)
	}
	return types.Profile{
		UserID:    p.UserID,
		UserName:  p.UserName,
		Email:     p.Email,
		Broker:    p.Broker,
		Exchanges: p.Exchanges,
		Products:  p.Products,
	}, nil
}

func kiteMargin(m kiteconnect.Margins) types.Margin {
	return types.Margin{
		UsedMargin:      m.Used.Debits,
		PayinAmount:     m.Available.IntradayPayin,
		SpanMargin:      m.Used.Span,
		AdhocMargin:     m.Available.AdHocMargin,
		NotionalCash:    m.Available.Cash,
		AvailableMargin: m.Net,
		ExposureMargin:  m.Used.Exposure,
	}
}

func (k *KiteBackend) Funds(ctx context.Context) (types.Funds, error) {
	if err := k.requireToken(ctx); err != nil {
		return types.Funds{}, err
	}
	m, err := k.kc.GetUserMargins()
	if err != nil {
		return types.Funds{}, kiteErr(err)
	}
	return types.Funds{Equity: kiteMargin(m.Equity), Commodity: kiteMargin(m.Commodity)}, nil
}

func (k *KiteBackend) Holdings(ctx context.Context) ([]types.Holding, error) {
	if err := k.requireToken(ctx); err != nil {
		return nil, err
	}
	hs, err := k.kc.GetHoldings()
	if err != nil {
		return nil, kiteErr(err)
	}
	out := make([]types.Holding, 0, len(hs))
	for _, h := range hs {
		out = append(out, types.Holding{
			InstrumentToken: h.Exchange + ":" + h.Tradingsymbol,
			TradingSymbol:   h.Tradingsymbol,
			Exchange:        h.Exchange,
			ISIN:            h.ISIN,
			Quantity:        asInt(h.Quantity),
			AveragePrice:    h.AveragePrice,
			LastPrice:       h.LastPrice,
			ClosePrice:      h.ClosePrice,
			PnL:             h.PnL,
			DayChange:       h.DayChange,
			DayChangePct:    h.DayChangePercentage,
		})
	}
	return out, nil
}

func (k *KiteBackend) Positions(ctx context.Context) ([]types.Position, error) {
	if err := k.requireToken(ctx); err != nil {
		return nil, err
	}
	ps, err := k.kc.GetPositions()
	if err != nil {
		return nil, kiteErr(err)
	}
	out := make([]types.Position, 0, len(ps.Net))
	for _, p := range ps.Net {
		out = append(out, types.Position{
			// Closing orders are placed against this value.
			InstrumentToken: p.Exchange + ":" + p.Tradingsymbol,
			TradingSymbol:   p.Tradingsymbol,
			Quantity:        asInt(p.Quantity),
			AveragePrice:    p.AveragePrice,
			LastPrice:       p.LastPrice,
			PnL:             p.PnL,
			Product:         p.Product,
		})
	}
	return out, nil
}

func (k *KiteBackend) Orders(ctx context.Context) ([]types.Order, error) {
	if err := k.requireToken(ctx); err != nil {
		return nil, err
	}
	orders, err := k.kc.GetOrders()
	if err != nil {
		return nil, kiteErr(err)
	}
	out := make([]types.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, types.Order{
			OrderID:         o.OrderID,
			ExchangeOrderID: o.ExchangeOrderID,
			InstrumentToken: o.Exchange + ":" + o.TradingSymbol,
			TradingSymbol:   o.TradingSymbol,
			TransactionType: o.TransactionType,
			OrderType:       o.OrderType,
			Product:         o.Product,
			Validity:        o.Validity,
			Quantity:        asInt(o.Quantity),
			FilledQuantity:  asInt(o.FilledQuantity),
			PendingQuantity: asInt(o.PendingQuantity),
			Price:           o.Price,
			TriggerPrice:    o.TriggerPrice,
			AveragePrice:    o.AveragePrice,
			Status:          o.Status,
			StatusMessage:   o.StatusMessage,
			OrderTimestamp:  stamp(o.OrderTimestamp),
		})
	}
	return out, nil
}

func (k *KiteBackend) Trades(ctx context.Context) ([]types.Trade, error) {
	if err := k.requireToken(ctx); err != nil {
		return nil, err
	}
	ts, err := k.kc.GetTrades()
	if err != nil {
		return nil, kiteErr(err)
	}
	out := make([]types.Trade, 0, len(ts))
	for _, t := range ts {
		out = append(out, types.Trade{
			TradeID:         t.TradeID,
			OrderID:         t.OrderID,
			InstrumentToken: t.Exchange + ":" + t.TradingSymbol,
			TradingSymbol:   t.TradingSymbol,
			TransactionType: t.TransactionType,
			Product:         t.Product,
			Quantity:        asInt(t.Quantity),
			AveragePrice:    t.AveragePrice,
			ExchangeTime:    stamp(t.ExchangeTimestamp),
		})
	}
	return out, nil
}

func (k *KiteBackend) instrument(symbol string) (exchange, tradingSymbol string) {
	if ex, ts, ok := strings.Cut(symbol, ":"); ok {
		return ex, ts
	}
	return k.exchange, symbol
}

// kiteProduct maps the dashboard's delivery code to Kite's carry-forward product.
func kiteProduct(p types.Product) string {
	switch p {
	case types.ProductDelivery:
		return kiteconnect.ProductNRML
	case types.ProductMIS:
		return kiteconnect.ProductMIS
	}
	return kiteconnect.ProductCNC
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// orderResult turns a Kite refusal into an error result; token failures stay errors.
func orderResult(orderID string, err error) (types.OrderResult, error) {
	if err == nil {
		return types.OrderResult{Status: types.StatusSuccess, OrderID: orderID}, nil
	}
	if mapped := kiteErr(err); IsAuthError(mapped) {
		return types.OrderResult{}, mapped
	}
	var ke kiteconnect.Error
	var kp *kiteconnect.Error
	if errors.As(err, &ke) || errors.As(err, &kp) {
		return types.OrderResult{Status: types.StatusError, OrderID: orderID, Message: kiteMessage(err)}, nil
	}
	return types.OrderResult{}, err
}

func (k *KiteBackend) PlaceOrder(ctx context.Context, d types.OrderDraft) (types.OrderResult, error) {
	if err := k.requireToken(ctx); err != nil {
		return types.OrderResult{}, err
	}
	exchange, ts := k.instrument(d.Symbol)
	resp, err := k.kc.PlaceOrder(kiteconnect.VarietyRegular, kiteconnect.OrderParams{
		Exchange:        exchange,
		Tradingsymbol:   ts,
		Validity:        string(d.Validity),
		Product:         kiteProduct(d.Product),
		OrderType:       string(d.OrderType),
		TransactionType: string(d.TransactionType),
		Quantity:        d.Qty,
		Price:           deref(d.Price),
		TriggerPrice:    deref(d.TriggerPrice),
	})
	return orderResult(resp.OrderID, err)
}

func (k *KiteBackend) ModifyOrder(ctx context.Context, orderID string, patch types.OrderPatch) (types.OrderResult, error) {
	if err := k.requireToken(ctx); err != nil {
		return types.OrderResult{}, err
	}
	params := kiteconnect.OrderParams{
		Price:        deref(patch.Price),
		TriggerPrice: deref(patch.TriggerPrice),
	}
	if patch.Qty != nil {
		params.Quantity = *patch.Qty
	}
	if patch.OrderType != nil {
		params.OrderType = string(*patch.OrderType)
	}
	if patch.Validity != nil {
		params.Validity = string(*patch.Validity)
	}
	_, err := k.kc.ModifyOrder(kiteconnect.VarietyRegular, orderID, params)
	return orderResult(orderID, err)
}

func (k *KiteBackend) CancelOrder(ctx context.Context, orderID string) (types.OrderResult, error) {
	if err := k.requireToken(ctx); err != nil {
		return types.OrderResult{}, err
	}
	_, err := k.kc.CancelOrder(kiteconnect.VarietyRegular, orderID, nil)
	return orderResult(orderID, err)
}

// Kite reports some quantities as float64 and others as int.
func asInt[N int | int64 | float64](v N) int {
	return int(v)
}

type timestamp interface {
	IsZero() bool
	Format(layout string) string
}

func stamp(t timestamp) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
