package types

import (
	"encoding/json"
	"math"
	"time"
)

type Quote struct {
	Symbol        string  `json:"symbol"`
	CurrentPrice  float64 `json:"current_price"`
	PreviousClose float64 `json:"previous_close"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
}

type AlertCondition string

const (
	ConditionAbove AlertCondition = "above"
	ConditionBelow AlertCondition = "below"
)

type Alert struct {
	ID           int64          `json:"id"`
	Symbol       string         `json:"symbol"`
	Condition    AlertCondition `json:"condition"`
	TargetPrice  float64        `json:"target_price"`
	CurrentPrice float64        `json:"current_price"`
	IsActive     bool           `json:"is_active"`
	TriggeredAt  *time.Time     `json:"triggered_at,omitempty"`
}

type TransactionType string

const (
	Buy  TransactionType = "BUY"
	Sell TransactionType = "SELL"
)

// Opposite returns the side that flattens a position opened with t.
func (t TransactionType) Opposite() TransactionType {
	if t == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	Market         OrderType = "MARKET"
	Limit          OrderType = "LIMIT"
	StopLoss       OrderType = "SL"
	StopLossMarket OrderType = "SL-M"
)

type Product string

const (
	ProductCNC      Product = "CNC"
	ProductMIS      Product = "MIS"
	ProductDelivery Product = "D"
)

type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
)

// OrderDraft is the user-editable order form. Price and
// TriggerPrice are nil when not entered and go out as JSON null.
type OrderDraft struct {
	Symbol          string          `json:"symbol"`
	TransactionType TransactionType `json:"transaction_type"`
	OrderType       OrderType       `json:"order_type"`
	Product         Product         `json:"product"`
	Qty             int             `json:"qty"`
	Price           *float64        `json:"price"`
	TriggerPrice    *float64        `json:"trigger_price"`
	Validity        Validity        `json:"validity"`
}

// NewOrderDraft returns a draft carrying the order form defaults.
func NewOrderDraft(symbol string) OrderDraft {
	return OrderDraft{
		Symbol:          symbol,
		TransactionType: Buy,
		OrderType:       Market,
		Product:         ProductCNC,
		Qty:             1,
		Validity:        ValidityDay,
	}
}

func (d OrderDraft) NeedsPrice() bool {
	return d.OrderType == Limit || d.OrderType == StopLoss
}

func (d OrderDraft) NeedsTrigger() bool {
	return d.OrderType == StopLoss || d.OrderType == StopLossMarket
}

// Clone returns a deep copy so a frozen draft cannot be changed through
// shared price pointers.
func (d OrderDraft) Clone() OrderDraft {
	out := d
	if d.Price != nil {
		p := *d.Price
		out.Price = &p
	}
	if d.TriggerPrice != nil {
		p := *d.TriggerPrice
		out.TriggerPrice = &p
	}
	return out
}

// Float is a helper for filling optional price fields.
func Float(v float64) *float64 { return &v }

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type OrderResult struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r OrderResult) OK() bool { return r.Status == StatusSuccess }

// OrderPatch carries the fields of a modify request; nil fields are not sent.
type OrderPatch struct {
	Qty          *int       `json:"qty,omitempty"`
	Price        *float64   `json:"price,omitempty"`
	OrderType    *OrderType `json:"order_type,omitempty"`
	TriggerPrice *float64   `json:"trigger_price,omitempty"`
	Validity     *Validity  `json:"validity,omitempty"`
}

type Position struct {
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	PnL             float64 `json:"pnl"`
	Product         string  `json:"product"`
}

// PnLPercent is pnl over the invested amount, 0 when nothing is invested.
func (p Position) PnLPercent() float64 {
	invested := p.AveragePrice * math.Abs(float64(p.Quantity))
	if invested == 0 {
		return 0
	}
	return p.PnL / invested * 100
}

func (p Position) Label() string {
	if p.TradingSymbol != "" {
		return p.TradingSymbol
	}
	return p.InstrumentToken
}

type Holding struct {
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	Exchange        string  `json:"exchange,omitempty"`
	ISIN            string  `json:"isin,omitempty"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	ClosePrice      float64 `json:"close_price,omitempty"`
	PnL             float64 `json:"pnl"`
	DayChange       float64 `json:"day_change,omitempty"`
	DayChangePct    float64 `json:"day_change_percentage,omitempty"`
}

type Order struct {
	OrderID         string  `json:"order_id"`
	ExchangeOrderID string  `json:"exchange_order_id,omitempty"`
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	TransactionType string  `json:"transaction_type"`
	OrderType       string  `json:"order_type"`
	Product         string  `json:"product"`
	Validity        string  `json:"validity"`
	Quantity        int     `json:"quantity"`
	FilledQuantity  int     `json:"filled_quantity"`
	PendingQuantity int     `json:"pending_quantity"`
	Price           float64 `json:"price"`
	TriggerPrice    float64 `json:"trigger_price"`
	AveragePrice    float64 `json:"average_price"`
	Status          string  `json:"status"`
	StatusMessage   string  `json:"status_message,omitempty"`
	OrderTimestamp  string  `json:"order_timestamp,omitempty"`
}

// Open reports whether the order can still be modified or cancelled.
func (o Order) Open() bool {
	switch o.Status {
	case "open", "OPEN", "trigger pending", "TRIGGER PENDING", "not modified",
		"put order req received", "validation pending":
		return true
	}
	return false
}

type Trade struct {
	TradeID         string  `json:"trade_id"`
	OrderID         string  `json:"order_id"`
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	TransactionType string  `json:"transaction_type"`
	Product         string  `json:"product"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
	ExchangeTime    string  `json:"exchange_timestamp,omitempty"`
}

type Margin struct {
	UsedMargin      float64 `json:"used_margin"`
	PayinAmount     float64 `json:"payin_amount"`
	SpanMargin      float64 `json:"span_margin"`
	AdhocMargin     float64 `json:"adhoc_margin"`
	NotionalCash    float64 `json:"notional_cash"`
	AvailableMargin float64 `json:"available_margin"`
	ExposureMargin  float64 `json:"exposure_margin"`
}

type Funds struct {
	Equity    Margin `json:"equity"`
	Commodity Margin `json:"commodity"`
}

type Profile struct {
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name"`
	Email     string   `json:"email"`
	Broker    string   `json:"broker"`
	Exchanges []string `json:"exchanges,omitempty"`
	Products  []string `json:"products,omitempty"`
}

type LinkStatus struct {
	Linked    bool   `json:"linked"`
	TokenDate string `json:"token_date,omitempty"`
}

// Broker channel message kinds.
const (
	EventConnected   = "connected"
	EventMarketData  = "market_data"
	EventOrderUpdate = "order_update"
	EventError       = "error"
)

type BrokerEvent struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JournalEntry is one order attempt outcome as written to the order journal.
type JournalEntry struct {
	Time      time.Time `json:"time"`
	AttemptID string    `json:"attempt_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	OrderType string    `json:"order_type"`
	Product   string    `json:"product"`
	Qty       int       `json:"qty"`
	Price     float64   `json:"price,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Closing   bool      `json:"closing,omitempty"`
}
