package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"marketvalues/internal/alerts"
	"marketvalues/internal/api"
	"marketvalues/internal/broker"
	"marketvalues/internal/broker/brokerobs"
	"marketvalues/internal/channel"
	"marketvalues/internal/config"
	"marketvalues/internal/eod"
	"marketvalues/internal/eod/eodobs"
	"marketvalues/internal/fanout"
	"marketvalues/internal/feed"
	"marketvalues/internal/interfaces"
	"marketvalues/internal/logger"
	"marketvalues/internal/prefs"
	"marketvalues/internal/trace"
	"marketvalues/internal/tradelog"
	"marketvalues/internal/types"

	"github.com/joho/godotenv"
)

// initializeSystem initializes logger and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// loadConfig reads path, falling back to the built-in defaults when the
// file does not exist.
func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info(ctx, "No config file, using defaults", "path", path)
		return config.Parse(nil)
	}
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// terminal holds every store and channel of one running client.
type terminal struct {
	cfg        *config.Config
	state      *prefs.Store
	tokens     interfaces.TokenSource
	session    *broker.Session
	stream     *broker.Stream
	feed       *feed.Store
	history    *alerts.History
	journal    *tradelog.Journal
	summarizer interfaces.EodSummarizer

	prices     *channel.Connection
	brokerConn *channel.Connection
	detach     []func()
}

func buildTerminal(ctx context.Context, cfg *config.Config) (*terminal, error) {
	state, err := prefs.Open(cfg.State.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open client state: %w", err)
	}
	t := &terminal{cfg: cfg, state: state}

	// An explicit token in the environment wins over the stored one.
	t.tokens = prefs.FirstToken{prefs.StaticToken(os.Getenv(cfg.Backend.TokenEnv)), state}

	t.session = broker.NewSession(initializeBroker(ctx, cfg, t.tokens))
	t.journal = tradelog.New(cfg.Journal.Dir)
	t.summarizer = eodobs.Wrap(eod.NewSummarizer(cfg.Journal.Dir))

	alertBus := fanout.NewDispatcher[types.Alert]("alerts")
	t.history = alerts.NewHistory()
	t.detach = append(t.detach,
		t.history.Attach(alertBus),
		alertBus.Subscribe(func(ctx context.Context, a types.Alert) {
			title, body := alerts.Notification(a)
			logger.Info(ctx, title, "body", body, "toast", alerts.Toast(a))
		}),
	)

	t.feed = feed.NewStore(state, cfg.DefaultSymbol)
	if err := t.feed.Load(ctx); err != nil {
		logger.Warn(ctx, "Could not restore selected symbol", "error", err)
	}
	prices := feed.NewPriceHandler(t.feed, alertBus)
	t.prices = channel.New(channel.Options{
		Name:           "prices",
		URL:            cfg.Channels.Prices.URL,
		ReconnectDelay: cfg.Channels.Prices.ReconnectDelay(),
		OnMessage:      prices.HandleMessage,
		OnStateChange:  prices.HandleState,
	})

	marketData := fanout.NewDispatcher[json.RawMessage]("market_data")
	t.detach = append(t.detach, marketData.Subscribe(func(ctx context.Context, data json.RawMessage) {
		logger.Debug(ctx, "Broker market data", "bytes", len(data))
	}))
	t.stream = broker.NewStream(t.tokens, t.session, marketData)
	t.brokerConn = channel.New(channel.Options{
		Name:           "broker",
		URL:            cfg.Channels.Broker.URL,
		ReconnectDelay: cfg.Channels.Broker.ReconnectDelay(),
		OnOpen:         t.stream.OnOpen,
		OnMessage:      t.stream.HandleMessage,
		OnStateChange:  t.stream.HandleState,
	})
	t.stream.Bind(t.brokerConn)
	t.session.OnUnlinked(t.stream.Disconnect)
	return t, nil
}

// initializeBroker picks the broker backend and wraps it with observability
func initializeBroker(ctx context.Context, cfg *config.Config, tokens interfaces.TokenSource) interfaces.BrokerAPI {
	var backend interfaces.BrokerAPI

	switch cfg.Broker.Provider {
	case config.ProviderKite:
		backend = broker.NewKiteBackend(broker.KiteParams{
			APIKey:      os.Getenv(cfg.Broker.Kite.APIKeyEnv),
			AccessToken: os.Getenv(cfg.Broker.Kite.AccessTokenEnv),
			Exchange:    cfg.Broker.Kite.Exchange,
			BaseURI:     cfg.Broker.Kite.BaseURI,
		})
		logger.Info(ctx, "Using Zerodha Kite directly", "exchange", cfg.Broker.Kite.Exchange)
	default:
		client := api.NewClient(
			api.WithBaseURL(cfg.Backend.BaseURL),
			api.WithTimeout(cfg.Timeout()),
			api.WithLogging(true),
		)
		backend = broker.NewRESTBackend(client, tokens)
		logger.Info(ctx, "Using Upstox through the dashboard backend", "base_url", cfg.Backend.BaseURL)
	}

	// Wrap with observability middleware
	return brokerobs.Wrap(backend)
}

// start connects the price channel and, when the broker is linked, the
// broker channel plus a first load of every account resource.
func (t *terminal) start(ctx context.Context) {
	t.prices.Connect(ctx)

	st, err := t.session.CheckStatus(ctx)
	if err != nil {
		logger.Warn(ctx, "Broker status check failed", "error", err)
		return
	}
	if !st.Linked {
		logger.Info(ctx, "Broker account not linked")
		return
	}
	logger.Info(ctx, "Broker account linked", "token_date", st.TokenDate)
	t.stream.Connect(ctx)
	t.session.RefreshAll(ctx)
	t.logAccount(ctx)
}

func (t *terminal) logAccount(ctx context.Context) {
	if p, ok := t.session.Profile(); ok {
		logger.Info(ctx, "Broker profile", "user_id", p.UserID, "user_name", p.UserName)
	}
	if f, ok := t.session.Funds(); ok {
		logger.Info(ctx, "Funds", "equity_available", f.Equity.AvailableMargin, "equity_used", f.Equity.UsedMargin)
	}
	for _, p := range t.session.Positions() {
		logger.Info(ctx, "Position",
			"symbol", p.Label(),
			"qty", p.Quantity,
			"pnl", p.PnL,
			"pnl_pct", fmt.Sprintf("%.2f", p.PnLPercent()),
		)
	}
	logger.Info(ctx, "Account loaded",
		"holdings", len(t.session.Holdings()),
		"orders", len(t.session.Orders()),
		"trades", len(t.session.Trades()),
	)
}

func (t *terminal) logQuote(ctx context.Context) {
	sym := t.feed.Selected()
	q, ok := t.feed.Quote(sym)
	if !ok {
		logger.Debug(ctx, "No quote for selected symbol", "symbol", sym, "connected", t.feed.Connected())
		return
	}
	logger.Info(ctx, "Quote",
		"symbol", q.Symbol,
		"price", q.CurrentPrice,
		"change", q.Change,
		"percent_change", q.PercentChange,
		"feed_connected", t.feed.Connected(),
		"broker_stream", t.stream.Connected(),
	)
}

// shutdown disconnects both channels, compresses old journals and writes
// the day's summary.
func (t *terminal) shutdown(ctx context.Context) {
	t.prices.Disconnect()
	t.stream.Disconnect()
	for _, d := range t.detach {
		d()
	}

	if n := t.cfg.Journal.RetentionDays; n > 0 {
		if err := t.journal.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old journals", "error", err)
		}
	}
	if _, err := t.summarizer.SummarizeToday(); err != nil {
		logger.Warn(ctx, "End of day summary failed", "error", err)
	}
	if err := t.state.Close(); err != nil {
		logger.Warn(ctx, "Failed to close client state", "error", err)
	}
}
