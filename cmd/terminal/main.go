package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketvalues/internal/logger"
	"marketvalues/internal/order"
	"marketvalues/internal/trace"
	"marketvalues/internal/types"
)

type orderFlags struct {
	symbol, side, orderType, product, validity string
	qty                                        int
	price, trigger                             float64
	yes                                        bool
}

type cliFlags struct {
	configPath, selectSym string
	link, unlink          bool
	closeAll              bool
	cancelID, modifyID    string
	order                 orderFlags
}

func main() {
	var cf cliFlags
	flag.StringVar(&cf.configPath, "config", "config.yaml", "path to the YAML config")
	flag.StringVar(&cf.selectSym, "select", "", "select and persist a symbol to follow")
	flag.BoolVar(&cf.link, "link", false, "print the broker authorisation URL and exit")
	flag.BoolVar(&cf.unlink, "unlink", false, "remove the broker link and exit")
	flag.BoolVar(&cf.closeAll, "close-positions", false, "flatten every open position at market")
	flag.StringVar(&cf.cancelID, "cancel", "", "cancel the open order with this id")
	flag.StringVar(&cf.modifyID, "modify", "", "modify the open order with this id using -qty, -price and -trigger")
	of := &cf.order
	flag.StringVar(&of.symbol, "symbol", "", "place an order for this symbol")
	flag.StringVar(&of.side, "side", string(types.Buy), "BUY or SELL")
	flag.StringVar(&of.orderType, "type", string(types.Market), "MARKET, LIMIT, SL or SL-M")
	flag.StringVar(&of.product, "product", string(types.ProductCNC), "CNC, MIS or D")
	flag.StringVar(&of.validity, "validity", string(types.ValidityDay), "DAY or IOC")
	flag.IntVar(&of.qty, "qty", 1, "order quantity")
	flag.Float64Var(&of.price, "price", 0, "limit price (LIMIT, SL)")
	flag.Float64Var(&of.trigger, "trigger", 0, "trigger price (SL, SL-M)")
	flag.BoolVar(&of.yes, "yes", false, "skip the confirmation prompt")
	flag.Parse()

	if err := initializeSystem(); err != nil {
		log.Fatal(err)
	}
	if err := run(cf); err != nil {
		log.Fatal(err)
	}
}

// run owns every resource the terminal opens; its defers have all run by
// the time an error reaches main.
func run(cf cliFlags) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = trace.Shutdown(sctx)
	}()

	cfg, err := loadConfig(ctx, cf.configPath)
	if err != nil {
		return err
	}

	t, err := buildTerminal(ctx, cfg)
	if err != nil {
		return err
	}
	defer t.shutdown(context.Background())

	if cf.selectSym != "" {
		if err := t.feed.SelectSymbol(ctx, strings.ToUpper(cf.selectSym)); err != nil {
			logger.Warn(ctx, "Selected symbol not persisted", "error", err)
		}
	}

	switch {
	case cf.link:
		u, err := t.session.BeginLink(ctx)
		if err != nil {
			return fmt.Errorf("begin broker link: %w", err)
		}
		fmt.Println(u)
		return nil
	case cf.unlink:
		if err := t.session.Unlink(ctx); err != nil {
			return fmt.Errorf("unlink broker: %w", err)
		}
		logger.Info(ctx, "Broker account unlinked")
		return nil
	}

	t.start(ctx)

	if cf.order.symbol != "" {
		placeFromFlags(ctx, t, cf.order)
	}
	if cf.cancelID != "" {
		reportMutation(ctx, "Order cancelled", cf.cancelID)(t.session.CancelOrder(ctx, cf.cancelID))
	}
	if cf.modifyID != "" {
		reportMutation(ctx, "Order modified", cf.modifyID)(t.session.ModifyOrder(ctx, cf.modifyID, cf.order.patch()))
	}
	if cf.closeAll {
		closePositions(ctx, t)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	quoteTick := time.NewTicker(30 * time.Second)
	defer quoteTick.Stop()
	eodTick := time.NewTicker(60 * time.Second)
	defer eodTick.Stop()

	logger.Info(ctx, "Terminal started", "symbol", t.feed.Selected(), "provider", cfg.Broker.Provider)
	for {
		select {
		case <-quoteTick.C:
			t.logQuote(ctx)
		case <-eodTick.C:
			if ok, _ := t.summarizer.ShouldRunNow(); ok {
				_, _ = t.summarizer.SummarizeToday()
			}
		case <-sigc:
			logger.Info(ctx, "Shutting down...")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (of orderFlags) draft() types.OrderDraft {
	d := types.NewOrderDraft(strings.ToUpper(of.symbol))
	d.TransactionType = types.TransactionType(strings.ToUpper(of.side))
	d.OrderType = types.OrderType(strings.ToUpper(of.orderType))
	d.Product = types.Product(strings.ToUpper(of.product))
	d.Validity = types.Validity(strings.ToUpper(of.validity))
	d.Qty = of.qty
	if of.price > 0 {
		d.Price = types.Float(of.price)
	}
	if of.trigger > 0 {
		d.TriggerPrice = types.Float(of.trigger)
	}
	return d
}

// patch carries only the modify fields given on the command line.
func (of orderFlags) patch() types.OrderPatch {
	var p types.OrderPatch
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "qty":
			qty := of.qty
			p.Qty = &qty
		case "price":
			p.Price = types.Float(of.price)
		case "trigger":
			p.TriggerPrice = types.Float(of.trigger)
		case "type":
			ot := types.OrderType(strings.ToUpper(of.orderType))
			p.OrderType = &ot
		case "validity":
			v := types.Validity(strings.ToUpper(of.validity))
			p.Validity = &v
		}
	})
	return p
}

func reportMutation(ctx context.Context, okMsg, orderID string) func(types.OrderResult, error) {
	return func(res types.OrderResult, err error) {
		switch {
		case err != nil:
			logger.Warn(ctx, "Order change failed", "order_id", orderID, "error", err)
		case !res.OK():
			logger.Warn(ctx, "Order change rejected", "order_id", orderID, "message", res.Message)
		default:
			logger.Info(ctx, okMsg, "order_id", orderID)
		}
	}
}

// placeFromFlags runs one order attempt: validate, confirm on stdin, place.
func placeFromFlags(ctx context.Context, t *terminal, of orderFlags) {
	c := order.New(t.session, t.journal, of.draft())
	if err := c.Submit(); err != nil {
		logger.Warn(ctx, "Order not submitted", "error", err)
		return
	}

	if !of.yes && !confirm(describe(c.Draft())) {
		_ = c.Cancel()
		logger.Info(ctx, "Order cancelled")
		return
	}

	res, err := c.Confirm(ctx)
	if err != nil {
		logger.Warn(ctx, "Order failed", "error", err, "message", res.Message)
		return
	}
	if !res.OK() {
		logger.Warn(ctx, "Order rejected", "message", res.Message)
		return
	}
	logger.Info(ctx, "Order placed", "order_id", res.OrderID, "attempt_id", c.AttemptID())
}

func closePositions(ctx context.Context, t *terminal) {
	for _, p := range t.session.Positions() {
		if p.Quantity == 0 {
			continue
		}
		res, err := order.ClosePosition(ctx, t.session, t.journal, p)
		switch {
		case err != nil:
			logger.Warn(ctx, "Close position failed", "symbol", p.Label(), "error", err, "message", res.Message)
		case !res.OK():
			logger.Warn(ctx, "Close position rejected", "symbol", p.Label(), "message", res.Message)
		default:
			logger.Info(ctx, "Position closed", "symbol", p.Label(), "order_id", res.OrderID)
		}
	}
}

func describe(d types.OrderDraft) string {
	s := fmt.Sprintf("%s %d %s %s %s", d.TransactionType, d.Qty, d.Symbol, d.OrderType, d.Product)
	if d.Price != nil {
		s += fmt.Sprintf(" @ %.2f", *d.Price)
	}
	if d.TriggerPrice != nil {
		s += fmt.Sprintf(" trigger %.2f", *d.TriggerPrice)
	}
	return s
}

func confirm(summary string) bool {
	fmt.Printf("Confirm %s? [y/N] ", summary)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
