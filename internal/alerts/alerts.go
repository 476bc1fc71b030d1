package alerts

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"marketvalues/internal/fanout"
	"marketvalues/internal/logger"
	"marketvalues/internal/types"
)

// History keeps the alerts triggered during this session, newest first.
type History struct {
	mu        sync.RWMutex
	triggered []types.Alert
	now       func() time.Time
}

func NewHistory() *History {
	return &History{now: time.Now}
}

func (h *History) Add(a types.Alert) {
	if a.TriggeredAt == nil {
		t := h.now()
		a.TriggeredAt = &t
	}
	a.IsActive = false

	h.mu.Lock()
	defer h.mu.Unlock()
	h.triggered = append([]types.Alert{a}, h.triggered...)
}

func (h *History) List() []types.Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.Alert, len(h.triggered))
	copy(out, h.triggered)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.triggered)
}

// Attach records every alert published on d until the returned function is called.
func (h *History) Attach(d *fanout.Dispatcher[types.Alert]) (detach func()) {
	return d.Subscribe(func(ctx context.Context, a types.Alert) {
		h.Add(a)
		logger.AlertTriggered(ctx, a.Symbol, string(a.Condition), a.TargetPrice, a.CurrentPrice, "alert_id", a.ID)
	})
}

// Notification renders the desktop notification title and body.
func Notification(a types.Alert) (title, body string) {
	title = "Price Alert: " + a.Symbol
	body = fmt.Sprintf("%s is %s %s (now %s)", a.Symbol, a.Condition, num(a.TargetPrice), num(a.CurrentPrice))
	return title, body
}

// Toast renders the short in-app message.
func Toast(a types.Alert) string {
	return fmt.Sprintf("%s hit %s %s!", a.Symbol, a.Condition, num(a.TargetPrice))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
