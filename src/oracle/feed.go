package oracle

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
)

type tick struct {
	price decimal.Decimal
	at    time.Time
}

type feedMessage struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
}

// Feed keeps the most recent streamed tick per symbol. Run dials the feed
// and reconnects with backoff until the context is cancelled; Last serves
// the cached tick while it is fresh.
type Feed struct {
	url   string
	stale time.Duration

	mu    sync.RWMutex
	ticks map[string]tick
}

func NewFeed(cfg Config) *Feed {
	return &Feed{
		url:   cfg.FeedURL,
		stale: time.Duration(cfg.FeedStaleSeconds) * time.Second,
		ticks: make(map[string]tick),
	}
}

// Last returns the cached price for symbol if a fresh tick exists.
func (f *Feed) Last(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	t, ok := f.ticks[strings.ToUpper(symbol)]
	f.mu.RUnlock()

	if !ok || time.Since(t.at) > f.stale {
		return decimal.Zero, false
	}
	return t.price, true
}

func (f *Feed) store(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	f.ticks[strings.ToUpper(symbol)] = tick{price: price, at: time.Now()}
	f.mu.Unlock()
}

// Run consumes the feed until ctx is cancelled. Connection errors back off
// and redial; a feed outage only degrades quotes to REST.
func (f *Feed) Run(ctx context.Context) {
	if f.url == "" {
		return
	}

	backoff := time.Second
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("Tick feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var m feedMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			continue
		}
		if m.Symbol == "" || m.LastPrice <= 0 {
			continue
		}
		f.store(m.Symbol, decimal.NewFromFloat(m.LastPrice))
	}
}
