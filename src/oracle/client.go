package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
)

const (
	// Default retry configuration
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 200 * time.Millisecond
	defaultRetryMaxBackoff = 2 * time.Second
)

type quoteEntry struct {
	LastPrice float64 `json:"last_price"`
}

// Client fetches last-traded prices from the quote service. When a Feed is
// attached, fresh streamed ticks answer first and REST is the fallback.
type Client struct {
	exchange string
	http     *resty.Client
	feed     *Feed
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 || code == 408 {
		return true
	}
	return false
}

func NewClient(cfg Config) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.QuoteBaseURL).
		SetTimeout(time.Duration(cfg.QuoteTimeout) * time.Second).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &Client{
		exchange: cfg.DefaultExchange,
		http:     httpClient,
	}
}

// WithFeed attaches a streaming tick cache consulted before REST.
func (c *Client) WithFeed(feed *Feed) *Client {
	c.feed = feed
	return c
}

// GetPrice returns the last traded price for symbol. ok is false when
// neither the feed nor the quote service produced a positive price.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if c.feed != nil {
		if price, ok := c.feed.Last(symbol); ok {
			return price, true
		}
	}

	key := fmt.Sprintf("%s:%s", c.exchange, symbol)

	var quotes map[string]quoteEntry
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbols", key).
		SetResult(&quotes).
		Get("/quotes")

	if err != nil {
		logger.WithField("symbol", symbol).WithError(err).Warn("Quote request failed")
		return decimal.Zero, false
	}
	if resp.StatusCode() != 200 {
		logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"status": resp.StatusCode(),
		}).Warn("Quote service returned non-200")
		return decimal.Zero, false
	}

	entry, found := quotes[key]
	if !found || entry.LastPrice <= 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(entry.LastPrice), true
}
