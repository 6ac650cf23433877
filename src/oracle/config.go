package oracle

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	QuoteBaseURL string `envconfig:"QUOTE_BASE_URL" default:"http://localhost:8001"`
	QuoteTimeout int    `envconfig:"QUOTE_TIMEOUT_SECONDS" default:"3"`

	// Optional websocket tick feed. When set, ticks streamed here serve
	// quotes before any REST round trip.
	FeedURL string `envconfig:"QUOTE_FEED_URL" default:""`

	// Ticks older than this many seconds fall back to REST.
	FeedStaleSeconds int `envconfig:"QUOTE_FEED_STALE_SECONDS" default:"10"`

	DefaultExchange string `envconfig:"QUOTE_DEFAULT_EXCHANGE" default:"NSE"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
