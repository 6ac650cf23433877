package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// How often the trigger and stop sweeps run while the market is open.
	LoopPeriod time.Duration `envconfig:"LOOP_PERIOD" default:"5s"`

	// How often the settlement check runs. After the close cutoff the
	// first check settles every account; later checks are no-ops.
	SettlementPeriod time.Duration `envconfig:"SETTLEMENT_PERIOD" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
