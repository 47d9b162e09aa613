package chain

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BITCOIND_BACKEND = "bitcoind"
	HIRO_BACKEND     = "hiro"
)

type Config struct {
	Backend          string `envconfig:"CHAIN_BACKEND" default:"bitcoind"` // bitcoind, hiro
	ActivityWindow   int    `envconfig:"CHAIN_ACTIVITY_WINDOW" default:"20"`
	AmountTolerance  int64  `envconfig:"CHAIN_AMOUNT_TOLERANCE"` // 0 means the backend default
	RequestTimeoutMs int    `envconfig:"CHAIN_REQUEST_TIMEOUT_MS" default:"10000"`

	BitcoindHost    string `envconfig:"BITCOIND_HOST" default:"localhost:8332"`
	BitcoindUser    string `envconfig:"BITCOIND_USER"`
	BitcoindPass    string `envconfig:"BITCOIND_PASS"`
	BitcoindNetwork string `envconfig:"BITCOIND_NETWORK" default:"mainnet"` // mainnet, testnet3, regtest, signet
	BitcoindTLS     bool   `envconfig:"BITCOIND_TLS" default:"false"`

	HiroAPIUrl        string `envconfig:"HIRO_API_URL" default:"https://api.hiro.so"`
	HiroEscrowAddress string `envconfig:"HIRO_ESCROW_ADDRESS"`
}

func LoadConfig() (c *Config, err error) {
	c = &Config{}
	err = envconfig.Process("", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}
