package chain

import (
	"fmt"

	"github.com/ziflex/lecho/v3"
)

// Backend is a ledger client able to both observe and allocate addresses.
type Backend interface {
	Observer
	AddressAllocator
	Close()
}

func InitBackend(c *Config, logger *lecho.Logger) (Backend, error) {
	switch c.Backend {
	case BITCOIND_BACKEND:
		b, err := NewBitcoindObserver(c, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case HIRO_BACKEND:
		h, err := NewHiroObserver(c, logger)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("chain backend not one of the defined options: %s", c.Backend)
	}
}
