package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

const (
	btcUSDCacheKey  = "btc:usd:price"
	DefaultCacheTTL = 60 * time.Second
)

var ErrRateMissing = errors.New("USD rate not found in price response")

type exchangeRates struct {
	Data struct {
		Currency string            `json:"currency"`
		Rates    map[string]string `json:"rates"`
	} `json:"data"`
}

// CoinbaseQuoter reads the BTC spot rate from the Coinbase exchange-rates
// endpoint and caches it for ttl.
type CoinbaseQuoter struct {
	url        string
	httpClient *http.Client
	cache      Cache
	ttl        time.Duration
	logger     *lecho.Logger
}

func NewCoinbaseQuoter(url string, timeout time.Duration, cache Cache, ttl time.Duration, logger *lecho.Logger) *CoinbaseQuoter {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &CoinbaseQuoter{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		ttl:        ttl,
		logger:     logger,
	}
}

// BTCUSD returns the price of one BTC in USD.
func (q *CoinbaseQuoter) BTCUSD(ctx context.Context) (decimal.Decimal, error) {
	cached, ok, err := q.cache.Get(ctx, btcUSDCacheKey)
	if err != nil {
		// a broken cache only costs an extra request
		q.logger.Warnf("pricing: reading cached BTC price: %v", err)
	}
	if ok {
		if price, err := decimal.NewFromString(cached); err == nil {
			return price, nil
		}
		q.logger.Warnf("pricing: ignoring unreadable cached BTC price %q", cached)
	}

	price, err := q.fetch(ctx)
	if err != nil {
		q.logger.Errorf("pricing: fetching BTC price: %v", err)
		return decimal.Zero, fmt.Errorf("unable to fetch BTC price: %w", err)
	}

	if err := q.cache.Set(ctx, btcUSDCacheKey, price.String(), q.ttl); err != nil {
		q.logger.Warnf("pricing: caching BTC price: %v", err)
	}
	return price, nil
}

func (q *CoinbaseQuoter) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	rates := exchangeRates{}
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return decimal.Zero, err
	}
	usd, ok := rates.Data.Rates["USD"]
	if !ok || usd == "" {
		return decimal.Zero, ErrRateMissing
	}
	price, err := decimal.NewFromString(usd)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing USD rate %q: %w", usd, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive USD rate %s", usd)
	}
	return price, nil
}
