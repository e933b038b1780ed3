package price

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Albermonte/validator-election-bot/internal/logger"
)

const (
	DefaultAPIURL = "https://api.coingecko.com/api/v3"
	DefaultCoinID = "nimiq-2"
)

// Provider converts one unit of crypto into fiat at the current market price.
// ok is false when no price is available; callers treat that as a partial result.
type Provider interface {
	Price(ctx context.Context, crypto, fiat string) (price decimal.Decimal, ok bool)
}

// CoinGecko reads spot prices from the CoinGecko simple price endpoint.
type CoinGecko struct {
	client  *resty.Client
	coinIDs map[string]string
}

// NewCoinGecko builds a provider. coinIDs maps ticker symbols (e.g. "nim")
// to CoinGecko ids (e.g. "nimiq-2").
func NewCoinGecko(apiURL string, timeout time.Duration, coinIDs map[string]string) *CoinGecko {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	ids := make(map[string]string, len(coinIDs))
	for k, v := range coinIDs {
		ids[strings.ToLower(k)] = v
	}
	return &CoinGecko{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(apiURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		coinIDs: ids,
	}
}

func (c *CoinGecko) Price(ctx context.Context, crypto, fiat string) (decimal.Decimal, bool) {
	p, err := c.fetch(ctx, crypto, fiat)
	if err != nil {
		logger.Warn("PRICE", "Price lookup %s/%s failed: %v", crypto, fiat, err)
		return decimal.Zero, false
	}
	return p, true
}

func (c *CoinGecko) fetch(ctx context.Context, crypto, fiat string) (decimal.Decimal, error) {
	id, ok := c.coinIDs[strings.ToLower(crypto)]
	if !ok {
		return decimal.Zero, errors.Errorf("no coin id configured for %q", crypto)
	}
	vs := strings.ToLower(fiat)

	var out map[string]map[string]decimal.Decimal
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"ids": id, "vs_currencies": vs}).
		SetResult(&out).
		Get("/simple/price")
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "simple/price request")
	}
	if resp.IsError() {
		return decimal.Zero, errors.Errorf("simple/price: unexpected status %d", resp.StatusCode())
	}

	p, ok := out[id][vs]
	if !ok || !p.IsPositive() {
		return decimal.Zero, errors.Errorf("no %s price for %s", vs, id)
	}
	return p, nil
}
