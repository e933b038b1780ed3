package rewards

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Albermonte/validator-election-bot/internal/logger"
	"github.com/Albermonte/validator-election-bot/internal/price"
)

const (
	// LunaExponent is the decimal precision of NIM: 1 NIM = 1e5 Luna.
	LunaExponent = 5

	Crypto = "nim"
	Fiat   = "usd"
)

// BalanceQuery is the part of the chain client the calculator needs.
type BalanceQuery interface {
	AccountBalance(ctx context.Context, address string) (int64, error)
	StakerBalance(ctx context.Context, address string) (int64, error)
}

// Result is the reward balance of one address, rounded to two decimals.
// Price is invalid when the price lookup failed; Fiat is zero then.
type Result struct {
	Native decimal.Decimal
	Fiat   decimal.Decimal
	Price  decimal.NullDecimal
}

type Calculator struct {
	chain  BalanceQuery
	prices price.Provider
}

func NewCalculator(q BalanceQuery, prices price.Provider) *Calculator {
	return &Calculator{chain: q, prices: prices}
}

// Compute fetches the balances of rewardAddress and converts them to NIM and USD.
// A failing account lookup returns a zero Result together with the error.
// A failing staker lookup counts as zero stake.
func (c *Calculator) Compute(ctx context.Context, rewardAddress string) (Result, error) {
	accountBalance, accountErr := c.chain.AccountBalance(ctx, rewardAddress)
	stakerBalance, stakerErr := c.chain.StakerBalance(ctx, rewardAddress)
	if accountErr != nil {
		return Result{Native: decimal.Zero, Fiat: decimal.Zero}, errors.WithMessagef(accountErr, "account balance of %s", rewardAddress)
	}
	if stakerErr != nil {
		logger.Debug("REWARD", "No staker balance for %s: %v", rewardAddress, stakerErr)
		stakerBalance = 0
	}

	balance := decimal.New(accountBalance+stakerBalance, -LunaExponent)
	result := Result{
		Native: balance.Round(2),
		Fiat:   decimal.Zero,
	}

	p, ok := c.prices.Price(ctx, Crypto, Fiat)
	if !ok {
		return result, nil
	}

	result.Fiat = balance.Mul(p).Round(2)
	result.Price = decimal.NewNullDecimal(p)
	return result, nil
}
