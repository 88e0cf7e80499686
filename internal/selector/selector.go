// Package selector picks which of a customer's tokens pays for a purchase and
// computes the exact smallest-unit amount owed.
package selector

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/models"
)

// Priority tiers, lowest number wins.
const (
	TierRelay     = 1
	TierParachain = 2
	TierOther     = 3
)

var relayChains = map[uint32]struct{}{
	config.ChainPolkadot: {},
	config.ChainKusama:   {},
}

var parachains = map[uint32]struct{}{
	config.ChainAssetHub:  {},
	config.ChainMoonbeam:  {},
	config.ChainHydration: {},
	config.ChainAcala:     {},
	config.ChainBifrost:   {},
}

// Selection is the token chosen for a payment and the amount owed in its
// smallest unit.
type Selection struct {
	Token  models.PricedToken
	Amount *big.Int
	Tier   int
}

// TierOf classifies a chain into its selection tier.
func TierOf(chainID uint32) int {
	if _, ok := relayChains[chainID]; ok {
		return TierRelay
	}
	if _, ok := parachains[chainID]; ok {
		return TierParachain
	}
	return TierOther
}

// Select picks the highest-value viable token from the best non-empty tier.
// A token whose amount for the target truncates to zero is not viable.
// The input slice is not modified. Ties keep input order.
func Select(tokens []models.PricedToken, targetUSD decimal.Decimal) (Selection, error) {
	if !targetUSD.IsPositive() {
		return Selection{}, fmt.Errorf("%w: target must be positive, got %s", config.ErrInvalidAmount, targetUSD)
	}

	var tiers [TierOther + 1][]candidate
	viable := 0
	for _, t := range tokens {
		amount, ok := viableAmount(t, targetUSD)
		if !ok {
			continue
		}
		tier := TierOf(t.ChainID)
		tiers[tier] = append(tiers[tier], candidate{token: t, amount: amount})
		viable++
	}

	if viable == 0 {
		slog.Info("no viable token",
			"targetUSD", targetUSD.String(),
			"candidates", len(tokens),
		)
		return Selection{}, fmt.Errorf("%w: %d tokens checked for $%s", config.ErrNoViableToken, len(tokens), targetUSD.StringFixed(2))
	}

	for tier := TierRelay; tier <= TierOther; tier++ {
		group := tiers[tier]
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].token.ValueUSD > group[j].token.ValueUSD
		})
		chosen := group[0]

		slog.Info("payment token selected",
			"chainID", chosen.token.ChainID,
			"symbol", chosen.token.Symbol,
			"tier", tier,
			"valueUSD", chosen.token.ValueUSD,
			"priceUSD", chosen.token.PriceUSD,
			"amount", chosen.amount.String(),
			"viable", viable,
		)

		return Selection{Token: chosen.token, Amount: chosen.amount, Tier: tier}, nil
	}

	// Unreachable: viable > 0 guarantees a non-empty tier.
	return Selection{}, config.ErrNoViableToken
}

type candidate struct {
	token  models.PricedToken
	amount *big.Int
}

// viableAmount returns the amount owed in t when t is priced, covers the
// target and the target is worth at least one smallest unit of it.
func viableAmount(t models.PricedToken, targetUSD decimal.Decimal) (*big.Int, bool) {
	if t.PriceUSD <= 0 {
		return nil, false
	}
	if !decimal.NewFromFloat(t.ValueUSD).GreaterThanOrEqual(targetUSD) {
		return nil, false
	}
	amount, err := ComputeAmount(targetUSD, t.PriceUSD, t.Decimals)
	if err != nil || amount.Sign() <= 0 {
		slog.Debug("token cannot express target",
			"chainID", t.ChainID,
			"symbol", t.Symbol,
			"decimals", t.Decimals,
			"priceUSD", t.PriceUSD,
			"targetUSD", targetUSD.String(),
		)
		return nil, false
	}
	return amount, true
}

// ComputeAmount converts a USD target into smallest units of a token:
//
//	round(target*1e8) * 10^decimals / round(price*1e8)
//
// Both scaled values are rounded to integers before the single truncating
// division, so the result can be short of the exact target by less than one
// smallest unit.
func ComputeAmount(targetUSD decimal.Decimal, priceUSD float64, decimals uint8) (*big.Int, error) {
	scaledTarget := targetUSD.Shift(config.FixedPointScale).Round(0).BigInt()
	scaledPrice := decimal.NewFromFloat(priceUSD).Shift(config.FixedPointScale).Round(0).BigInt()
	if scaledPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price %v rounds to zero", config.ErrNoViableToken, priceUSD)
	}

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	num := new(big.Int).Mul(scaledTarget, unit)
	return num.Quo(num, scaledPrice), nil
}
