// Package portfolio builds the priced list of a customer's token balances
// across every configured chain.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/metrics"
	"github.com/Fantasim/tappos/internal/models"
	"github.com/Fantasim/tappos/internal/validate"
)

// BalanceReader reads token balances from configured chains.
type BalanceReader interface {
	Chains() []models.Chain
	Balance(ctx context.Context, chainID uint32, address string, token models.Token) (*big.Int, error)
}

// PriceOracle returns USD prices keyed by feed ID. Missing feeds are absent
// from the map; an error may accompany a partial map.
type PriceOracle interface {
	GetPrices(ctx context.Context, ids []string) (map[string]float64, error)
}

// Evaluator fetches and prices a customer's balances.
type Evaluator struct {
	chains  BalanceReader
	prices  PriceOracle
	metrics metrics.Recorder
}

// NewEvaluator creates an Evaluator. rec may be nil.
func NewEvaluator(chains BalanceReader, prices PriceOracle, rec metrics.Recorder) *Evaluator {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Evaluator{chains: chains, prices: prices, metrics: rec}
}

type fetchJob struct {
	chain models.Chain
	token models.Token
}

// GetPricedBalances returns every configured token balance of address on
// chains of the matching kind, in chain then token order. A chain whose
// balance reads fail is left out; FETCH_ERROR is returned only when every
// candidate chain failed. Tokens without a price carry PriceUSD 0.
func (e *Evaluator) GetPricedBalances(ctx context.Context, address string) ([]models.PricedToken, error) {
	kind := validate.Kind(address)
	if kind == "" {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidAddress, address)
	}

	ctx, cancel := context.WithTimeout(ctx, config.PortfolioTimeout)
	defer cancel()

	start := time.Now()

	var jobs []fetchJob
	candidates := 0
	for _, c := range e.chains.Chains() {
		if c.Kind != kind {
			continue
		}
		candidates++
		for _, t := range c.AllTokens() {
			jobs = append(jobs, fetchJob{chain: c, token: t})
		}
	}

	if candidates == 0 {
		slog.Info("no chains match address kind", "kind", kind)
		return nil, nil
	}

	balances := make([]*big.Int, len(jobs))
	var (
		mu     sync.Mutex
		failed = make(map[uint32]error)
	)

	var g errgroup.Group
	g.SetLimit(config.PortfolioFetchConcurrency)
	for i, job := range jobs {
		g.Go(func() error {
			bal, err := e.chains.Balance(ctx, job.chain.ID, address, job.token)
			if err != nil {
				mu.Lock()
				if _, seen := failed[job.chain.ID]; !seen {
					failed[job.chain.ID] = err
				}
				mu.Unlock()
				return nil
			}
			balances[i] = bal
			return nil
		})
	}
	_ = g.Wait()

	for chainID, err := range failed {
		slog.Warn("chain skipped, balance fetch failed",
			"chainID", chainID,
			"address", address,
			"error", err,
		)
	}

	if len(failed) == candidates {
		e.metrics.IncCounter(metrics.PortfolioFetch, map[string]string{metrics.LabelOutcome: "failed"})
		return nil, fmt.Errorf("%w: all %d chains failed", config.ErrFetchFailed, candidates)
	}

	out := make([]models.PricedToken, 0, len(jobs))
	var feedIDs []string
	for i, job := range jobs {
		if _, bad := failed[job.chain.ID]; bad {
			continue
		}
		out = append(out, models.PricedToken{
			TokenBalance: models.TokenBalance{
				ChainID:     job.chain.ID,
				ContractRef: job.token.Ref(),
				Symbol:      job.token.Symbol,
				Decimals:    job.token.Decimals,
				Balance:     balances[i],
				Token:       job.token,
			},
		})
		if balances[i].Sign() > 0 && job.token.CoingeckoID != "" {
			feedIDs = append(feedIDs, job.token.CoingeckoID)
		}
	}

	e.applyPrices(ctx, out, feedIDs)

	e.metrics.ObserveLatency(metrics.PortfolioFetch, time.Since(start), map[string]string{metrics.LabelOutcome: "ok"})
	slog.Info("portfolio evaluated",
		"address", address,
		"kind", kind,
		"tokens", len(out),
		"skippedChains", len(failed),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return out, nil
}

// applyPrices fills PriceUSD and ValueUSD in place. Zero balances are not
// priced. A failed lookup leaves both at zero so the token is never selected.
func (e *Evaluator) applyPrices(ctx context.Context, tokens []models.PricedToken, feedIDs []string) {
	if len(feedIDs) == 0 {
		return
	}

	prices, err := e.prices.GetPrices(ctx, feedIDs)
	if err != nil {
		e.metrics.IncCounter(metrics.PriceFetch, map[string]string{metrics.LabelOutcome: "failed"})
		slog.Warn("price lookup failed, affected tokens unpriced",
			"feeds", len(feedIDs),
			"priced", len(prices),
			"error", err,
		)
	}

	for i := range tokens {
		t := &tokens[i]
		price, ok := prices[t.Token.CoingeckoID]
		if !ok || price <= 0 || t.Balance.Sign() == 0 {
			continue
		}
		t.PriceUSD = price
		t.ValueUSD = valueUSD(t.Balance, t.Decimals, price)
	}
}

func valueUSD(balance *big.Int, decimals uint8, price float64) float64 {
	amount := decimal.NewFromBigInt(balance, -int32(decimals))
	return amount.Mul(decimal.NewFromFloat(price)).InexactFloat64()
}
