package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/models"
)

// Registry is the terminal's view of every configured chain. Chain
// definitions are immutable after construction.
type Registry struct {
	chains []models.Chain
	byID   map[uint32]int
	sets   map[uint32]*ProviderSet
}

// NewRegistry indexes chains and their provider sets. chains keeps file order.
func NewRegistry(chains []models.Chain, sets map[uint32]*ProviderSet) *Registry {
	byID := make(map[uint32]int, len(chains))
	for i, c := range chains {
		byID[c.ID] = i
	}
	return &Registry{chains: chains, byID: byID, sets: sets}
}

// Chains returns every configured chain in registry order.
func (r *Registry) Chains() []models.Chain {
	out := make([]models.Chain, len(r.chains))
	copy(out, r.chains)
	return out
}

// Chain looks up a chain definition by ID.
func (r *Registry) Chain(id uint32) (models.Chain, error) {
	i, ok := r.byID[id]
	if !ok {
		return models.Chain{}, fmt.Errorf("%w: %d", config.ErrUnknownChain, id)
	}
	return r.chains[i], nil
}

func (r *Registry) set(id uint32) (*ProviderSet, error) {
	ps, ok := r.sets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", config.ErrUnknownChain, id)
	}
	return ps, nil
}

// Balance returns the current balance of address for token on chainID.
func (r *Registry) Balance(ctx context.Context, chainID uint32, address string, token models.Token) (*big.Int, error) {
	return r.BalanceAt(ctx, chainID, address, token, Latest)
}

// BalanceAt returns the balance of address for token at block height.
func (r *Registry) BalanceAt(ctx context.Context, chainID uint32, address string, token models.Token, height uint64) (*big.Int, error) {
	ps, err := r.set(chainID)
	if err != nil {
		return nil, err
	}
	return execute(ctx, ps, "balance", func(ctx context.Context, c Client) (*big.Int, error) {
		return c.Balance(ctx, address, token, height)
	})
}

// CurrentBlock returns the chain head height.
func (r *Registry) CurrentBlock(ctx context.Context, chainID uint32) (uint64, error) {
	ps, err := r.set(chainID)
	if err != nil {
		return 0, err
	}
	return execute(ctx, ps, "current_block", func(ctx context.Context, c Client) (uint64, error) {
		return c.CurrentBlock(ctx)
	})
}

// Block returns the block at height.
func (r *Registry) Block(ctx context.Context, chainID uint32, height uint64) (models.BlockData, error) {
	ps, err := r.set(chainID)
	if err != nil {
		return models.BlockData{}, err
	}
	blk, err := execute(ctx, ps, "block", func(ctx context.Context, c Client) (models.BlockData, error) {
		return c.Block(ctx, height)
	})
	if err != nil {
		return models.BlockData{}, err
	}
	blk.ChainID = chainID
	return blk, nil
}

// Health returns endpoint breaker states keyed by chain name.
func (r *Registry) Health() map[string][]EndpointHealth {
	out := make(map[string][]EndpointHealth, len(r.chains))
	for _, c := range r.chains {
		if ps, ok := r.sets[c.ID]; ok {
			out[c.Name] = ps.Health()
		}
	}
	return out
}

// Close closes every RPC connection.
func (r *Registry) Close() {
	for _, ps := range r.sets {
		ps.Close()
	}
}
