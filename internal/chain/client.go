// Package chain reads balances and blocks from Substrate and EVM chains
// through rate-limited, circuit-broken RPC endpoints.
package chain

import (
	"context"
	"math/big"

	"github.com/Fantasim/tappos/internal/models"
)

// Latest asks a Client for state at the chain head.
const Latest uint64 = 0

// Client talks to one RPC endpoint of one chain.
type Client interface {
	// Endpoint identifies the RPC URL in logs and health output.
	Endpoint() string
	CurrentBlock(ctx context.Context) (uint64, error)
	Block(ctx context.Context, height uint64) (models.BlockData, error)
	// Balance returns the token balance of address at height, or at the head
	// when height is Latest. A missing account is a zero balance.
	Balance(ctx context.Context, address string, token models.Token, height uint64) (*big.Int, error)
	Close()
}
