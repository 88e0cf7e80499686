package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/models"
	"github.com/Fantasim/tappos/internal/validate"
)

// SubstrateClient reads Substrate chain state over JSON-RPC.
type SubstrateClient struct {
	endpoint string
	rpc      *rpc.Client
}

// NewSubstrateClient wraps an already dialled RPC client.
func NewSubstrateClient(endpoint string, c *rpc.Client) *SubstrateClient {
	return &SubstrateClient{endpoint: endpoint, rpc: c}
}

// DialSubstrate connects to a Substrate node over HTTP(S) or WS(S).
func DialSubstrate(ctx context.Context, endpoint string) (*SubstrateClient, error) {
	c, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial substrate rpc %s: %w", endpoint, err)
	}
	slog.Info("substrate rpc connected", "endpoint", endpoint)
	return NewSubstrateClient(endpoint, c), nil
}

func (c *SubstrateClient) Endpoint() string { return c.endpoint }

// Close closes the underlying RPC connection.
func (c *SubstrateClient) Close() {
	c.rpc.Close()
	slog.Info("substrate rpc closed", "endpoint", c.endpoint)
}

type substrateHeader struct {
	Number string `json:"number"`
}

type substrateBlock struct {
	Block struct {
		Header     substrateHeader `json:"header"`
		Extrinsics []string        `json:"extrinsics"`
	} `json:"block"`
}

// CurrentBlock returns the best block number.
func (c *SubstrateClient) CurrentBlock(ctx context.Context) (uint64, error) {
	var hdr substrateHeader
	if err := c.rpc.CallContext(ctx, &hdr, "chain_getHeader"); err != nil {
		return 0, fmt.Errorf("chain_getHeader: %w", err)
	}
	return parseHexUint(hdr.Number)
}

// Block returns the hash and extrinsic count of the block at height.
func (c *SubstrateClient) Block(ctx context.Context, height uint64) (models.BlockData, error) {
	hash, err := c.blockHash(ctx, height)
	if err != nil {
		return models.BlockData{}, err
	}

	var blk substrateBlock
	if err := c.rpc.CallContext(ctx, &blk, "chain_getBlock", hash); err != nil {
		return models.BlockData{}, fmt.Errorf("chain_getBlock %s: %w", hash, err)
	}

	return models.BlockData{
		Height:         height,
		Hash:           hash,
		ExtrinsicCount: len(blk.Block.Extrinsics),
	}, nil
}

// Balance reads System.Account for the native token or Assets.Account for
// pallet assets.
func (c *SubstrateClient) Balance(ctx context.Context, address string, token models.Token, height uint64) (*big.Int, error) {
	accountID, err := validate.AccountID(address)
	if err != nil {
		return nil, err
	}

	var key string
	switch {
	case token.Native:
		key = systemAccountKey(accountID)
	case token.AssetID != nil:
		key = assetAccountKey(*token.AssetID, accountID)
	default:
		return nil, fmt.Errorf("%w: %s has no asset id", config.ErrUnsupportedToken, token.Symbol)
	}

	raw, err := c.storage(ctx, key, height)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return new(big.Int), nil
	}

	if token.Native {
		return decodeAccountFree(raw)
	}
	return decodeAssetBalance(raw)
}

// storage returns the raw storage value, or nil when the key is unset.
func (c *SubstrateClient) storage(ctx context.Context, key string, height uint64) ([]byte, error) {
	args := []interface{}{key}
	if height != Latest {
		hash, err := c.blockHash(ctx, height)
		if err != nil {
			return nil, err
		}
		args = append(args, hash)
	}

	var result *string
	if err := c.rpc.CallContext(ctx, &result, "state_getStorage", args...); err != nil {
		return nil, fmt.Errorf("state_getStorage: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	raw, err := decodeHexBytes(*result)
	if err != nil {
		return nil, fmt.Errorf("decode storage value: %w", err)
	}
	return raw, nil
}

func (c *SubstrateClient) blockHash(ctx context.Context, height uint64) (string, error) {
	var hash *string
	if err := c.rpc.CallContext(ctx, &hash, "chain_getBlockHash", height); err != nil {
		return "", fmt.Errorf("chain_getBlockHash %d: %w", height, err)
	}
	if hash == nil {
		return "", fmt.Errorf("%w: block %d", config.ErrStorageNotFound, height)
	}
	return *hash, nil
}

func parseHexUint(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", s, err)
	}
	return n, nil
}
