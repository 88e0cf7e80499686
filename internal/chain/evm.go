package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/models"
)

// erc20ABI is the subset of ERC-20 needed to read balances.
const erc20ABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}]`

var parsedERC20ABI = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// EVMClient reads EVM chain state (Moonbeam and other EVM networks).
type EVMClient struct {
	endpoint string
	eth      *ethclient.Client
}

// NewEVMClient wraps an already dialled ethclient.
func NewEVMClient(endpoint string, c *ethclient.Client) *EVMClient {
	return &EVMClient{endpoint: endpoint, eth: c}
}

// DialEVM connects to an EVM JSON-RPC endpoint.
func DialEVM(ctx context.Context, endpoint string) (*EVMClient, error) {
	c, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc %s: %w", endpoint, err)
	}
	slog.Info("evm rpc connected", "endpoint", endpoint)
	return NewEVMClient(endpoint, c), nil
}

func (c *EVMClient) Endpoint() string { return c.endpoint }

// Close closes the underlying ethclient connection.
func (c *EVMClient) Close() {
	c.eth.Close()
	slog.Info("evm rpc closed", "endpoint", c.endpoint)
}

// CurrentBlock returns the latest block number.
func (c *EVMClient) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return n, nil
}

type evmBlock struct {
	Hash         common.Hash    `json:"hash"`
	Number       hexutil.Uint64 `json:"number"`
	Transactions []common.Hash  `json:"transactions"`
}

// Block returns the hash and transaction count of the block at height.
func (c *EVMClient) Block(ctx context.Context, height uint64) (models.BlockData, error) {
	var blk *evmBlock
	err := c.eth.Client().CallContext(ctx, &blk, "eth_getBlockByNumber", hexutil.EncodeUint64(height), false)
	if err != nil {
		return models.BlockData{}, fmt.Errorf("eth_getBlockByNumber %d: %w", height, err)
	}
	if blk == nil {
		return models.BlockData{}, fmt.Errorf("%w: block %d", config.ErrStorageNotFound, height)
	}
	return models.BlockData{
		Height:         uint64(blk.Number),
		Hash:           blk.Hash.Hex(),
		ExtrinsicCount: len(blk.Transactions),
	}, nil
}

// Balance returns the native balance or the ERC-20 balanceOf for token.
func (c *EVMClient) Balance(ctx context.Context, address string, token models.Token, height uint64) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q is not an evm address", config.ErrInvalidAddress, address)
	}
	owner := common.HexToAddress(address)

	var blockNum *big.Int
	if height != Latest {
		blockNum = new(big.Int).SetUint64(height)
	}

	switch {
	case token.Native:
		bal, err := c.eth.BalanceAt(ctx, owner, blockNum)
		if err != nil {
			return nil, fmt.Errorf("eth_getBalance: %w", err)
		}
		return bal, nil

	case token.Contract != "":
		return c.erc20Balance(ctx, common.HexToAddress(token.Contract), owner, blockNum)

	default:
		return nil, fmt.Errorf("%w: %s has no contract", config.ErrUnsupportedToken, token.Symbol)
	}
}

func (c *EVMClient) erc20Balance(ctx context.Context, contract, owner common.Address, blockNum *big.Int) (*big.Int, error) {
	data, err := parsedERC20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, blockNum)
	if err != nil {
		return nil, fmt.Errorf("eth_call balanceOf %s: %w", contract.Hex(), err)
	}

	unpacked, err := parsedERC20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf %s: %w", contract.Hex(), err)
	}
	bal, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf output type %T", unpacked[0])
	}
	return bal, nil
}
