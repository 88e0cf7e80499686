package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/models"
)

const (
	evmHolder = "0xf278cf59f82edcf871d630f28ecc8056f25c1cdb"
	evmUSDC   = "0x931715fee2d06333043d11f658c8ce934ac61d0c"
)

// fakeEth serves the eth_* methods used by EVMClient.
type fakeEth struct {
	head       uint64
	native     map[common.Address]*big.Int
	erc20      map[common.Address]map[common.Address]*big.Int
	lastBlocks []string
}

func (f *fakeEth) BlockNumber() hexutil.Uint64 { return hexutil.Uint64(f.head) }

func (f *fakeEth) GetBalance(addr common.Address, block string) (*hexutil.Big, error) {
	f.lastBlocks = append(f.lastBlocks, block)
	bal, ok := f.native[addr]
	if !ok {
		bal = new(big.Int)
	}
	return (*hexutil.Big)(bal), nil
}

func (f *fakeEth) Call(args map[string]any, block string) (hexutil.Bytes, error) {
	f.lastBlocks = append(f.lastBlocks, block)
	to, _ := args["to"].(string)
	input, _ := args["input"].(string)
	if input == "" {
		input, _ = args["data"].(string)
	}
	data, err := hexutil.Decode(input)
	if err != nil || len(data) != 36 {
		return nil, fmt.Errorf("bad call data %q", input)
	}
	if hex.EncodeToString(data[:4]) != "70a08231" {
		return nil, fmt.Errorf("unexpected selector %x", data[:4])
	}
	holder := common.BytesToAddress(data[16:36])
	bal := new(big.Int)
	if m, ok := f.erc20[common.HexToAddress(to)]; ok {
		if v, ok := m[holder]; ok {
			bal = v
		}
	}
	return common.LeftPadBytes(bal.Bytes(), 32), nil
}

func (f *fakeEth) GetBlockByNumber(number string, full bool) (map[string]any, error) {
	n, err := hexutil.DecodeUint64(number)
	if err != nil {
		return nil, err
	}
	if n > f.head {
		return nil, nil
	}
	return map[string]any{
		"hash":         common.BigToHash(new(big.Int).SetUint64(n)).Hex(),
		"number":       hexutil.EncodeUint64(n),
		"transactions": []string{common.Hash{1}.Hex(), common.Hash{2}.Hex()},
	}, nil
}

func newTestEVMClient(t *testing.T, f *fakeEth) *EVMClient {
	t.Helper()
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", f); err != nil {
		t.Fatalf("register eth: %v", err)
	}
	c := NewEVMClient("inproc://evm", ethclient.NewClient(rpc.DialInProc(srv)))
	t.Cleanup(func() {
		c.Close()
		srv.Stop()
	})
	return c
}

func TestEVMClient_CurrentBlockAndBlock(t *testing.T) {
	f := &fakeEth{head: 5_000_000}
	c := newTestEVMClient(t, f)

	head, err := c.CurrentBlock(context.Background())
	if err != nil {
		t.Fatalf("CurrentBlock() error = %v", err)
	}
	if head != 5_000_000 {
		t.Errorf("CurrentBlock() = %d", head)
	}

	blk, err := c.Block(context.Background(), 4_999_999)
	if err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if blk.Height != 4_999_999 || blk.ExtrinsicCount != 2 || !strings.HasPrefix(blk.Hash, "0x") {
		t.Errorf("Block() = %+v", blk)
	}

	if _, err := c.Block(context.Background(), 6_000_000); !errors.Is(err, config.ErrStorageNotFound) {
		t.Errorf("future block: expected ErrStorageNotFound, got %v", err)
	}
}

func TestEVMClient_NativeBalance(t *testing.T) {
	f := &fakeEth{
		head:   100,
		native: map[common.Address]*big.Int{common.HexToAddress(evmHolder): big.NewInt(7e18)},
	}
	c := newTestEVMClient(t, f)

	got, err := c.Balance(context.Background(), evmHolder, models.Token{Symbol: "GLMR", Native: true}, Latest)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if got.Cmp(big.NewInt(7e18)) != 0 {
		t.Errorf("Balance() = %s", got)
	}

	if _, err := c.Balance(context.Background(), evmHolder, models.Token{Native: true}, 42); err != nil {
		t.Fatalf("Balance(at 42) error = %v", err)
	}
	if f.lastBlocks[0] != "latest" || f.lastBlocks[1] != "0x2a" {
		t.Errorf("block args = %v, want [latest 0x2a]", f.lastBlocks)
	}
}

func TestEVMClient_ERC20Balance(t *testing.T) {
	f := &fakeEth{
		head: 100,
		erc20: map[common.Address]map[common.Address]*big.Int{
			common.HexToAddress(evmUSDC): {common.HexToAddress(evmHolder): big.NewInt(125_000_000)},
		},
	}
	c := newTestEVMClient(t, f)

	usdc := models.Token{Symbol: "USDC", Decimals: 6, Contract: evmUSDC}
	got, err := c.Balance(context.Background(), evmHolder, usdc, Latest)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if got.Cmp(big.NewInt(125_000_000)) != 0 {
		t.Errorf("Balance() = %s, want 125000000", got)
	}
}

func TestEVMClient_BalanceErrors(t *testing.T) {
	c := newTestEVMClient(t, &fakeEth{head: 1})

	if _, err := c.Balance(context.Background(), aliceSS58, models.Token{Native: true}, Latest); !errors.Is(err, config.ErrInvalidAddress) {
		t.Errorf("ss58 address: expected ErrInvalidAddress, got %v", err)
	}
	if _, err := c.Balance(context.Background(), evmHolder, models.Token{Symbol: "X"}, Latest); !errors.Is(err, config.ErrUnsupportedToken) {
		t.Errorf("no contract: expected ErrUnsupportedToken, got %v", err)
	}
}
