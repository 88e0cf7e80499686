package models

import (
	"math/big"
	"strconv"
	"time"
)

// Token describes one payable asset on a chain. Exactly one of Native,
// AssetID and Contract identifies where the balance lives.
type Token struct {
	Symbol      string  `yaml:"symbol" json:"symbol" validate:"required"`
	Decimals    uint8   `yaml:"decimals" json:"decimals" validate:"lte=30"`
	CoingeckoID string  `yaml:"coingecko_id" json:"coingecko_id" validate:"required"`
	Native      bool    `yaml:"native" json:"native"`
	AssetID     *uint32 `yaml:"asset_id,omitempty" json:"asset_id,omitempty"`
	Contract    string  `yaml:"contract,omitempty" json:"contract,omitempty"`
}

// Ref returns the contract or asset reference used in TokenBalance.
func (t Token) Ref() string {
	switch {
	case t.Native:
		return "native"
	case t.Contract != "":
		return t.Contract
	case t.AssetID != nil:
		return "asset:" + strconv.FormatUint(uint64(*t.AssetID), 10)
	default:
		return ""
	}
}

// Chain is a static chain definition, immutable for the process lifetime.
type Chain struct {
	ID          uint32   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name" validate:"required,lowercase"`
	DisplayName string   `yaml:"display_name" json:"display_name" validate:"required"`
	Kind        string   `yaml:"kind" json:"kind" validate:"required,oneof=substrate evm"`
	NativeToken Token    `yaml:"native_token" json:"native_token"`
	Tokens      []Token  `yaml:"tokens" json:"tokens" validate:"dive"`
	RPCURLs     []string `yaml:"rpc_urls" json:"-" validate:"required,min=1,dive,url"`
	RateLimit   int      `yaml:"rate_limit" json:"-" validate:"gte=0"`
	Recipient   string   `yaml:"recipient" json:"recipient" validate:"required"`
}

// AllTokens returns the native token followed by the configured extra tokens.
func (c Chain) AllTokens() []Token {
	native := c.NativeToken
	native.Native = true
	out := make([]Token, 0, len(c.Tokens)+1)
	out = append(out, native)
	out = append(out, c.Tokens...)
	return out
}

// TokenBySymbol finds a payable token on the chain.
func (c Chain) TokenBySymbol(symbol string) (Token, bool) {
	for _, t := range c.AllTokens() {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// TokenBalance is a balance read fresh per scan; never persisted.
type TokenBalance struct {
	ChainID     uint32   `json:"chain_id"`
	ContractRef string   `json:"contract_ref"`
	Symbol      string   `json:"symbol"`
	Decimals    uint8    `json:"decimals"`
	Balance     *big.Int `json:"balance"`
	Token       Token    `json:"-"`
}

// PricedToken is a TokenBalance enriched with USD pricing.
// PriceUSD == 0 means the price lookup failed and the token is not payable.
type PricedToken struct {
	TokenBalance
	PriceUSD float64 `json:"price_usd"`
	ValueUSD float64 `json:"value_usd"`
}

// BlockData is the subset of a block the confirmation poller inspects.
type BlockData struct {
	ChainID        uint32 `json:"chain_id"`
	Height         uint64 `json:"height"`
	Hash           string `json:"hash"`
	ExtrinsicCount int    `json:"extrinsic_count"`
}

// PaymentSession is one confirmation-monitoring cycle. It is owned by the
// poller from Start until success, timeout or Stop.
type PaymentSession struct {
	ID             string
	Recipient      string
	ExpectedAmount *big.Int
	Token          Token
	ChainID        uint32
	StartBlock     uint64
	StartBalance   *big.Int
	StartTime      time.Time

	OnSuccess   func(txRef string)
	OnError     func(err error)
	OnTickError func(err error)
}

// StatusEvent is broadcast fire-and-forget to UI and log sinks.
type StatusEvent struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Code      string         `json:"code,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
