package nfc

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/models"
)

// PaymentURI is the decoded form of a payment request URI.
type PaymentURI struct {
	Recipient string
	Amount    decimal.Decimal
	Token     string
	Chain     string // empty for home chains
}

// SmallestUnits converts the decimal amount back to integer smallest units.
func (p PaymentURI) SmallestUnits(decimals uint8) *big.Int {
	return p.Amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// isHomeChain reports whether chain payments omit the chain parameter.
func isHomeChain(chainID uint32) bool {
	return chainID == config.ChainPolkadot || chainID == config.ChainAssetHub
}

// uriDecimals picks the precision used to render amount: a configured token
// keeps its own decimals, anything else falls back to the native token.
func uriDecimals(symbol string, chain models.Chain) uint8 {
	if t, ok := chain.TokenBySymbol(symbol); ok {
		return t.Decimals
	}
	return chain.NativeToken.Decimals
}

// BuildPaymentURI serializes recipient, amount and token into the request
// URI sent to the customer's wallet.
func BuildPaymentURI(recipient string, amount *big.Int, symbol string, chain models.Chain) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("%w: %s", config.ErrRecipientNotDefined, chain.Name)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", config.ErrInvalidAmount)
	}

	human := decimal.NewFromBigInt(amount, -int32(uriDecimals(symbol, chain)))

	var b strings.Builder
	b.WriteString(recipient)
	b.WriteString("?" + config.URIParamAmount + "=")
	b.WriteString(human.String())
	b.WriteString("&" + config.URIParamToken + "=")
	b.WriteString(url.QueryEscape(symbol))
	if !isHomeChain(chain.ID) {
		b.WriteString("&" + config.URIParamChain + "=")
		b.WriteString(url.QueryEscape(chain.Name))
	}
	return b.String(), nil
}

// ParsePaymentURI is the inverse of BuildPaymentURI.
func ParsePaymentURI(uri string) (PaymentURI, error) {
	recipient, rawQuery, ok := strings.Cut(uri, "?")
	if !ok || recipient == "" {
		return PaymentURI{}, fmt.Errorf("%w: missing recipient or query", config.ErrMalformedURI)
	}

	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return PaymentURI{}, fmt.Errorf("%w: %v", config.ErrMalformedURI, err)
	}

	amount, err := decimal.NewFromString(q.Get(config.URIParamAmount))
	if err != nil {
		return PaymentURI{}, fmt.Errorf("%w: amount: %v", config.ErrMalformedURI, err)
	}
	token := q.Get(config.URIParamToken)
	if token == "" {
		return PaymentURI{}, fmt.Errorf("%w: missing token", config.ErrMalformedURI)
	}

	return PaymentURI{
		Recipient: recipient,
		Amount:    amount,
		Token:     token,
		Chain:     q.Get(config.URIParamChain),
	}, nil
}
