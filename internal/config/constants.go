package config

import "time"

// Chain IDs used by the terminal registry. Relay and parachain IDs follow the
// Polkadot para ID convention; EVM chains outside the ecosystem use their EIP-155 ID.
const (
	ChainPolkadot  uint32 = 0
	ChainKusama    uint32 = 2
	ChainAssetHub  uint32 = 1000
	ChainAcala     uint32 = 2000
	ChainMoonbeam  uint32 = 2004
	ChainBifrost   uint32 = 2030
	ChainHydration uint32 = 2034
	ChainEthereum  uint32 = 1
)

// Chain kinds.
const (
	ChainKindSubstrate = "substrate"
	ChainKindEVM       = "evm"
)

// Proximity Protocol
const (
	NDEFRecordHeader       byte   = 0xD1 // MB | ME | SR | TNF=well-known
	NDEFTypeURI            byte   = 'U'
	NDEFURINoAbbrev        byte   = 0x00
	StatusWordSuccess      uint16 = 0x9000
	CommandHeaderLength           = 4
	MaxShortPayload               = 255
	MaxReadResponseLen            = 258 // 256 data bytes + status word
	DefaultReadTemplate           = "80CA0000"
	DefaultPaymentTemplate        = "80DA0000"
)

// Payment URI
const (
	URIParamAmount = "amount"
	URIParamToken  = "token"
	URIParamChain  = "chain"
)

// Selector
const (
	FixedPointScale = 8 // USD and price are scaled by 10^8 before dividing
)

// Confirmation Polling
const (
	PollInterval     = 5 * time.Second
	ConfirmTimeout   = 300 * time.Second
	RPCCallTimeout   = 10 * time.Second
	PortfolioTimeout = 20 * time.Second
	TxRefPlaceholder = "%s:%d:%s" // chain name, block height, block hash
)

// Price
const (
	CoinGeckoBaseURL   = "https://api.coingecko.com/api/v3"
	CoinGeckoKeyHeader = "x-cg-demo-api-key"
	PriceCacheDuration = 60 * time.Second
	PriceHTTPTimeout   = 10 * time.Second
)

// Portfolio
const (
	PortfolioFetchConcurrency = 4
)

// Provider Resilience
const (
	CircuitBreakerThreshold   = 3
	CircuitBreakerCooldown    = 30 * time.Second
	CircuitBreakerHalfOpenMax = 1
	DefaultRPCRateLimit       = 10 // requests per second per endpoint
	DialTimeout               = 10 * time.Second
)

// Circuit Breaker States
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// Reader
const (
	ReaderPollTimeout  = 500 * time.Millisecond
	ReaderEventBuffer  = 16
	ReaderRetryBackoff = 2 * time.Second
)

// Terminal
const (
	TerminalCommandBuffer = 32
)

// Events
const (
	SSEHubChannelBuffer  = 64
	SSEKeepAliveInterval = 15 * time.Second
	KafkaWriteTimeout    = 5 * time.Second
)

// Event types broadcast to the UI/log sinks.
const (
	EventArmed              = "armed"
	EventNotArmed           = "not_armed"
	EventBusy               = "busy"
	EventCancelled          = "cancelled"
	EventTapDetected        = "tap_detected"
	EventAddressRead        = "address_read"
	EventTokenSelected      = "token_selected"
	EventPaymentSent        = "payment_sent"
	EventPaymentConfirmed   = "payment_confirmed"
	EventPaymentFailed      = "payment_failed"
	EventScanComplete       = "scan_complete"
	EventScanFailed         = "scan_failed"
	EventMonitorTickError   = "monitor_tick_error"
	EventReaderError        = "reader_error"
	EventReaderDisconnected = "reader_disconnected"
)

// Logging
const (
	LogFilePrefix = "tappos-"
	LogMaxAgeDays = 30
)

// Server
const (
	ServerReadTimeout  = 30 * time.Second
	ServerWriteTimeout = 0 // SSE and scan waits hold the connection open
	ShutdownTimeout    = 10 * time.Second
)

// Metrics
const (
	MetricsNamespace = "tappos"
)
