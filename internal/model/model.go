// Package model defines the entities shared across every component: ticks,
// candles, subscription modes and upstream connector state. Types here are
// plain data with no behaviour; cache key construction lives in
// internal/cache.
package model

import "time"

// Mode is an upstream per-instrument subscription verbosity.
type Mode string

const (
	ModeFull         Mode = "full"
	ModeLTPC         Mode = "ltpc"
	ModeOptionGreeks Mode = "option_greeks"
	ModeFullD30      Mode = "full_d30"
)

// Interval is a candle interval. Only these two are ingested directly;
// longer intervals may be derived downstream but are out of scope here.
type Interval string

const (
	Interval1Min Interval = "1min"
	Interval1Day Interval = "1day"
)

// CandleStatus distinguishes the one active candle per (instrument,
// interval) from completed, immutable candles.
type CandleStatus string

const (
	StatusActive    CandleStatus = "active"
	StatusCompleted CandleStatus = "completed"
)

// OHLC is today's running open/high/low/close bucket as carried on a Tick.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// MarketDepthLevel is one side of one level of the order book.
type MarketDepthLevel struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int64   `json:"orders"`
}

// MarketDepth is the book snapshot carried on full-mode ticks.
type MarketDepth struct {
	Buy  []MarketDepthLevel `json:"buy,omitempty"`
	Sell []MarketDepthLevel `json:"sell,omitempty"`
}

// OptionGreeks is carried on option_greeks-mode ticks.
type OptionGreeks struct {
	Delta float64 `json:"delta"`
	Theta float64 `json:"theta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
}

// Tick is the latest quote for an instrument. Optional fields are nil/zero
// when the originating feed shape (index vs market) did not carry them —
// the pipeline must never synthesize a value for a field its feed shape
// doesn't provide.
type Tick struct {
	InstrumentKey string        `json:"instrument_key"`
	LTP           float64       `json:"ltp"`
	LTT           string        `json:"ltt"`
	ChangePercent float64       `json:"change_percent"`
	LTQ           int64         `json:"ltq,omitempty"`
	OHLC          *OHLC         `json:"ohlc,omitempty"`
	MarketDepth   *MarketDepth  `json:"market_depth,omitempty"`
	OptionGreeks  *OptionGreeks `json:"option_greeks,omitempty"`
	ATP           float64       `json:"atp,omitempty"`
	VTT           int64         `json:"vtt,omitempty"`
	OI            int64         `json:"oi,omitempty"`
	IV            float64       `json:"iv,omitempty"`
	TotalBuyQty   int64         `json:"tbq,omitempty"`
	TotalSellQty  int64         `json:"tsq,omitempty"`
	IngestedAt    time.Time     `json:"timestamp"`
}

// Candle is an OHLC record for one (instrument, interval, start-timestamp).
// The extended fields are a snapshot of the instrument's tick context at
// the moment the candle was emitted by the broker.
type Candle struct {
	InstrumentKey string       `json:"instrument_key"`
	Interval      Interval     `json:"interval"`
	Open          float64      `json:"open"`
	High          float64      `json:"high"`
	Low           float64      `json:"low"`
	Close         float64      `json:"close"`
	Volume        int64        `json:"volume"`
	StartTS       int64        `json:"start_ts"` // ms since epoch, UTC, broker-supplied
	Status        CandleStatus `json:"status"`

	ChangePercent float64 `json:"change_percent,omitempty"`
	ATP           float64 `json:"atp,omitempty"`
	OI            int64   `json:"oi,omitempty"`
	IV            float64 `json:"iv,omitempty"`
	TotalBuyQty   int64   `json:"tbq,omitempty"`
	TotalSellQty  int64   `json:"tsq,omitempty"`
}

// ConnectorState is the per-token health record of one Upstream Connector.
type ConnectorState struct {
	TokenIndex        int       `json:"token_index"`
	Connected         bool      `json:"connected"`
	Reconnecting      bool      `json:"reconnecting"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastConnectedAt   time.Time `json:"last_connected_at,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	AutoReconnectStop bool      `json:"auto_reconnect_stopped"`
}

// FNOUnderlying is one row of the cached FNO underlying table.
type FNOUnderlying struct {
	InstrumentKey  string `json:"instrument_key"`
	TradingSymbol  string `json:"trading_symbol"`
	DisplayName    string `json:"display_name"`
	Segment        string `json:"segment"`
	InstrumentType string `json:"instrument_type"`
	TickSize       float64 `json:"tick_size"`
}
