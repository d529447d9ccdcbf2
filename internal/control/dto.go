package control

import (
	"time"

	"marketfeed/internal/model"
)

// clientMessage is one inbound downstream WS frame (spec §6 client
// actions): subscribe, unsubscribe, get_subscriptions, subscribe_ohlc,
// unsubscribe_ohlc, get_ohlc_subscriptions, ping.
type clientMessage struct {
	Action         string   `json:"action"`
	Items          []string `json:"items,omitempty"`          // tick-filter instrument keys
	Instruments    []string `json:"instruments,omitempty"`     // OHLC-filter instrument keys
	Intervals      []string `json:"intervals,omitempty"`
	IncludeHistory bool     `json:"include_history,omitempty"`
}

// envelope is the generic downstream WS message shape for events whose
// payload is the event itself (market_data, ohlc_data, portfolio_data);
// Data varies by Type.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

func env(typ string, data interface{}) envelope { return envelope{Type: typ, Data: data} }

// connectionMsg is sent once on connect (spec §6/S1): every field lives at
// the top level, not nested under "data".
type connectionMsg struct {
	Type                 string   `json:"type"`
	Status               string   `json:"status"`
	ClientID             string   `json:"client_id"`
	CurrentSubscriptions []string `json:"current_subscriptions"`
}

// subscriptionUpdateMsg acknowledges subscribe/unsubscribe with the
// client's full merged tick filter, not the request delta (spec §6/S1).
type subscriptionUpdateMsg struct {
	Type                 string   `json:"type"`
	Action               string   `json:"action"`
	Success              bool     `json:"success"`
	CurrentSubscriptions []string `json:"current_subscriptions"`
}

type subscriptionsData struct {
	Instruments []string `json:"instruments"`
}

type ohlcSubscriptionsData struct {
	Filter map[string][]string `json:"filter"`
}

// ohlcSnapshotMsg answers subscribe_ohlc(include_history=true) (spec
// §6/S2): instrument/interval/candle_count/snapshot_time/candles all at
// the top level.
type ohlcSnapshotMsg struct {
	Type          string         `json:"type"`
	InstrumentKey string         `json:"instrument_key"`
	Interval      model.Interval `json:"interval"`
	CandleCount   int            `json:"candle_count"`
	SnapshotTime  time.Time      `json:"snapshot_time"`
	Candles       []model.Candle `json:"candles"`
}

// errorMsg and pongMsg carry their fields at the top level too (spec §6).
type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongMsg struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}
