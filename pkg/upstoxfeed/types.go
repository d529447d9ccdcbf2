// Package upstoxfeed is the one package a sibling authority-service binary
// would plausibly import: the upstream broker's wire types, its JSON frame
// decoder, and a thin History API client. Everything in here is consumed
// by internal/upstream and internal/hydrator; nothing in here talks to a
// downstream client.
package upstoxfeed

import "encoding/json"

// FeedKind distinguishes the two payload shapes a broker frame's per-
// instrument entry can take (SPEC_FULL Design Note 2 / spec §4.3).
type FeedKind string

const (
	FeedIndex  FeedKind = "index"
	FeedMarket FeedKind = "market"
)

// RawFrame is one broker WS message: a map of instrument key to its feed
// entry, any shape. A single frame may carry many instruments.
type RawFrame struct {
	Feeds map[string]FeedEnvelope `json:"feeds"`
}

// FeedEnvelope is the tagged variant of Design Note 2: the broker marks
// each instrument entry with a feedType discriminator and nests the
// payload under the matching arm. Only one of IndexFF/FullFeed is set,
// matching whichever arm FeedType names.
type FeedEnvelope struct {
	FeedType string           `json:"feedType"`
	IndexFF  *IndexFeedEntry  `json:"indexFF,omitempty"`
	FullFeed *MarketFeedEntry `json:"fullFeed,omitempty"`
}

// IndexFeedEntry is the limited-field shape broker index feeds use.
type IndexFeedEntry struct {
	LTPC *LTPC       `json:"ltpc,omitempty"`
	OHLC []OHLCEntry `json:"ohlc,omitempty"`
}

// MarketFeedEntry is the full-field shape for equity/F&O instruments.
type MarketFeedEntry struct {
	LTPC         *LTPC        `json:"ltpc,omitempty"`
	OHLC         []OHLCEntry  `json:"ohlc,omitempty"`
	MarketLevel  *MarketLevel `json:"marketLevel,omitempty"`
	OptionGreeks *Greeks      `json:"optionGreeks,omitempty"`
	ATP          json.Number  `json:"atp,omitempty"`
	VTT          json.Number  `json:"vtt,omitempty"`
	OI           json.Number  `json:"oi,omitempty"`
	IV           json.Number  `json:"iv,omitempty"`
	TBQ          json.Number  `json:"tbq,omitempty"`
	TSQ          json.Number  `json:"tsq,omitempty"`
}

// LTPC is the last-trade block. Prices and quantities may arrive as a JSON
// number or a decimal string; fields are json.Number so the decoder in
// this package controls coercion (spec §4.3).
type LTPC struct {
	LTP json.Number `json:"ltp"`
	LTT string      `json:"ltt"`
	CP  json.Number `json:"cp"`
	LTQ json.Number `json:"ltq,omitempty"`
}

// OHLCEntry is one candle entry inside a frame's ohlc array.
type OHLCEntry struct {
	Interval string      `json:"interval"`
	Open     json.Number `json:"open"`
	High     json.Number `json:"high"`
	Low      json.Number `json:"low"`
	Close    json.Number `json:"close"`
	Volume   json.Number `json:"vol"`
	TS       int64       `json:"ts"` // ms since epoch, UTC
}

// MarketLevel is an order-book depth snapshot.
type MarketLevel struct {
	BidAskQuote []DepthLevel `json:"bidAskQuote"`
}

// DepthLevel is one side of one depth level.
type DepthLevel struct {
	Price    json.Number `json:"price"`
	Quantity json.Number `json:"quantity"`
	Orders   json.Number `json:"orders"`
}

// Greeks carries option greeks for option_greeks-mode instruments.
type Greeks struct {
	Delta json.Number `json:"delta"`
	Theta json.Number `json:"theta"`
	Gamma json.Number `json:"gamma"`
	Vega  json.Number `json:"vega"`
}

// ControlFrame is the client->broker subscribe/unsubscribe/change_mode
// message.
type ControlFrame struct {
	GuID   string           `json:"guid"`
	Method string           `json:"method"` // "sub" | "unsub" | "change_mode"
	Data   ControlFrameData `json:"data"`
}

// ControlFrameData is the body of a ControlFrame.
type ControlFrameData struct {
	Mode          string   `json:"mode,omitempty"`
	InstrumentKey []string `json:"instrumentKeys"`
}
