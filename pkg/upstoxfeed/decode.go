package upstoxfeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketfeed/internal/calendar"
	"marketfeed/internal/model"
)

// Event is one decoded occurrence from a single instrument entry within a
// frame: a Tick, a Candle, or both (spec §4.3: a frame may carry a
// last-trade block, an OHLC block, or both).
type Event struct {
	InstrumentKey string
	Tick          *model.Tick
	Candles       []model.Candle // zero or more, one per recognized interval
}

// Decode parses one broker WS text frame into per-instrument events. Frame
// shape errors for one instrument are skipped (UpstreamProtocolError,
// logged by the caller) without aborting the rest of the frame.
func Decode(raw []byte) ([]Event, []error) {
	var frame RawFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, []error{fmt.Errorf("upstoxfeed: malformed frame: %w", err)}
	}

	var events []Event
	var errs []error
	now := calendar.Now()

	for instrumentKey, env := range frame.Feeds {
		ev, err := decodeEntry(instrumentKey, env, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("upstoxfeed: instrument %s: %w", instrumentKey, err))
			continue
		}
		if ev.Tick != nil || len(ev.Candles) > 0 {
			events = append(events, ev)
		}
	}
	return events, errs
}

func decodeEntry(instrumentKey string, env FeedEnvelope, now time.Time) (Event, error) {
	ev := Event{InstrumentKey: instrumentKey}

	switch {
	case env.IndexFF != nil:
		if env.IndexFF.LTPC != nil {
			t, err := tickFromLTPC(instrumentKey, env.IndexFF.LTPC, now)
			if err != nil {
				return ev, err
			}
			ev.Tick = &t
		}
		for _, o := range env.IndexFF.OHLC {
			c, ok, err := candleFromEntry(instrumentKey, o, ev.Tick)
			if err != nil {
				return ev, err
			}
			if ok {
				ev.Candles = append(ev.Candles, c)
			}
		}
	case env.FullFeed != nil:
		if env.FullFeed.LTPC != nil {
			t, err := tickFromLTPC(instrumentKey, env.FullFeed.LTPC, now)
			if err != nil {
				return ev, err
			}
			t.ATP = numOrZero(env.FullFeed.ATP)
			t.VTT = intOrZero(env.FullFeed.VTT)
			t.OI = intOrZero(env.FullFeed.OI)
			t.IV = numOrZero(env.FullFeed.IV)
			t.TotalBuyQty = intOrZero(env.FullFeed.TBQ)
			t.TotalSellQty = intOrZero(env.FullFeed.TSQ)
			if env.FullFeed.MarketLevel != nil {
				t.MarketDepth = depthFrom(env.FullFeed.MarketLevel)
			}
			if env.FullFeed.OptionGreeks != nil {
				t.OptionGreeks = &model.OptionGreeks{
					Delta: numOrZero(env.FullFeed.OptionGreeks.Delta),
					Theta: numOrZero(env.FullFeed.OptionGreeks.Theta),
					Gamma: numOrZero(env.FullFeed.OptionGreeks.Gamma),
					Vega:  numOrZero(env.FullFeed.OptionGreeks.Vega),
				}
			}
			ev.Tick = &t
		}
		for _, o := range env.FullFeed.OHLC {
			c, ok, err := candleFromEntry(instrumentKey, o, ev.Tick)
			if err != nil {
				return ev, err
			}
			if ok {
				ev.Candles = append(ev.Candles, c)
			}
		}
	default:
		return ev, fmt.Errorf("unrecognized feedType %q", env.FeedType)
	}
	return ev, nil
}

func tickFromLTPC(instrumentKey string, l *LTPC, now time.Time) (model.Tick, error) {
	ltp, err := toFloat(l.LTP)
	if err != nil {
		return model.Tick{}, fmt.Errorf("ltp: %w", err)
	}
	cp, err := toFloat(l.CP)
	if err != nil {
		cp = 0
	}
	return model.Tick{
		InstrumentKey: instrumentKey,
		LTP:           ltp,
		LTT:           l.LTT,
		ChangePercent: cp,
		LTQ:           intOrZero(l.LTQ),
		IngestedAt:    now,
	}, nil
}

// candleFromEntry accepts only {1-minute, 1-day} intervals (spec §4.3); any
// other interval is silently discarded (ok=false, no error). A recognized
// interval with start-timestamp 0 is rejected with an error.
func candleFromEntry(instrumentKey string, o OHLCEntry, tick *model.Tick) (model.Candle, bool, error) {
	var interval model.Interval
	switch o.Interval {
	case "1minute", "1min", "I1":
		interval = model.Interval1Min
	case "1day", "day", "I1440":
		interval = model.Interval1Day
	default:
		return model.Candle{}, false, nil // silently discarded
	}
	if o.TS == 0 {
		return model.Candle{}, false, fmt.Errorf("candle start-timestamp is 0")
	}

	open, err := toFloat(o.Open)
	if err != nil {
		return model.Candle{}, false, fmt.Errorf("open: %w", err)
	}
	high, _ := toFloat(o.High)
	low, _ := toFloat(o.Low)
	closeV, _ := toFloat(o.Close)
	vol := intOrZero(o.Volume)

	c := model.Candle{
		InstrumentKey: instrumentKey,
		Interval:      interval,
		Open:          open,
		High:          high,
		Low:           low,
		Close:         closeV,
		Volume:        vol,
		StartTS:       o.TS,
	}
	if tick != nil {
		c.ChangePercent = tick.ChangePercent
		c.ATP = tick.ATP
		c.OI = tick.OI
		c.IV = tick.IV
		c.TotalBuyQty = tick.TotalBuyQty
		c.TotalSellQty = tick.TotalSellQty
	}
	return c, true, nil
}

func depthFrom(ml *MarketLevel) *model.MarketDepth {
	d := &model.MarketDepth{}
	for i, lvl := range ml.BidAskQuote {
		level := model.MarketDepthLevel{
			Price:    numOrZero(lvl.Price),
			Quantity: intOrZero(lvl.Quantity),
			Orders:   intOrZero(lvl.Orders),
		}
		if i%2 == 0 {
			d.Buy = append(d.Buy, level)
		} else {
			d.Sell = append(d.Sell, level)
		}
	}
	return d
}

// toFloat coerces a numeric-or-string json.Number into a canonical
// float64 via shopspring/decimal, avoiding intermediate binary-float
// rounding when the wire value is a decimal string (spec §4.3).
func toFloat(n json.Number) (float64, error) {
	if n == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

func numOrZero(n json.Number) float64 {
	f, err := toFloat(n)
	if err != nil {
		return 0
	}
	return f
}

// intOrZero coerces a numeric-or-string json.Number volume/quantity field
// into a canonical int64 (spec §4.3: "64-bit integer for volumes").
func intOrZero(n json.Number) int64 {
	if n == "" {
		return 0
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return 0
	}
	return d.IntPart()
}
