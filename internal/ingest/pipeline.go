// Package ingest is the Ingestion Pipeline: decodes broker frames (already
// parsed into pkg/upstoxfeed.Event by the Upstream Connector) into Tick and
// Candle events, enforcing the active/completed candle transition rules.
// The 1-minute state machine is the teacher's
// internal/marketdata/tfbuilder.Builder finalize-on-transition shape,
// generalized from resampled timeframes to the broker's own candle
// boundaries.
package ingest

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"marketfeed/internal/cache"
	"marketfeed/internal/calendar"
	"marketfeed/internal/model"
	"marketfeed/internal/obs"
	"marketfeed/pkg/upstoxfeed"
)

// oneMinState is the active-candle state for one instrument's 1-minute
// series: {last_start_ts, last_active_candle} per spec §4.3.
type oneMinState struct {
	mu            sync.Mutex
	lastStartTS   int64
	hasActive     bool
	activeCandle  model.Candle
}

// Pipeline is logically sequential per instrument (to preserve
// candle-transition ordering) and parallel across instruments: each
// instrument's 1-minute state is guarded by its own mutex, sharded by a
// map keyed on instrument key (spec §5).
type Pipeline struct {
	gateway *cache.Gateway
	metrics *obs.Metrics
	log     zerolog.Logger

	onTick   func(model.Tick)
	onCandle func(model.Candle)

	statesMu sync.Mutex
	states   map[string]*oneMinState
}

// New creates a Pipeline. onTick/onCandle are the Fan-out Hub's publish
// hooks for event types "tick" and "candle".
func New(gw *cache.Gateway, metrics *obs.Metrics, log zerolog.Logger, onTick func(model.Tick), onCandle func(model.Candle)) *Pipeline {
	return &Pipeline{
		gateway:  gw,
		metrics:  metrics,
		log:      log,
		onTick:   onTick,
		onCandle: onCandle,
		states:   make(map[string]*oneMinState),
	}
}

// Process handles one batch of decoded events from the Stream Supervisor.
// Every message is processed unconditionally — deduplication across
// redundant connectors is deferred to the idempotent cache writes (spec
// §4.2, §4.3).
func (p *Pipeline) Process(ctx context.Context, events []upstoxfeed.Event) {
	for _, ev := range events {
		if ev.Tick != nil {
			p.processTick(ctx, *ev.Tick)
		}
		for _, c := range ev.Candles {
			switch c.Interval {
			case model.Interval1Min:
				p.processOneMinCandle(ctx, c)
			case model.Interval1Day:
				p.processOneDayCandle(ctx, c)
			}
		}
	}
}

func (p *Pipeline) processTick(ctx context.Context, t model.Tick) {
	if p.metrics != nil {
		p.metrics.TicksIngested.WithLabelValues(feedLabel(t)).Inc()
	}
	if err := p.gateway.WriteTick(ctx, t); err != nil {
		p.log.Warn().Err(err).Str("instrument", t.InstrumentKey).Msg("tick cache write failed")
	}
	if p.onTick != nil {
		p.onTick(t)
	}
}

// processOneMinCandle implements spec Invariant 1: at most one active
// candle per instrument at any instant; a new start-timestamp finalizes
// the previous one as completed and persists it before the new candle
// becomes active.
func (p *Pipeline) processOneMinCandle(ctx context.Context, c model.Candle) {
	st := p.stateFor(c.InstrumentKey)

	st.mu.Lock()
	var toFinalize *model.Candle
	if st.hasActive && st.lastStartTS != c.StartTS {
		finalized := st.activeCandle
		finalized.Status = model.StatusCompleted
		toFinalize = &finalized
	}
	c.Status = model.StatusActive
	st.activeCandle = c
	st.lastStartTS = c.StartTS
	st.hasActive = true
	st.mu.Unlock()

	if toFinalize != nil {
		p.persistAndPublish(ctx, *toFinalize)
	}
	// The new active candle is published for live display but is not
	// written to the cache series until it transitions — the cache series
	// only ever holds completed candles for 1-minute intervals, per
	// Invariant 1 and Testable Property 2.
	if p.onCandle != nil {
		p.onCandle(c)
	}
	if p.metrics != nil {
		p.metrics.CandlesIngested.WithLabelValues(string(c.Interval)).Inc()
	}
}

// processOneDayCandle treats every emission as the day's completed-so-far
// candle, overwriting the same start-timestamp in place (spec §4.3).
func (p *Pipeline) processOneDayCandle(ctx context.Context, c model.Candle) {
	c.Status = model.StatusCompleted
	p.persistAndPublish(ctx, c)
	if p.metrics != nil {
		p.metrics.CandlesIngested.WithLabelValues(string(c.Interval)).Inc()
	}
}

func (p *Pipeline) persistAndPublish(ctx context.Context, c model.Candle) {
	tradingDate := calendar.TradingDate(calendar.Now())
	if err := p.gateway.WriteCandle(ctx, tradingDate, c); err != nil {
		p.log.Warn().Err(err).Str("instrument", c.InstrumentKey).Msg("candle cache write failed")
	}
	if p.onCandle != nil {
		p.onCandle(c)
	}
}

func (p *Pipeline) stateFor(instrumentKey string) *oneMinState {
	p.statesMu.Lock()
	defer p.statesMu.Unlock()
	st, ok := p.states[instrumentKey]
	if !ok {
		st = &oneMinState{}
		p.states[instrumentKey] = st
	}
	return st
}

func feedLabel(t model.Tick) string {
	if t.MarketDepth != nil || t.OptionGreeks != nil {
		return "market"
	}
	return "index"
}

// ProcessPortfolio caches the opaque portfolio payload and publishes it as
// event type "portfolio" with no instrument filtering (spec §4.3).
func (p *Pipeline) ProcessPortfolio(ctx context.Context, raw []byte, onPortfolio func([]byte)) {
	if err := p.gateway.WritePortfolio(ctx, raw); err != nil {
		p.log.Warn().Err(err).Msg("portfolio cache write failed")
	}
	if onPortfolio != nil {
		onPortfolio(raw)
	}
}
