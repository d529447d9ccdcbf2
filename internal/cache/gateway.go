// Package cache is the Cache Gateway: typed access to the external
// key/value store for snapshots, ZSET candle series, master data and
// tokens. Built on go-redis/redis/v8, following the pipelined-write
// pattern of the teacher's internal/store/redis/writer.go, but against
// ZSETs (spec §6) rather than the teacher's Streams.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"marketfeed/internal/errs"
	"marketfeed/internal/model"
	"marketfeed/internal/obs"
)

const (
	tickTTL      = 5 * time.Minute
	portfolioTTL = 5 * time.Minute
	seriesTTL    = 24 * time.Hour
	fnoTTL       = 7 * 24 * time.Hour
)

// Gateway is the Cache Gateway. All writes are idempotent and keyed so
// concurrent writers (redundant upstream connectors) converge, per
// spec §5's shared-resource policy.
type Gateway struct {
	client  *redis.Client
	breaker *breaker
	log     zerolog.Logger

	mu          sync.RWMutex
	latestTicks map[string]model.Tick // fallback when circuit open
}

// New creates a Gateway against addr/password/db.
func New(addr, password string, db int, log zerolog.Logger) *Gateway {
	return &Gateway{
		client:      redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		breaker:     newBreaker(5, 30*time.Second),
		log:         log,
		latestTicks: make(map[string]model.Tick),
	}
}

// WithMetrics wires the circuit breaker's state transitions into the given
// Metrics sink. metrics may be nil, meaning unwired/no-op.
func (g *Gateway) WithMetrics(metrics *obs.Metrics) *Gateway {
	if metrics == nil {
		return g
	}
	g.breaker.OnStateChange = func(from, to breakerState) {
		metrics.CacheCircuitState.Set(float64(to))
		if to == stateOpen {
			metrics.CacheCircuitTrips.Inc()
		}
	}
	return g
}

// Close releases the underlying connection pool.
func (g *Gateway) Close() error { return g.client.Close() }

// WriteTick caches the latest tick for an instrument, 5-minute TTL.
// On cache failure this is logged and skipped (spec §7 CacheError: "writes
// are logged and skipped"); the in-memory shadow copy is still updated so
// reads keep working.
func (g *Gateway) WriteTick(ctx context.Context, t model.Tick) error {
	g.mu.Lock()
	g.latestTicks[t.InstrumentKey] = t
	g.mu.Unlock()

	if !g.breaker.allow() {
		return errs.New(errs.KindCache, "write_tick", errs.ErrCircuitOpen)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return errs.New(errs.KindCache, "write_tick_marshal", err)
	}
	err = g.client.Set(ctx, tickKey(t.InstrumentKey), body, tickTTL).Err()
	if err != nil {
		g.breaker.recordFailure()
		g.log.Warn().Err(err).Str("instrument", t.InstrumentKey).Msg("cache write_tick failed, serving from memory")
		return errs.New(errs.KindCache, "write_tick", err)
	}
	g.breaker.recordSuccess()
	return nil
}

// ReadTick returns the latest cached tick, falling back to the in-memory
// shadow copy when the circuit is open.
func (g *Gateway) ReadTick(ctx context.Context, instrumentKey string) (model.Tick, bool, error) {
	if g.breaker.allow() {
		body, err := g.client.Get(ctx, tickKey(instrumentKey)).Bytes()
		if err == nil {
			var t model.Tick
			if jerr := json.Unmarshal(body, &t); jerr == nil {
				g.breaker.recordSuccess()
				return t, true, nil
			}
		} else if err != redis.Nil {
			g.breaker.recordFailure()
		} else {
			g.breaker.recordSuccess()
			return model.Tick{}, false, nil
		}
	}
	g.mu.RLock()
	t, ok := g.latestTicks[instrumentKey]
	g.mu.RUnlock()
	return t, ok, nil
}

// WritePortfolio caches the opaque portfolio payload, 5-minute TTL.
func (g *Gateway) WritePortfolio(ctx context.Context, raw json.RawMessage) error {
	if !g.breaker.allow() {
		return errs.New(errs.KindCache, "write_portfolio", errs.ErrCircuitOpen)
	}
	err := g.client.Set(ctx, portfolioKey, []byte(raw), portfolioTTL).Err()
	if err != nil {
		g.breaker.recordFailure()
		return errs.New(errs.KindCache, "write_portfolio", err)
	}
	g.breaker.recordSuccess()
	return nil
}

// WriteCandle persists a candle into the (trading_date, instrument,
// interval) series. The write is idempotent by score: any existing member
// at the same start-timestamp is removed before the new member is added,
// so a redundant-connector duplicate or a revised candle body never leaves
// two members at one score (spec §3 Invariant 3, S4). The :latest pointer
// is updated only when this candle's start-timestamp is the newest ever
// observed for the series (spec §6).
func (g *Gateway) WriteCandle(ctx context.Context, tradingDate string, c model.Candle) error {
	if !g.breaker.allow() {
		return errs.New(errs.KindCache, "write_candle", errs.ErrCircuitOpen)
	}

	body, err := json.Marshal(c)
	if err != nil {
		return errs.New(errs.KindCache, "write_candle_marshal", err)
	}

	sKey := seriesKey(tradingDate, c.InstrumentKey, string(c.Interval))
	lKey := latestKey(tradingDate, c.InstrumentKey, string(c.Interval))
	score := float64(c.StartTS)

	pipe := g.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, sKey, scoreStr(score), scoreStr(score))
	pipe.ZAdd(ctx, sKey, &redis.Z{Score: score, Member: body})
	pipe.Expire(ctx, sKey, seriesTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		g.breaker.recordFailure()
		return errs.New(errs.KindCache, "write_candle", err)
	}

	// Advance :latest only if this start-ts is the newest seen.
	existing, err := g.client.Get(ctx, lKey).Bytes()
	if err == nil {
		var prev model.Candle
		if jerr := json.Unmarshal(existing, &prev); jerr == nil && prev.StartTS >= c.StartTS {
			g.breaker.recordSuccess()
			return nil
		}
	}
	if setErr := g.client.Set(ctx, lKey, body, seriesTTL).Err(); setErr != nil {
		g.breaker.recordFailure()
		return errs.New(errs.KindCache, "write_candle_latest", setErr)
	}
	g.breaker.recordSuccess()
	return nil
}

// ReadSeries returns the ordered candles for (tradingDate, instrumentKey,
// interval), ascending by start-timestamp (spec §5/§8: snapshot ordering).
func (g *Gateway) ReadSeries(ctx context.Context, tradingDate, instrumentKey string, interval model.Interval) ([]model.Candle, error) {
	if !g.breaker.allow() {
		return nil, errs.New(errs.KindCache, "read_series", errs.ErrCircuitOpen)
	}
	members, err := g.client.ZRangeByScore(ctx, seriesKey(tradingDate, instrumentKey, string(interval)), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf",
	}).Result()
	if err != nil {
		g.breaker.recordFailure()
		return nil, errs.New(errs.KindCache, "read_series", err)
	}
	g.breaker.recordSuccess()

	out := make([]model.Candle, 0, len(members))
	for _, m := range members {
		var c model.Candle
		if jerr := json.Unmarshal([]byte(m), &c); jerr == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// WriteTradingDate writes the master-data trading-date key plus its
// updated_at marker (spec §6, §4.8). No TTL, per the layout.
func (g *Gateway) WriteTradingDate(ctx context.Context, date string, updatedAt time.Time) error {
	if !g.breaker.allow() {
		return errs.New(errs.KindCache, "write_trading_date", errs.ErrCircuitOpen)
	}
	pipe := g.client.TxPipeline()
	pipe.Set(ctx, tradingDateKey, date, 0)
	pipe.Set(ctx, tradingDateUpdatedAtKey, updatedAt.Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		g.breaker.recordFailure()
		return errs.New(errs.KindCache, "write_trading_date", err)
	}
	g.breaker.recordSuccess()
	return nil
}

// WriteFNOUnderlying writes one cache entry per trading symbol, 7-day TTL.
func (g *Gateway) WriteFNOUnderlying(ctx context.Context, rows []model.FNOUnderlying) error {
	if !g.breaker.allow() {
		return errs.New(errs.KindCache, "write_fno", errs.ErrCircuitOpen)
	}
	pipe := g.client.Pipeline()
	for _, r := range rows {
		body, err := json.Marshal(r)
		if err != nil {
			continue
		}
		pipe.Set(ctx, fnoKey(r.TradingSymbol), body, fnoTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		g.breaker.recordFailure()
		return errs.New(errs.KindCache, "write_fno", err)
	}
	g.breaker.recordSuccess()
	return nil
}

// ReadToken reads the per-account token; falls back to the legacy
// single-account keys (primary, then secondary) when no per-account key is
// set (spec §6).
func (g *Gateway) ReadToken(ctx context.Context, accountID string) (string, error) {
	v, err := g.client.Get(ctx, tokenKey(accountID)).Result()
	if err == nil {
		return v, nil
	}
	if err != redis.Nil {
		return "", errs.New(errs.KindCache, "read_token", err)
	}
	v, err = g.client.Get(ctx, legacyTokenKey).Result()
	if err == nil {
		return v, nil
	}
	if err != redis.Nil {
		return "", errs.New(errs.KindCache, "read_token_legacy", err)
	}
	v, err = g.client.Get(ctx, legacyTokenKeySecondary).Result()
	if err == nil {
		return v, nil
	}
	if err != redis.Nil {
		return "", errs.New(errs.KindCache, "read_token_legacy_secondary", err)
	}
	return "", nil
}

// AllTicks returns a snapshot of the latest tick per instrument, for the
// /api/market-data listing endpoint. This reads the in-memory shadow copy
// rather than scanning the cache, since that copy is updated on every
// WriteTick regardless of cache health and is therefore the authoritative
// latest-value set either way.
func (g *Gateway) AllTicks() map[string]model.Tick {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]model.Tick, len(g.latestTicks))
	for k, v := range g.latestTicks {
		out[k] = v
	}
	return out
}

// CircuitState exposes the breaker state for the /api/health surface.
func (g *Gateway) CircuitState() int {
	return int(g.breaker.currentState())
}

func scoreStr(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
