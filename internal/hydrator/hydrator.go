// Package hydrator is the History Hydrator: serves an initial OHLC
// snapshot to a client that subscribes with include_history, reading the
// Cache Gateway's series first and falling back to the broker's intraday
// History API on a miss. Worker-pool shape is grounded on the teacher's
// internal/indengine consumer loop and cmd/mdengine's bounded-channel
// dispatch, both fixed-size-goroutine-pool-over-a-buffered-channel.
package hydrator

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"marketfeed/internal/cache"
	"marketfeed/internal/calendar"
	"marketfeed/internal/model"
	"marketfeed/internal/obs"
	"marketfeed/pkg/upstoxfeed"
)

const defaultQueueSize = 1024

// Job is one snapshot request: serve (clientID, instrumentKey, interval)
// history to the client via Deliver.
type Job struct {
	ClientID      string
	InstrumentKey string
	Interval      model.Interval
	Token         string // bearer token for the History API fallback
}

// Deliver ships a resolved (possibly empty) candle snapshot to one client;
// the Control Plane supplies this to own the downstream envelope format.
type Deliver func(clientID, instrumentKey string, interval model.Interval, candles []model.Candle)

// Hydrator runs a fixed pool of workers draining a bounded job queue.
type Hydrator struct {
	log     zerolog.Logger
	metrics *obs.Metrics
	gateway *cache.Gateway
	history *upstoxfeed.HistoryClient
	deliver Deliver

	jobs chan Job
	wg   sync.WaitGroup
}

// New creates a Hydrator with the given worker count (4 when workers <= 0);
// the job queue depth is fixed at defaultQueueSize.
func New(log zerolog.Logger, metrics *obs.Metrics, gw *cache.Gateway, history *upstoxfeed.HistoryClient, deliver Deliver, workers int) *Hydrator {
	if workers <= 0 {
		workers = 4
	}
	h := &Hydrator{
		log:     log,
		metrics: metrics,
		gateway: gw,
		history: history,
		deliver: deliver,
		jobs:    make(chan Job, defaultQueueSize),
	}
	for i := 0; i < workers; i++ {
		h.wg.Add(1)
		go h.worker()
	}
	return h
}

// Enqueue submits a snapshot job. If the queue is full the job is dropped
// and logged — a missed snapshot is recoverable on the client's next
// resubscribe, unlike a dropped live tick.
func (h *Hydrator) Enqueue(job Job) {
	select {
	case h.jobs <- job:
		if h.metrics != nil {
			h.metrics.HydratorQueueDepth.Set(float64(len(h.jobs)))
		}
	default:
		h.log.Warn().Str("client", job.ClientID).Str("instrument", job.InstrumentKey).Msg("hydrator queue full, dropping snapshot request")
	}
}

// Stop closes the job queue and waits for in-flight workers to drain.
func (h *Hydrator) Stop() {
	close(h.jobs)
	h.wg.Wait()
}

func (h *Hydrator) worker() {
	defer h.wg.Done()
	for job := range h.jobs {
		h.process(job)
		if h.metrics != nil {
			h.metrics.HydratorQueueDepth.Set(float64(len(h.jobs)))
		}
	}
}

// process implements spec §4.6: try the cache first, fall back to the
// History API on a miss, persist whatever the API returns, and always
// deliver a snapshot — empty if both sources came back empty — in
// strictly-ascending start-timestamp order.
func (h *Hydrator) process(job Job) {
	ctx := context.Background()
	tradingDate := calendar.TradingDate(calendar.Now())

	candles, err := h.gateway.ReadSeries(ctx, tradingDate, job.InstrumentKey, job.Interval)
	if err != nil {
		h.log.Warn().Err(err).Str("instrument", job.InstrumentKey).Msg("hydrator cache read failed")
	}
	if len(candles) > 0 {
		if h.metrics != nil {
			h.metrics.HydratorCacheHits.Inc()
		}
		h.deliver(job.ClientID, job.InstrumentKey, job.Interval, candles)
		return
	}

	unit := "minutes"
	size := 1
	if job.Interval == model.Interval1Day {
		unit = "days"
	}
	if h.metrics != nil {
		h.metrics.HydratorAPICalls.Inc()
	}
	fetched, err := h.history.Intraday(ctx, job.Token, job.InstrumentKey, unit, size)
	if err != nil {
		h.log.Warn().Err(err).Str("instrument", job.InstrumentKey).Msg("history API fallback failed")
		h.deliver(job.ClientID, job.InstrumentKey, job.Interval, nil)
		return
	}
	sort.Slice(fetched, func(i, j int) bool { return fetched[i].StartTS < fetched[j].StartTS })
	for _, c := range fetched {
		if werr := h.gateway.WriteCandle(ctx, tradingDate, c); werr != nil {
			h.log.Warn().Err(werr).Str("instrument", job.InstrumentKey).Msg("hydrator cache persist failed")
		}
	}
	h.deliver(job.ClientID, job.InstrumentKey, job.Interval, fetched)
}
