// Package masterdata is the Master-Data Scheduler: refreshes the trading
// date and the FNO underlying reference table once a day at a fixed IST
// deadline, plus an eager refresh on startup. Continuous-task shape
// (single long-lived goroutine sleeping until the next deadline) mirrors
// the teacher's cmd/mdengine main loop; the relational store underneath is
// the teacher's internal/store/sqlite reader/writer, repurposed from a
// candle journal to a read side for this reference table (spec §4.8).
package masterdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"marketfeed/internal/cache"
	"marketfeed/internal/calendar"
	"marketfeed/internal/model"
)

const dailyRefreshHour, dailyRefreshMinute = 8, 0

// Source fetches the current FNO underlying reference rows. In production
// this is RelStore.All: the external relational store is the system of
// record for the instrument master (spec §4.8), kept current by a loader
// outside this process, and the scheduler's refresh exists to mirror it
// into the Redis cache, one fno_und:* entry per trading symbol.
type Source func(ctx context.Context) ([]model.FNOUnderlying, error)

// Scheduler runs the daily refresh loop. It never terminates on a single
// iteration's error (spec §4.8): a failed refresh is logged and retried at
// the next deadline, the previous day's cached values remain in place.
type Scheduler struct {
	log      zerolog.Logger
	gateway  *cache.Gateway
	relstore *RelStore
	source   Source
}

// New creates a Scheduler.
func New(log zerolog.Logger, gw *cache.Gateway, rs *RelStore, source Source) *Scheduler {
	return &Scheduler{log: log, gateway: gw, relstore: rs, source: source}
}

// Run blocks until ctx is cancelled, refreshing eagerly once and then at
// every subsequent 08:00 IST deadline, holiday or not.
func (s *Scheduler) Run(ctx context.Context) {
	s.refresh(ctx)
	for {
		deadline := calendar.NextDailyDeadline(calendar.Now(), dailyRefreshHour, dailyRefreshMinute)
		wait := time.Until(deadline)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.refresh(ctx)
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context) {
	now := calendar.Now()
	tradingDate := calendar.TradingDate(now)

	if err := s.gateway.WriteTradingDate(ctx, tradingDate, now); err != nil {
		s.log.Warn().Err(err).Msg("master-data: trading date cache write failed")
	}

	rows, err := s.source(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("master-data: FNO underlying refresh failed, keeping previous values")
		return
	}

	if s.relstore != nil {
		if err := s.relstore.Replace(rows); err != nil {
			s.log.Warn().Err(err).Msg("master-data: relational store replace failed")
		}
	}
	if err := s.gateway.WriteFNOUnderlying(ctx, rows); err != nil {
		s.log.Warn().Err(err).Msg("master-data: FNO underlying cache write failed")
		return
	}
	s.log.Info().Int("rows", len(rows)).Str("trading_date", tradingDate).Msg("master-data refreshed")
}
