package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"marketfeed/internal/model"
	"marketfeed/internal/obs"
)

func newTestGateway() *Gateway {
	return New("127.0.0.1:1", "", 0, zerolog.Nop())
}

func TestGateway_WriteTickFallsBackToMemoryOnCacheFailure(t *testing.T) {
	g := newTestGateway()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	tick := model.Tick{InstrumentKey: "NSE_EQ|X", LTP: 100.5}
	if err := g.WriteTick(ctx, tick); err == nil {
		t.Fatal("expected WriteTick to report a cache error against an unreachable redis")
	}

	got, ok, err := g.ReadTick(ctx, "NSE_EQ|X")
	if err != nil {
		t.Fatalf("unexpected error reading back from memory shadow: %v", err)
	}
	if !ok || got.LTP != 100.5 {
		t.Fatalf("expected the in-memory shadow copy to serve the tick, got %+v ok=%v", got, ok)
	}
}

func TestGateway_ReadTickMissingInstrumentIsNotFound(t *testing.T) {
	g := newTestGateway()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, ok, err := g.ReadTick(ctx, "NSE_EQ|UNKNOWN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an instrument never written")
	}
}

func TestGateway_CircuitStateReflectsBreaker(t *testing.T) {
	g := newTestGateway()
	if g.CircuitState() != int(stateClosed) {
		t.Fatalf("expected breaker to start closed, got %d", g.CircuitState())
	}
}

func TestGateway_WithMetricsTripsCounterOnOpen(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)
	g := newTestGateway().WithMetrics(metrics)

	for i := 0; i < 5; i++ {
		g.breaker.recordFailure()
	}
	if g.CircuitState() != int(stateOpen) {
		t.Fatalf("expected breaker to open after 5 failures, got %d", g.CircuitState())
	}
	if got := testutil.ToFloat64(metrics.CacheCircuitTrips); got != 1 {
		t.Fatalf("expected CacheCircuitTrips to be 1, got %v", got)
	}
}

