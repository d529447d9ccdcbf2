package ingest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"marketfeed/internal/cache"
	"marketfeed/internal/model"
	"marketfeed/pkg/upstoxfeed"
)

func newTestPipeline(onTick func(model.Tick), onCandle func(model.Candle)) *Pipeline {
	gw := cache.New("127.0.0.1:0", "", 0, zerolog.Nop())
	return New(gw, nil, zerolog.Nop(), onTick, onCandle)
}

func TestPipeline_OneMinuteTransitionFinalizesPrevious(t *testing.T) {
	var published []model.Candle
	p := newTestPipeline(nil, func(c model.Candle) { published = append(published, c) })

	first := model.Candle{InstrumentKey: "NSE_EQ|INE002A01018", Interval: model.Interval1Min, StartTS: 1000, Close: 10}
	second := model.Candle{InstrumentKey: "NSE_EQ|INE002A01018", Interval: model.Interval1Min, StartTS: 1060, Close: 11}

	p.Process(context.Background(), []upstoxfeed.Event{{Candles: []model.Candle{first}}})
	if len(published) != 1 || published[0].Status != model.StatusActive {
		t.Fatalf("expected one active candle published, got %+v", published)
	}

	p.Process(context.Background(), []upstoxfeed.Event{{Candles: []model.Candle{second}}})
	if len(published) != 3 {
		t.Fatalf("expected finalize(prev)+active(new) = 2 more publishes, got %d total", len(published))
	}
	if published[1].StartTS != 1000 || published[1].Status != model.StatusCompleted {
		t.Fatalf("expected first candle finalized as completed, got %+v", published[1])
	}
	if published[2].StartTS != 1060 || published[2].Status != model.StatusActive {
		t.Fatalf("expected second candle active, got %+v", published[2])
	}
}

func TestPipeline_SameStartTSDoesNotFinalize(t *testing.T) {
	var published []model.Candle
	p := newTestPipeline(nil, func(c model.Candle) { published = append(published, c) })

	c1 := model.Candle{InstrumentKey: "NSE_EQ|X", Interval: model.Interval1Min, StartTS: 1000, Close: 10}
	c2 := model.Candle{InstrumentKey: "NSE_EQ|X", Interval: model.Interval1Min, StartTS: 1000, Close: 10.5}

	p.Process(context.Background(), []upstoxfeed.Event{{Candles: []model.Candle{c1}}})
	p.Process(context.Background(), []upstoxfeed.Event{{Candles: []model.Candle{c2}}})

	if len(published) != 2 {
		t.Fatalf("expected both updates published without an intervening finalize, got %d", len(published))
	}
	for _, c := range published {
		if c.Status != model.StatusActive {
			t.Errorf("expected both still active while start-ts unchanged, got %+v", c)
		}
	}
}

func TestPipeline_OneDayCandleAlwaysCompleted(t *testing.T) {
	var published []model.Candle
	p := newTestPipeline(nil, func(c model.Candle) { published = append(published, c) })

	c := model.Candle{InstrumentKey: "NSE_EQ|X", Interval: model.Interval1Day, StartTS: 2000, Close: 100}
	p.Process(context.Background(), []upstoxfeed.Event{{Candles: []model.Candle{c}}})

	if len(published) != 1 || published[0].Status != model.StatusCompleted {
		t.Fatalf("expected 1-day candle published as completed, got %+v", published)
	}
}

func TestPipeline_TickForwarded(t *testing.T) {
	var got []model.Tick
	p := newTestPipeline(func(t model.Tick) { got = append(got, t) }, nil)

	tick := model.Tick{InstrumentKey: "NSE_EQ|X", LTP: 123.45}
	p.Process(context.Background(), []upstoxfeed.Event{{Tick: &tick}})

	if len(got) != 1 || got[0].LTP != 123.45 {
		t.Fatalf("expected tick forwarded to onTick, got %+v", got)
	}
}

func TestPipeline_IndependentInstrumentsDoNotInterfere(t *testing.T) {
	var published []model.Candle
	p := newTestPipeline(nil, func(c model.Candle) { published = append(published, c) })

	a := model.Candle{InstrumentKey: "A", Interval: model.Interval1Min, StartTS: 1000}
	b := model.Candle{InstrumentKey: "B", Interval: model.Interval1Min, StartTS: 5000}

	p.Process(context.Background(), []upstoxfeed.Event{{Candles: []model.Candle{a, b}}})
	if len(published) != 2 {
		t.Fatalf("expected both instruments' first candle published active, got %d", len(published))
	}
}
