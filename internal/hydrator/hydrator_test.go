package hydrator

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketfeed/internal/cache"
	"marketfeed/internal/model"
	"marketfeed/pkg/upstoxfeed"
)

func TestHydrator_EmptySnapshotStillDelivered(t *testing.T) {
	gw := cache.New("127.0.0.1:0", "", 0, zerolog.Nop())
	history := upstoxfeed.NewHistoryClient("http://127.0.0.1:0", 50*time.Millisecond)

	var mu sync.Mutex
	var delivered bool
	var gotCandles []model.Candle

	deliver := func(clientID, instrumentKey string, interval model.Interval, candles []model.Candle) {
		mu.Lock()
		defer mu.Unlock()
		delivered = true
		gotCandles = candles
	}

	h := New(zerolog.Nop(), nil, gw, history, deliver, 2)
	defer h.Stop()

	h.Enqueue(Job{ClientID: "c1", InstrumentKey: "NSE_EQ|X", Interval: model.Interval1Min, Token: "t"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		d := delivered
		mu.Unlock()
		if d {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !delivered {
		t.Fatal("expected a snapshot delivery even when both cache and history API fail")
	}
	if len(gotCandles) != 0 {
		t.Fatalf("expected empty snapshot on total miss, got %d candles", len(gotCandles))
	}
}

func TestHydrator_QueueFullDropsWithoutBlocking(t *testing.T) {
	gw := cache.New("127.0.0.1:0", "", 0, zerolog.Nop())
	history := upstoxfeed.NewHistoryClient("http://127.0.0.1:0", 10*time.Millisecond)
	block := make(chan struct{})
	deliver := func(clientID, instrumentKey string, interval model.Interval, candles []model.Candle) {
		<-block
	}
	h := New(zerolog.Nop(), nil, gw, history, deliver, 1)
	defer func() {
		close(block)
		h.Stop()
	}()

	for i := 0; i < defaultQueueSize+10; i++ {
		h.Enqueue(Job{ClientID: "c1", InstrumentKey: "X", Interval: model.Interval1Min})
	}
}
