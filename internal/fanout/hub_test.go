package fanout

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketfeed/internal/model"
	"marketfeed/internal/registry"
)

type fakeSender struct {
	mu       sync.Mutex
	received [][]byte
	block    chan struct{}
	closed   bool
}

func (f *fakeSender) Send(data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.received = append(f.received, data)
	return nil
}

func (f *fakeSender) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func testEncoders() Encoders {
	return Encoders{
		Tick:      func(t model.Tick) ([]byte, error) { return []byte(t.InstrumentKey), nil },
		Candle:    func(c model.Candle) ([]byte, error) { return []byte(c.InstrumentKey), nil },
		Portfolio: func(raw []byte) ([]byte, error) { return raw, nil },
	}
}

func TestHub_PublishTickToWildcardClient(t *testing.T) {
	reg := registry.New()
	id := reg.AddClient()
	reg.UpdateTickFilter(id, "subscribe", []string{registry.Wildcard})

	h := New(zerolog.Nop(), nil, reg, testEncoders(), nil)
	sender := &fakeSender{}
	h.Register(id, sender)

	h.PublishTick(model.Tick{InstrumentKey: "NSE_EQ|A"})

	waitFor(t, func() bool { return sender.count() == 1 })
}

func TestHub_PublishTickFilteredOut(t *testing.T) {
	reg := registry.New()
	id := reg.AddClient()
	reg.UpdateTickFilter(id, "subscribe", []string{"NSE_EQ|B"})

	h := New(zerolog.Nop(), nil, reg, testEncoders(), nil)
	sender := &fakeSender{}
	h.Register(id, sender)

	h.PublishTick(model.Tick{InstrumentKey: "NSE_EQ|A"})
	time.Sleep(20 * time.Millisecond)

	if sender.count() != 0 {
		t.Fatalf("expected non-matching tick not delivered, got %d", sender.count())
	}
}

func TestHub_SlowClientEvictedWithoutBlockingOthers(t *testing.T) {
	reg := registry.New()
	slowID := reg.AddClient()
	fastID := reg.AddClient()
	reg.UpdateTickFilter(slowID, "subscribe", []string{registry.Wildcard})
	reg.UpdateTickFilter(fastID, "subscribe", []string{registry.Wildcard})

	var evicted string
	h := New(zerolog.Nop(), nil, reg, testEncoders(), func(id string) { evicted = id })

	slow := &fakeSender{block: make(chan struct{})}
	fast := &fakeSender{}
	h.Register(slowID, slow)
	h.Register(fastID, fast)

	for i := 0; i < defaultBufferSize+10; i++ {
		h.PublishTick(model.Tick{InstrumentKey: "NSE_EQ|A"})
	}

	waitFor(t, func() bool { return fast.count() > 0 })
	waitFor(t, func() bool { return evicted == slowID })
	close(slow.block)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
