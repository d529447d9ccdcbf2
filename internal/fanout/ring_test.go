package fanout

import (
	"sync"
	"testing"
	"time"
)

func TestRing_BasicPushPop(t *testing.T) {
	r := newRing(4)

	if !r.push(outboundMessage{data: []byte("a")}) {
		t.Fatal("push a should succeed")
	}
	if !r.push(outboundMessage{data: []byte("b")}) {
		t.Fatal("push b should succeed")
	}
	if r.len() != 2 {
		t.Fatalf("expected len=2, got %d", r.len())
	}

	got, ok := r.pop()
	if !ok || string(got.data) != "a" {
		t.Fatalf("expected a, got %q ok=%v", got.data, ok)
	}
	got, ok = r.pop()
	if !ok || string(got.data) != "b" {
		t.Fatalf("expected b, got %q ok=%v", got.data, ok)
	}
	if _, ok := r.pop(); ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_OverflowReturnsFalse(t *testing.T) {
	r := newRing(2)
	r.push(outboundMessage{data: []byte("1")})
	r.push(outboundMessage{data: []byte("2")})
	if r.push(outboundMessage{data: []byte("3")}) {
		t.Fatal("push to a full ring should return false")
	}
}

// TestRing_ConcurrentProducersNoLostFrames exercises the multi-producer
// path the Hub actually drives: several goroutines racing push against one
// consumer draining pop, the shape a connector-per-goroutine fan-in
// produces. Every pushed frame must be observed exactly once.
func TestRing_ConcurrentProducersNoLostFrames(t *testing.T) {
	const producers = 8
	const perProducer = 2000
	r := newRing(64)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !r.push(outboundMessage{data: []byte{byte(p)}}) {
					time.Sleep(time.Microsecond)
				}
			}
		}(p)
	}

	counts := make([]int, producers)
	done := make(chan struct{})
	go func() {
		total := 0
		for total < producers*perProducer {
			if msg, ok := r.pop(); ok {
				counts[msg.data[0]]++
				total++
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent producer test timed out, frames likely lost")
	}
	wg.Wait()

	for p, c := range counts {
		if c != perProducer {
			t.Fatalf("producer %d: expected %d frames delivered, got %d (lost or duplicated under concurrent push)", p, perProducer, c)
		}
	}
}
