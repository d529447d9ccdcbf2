package stream

import (
	"testing"

	"github.com/rs/zerolog"

	"marketfeed/internal/model"
	"marketfeed/pkg/upstoxfeed"
)

func TestSupervisor_HealthWithNoConnectors(t *testing.T) {
	s := New(zerolog.Nop(), nil, nil)
	h := s.Health()
	if h.Total != 0 || h.Connected != 0 {
		t.Fatalf("expected zero-valued health with no connectors, got %+v", h)
	}
}

func TestSupervisor_SubscribeFailsWithNoConnectedConnectors(t *testing.T) {
	s := New(zerolog.Nop(), nil, nil)
	ok, errs := s.Subscribe([]string{"NSE_EQ|A"}, model.ModeFull)
	if ok {
		t.Fatal("expected subscribe to fail when there are zero connected connectors")
	}
	if len(errs) != 0 {
		t.Fatalf("expected no per-connector errors when there are no connectors to try, got %+v", errs)
	}
}

func TestSupervisor_RestoreStatePreservesMaps(t *testing.T) {
	s := New(zerolog.Nop(), nil, nil)
	instruments := map[string]bool{"A": true, "B": true}
	modes := map[string]model.Mode{"A": model.ModeFull, "B": model.ModeLTPC}
	s.RestoreState(instruments, modes)

	got := s.SubscribedInstruments()
	if len(got) != 2 {
		t.Fatalf("expected 2 restored instruments, got %v", got)
	}
	gotModes := s.InstrumentModes()
	if gotModes["A"] != model.ModeFull || gotModes["B"] != model.ModeLTPC {
		t.Fatalf("expected restored modes preserved, got %+v", gotModes)
	}
}

func TestSupervisor_OnMessageForwardsToCallback(t *testing.T) {
	var gotCount int
	s := New(zerolog.Nop(), func(events []upstoxfeed.Event) { gotCount = len(events) }, nil)
	s.OnMessage(0, []upstoxfeed.Event{{InstrumentKey: "A"}, {InstrumentKey: "B"}})
	if gotCount != 2 {
		t.Fatalf("expected OnMessage to forward the full event batch, got %d", gotCount)
	}
}
