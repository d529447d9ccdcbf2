package upstoxfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketfeed/internal/model"
)

func TestHistoryClient_IntradayParsesCandlesAndSetsCompleted(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":{"candles":[["1700000000000","100.5","101","99.5","100.8","1200"]]}}`))
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL, 2*time.Second)
	candles, err := c.Intraday(context.Background(), "tok123", "NSE_EQ|X", "minutes", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotAuth, "tok123") {
		t.Fatalf("expected bearer token forwarded, got %q", gotAuth)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	c0 := candles[0]
	if c0.Open != 100.5 || c0.Volume != 1200 || c0.Status != model.StatusCompleted {
		t.Fatalf("unexpected candle decode: %+v", c0)
	}
	if c0.Interval != model.Interval1Min {
		t.Fatalf("expected 1-minute interval for unit=minutes, got %v", c0.Interval)
	}
}

func TestHistoryClient_DayUnitSetsDayInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"candles":[["1700000000000","100","101","99","100.5","10"]]}}`))
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL, time.Second)
	candles, err := c.Intraday(context.Background(), "tok", "NSE_EQ|X", "days", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %+v", candles)
	}
	if candles[0].Interval != model.Interval1Day {
		t.Fatalf("expected 1-day interval for unit=days, got %v", candles[0].Interval)
	}
}

func TestHistoryClient_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL, time.Second)
	_, err := c.Intraday(context.Background(), "tok", "NSE_EQ|X", "minutes", 1)
	if err == nil {
		t.Fatal("expected an error on a non-2xx response")
	}
}
