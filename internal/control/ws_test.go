package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"marketfeed/internal/cache"
	"marketfeed/internal/fanout"
	"marketfeed/internal/hydrator"
	"marketfeed/internal/registry"
	"marketfeed/pkg/upstoxfeed"
)

func newTestServer() (*Server, *httptest.Server) {
	reg := registry.New()
	gw := cache.New("127.0.0.1:0", "", 0, zerolog.Nop())
	history := upstoxfeed.NewHistoryClient("http://127.0.0.1:0", 10*time.Millisecond)

	s := NewServer(zerolog.Nop(), reg, nil, nil, nil)
	hub := fanout.New(zerolog.Nop(), nil, reg, fanout.Encoders{
		Tick:      s.EncodeTick,
		Candle:    s.EncodeCandle,
		Portfolio: s.EncodePortfolio,
	}, nil)
	s.hub = hub
	s.hydrator = hydrator.New(zerolog.Nop(), nil, gw, history, s.DeliverSnapshot, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	ts := httptest.NewServer(mux)
	return s, ts
}

func dialTestServer(t *testing.T, ts *httptest.Server) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *gws.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return e
}

func TestWS_ConnectSendsClientID(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()
	conn := dialTestServer(t, ts)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m connectionMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != "connection" || m.Status != "connected" || m.ClientID == "" {
		t.Fatalf("expected a top-level connection/connected/client_id frame, got %+v", m)
	}
	if m.CurrentSubscriptions == nil {
		t.Fatalf("expected current_subscriptions to be present (even if empty), got nil")
	}
}

func TestWS_SubscribeAcks(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()
	conn := dialTestServer(t, ts)
	defer conn.Close()

	readEnvelope(t, conn) // connection

	msg := clientMessage{Action: "subscribe", Items: []string{"NSE_EQ|A"}}
	body, _ := json.Marshal(msg)
	if err := conn.WriteMessage(gws.TextMessage, body); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m subscriptionUpdateMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != "subscription_update" || m.Action != "subscribe" || !m.Success {
		t.Fatalf("expected a successful subscribe ack, got %+v", m)
	}
	if len(m.CurrentSubscriptions) != 1 || m.CurrentSubscriptions[0] != "NSE_EQ|A" {
		t.Fatalf("expected current_subscriptions to reflect the merged filter, got %v", m.CurrentSubscriptions)
	}
}

func TestWS_PingPong(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()
	conn := dialTestServer(t, ts)
	defer conn.Close()

	readEnvelope(t, conn) // connection

	body, _ := json.Marshal(clientMessage{Action: "ping"})
	conn.WriteMessage(gws.TextMessage, body)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m pongMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != "pong" || m.Timestamp.IsZero() {
		t.Fatalf("expected a pong with a non-zero timestamp, got %+v", m)
	}
}

func TestWS_DeliverSnapshotCarriesCountAndTime(t *testing.T) {
	s, ts := newTestServer()
	defer ts.Close()
	conn := dialTestServer(t, ts)
	defer conn.Close()

	readEnvelope(t, conn) // connection
	clientID := s.registry.ClientIDs()[0]

	s.DeliverSnapshot(clientID, "NSE_EQ|A", "1min", nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m ohlcSnapshotMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != "ohlc_snapshot" || m.InstrumentKey != "NSE_EQ|A" || m.CandleCount != 0 || m.SnapshotTime.IsZero() {
		t.Fatalf("expected a top-level ohlc_snapshot with candle_count/snapshot_time, got %+v", m)
	}
}

func TestWS_UnknownActionReturnsError(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()
	conn := dialTestServer(t, ts)
	defer conn.Close()

	readEnvelope(t, conn) // connection

	body, _ := json.Marshal(clientMessage{Action: "bogus"})
	conn.WriteMessage(gws.TextMessage, body)

	e := readEnvelope(t, conn)
	if e.Type != "error" {
		t.Fatalf("expected 'error' for unrecognized action, got %q", e.Type)
	}
}
