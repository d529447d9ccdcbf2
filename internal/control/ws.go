// Package control is the Control Plane: the downstream WebSocket protocol
// (this file) and the admin HTTP surface (admin.go). WS transport stays on
// gorilla/websocket, matching the teacher's internal/gateway hub; the
// admin surface is rebuilt on gin-gonic/gin in place of the teacher's raw
// http.ServeMux, per the wider REST surface this spec's admin API needs.
package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"marketfeed/internal/fanout"
	"marketfeed/internal/hydrator"
	"marketfeed/internal/model"
	"marketfeed/internal/registry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSender adapts a gorilla connection to fanout.Sender.
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSender) Close() { s.conn.Close() }

// Server owns the downstream WS surface.
type Server struct {
	log      zerolog.Logger
	registry *registry.Registry
	hub      *fanout.Hub
	hydrator *hydrator.Hydrator
	token    func() string
}

// NewServer wires a Control Plane WS server against the shared registry.
// hub and hyd may be nil at construction time and attached later via
// AttachHub/AttachHydrator — the encoder methods below don't read either
// field, which breaks what would otherwise be a construction cycle (the
// Hub needs these methods as its Encoders before Server can hold a Hub).
// token returns a currently-valid bearer token for History API fallbacks
// triggered by subscribe_ohlc(include_history=true).
func NewServer(log zerolog.Logger, reg *registry.Registry, hub *fanout.Hub, hyd *hydrator.Hydrator, token func() string) *Server {
	return &Server{log: log, registry: reg, hub: hub, hydrator: hyd, token: token}
}

// AttachHub sets the Hub this server publishes through, once constructed.
func (s *Server) AttachHub(hub *fanout.Hub) { s.hub = hub }

// AttachHydrator sets the Hydrator this server enqueues snapshot jobs on.
func (s *Server) AttachHydrator(hyd *hydrator.Hydrator) { s.hydrator = hyd }

// HandleWS upgrades the connection, registers a client, and runs its read
// loop until disconnect.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	clientID := s.registry.AddClient()
	s.hub.Register(clientID, &wsSender{conn: conn})
	s.hub.SendDirect(clientID, mustMarshal(connectionMsg{
		Type:                 "connection",
		Status:               "connected",
		ClientID:             clientID,
		CurrentSubscriptions: s.registry.TickFilter(clientID),
	}))

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	defer func() {
		s.registry.RemoveClient(clientID)
		s.hub.Remove(clientID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if jerr := json.Unmarshal(raw, &msg); jerr != nil {
			s.hub.SendDirect(clientID, mustMarshal(errorMsg{Type: "error", Message: "malformed message"}))
			continue
		}
		s.dispatch(clientID, msg)
	}
}

func (s *Server) dispatch(clientID string, msg clientMessage) {
	switch msg.Action {
	case "subscribe":
		ok := s.registry.UpdateTickFilter(clientID, "subscribe", msg.Items)
		s.hub.SendDirect(clientID, mustMarshal(subscriptionUpdateMsg{
			Type: "subscription_update", Action: "subscribe", Success: ok,
			CurrentSubscriptions: s.registry.TickFilter(clientID),
		}))
	case "unsubscribe":
		ok := s.registry.UpdateTickFilter(clientID, "unsubscribe", msg.Items)
		s.hub.SendDirect(clientID, mustMarshal(subscriptionUpdateMsg{
			Type: "subscription_update", Action: "unsubscribe", Success: ok,
			CurrentSubscriptions: s.registry.TickFilter(clientID),
		}))
	case "get_subscriptions":
		s.hub.SendDirect(clientID, mustMarshal(env("subscriptions", subscriptionsData{Instruments: s.registry.TickFilter(clientID)})))
	case "subscribe_ohlc":
		s.registry.SubscribeOHLC(clientID, msg.Instruments, msg.Intervals, msg.IncludeHistory)
		if msg.IncludeHistory {
			s.enqueueSnapshots(clientID, msg.Instruments, msg.Intervals)
		}
	case "unsubscribe_ohlc":
		s.registry.UnsubscribeOHLC(clientID, msg.Instruments, msg.Intervals)
	case "get_ohlc_subscriptions":
		s.hub.SendDirect(clientID, mustMarshal(env("ohlc_subscriptions", ohlcSubscriptionsData{Filter: s.registry.OHLCFilter(clientID)})))
	case "ping":
		s.hub.SendDirect(clientID, mustMarshal(pongMsg{Type: "pong", Timestamp: time.Now()}))
	default:
		s.hub.SendDirect(clientID, mustMarshal(errorMsg{Type: "error", Message: "unknown action: " + msg.Action}))
	}
}

func (s *Server) enqueueSnapshots(clientID string, instruments, intervals []string) {
	if len(intervals) == 0 {
		intervals = []string{string(model.Interval1Min)}
	}
	tok := ""
	if s.token != nil {
		tok = s.token()
	}
	for _, inst := range instruments {
		for _, iv := range intervals {
			s.hydrator.Enqueue(hydrator.Job{
				ClientID:      clientID,
				InstrumentKey: inst,
				Interval:      model.Interval(iv),
				Token:         tok,
			})
		}
	}
}

// DeliverSnapshot is passed to hydrator.New as its Deliver callback.
func (s *Server) DeliverSnapshot(clientID, instrumentKey string, interval model.Interval, candles []model.Candle) {
	s.hub.SendDirect(clientID, mustMarshal(ohlcSnapshotMsg{
		Type:          "ohlc_snapshot",
		InstrumentKey: instrumentKey,
		Interval:      interval,
		CandleCount:   len(candles),
		SnapshotTime:  time.Now(),
		Candles:       candles,
	}))
}

// EncodeTick/EncodeCandle/EncodePortfolio implement fanout.Encoders.
func (s *Server) EncodeTick(t model.Tick) ([]byte, error) {
	return json.Marshal(env("market_data", t))
}

func (s *Server) EncodeCandle(c model.Candle) ([]byte, error) {
	return json.Marshal(env("ohlc_data", c))
}

func (s *Server) EncodePortfolio(raw []byte) ([]byte, error) {
	return json.Marshal(env("portfolio_data", json.RawMessage(raw)))
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","message":"internal encode error"}`)
	}
	return b
}
