// Package upstream implements the Upstream Connector: one authenticated
// WebSocket connection to the broker, with auto-reconnect and a serialized
// event callback contract. Connect/reconnect/heartbeat shape is grounded
// on the teacher's pkg/smartconnect/websocket.go; the broker's binary
// SmartAPI parser is replaced with the JSON decoder in pkg/upstoxfeed, and
// the fixed-interval capped retry uses jpillora/backoff rather than the
// teacher's own (buggy) exponential-backoff arithmetic.
package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"marketfeed/internal/errs"
	"marketfeed/internal/model"
	"marketfeed/pkg/upstoxfeed"
)

const (
	reconnectInterval = 10 * time.Second
	maxReconnectTries = 5
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
)

// EventSink is the capability the Stream Supervisor implements once and
// hands to every connector, carrying the connector index explicitly rather
// than the source's per-connector closure (SPEC_FULL / spec Design Note 1).
type EventSink interface {
	OnOpen(index int)
	OnMessage(index int, events []upstoxfeed.Event)
	OnError(index int, err error)
	OnClose(index int, code int, text string)
	OnReconnecting(index int, attempt int)
	OnAutoReconnectStopped(index int)
}

// Connector owns one broker WS connection parameterized by one access
// token. Callback dispatch into sink is serialized — everything happens on
// the single read goroutine.
type Connector struct {
	index int
	url   string
	token string
	sink  EventSink

	mu            sync.Mutex
	conn          *websocket.Conn
	state         model.ConnectorState
	disconnecting bool

	writeMu sync.Mutex // gorilla/websocket allows one concurrent writer only

	cancel context.CancelFunc
}

// New creates a Connector for one (index, url, token).
func New(index int, url, token string, sink EventSink) *Connector {
	return &Connector{
		index: index,
		url:   url,
		token: token,
		sink:  sink,
		state: model.ConnectorState{TokenIndex: index},
	}
}

// State returns a snapshot of the connector's health record.
func (c *Connector) State() model.ConnectorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the WS and starts the reconnect-supervised read loop.
// Returns once the first connection attempt completes (success or
// UpstreamAuthError/UpstreamNetworkError); subsequent reconnects happen in
// the background per the reconnect policy.
func (c *Connector) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.disconnecting = false
	c.mu.Unlock()

	conn, err := c.dial(runCtx)
	if err != nil {
		go c.handleDisconnect(runCtx)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state.Connected = true
	c.state.Reconnecting = false
	c.state.ReconnectAttempts = 0
	c.state.LastConnectedAt = time.Now()
	c.mu.Unlock()

	c.sink.OnOpen(c.index)
	go c.readLoop(runCtx)
	go c.heartbeatLoop(runCtx)
	return nil
}

func (c *Connector) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{"Authorization": {"Bearer " + c.token}}
	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == 401 {
			return nil, errs.New(errs.KindUpstreamAuth, "connect", err)
		}
		return nil, errs.New(errs.KindUpstreamNetwork, "connect", err)
	}
	return conn, nil
}

func (c *Connector) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			code, text := closeInfo(err)
			c.sink.OnClose(c.index, code, text)
			c.handleDisconnect(ctx)
			return
		}

		events, decErrs := upstoxfeed.Decode(raw)
		for _, e := range decErrs {
			c.sink.OnError(c.index, errs.New(errs.KindUpstreamProtocol, "decode", e))
		}
		if len(events) > 0 {
			c.sink.OnMessage(c.index, events)
		}
	}
}

// handleDisconnect runs the reconnect policy: fixed 10s interval up to 5
// attempts. During the window the connector is "reconnecting" and
// ingestion is paused for it, not torn down — the supervisor prefers other
// connectors meanwhile (spec §4.1).
func (c *Connector) handleDisconnect(ctx context.Context) {
	c.mu.Lock()
	if c.disconnecting {
		c.mu.Unlock()
		return
	}
	c.state.Connected = false
	c.state.Reconnecting = true
	c.mu.Unlock()

	b := &backoff.Backoff{Min: reconnectInterval, Max: reconnectInterval, Factor: 1}

	for attempt := 1; attempt <= maxReconnectTries; attempt++ {
		c.mu.Lock()
		c.state.ReconnectAttempts = attempt
		c.mu.Unlock()
		c.sink.OnReconnecting(c.index, attempt)

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.Duration()):
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.mu.Lock()
			c.state.LastError = err.Error()
			c.mu.Unlock()
			c.sink.OnError(c.index, err)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state.Connected = true
		c.state.Reconnecting = false
		c.state.ReconnectAttempts = 0
		c.state.LastConnectedAt = time.Now()
		c.mu.Unlock()

		c.sink.OnOpen(c.index)
		go c.readLoop(ctx)
		go c.heartbeatLoop(ctx)
		return
	}

	c.mu.Lock()
	c.state.Reconnecting = false
	c.state.AutoReconnectStop = true
	c.mu.Unlock()
	c.sink.OnAutoReconnectStopped(c.index)
}

func (c *Connector) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Subscribe emits a broker "sub" control frame for instruments in mode.
func (c *Connector) Subscribe(instruments []string, mode model.Mode) error {
	return c.sendControl("sub", instruments, mode)
}

// Unsubscribe emits a broker "unsub" control frame.
func (c *Connector) Unsubscribe(instruments []string) error {
	return c.sendControl("unsub", instruments, "")
}

// ChangeMode emits a broker "change_mode" control frame.
func (c *Connector) ChangeMode(instruments []string, mode model.Mode) error {
	return c.sendControl("change_mode", instruments, mode)
}

func (c *Connector) sendControl(method string, instruments []string, mode model.Mode) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errs.New(errs.KindUpstreamNetwork, method, fmt.Errorf("connector %d not connected", c.index))
	}
	frame := upstoxfeed.ControlFrame{
		Method: method,
		Data: upstoxfeed.ControlFrameData{
			Mode:          string(mode),
			InstrumentKey: instruments,
		},
	}
	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return errs.New(errs.KindUpstreamProtocol, method, err)
	}
	return nil
}

// Disconnect is idempotent; cancels any pending reconnect.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	c.disconnecting = true
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.state.Connected = false
	c.state.Reconnecting = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		c.writeMu.Unlock()
		conn.Close()
	}
}

func closeInfo(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
