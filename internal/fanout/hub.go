// Package fanout is the Fan-out Hub: routes decoded Tick/Candle/Portfolio
// events to every interested client's outbound buffer without letting one
// slow client block delivery to the rest (spec §4.5). Message encoding
// (the downstream WS envelope) is supplied by the Control Plane via the
// Encoder functions so this package stays protocol-agnostic, the way the
// teacher keeps internal/gateway's Hub free of broker wire-format
// concerns.
package fanout

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketfeed/internal/model"
	"marketfeed/internal/obs"
	"marketfeed/internal/registry"
)

const defaultBufferSize = 256

type outboundMessage struct {
	data []byte
}

// Sender is how the Hub actually ships a message to one client; the
// Control Plane's WS connection wrapper implements this.
type Sender interface {
	Send(data []byte) error
	Close()
}

// Encoders lets the Control Plane own the downstream wire format while the
// Hub owns only routing and backpressure.
type Encoders struct {
	Tick      func(model.Tick) ([]byte, error)
	Candle    func(model.Candle) ([]byte, error)
	Portfolio func(raw []byte) ([]byte, error)
}

type clientConn struct {
	id     string
	ring   *ring
	sender Sender
	wake   chan struct{}
	once   sync.Once
	closed chan struct{}
}

func (c *clientConn) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *clientConn) stop() {
	c.once.Do(func() { close(c.closed) })
}

// Hub fans Tick/Candle/Portfolio events out to registered clients,
// filtered per client by the Subscription Registry.
type Hub struct {
	log      zerolog.Logger
	metrics  *obs.Metrics
	registry *registry.Registry
	enc      Encoders

	mu      sync.RWMutex
	clients map[string]*clientConn

	onEvict func(clientID string)
}

// New creates a Hub bound to a Subscription Registry and a set of message
// encoders.
func New(log zerolog.Logger, metrics *obs.Metrics, reg *registry.Registry, enc Encoders, onEvict func(clientID string)) *Hub {
	return &Hub{
		log:      log,
		metrics:  metrics,
		registry: reg,
		enc:      enc,
		clients:  make(map[string]*clientConn),
		onEvict:  onEvict,
	}
}

// Register attaches a client's Sender and starts its dedicated writer
// goroutine, draining the client's ring in FIFO order.
func (h *Hub) Register(clientID string, sender Sender) {
	c := &clientConn{
		id:     clientID,
		ring:   newRing(defaultBufferSize),
		sender: sender,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[clientID] = c
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ClientsConnected.Inc()
	}
	go h.writeLoop(c)
}

// Remove stops and forgets a client's outbound connection.
func (h *Hub) Remove(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	delete(h.clients, clientID)
	h.mu.Unlock()
	if ok {
		c.stop()
		c.sender.Close()
	}
	if h.metrics != nil {
		h.metrics.ClientsConnected.Dec()
	}
}

func (h *Hub) writeLoop(c *clientConn) {
	for {
		select {
		case <-c.closed:
			return
		case <-c.wake:
		}
		for {
			msg, ok := c.ring.pop()
			if !ok {
				break
			}
			if err := c.sender.Send(msg.data); err != nil {
				h.log.Warn().Str("client", c.id).Err(err).Msg("client send failed, evicting")
				h.evict(c.id)
				return
			}
		}
	}
}

func (h *Hub) evict(clientID string) {
	h.Remove(clientID)
	if h.onEvict != nil {
		h.onEvict(clientID)
	}
}

// PublishTick delivers a tick to every client whose tick filter matches
// (spec §4.5: wildcard "*" or explicit instrument).
func (h *Hub) PublishTick(t model.Tick) {
	start := time.Now()
	data, err := h.enc.Tick(t)
	if err != nil {
		h.log.Warn().Err(err).Msg("tick encode failed")
		return
	}
	for _, id := range h.registry.ClientIDs() {
		if h.registry.WantsTick(id, t.InstrumentKey) {
			h.deliver(id, data)
		}
	}
	h.observeDeliveryLatency(start)
}

// PublishCandle delivers a candle to every client whose OHLC filter
// matches the (instrument, interval) pair.
func (h *Hub) PublishCandle(c model.Candle) {
	start := time.Now()
	data, err := h.enc.Candle(c)
	if err != nil {
		h.log.Warn().Err(err).Msg("candle encode failed")
		return
	}
	for _, id := range h.registry.ClientIDs() {
		if h.registry.WantsCandle(id, c.InstrumentKey, string(c.Interval)) {
			h.deliver(id, data)
		}
	}
	h.observeDeliveryLatency(start)
}

func (h *Hub) observeDeliveryLatency(start time.Time) {
	if h.metrics != nil {
		h.metrics.FanoutDeliveryLatency.Observe(time.Since(start).Seconds())
	}
}

// PublishPortfolio delivers the opaque portfolio payload to every
// currently-connected client unfiltered (spec §4.3/§4.5).
func (h *Hub) PublishPortfolio(raw []byte) {
	data, err := h.enc.Portfolio(raw)
	if err != nil {
		h.log.Warn().Err(err).Msg("portfolio encode failed")
		return
	}
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.deliver(id, data)
	}
}

// SendDirect delivers a pre-encoded message to exactly one client, used by
// the Control Plane for snapshots, subscription acks and errors that are
// not broadcast events.
func (h *Hub) SendDirect(clientID string, data []byte) {
	h.deliver(clientID, data)
}

func (h *Hub) deliver(clientID string, data []byte) {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if !c.ring.push(outboundMessage{data: data}) {
		if h.metrics != nil {
			h.metrics.FanoutDropsTotal.WithLabelValues("buffer_full").Inc()
		}
		h.log.Warn().Str("client", clientID).Msg("client outbound buffer full, evicting")
		h.evict(clientID)
		return
	}
	c.notify()
}
