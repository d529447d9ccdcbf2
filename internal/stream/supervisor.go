// Package stream implements the Stream Supervisor: owns the vector of
// Upstream Connectors, tracks per-connector health, and forwards every
// decoded message unconditionally to the Ingestion Pipeline — deduplication
// is deferred to the pipeline and cache, per spec §4.2.
package stream

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"marketfeed/internal/model"
	"marketfeed/internal/obs"
	"marketfeed/internal/upstream"
	"marketfeed/pkg/upstoxfeed"
)

// Health is the {total, active, connected} summary of spec §4.2.
type Health struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Connected int `json:"connected"`
}

// OnEvents is called with every batch of decoded events from any connector,
// in that connector's broker order; across connectors global order is not
// guaranteed (spec §5).
type OnEvents func(events []upstoxfeed.Event)

// Supervisor owns N Upstream Connectors and the authoritative
// subscribed-instrument / mode maps.
type Supervisor struct {
	log     zerolog.Logger
	metrics *obs.Metrics

	mu                    sync.RWMutex
	connectors            []*upstream.Connector
	subscribedInstruments map[string]bool
	instrumentMode        map[string]model.Mode

	onEvents OnEvents
	onError  func(index int, err error)
}

// New creates an empty Supervisor. Call SetConnectors to populate it.
// Connector health is not exported until WithMetrics attaches a sink.
func New(log zerolog.Logger, onEvents OnEvents, onError func(index int, err error)) *Supervisor {
	return &Supervisor{
		log:                   log,
		subscribedInstruments: make(map[string]bool),
		instrumentMode:        make(map[string]model.Mode),
		onEvents:              onEvents,
		onError:               onError,
	}
}

// WithMetrics attaches a Metrics sink for connector health gauges/counters.
func (s *Supervisor) WithMetrics(m *obs.Metrics) *Supervisor {
	s.metrics = m
	return s
}

// SetConnectors installs the connector vector, replacing any previous one
// (used by both startup and the Token Reloader).
func (s *Supervisor) SetConnectors(conns []*upstream.Connector) {
	s.mu.Lock()
	s.connectors = conns
	s.mu.Unlock()
}

// ConnectAll connects every installed connector, collecting per-connector
// errors without aborting the rest.
func (s *Supervisor) ConnectAll(ctx context.Context) map[int]error {
	s.mu.RLock()
	conns := append([]*upstream.Connector{}, s.connectors...)
	s.mu.RUnlock()

	errs := make(map[int]error)
	for _, c := range conns {
		if err := c.Connect(ctx); err != nil {
			errs[indexOf(c)] = err
		}
	}
	return errs
}

// StopAll disconnects every connector (used before a token reload rebuild).
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	conns := append([]*upstream.Connector{}, s.connectors...)
	s.mu.RUnlock()
	for _, c := range conns {
		c.Disconnect()
	}
}

// --- upstream.EventSink ---

func (s *Supervisor) OnOpen(index int) {
	s.log.Info().Int("connector", index).Msg("upstream connected")
	if s.metrics != nil {
		s.metrics.UpstreamConnected.WithLabelValues(strconv.Itoa(index)).Set(1)
	}
}

func (s *Supervisor) OnMessage(index int, events []upstoxfeed.Event) {
	if s.onEvents != nil {
		s.onEvents(events)
	}
}

func (s *Supervisor) OnError(index int, err error) {
	s.log.Warn().Int("connector", index).Err(err).Msg("upstream error")
	if s.onError != nil {
		s.onError(index, err)
	}
}

func (s *Supervisor) OnClose(index int, code int, text string) {
	s.log.Warn().Int("connector", index).Int("code", code).Str("text", text).Msg("upstream closed")
	if s.metrics != nil {
		s.metrics.UpstreamConnected.WithLabelValues(strconv.Itoa(index)).Set(0)
	}
}

func (s *Supervisor) OnReconnecting(index int, attempt int) {
	s.log.Info().Int("connector", index).Int("attempt", attempt).Msg("upstream reconnecting")
	if s.metrics != nil {
		s.metrics.UpstreamReconnects.WithLabelValues(strconv.Itoa(index)).Inc()
	}
}

func (s *Supervisor) OnAutoReconnectStopped(index int) {
	s.log.Error().Int("connector", index).Msg("upstream auto-reconnect stopped, awaiting token reload")
	if s.metrics != nil {
		s.metrics.UpstreamConnected.WithLabelValues(strconv.Itoa(index)).Set(0)
	}
}

// --- control operations ---

// Subscribe applies to every currently-active connector; success is
// reported if >=1 succeeds (spec §4.2, Testable Property 5).
func (s *Supervisor) Subscribe(instruments []string, mode model.Mode) (bool, map[int]error) {
	ok, perConn := s.apply(func(c *upstream.Connector) error { return c.Subscribe(instruments, mode) })
	if ok {
		s.mu.Lock()
		for _, i := range instruments {
			s.subscribedInstruments[i] = true
			s.instrumentMode[i] = mode
		}
		s.mu.Unlock()
	}
	return ok, perConn
}

// Unsubscribe applies to every currently-active connector.
func (s *Supervisor) Unsubscribe(instruments []string) (bool, map[int]error) {
	ok, perConn := s.apply(func(c *upstream.Connector) error { return c.Unsubscribe(instruments) })
	if ok {
		s.mu.Lock()
		for _, i := range instruments {
			delete(s.subscribedInstruments, i)
			delete(s.instrumentMode, i)
		}
		s.mu.Unlock()
	}
	return ok, perConn
}

// ChangeMode applies to every currently-active connector. On success the
// internal mode map reflects M regardless of which connectors failed
// (Testable Property 5).
func (s *Supervisor) ChangeMode(instruments []string, mode model.Mode) (bool, map[int]error) {
	ok, perConn := s.apply(func(c *upstream.Connector) error { return c.ChangeMode(instruments, mode) })
	if ok {
		s.mu.Lock()
		for _, i := range instruments {
			s.instrumentMode[i] = mode
		}
		s.mu.Unlock()
	}
	return ok, perConn
}

func (s *Supervisor) apply(fn func(*upstream.Connector) error) (bool, map[int]error) {
	s.mu.RLock()
	conns := append([]*upstream.Connector{}, s.connectors...)
	s.mu.RUnlock()

	perConn := make(map[int]error)
	successes := 0
	for _, c := range conns {
		st := c.State()
		if !st.Connected {
			continue
		}
		if err := fn(c); err != nil {
			perConn[st.TokenIndex] = err
		} else {
			successes++
		}
	}
	return successes > 0, perConn
}

// Health returns the {total, active, connected} summary.
func (s *Supervisor) Health() Health {
	s.mu.RLock()
	conns := append([]*upstream.Connector{}, s.connectors...)
	s.mu.RUnlock()

	h := Health{Total: len(conns)}
	for _, c := range conns {
		st := c.State()
		if st.Connected {
			h.Connected++
			h.Active++
		} else if st.Reconnecting {
			h.Active++
		}
	}
	return h
}

// States returns every connector's health record, for the admin surface.
func (s *Supervisor) States() []model.ConnectorState {
	s.mu.RLock()
	conns := append([]*upstream.Connector{}, s.connectors...)
	s.mu.RUnlock()

	out := make([]model.ConnectorState, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.State())
	}
	return out
}

// SubscribedInstruments returns the authoritative subscribed set.
func (s *Supervisor) SubscribedInstruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subscribedInstruments))
	for i := range s.subscribedInstruments {
		out = append(out, i)
	}
	return out
}

// InstrumentModes returns a copy of the instrument->mode map.
func (s *Supervisor) InstrumentModes() map[string]model.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Mode, len(s.instrumentMode))
	for k, v := range s.instrumentMode {
		out[k] = v
	}
	return out
}

// RestoreState re-seeds subscribedInstruments/instrumentMode — used by the
// Token Reloader, which must preserve these exactly across a connector
// rebuild (spec §4.9, Testable Property 6).
func (s *Supervisor) RestoreState(instruments map[string]bool, modes map[string]model.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribedInstruments = instruments
	s.instrumentMode = modes
}

func indexOf(c *upstream.Connector) int {
	return c.State().TokenIndex
}
