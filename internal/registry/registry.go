// Package registry is the Subscription Registry: tracks, per connected
// client, its tick instrument filter and its OHLC (instrument, interval)
// filter. Grounded on the teacher's internal/gateway/subscribe.go
// map-of-sets-per-client shape, generalized to the two independent filter
// dimensions spec §4.4 requires and to wildcard ("*") semantics at both
// the instrument and interval level.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Wildcard matches every instrument (tick filter) or every instrument /
// every interval (OHLC filter), per spec §4.4.
const Wildcard = "*"

// client holds one connected client's filter state. tickFilter is a set of
// instrument keys, or {"*"} for all. ohlcFilter maps instrument key (or
// "*") to a set of intervals (or {"*"} for all intervals on that key).
type client struct {
	mu            sync.RWMutex
	tickFilter    map[string]bool
	ohlcFilter    map[string]map[string]bool
	includeHistoryOnSub bool
}

// Registry is safe for concurrent use: each client's filters are guarded
// independently so one client's update never blocks another's read.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*client)}
}

// AddClient registers a new connection and returns its generated client_id.
func (r *Registry) AddClient() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.clients[id] = &client{
		tickFilter: make(map[string]bool),
		ohlcFilter: make(map[string]map[string]bool),
	}
	r.mu.Unlock()
	return id
}

// RemoveClient deletes all state for a disconnected client (spec §4.4).
func (r *Registry) RemoveClient(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// UpdateTickFilter applies a "subscribe" or "unsubscribe" action to a
// client's tick filter. "subscribe" adds items, and an empty items list
// subscribes to the Wildcard; "unsubscribe" removes items, and an empty
// items list clears the filter. Any other action returns false.
func (r *Registry) UpdateTickFilter(clientID, action string, items []string) bool {
	c := r.get(clientID)
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch action {
	case "subscribe":
		if len(items) == 0 {
			items = []string{Wildcard}
		}
		for _, i := range items {
			c.tickFilter[i] = true
		}
	case "unsubscribe":
		if len(items) == 0 {
			c.tickFilter = make(map[string]bool)
		}
		for _, i := range items {
			delete(c.tickFilter, i)
		}
	default:
		return false
	}
	return true
}

// TickFilter returns a copy of the client's current instrument set (may
// contain Wildcard).
func (r *Registry) TickFilter(clientID string) []string {
	c := r.get(clientID)
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tickFilter))
	for k := range c.tickFilter {
		out = append(out, k)
	}
	return out
}

// WantsTick reports whether the client's tick filter matches instrumentKey:
// either the client is wildcard-subscribed or has this instrument
// explicitly (spec §4.5 routing rule).
func (r *Registry) WantsTick(clientID, instrumentKey string) bool {
	c := r.get(clientID)
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickFilter[Wildcard] || c.tickFilter[instrumentKey]
}

// SubscribeOHLC adds (instrument, interval) pairs to a client's OHLC
// filter; instruments/intervals may each be Wildcard. includeHistory
// records whether this subscription should trigger a hydration snapshot.
func (r *Registry) SubscribeOHLC(clientID string, instruments, intervals []string, includeHistory bool) bool {
	c := r.get(clientID)
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inst := range instruments {
		set, ok := c.ohlcFilter[inst]
		if !ok {
			set = make(map[string]bool)
			c.ohlcFilter[inst] = set
		}
		for _, iv := range intervals {
			set[iv] = true
		}
	}
	if includeHistory {
		c.includeHistoryOnSub = true
	}
	return true
}

// UnsubscribeOHLC removes (instrument, interval) pairs. A nil/empty
// instruments list clears the entire OHLC filter. A nil/empty intervals
// list (with instruments given) removes those instruments entirely,
// regardless of which intervals were set (spec §4.4 three-level wildcard).
func (r *Registry) UnsubscribeOHLC(clientID string, instruments, intervals []string) bool {
	c := r.get(clientID)
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(instruments) == 0 {
		c.ohlcFilter = make(map[string]map[string]bool)
		return true
	}
	for _, inst := range instruments {
		if len(intervals) == 0 {
			delete(c.ohlcFilter, inst)
			continue
		}
		if set, ok := c.ohlcFilter[inst]; ok {
			for _, iv := range intervals {
				delete(set, iv)
			}
			if len(set) == 0 {
				delete(c.ohlcFilter, inst)
			}
		}
	}
	return true
}

// OHLCFilter returns a deep copy of the client's current OHLC filter map.
func (r *Registry) OHLCFilter(clientID string) map[string][]string {
	c := r.get(clientID)
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]string, len(c.ohlcFilter))
	for inst, set := range c.ohlcFilter {
		ivs := make([]string, 0, len(set))
		for iv := range set {
			ivs = append(ivs, iv)
		}
		out[inst] = ivs
	}
	return out
}

// WantsCandle reports whether the client's OHLC filter matches
// (instrumentKey, interval): either dimension may be satisfied by a
// wildcard entry, independently (spec §4.4/§4.5).
func (r *Registry) WantsCandle(clientID, instrumentKey, interval string) bool {
	c := r.get(clientID)
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, instKey := range []string{instrumentKey, Wildcard} {
		set, ok := c.ohlcFilter[instKey]
		if !ok {
			continue
		}
		if set[Wildcard] || set[interval] {
			return true
		}
	}
	return false
}

// Exists reports whether clientID is currently registered.
func (r *Registry) Exists(clientID string) bool {
	return r.get(clientID) != nil
}

// ClientIDs returns a snapshot of all currently registered client ids.
func (r *Registry) ClientIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	return out
}

func (r *Registry) get(clientID string) *client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[clientID]
}
