package tokens

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"marketfeed/internal/model"
	"marketfeed/internal/stream"
	"marketfeed/internal/upstream"
)

// Reloader rebuilds the Upstream Connector vector on demand, preserving
// subscription state across the rebuild (spec §4.9, Testable Property 6).
type Reloader struct {
	log        zerolog.Logger
	source     *Source
	supervisor *stream.Supervisor
	accountIDs []string
	wsURL      string
}

// New creates a Reloader bound to a fixed account-id list and broker WS
// URL template.
func New(log zerolog.Logger, source *Source, supervisor *stream.Supervisor, accountIDs []string, wsURL string) *Reloader {
	return &Reloader{log: log, source: source, supervisor: supervisor, accountIDs: accountIDs, wsURL: wsURL}
}

// Result reports the per-account outcome of a reload.
type Result struct {
	Succeeded []string
	Failed    map[string]string
}

// Reload resolves a fresh token for every configured account, stops the
// current connectors, rebuilds the vector, restores subscription state,
// and reconnects. It returns an error when no account resolves a token
// (the current connectors are then left untouched) or when none of the
// rebuilt connectors reconnects; a partial success is reported in
// Result.Failed but not treated as an error.
func (r *Reloader) Reload(ctx context.Context) (Result, error) {
	instruments := r.supervisor.SubscribedInstruments()
	modes := r.supervisor.InstrumentModes()

	instrumentSet := make(map[string]bool, len(instruments))
	for _, i := range instruments {
		instrumentSet[i] = true
	}

	res := Result{Failed: make(map[string]string)}
	var tokens []string
	var accounts []string
	for _, acct := range r.accountIDs {
		tok, err := r.source.Resolve(ctx, acct)
		if err != nil {
			r.log.Warn().Str("account", acct).Err(err).Msg("token resolve failed")
			res.Failed[acct] = err.Error()
			continue
		}
		tokens = append(tokens, tok)
		accounts = append(accounts, acct)
		res.Succeeded = append(res.Succeeded, acct)
	}

	if len(tokens) == 0 {
		return res, fmt.Errorf("tokens: reload failed, no account resolved a token")
	}

	r.supervisor.StopAll()

	conns := make([]*upstream.Connector, 0, len(tokens))
	for i, tok := range tokens {
		conns = append(conns, upstream.New(i, r.wsURL, tok, r.supervisor))
	}
	r.supervisor.SetConnectors(conns)
	r.supervisor.RestoreState(instrumentSet, modes)

	connectErrs := r.supervisor.ConnectAll(ctx)
	if len(connectErrs) == len(conns) {
		return res, fmt.Errorf("tokens: reload failed, no rebuilt connector reconnected")
	}

	for idx, err := range connectErrs {
		if idx >= 0 && idx < len(accounts) {
			res.Failed[accounts[idx]] = err.Error()
		}
	}

	r.resubscribe(instruments, modes)
	return res, nil
}

// resubscribe re-issues subscribe/change_mode on the freshly connected
// connectors so they actually receive the preserved instrument set — the
// supervisor's maps alone don't re-arm the broker side of a fresh socket.
func (r *Reloader) resubscribe(instruments []string, modes map[string]model.Mode) {
	byMode := make(map[model.Mode][]string)
	for _, inst := range instruments {
		m := modes[inst]
		byMode[m] = append(byMode[m], inst)
	}
	for mode, insts := range byMode {
		if ok, errs := r.supervisor.Subscribe(insts, mode); !ok {
			r.log.Error().Interface("errors", errs).Str("mode", string(mode)).Msg("post-reload resubscribe failed on every connector")
		}
	}
}
