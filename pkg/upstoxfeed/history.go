package upstoxfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"marketfeed/internal/model"
)

// HistoryClient calls the broker's intraday History API. Only the
// HTTP-call-with-context shape is kept from the teacher's broker REST
// client; there is no login/session state here since token acquisition is
// out of scope (spec §1) — HistoryClient is handed an already-valid token.
type HistoryClient struct {
	baseURL string
	http    *http.Client
}

// NewHistoryClient builds a client with the given base URL and timeout.
func NewHistoryClient(baseURL string, timeout time.Duration) *HistoryClient {
	return &HistoryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// historyCandle mirrors the wire shape: [ts, o, h, l, c, vol].
type historyCandle [6]json.Number

// Intraday fetches today's candles for (instrumentKey, unit, size) — unit
// is "minutes" or "days", size the bucket count (spec §6: "returns today's
// candles for (instrument, unit, interval) as an ordered list of
// [ts, o, h, l, c, vol]").
func (h *HistoryClient) Intraday(ctx context.Context, token, instrumentKey, unit string, size int) ([]model.Candle, error) {
	url := fmt.Sprintf("%s/historical-candle/intraday/%s/%s/%d", h.baseURL, instrumentKey, unit, size)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("history: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("history: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Candles []historyCandle `json:"candles"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("history: decode: %w", err)
	}

	interval := model.Interval1Min
	if unit == "days" {
		interval = model.Interval1Day
	}

	out := make([]model.Candle, 0, len(body.Data.Candles))
	for _, row := range body.Data.Candles {
		ts := row[0].String()
		var tsMs int64
		fmt.Sscanf(ts, "%d", &tsMs)
		open := numOrZero(row[1])
		high := numOrZero(row[2])
		low := numOrZero(row[3])
		closeV := numOrZero(row[4])
		vol := intOrZero(row[5])

		out = append(out, model.Candle{
			InstrumentKey: instrumentKey,
			Interval:      interval,
			Open:          open,
			High:          high,
			Low:           low,
			Close:         closeV,
			Volume:        vol,
			StartTS:       tsMs,
			Status:        model.StatusCompleted,
		})
	}
	return out, nil
}
