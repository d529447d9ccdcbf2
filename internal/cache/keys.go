package cache

import "fmt"

// Key layout per SPEC_FULL §6 / spec.md §6.

func tickKey(instrumentKey string) string {
	return "market_data:" + instrumentKey
}

const portfolioKey = "portfolio_data"

func seriesKey(tradingDate, instrumentKey string, interval string) string {
	return fmt.Sprintf("ohlc:%s:%s:%s", tradingDate, instrumentKey, interval)
}

func latestKey(tradingDate, instrumentKey string, interval string) string {
	return fmt.Sprintf("ohlc:%s:%s:%s:latest", tradingDate, instrumentKey, interval)
}

const (
	tradingDateKey          = "master_data:trading_date"
	tradingDateUpdatedAtKey = "master_data:trading_date:updated_at"
)

func fnoKey(tradingSymbol string) string {
	return "fno_und:" + tradingSymbol
}

func tokenKey(accountID string) string {
	return "upstox_access_token:" + accountID
}

// legacy single-account keys, read-only from this service's perspective
const (
	legacyTokenKey          = "upstox_access_token"
	legacyTokenKeySecondary = "upstox_access_token_secondary"
)
