package masterdata

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"marketfeed/internal/cache"
	"marketfeed/internal/model"
)

func TestScheduler_SourceErrorDoesNotPanic(t *testing.T) {
	gw := cache.New("127.0.0.1:0", "", 0, zerolog.Nop())
	called := false
	src := func(ctx context.Context) ([]model.FNOUnderlying, error) {
		called = true
		return nil, errors.New("upstream master-data api down")
	}
	s := New(zerolog.Nop(), gw, nil, src)
	s.refresh(context.Background())
	if !called {
		t.Fatal("expected source to be invoked")
	}
}

func TestScheduler_SuccessfulRefreshWritesRelStore(t *testing.T) {
	tmp := t.TempDir() + "/fno.db"
	rs, err := Open(tmp)
	if err != nil {
		t.Fatalf("open relstore: %v", err)
	}
	defer rs.Close()

	gw := cache.New("127.0.0.1:0", "", 0, zerolog.Nop())
	src := func(ctx context.Context) ([]model.FNOUnderlying, error) {
		return []model.FNOUnderlying{{InstrumentKey: "NSE_FO|1", TradingSymbol: "NIFTY24AUGFUT"}}, nil
	}
	s := New(zerolog.Nop(), gw, rs, src)
	s.refresh(context.Background())

	rows, err := rs.All()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 1 || rows[0].TradingSymbol != "NIFTY24AUGFUT" {
		t.Fatalf("expected relstore to hold the refreshed row, got %+v", rows)
	}
}
