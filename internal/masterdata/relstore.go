package masterdata

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"marketfeed/internal/model"
)

// RelStore is the relational read/write side of the FNO underlying table,
// repurposed from the teacher's internal/store/sqlite writer/reader
// connection-setup pattern: a single *sql.DB, schema created on Open, a
// bulk Replace inside one transaction rather than row-by-row writes.
type RelStore struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite file at path and ensures the
// schema exists.
func Open(path string) (*RelStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("masterdata: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("masterdata: create schema: %w", err)
	}
	return &RelStore{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS fno_underlying (
	instrument_key  TEXT PRIMARY KEY,
	trading_symbol  TEXT NOT NULL,
	display_name    TEXT NOT NULL,
	segment         TEXT NOT NULL,
	instrument_type TEXT NOT NULL,
	tick_size       REAL NOT NULL
);`

// Close releases the underlying connection.
func (r *RelStore) Close() error { return r.db.Close() }

// Replace atomically swaps the table contents for rows — the daily
// refresh is a full snapshot, not an incremental merge (spec §4.8).
func (r *RelStore) Replace(rows []model.FNOUnderlying) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM fno_underlying`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO fno_underlying
		(instrument_key, trading_symbol, display_name, segment, instrument_type, tick_size)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(row.InstrumentKey, row.TradingSymbol, row.DisplayName, row.Segment, row.InstrumentType, row.TickSize); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// All returns every cached FNO underlying row, ordered by trading symbol.
func (r *RelStore) All() ([]model.FNOUnderlying, error) {
	return r.query(`SELECT instrument_key, trading_symbol, display_name, segment, instrument_type, tick_size
		FROM fno_underlying ORDER BY trading_symbol`)
}

// ByTradingSymbol returns the rows matching a single trading symbol (spec
// §6's `?trading_symbol=` query on /api/fno-underlying).
func (r *RelStore) ByTradingSymbol(symbol string) ([]model.FNOUnderlying, error) {
	return r.query(`SELECT instrument_key, trading_symbol, display_name, segment, instrument_type, tick_size
		FROM fno_underlying WHERE trading_symbol = ? ORDER BY trading_symbol`, symbol)
}

func (r *RelStore) query(q string, args ...interface{}) ([]model.FNOUnderlying, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FNOUnderlying
	for rows.Next() {
		var f model.FNOUnderlying
		if err := rows.Scan(&f.InstrumentKey, &f.TradingSymbol, &f.DisplayName, &f.Segment, &f.InstrumentType, &f.TickSize); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
