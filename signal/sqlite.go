package signal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/fxexec/market"
)

var _ Source = (*SQLiteSource)(nil)

// SQLiteSource reads and appends signals in a shared SQLite database. The
// database handle is owned by the caller.
type SQLiteSource struct {
	db *sql.DB
}

func NewSQLiteSource(db *sql.DB) (*SQLiteSource, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("signal schema: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// Add appends a signal. A signal whose hash is already present is ignored
// and Add reports false.
func (s *SQLiteSource) Add(ctx context.Context, sig TradingSignal, text string) (bool, error) {
	if sig.SegmentHash == "" {
		if text == "" {
			return false, errors.New("signal needs a segment hash or text")
		}
		sig.SegmentHash = Hash(text)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals
		(segment_hash, action, direction, instrument, uic, asset_type, lot_ratio, is_add,
		 entry_price, sl_price, tp_price, segment_text, signal_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.SegmentHash, string(sig.Action), nullString(string(sig.Direction)),
		sig.Instrument, nullInt(sig.UIC), nullString(sig.AssetType), sig.LotRatio,
		sig.IsAdd, sig.EntryPrice, sig.StopPrice, sig.TakePrice, nullString(text),
		sig.SignalAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteSource) ListPending(ctx context.Context, limit int) ([]TradingSignal, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT segment_hash, action, direction, instrument, uic, asset_type, lot_ratio, is_add,
		       entry_price, sl_price, tp_price, signal_at
		FROM signals
		ORDER BY signal_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradingSignal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the newest signal, or false when the log is empty.
func (s *SQLiteSource) Latest(ctx context.Context) (TradingSignal, bool, error) {
	sigs, err := s.ListPending(ctx, 1)
	if err != nil {
		return TradingSignal{}, false, err
	}
	if len(sigs) == 0 {
		return TradingSignal{}, false, nil
	}
	return sigs[0], true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(row scanner) (TradingSignal, error) {
	var (
		sig       TradingSignal
		action    string
		direction sql.NullString
		uic       sql.NullInt64
		assetType sql.NullString
		lotRatio  sql.NullFloat64
		entry     sql.NullFloat64
		stop      sql.NullFloat64
		take      sql.NullFloat64
	)
	if err := row.Scan(
		&sig.SegmentHash, &action, &direction, &sig.Instrument, &uic, &assetType,
		&lotRatio, &sig.IsAdd, &entry, &stop, &take, &sig.SignalAt,
	); err != nil {
		return TradingSignal{}, err
	}

	sig.Action = Action(action)
	sig.Direction = market.Direction(direction.String)
	sig.UIC = int(uic.Int64)
	sig.AssetType = assetType.String
	sig.LotRatio = floatPtr(lotRatio)
	sig.EntryPrice = floatPtr(entry)
	sig.StopPrice = floatPtr(stop)
	sig.TakePrice = floatPtr(take)
	sig.SignalAt = sig.SignalAt.UTC()
	return sig, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}
