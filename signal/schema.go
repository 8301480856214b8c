package signal

const Schema = `
CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	segment_hash TEXT NOT NULL UNIQUE,
	action TEXT NOT NULL,
	direction TEXT,
	instrument TEXT NOT NULL,
	uic INTEGER,
	asset_type TEXT,
	lot_ratio REAL,
	is_add INTEGER NOT NULL DEFAULT 0,
	entry_price REAL,
	sl_price REAL,
	tp_price REAL,
	segment_text TEXT,
	signal_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_signal_at ON signals(signal_at DESC);
`
