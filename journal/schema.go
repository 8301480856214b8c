package journal

const Schema = `
CREATE TABLE IF NOT EXISTS executed_orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	segment_hash TEXT NOT NULL,
	broker TEXT NOT NULL,
	status TEXT NOT NULL,
	order_id TEXT,
	error_message TEXT,
	payload TEXT,
	created_at TEXT NOT NULL,
	UNIQUE(segment_hash, broker)
);

CREATE INDEX IF NOT EXISTS idx_executed_orders_broker_time ON executed_orders(broker, created_at);

CREATE TABLE IF NOT EXISTS baseline_units (
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	units INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (instrument, direction)
);

CREATE TABLE IF NOT EXISTS daily_equity (
	date TEXT PRIMARY KEY,
	equity REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_audit (
	id TEXT PRIMARY KEY,
	time TEXT NOT NULL,
	broker TEXT NOT NULL,
	segment_hash TEXT,
	action TEXT,
	instrument TEXT,
	direction TEXT,
	units INTEGER NOT NULL DEFAULT 0,
	dry_run INTEGER NOT NULL DEFAULT 0,
	ok INTEGER NOT NULL DEFAULT 0,
	reason TEXT,
	payload TEXT
);

CREATE INDEX IF NOT EXISTS idx_trade_audit_time ON trade_audit(time);

CREATE TABLE IF NOT EXISTS cycle_leases (
	broker TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
`
