package store

const schema = `
CREATE TABLE IF NOT EXISTS system_meta (key TEXT PRIMARY KEY, value TEXT);

CREATE TABLE IF NOT EXISTS settlements (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT NOT NULL,
	x                    INTEGER NOT NULL,
	y                    INTEGER NOT NULL,
	wood                 REAL NOT NULL DEFAULT 0,
	stone                REAL NOT NULL DEFAULT 0,
	ore                  REAL NOT NULL DEFAULT 0,
	gold                 INTEGER NOT NULL DEFAULT 0,
	settlers_used        INTEGER NOT NULL DEFAULT 0,
	resources_updated_at INTEGER NOT NULL,
	version              INTEGER NOT NULL DEFAULT 0,
	UNIQUE (x, y)
);

CREATE TABLE IF NOT EXISTS buildings (
	settlement_id INTEGER NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
	key           TEXT NOT NULL,
	level         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (settlement_id, key)
);

CREATE TABLE IF NOT EXISTS units (
	settlement_id INTEGER NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
	key           TEXT NOT NULL,
	count         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (settlement_id, key)
);

CREATE TABLE IF NOT EXISTS research (
	settlement_id INTEGER NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
	key           TEXT NOT NULL,
	level         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (settlement_id, key)
);

CREATE TABLE IF NOT EXISTS queue_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	settlement_id INTEGER NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
	subject_type  TEXT NOT NULL,
	subject_key   TEXT NOT NULL,
	target        INTEGER NOT NULL,
	settlers      INTEGER NOT NULL DEFAULT 0,
	start_ms      INTEGER NOT NULL,
	end_ms        INTEGER NOT NULL,
	queue_index   INTEGER NOT NULL,
	CHECK (end_ms >= start_ms)
);
CREATE INDEX IF NOT EXISTS idx_queue_settlement ON queue_entries(settlement_id, subject_type, queue_index);
CREATE INDEX IF NOT EXISTS idx_queue_end ON queue_entries(end_ms);

CREATE TABLE IF NOT EXISTS travel_orders (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	kind           TEXT NOT NULL,
	origin_id      INTEGER NOT NULL,
	destination_id INTEGER NOT NULL,
	payload        TEXT NOT NULL,
	distance       INTEGER NOT NULL,
	speed          INTEGER NOT NULL,
	depart_ms      INTEGER NOT NULL,
	arrival_ms     INTEGER NOT NULL,
	status         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_travel_due ON travel_orders(status, arrival_ms);
CREATE INDEX IF NOT EXISTS idx_travel_origin ON travel_orders(origin_id);
CREATE INDEX IF NOT EXISTS idx_travel_destination ON travel_orders(destination_id);

CREATE TABLE IF NOT EXISTS battle_records (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	travel_order_id INTEGER NOT NULL UNIQUE,
	attacker_id     INTEGER NOT NULL,
	defender_id     INTEGER NOT NULL,
	winner          TEXT NOT NULL,
	record          TEXT NOT NULL,
	digest          TEXT NOT NULL,
	created_ms      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_battles_attacker ON battle_records(attacker_id);
CREATE INDEX IF NOT EXISTS idx_battles_defender ON battle_records(defender_id);

CREATE TABLE IF NOT EXISTS trade_offers (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	seller_id  INTEGER NOT NULL,
	buyer_id   INTEGER NOT NULL DEFAULT 0,
	wood       INTEGER NOT NULL,
	stone      INTEGER NOT NULL,
	ore        INTEGER NOT NULL,
	price      INTEGER NOT NULL,
	status     TEXT NOT NULL,
	created_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offers_status ON trade_offers(status);

CREATE TABLE IF NOT EXISTS trade_records (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	travel_order_id INTEGER NOT NULL UNIQUE,
	offer_id        INTEGER NOT NULL,
	seller_id       INTEGER NOT NULL,
	buyer_id        INTEGER NOT NULL,
	wood            INTEGER NOT NULL,
	stone           INTEGER NOT NULL,
	ore             INTEGER NOT NULL,
	gold            INTEGER NOT NULL,
	created_ms      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS world_snapshots (
	day_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	tick       INTEGER NOT NULL,
	state_blob BLOB NOT NULL,
	final_hash TEXT NOT NULL,
	created_ms INTEGER NOT NULL
);
`
