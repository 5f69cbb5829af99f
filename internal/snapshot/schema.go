package snapshot

// Schema is the Postgres DDL Store's queries assume. Applied out-of-band
// by whatever migration tool the deployment uses; kept here as the single
// source of truth for the table shapes PutX/GetX below depend on.
const Schema = `
CREATE TABLE IF NOT EXISTS global_config (
	id      SMALLINT PRIMARY KEY,
	epoch   BIGINT NOT NULL,
	payload BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
	id          TEXT PRIMARY KEY,
	state       INTEGER NOT NULL,
	settle_slot BIGINT NOT NULL,
	payload     BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS markets_state_idx ON markets (state);

CREATE TABLE IF NOT EXISTS positions (
	id        TEXT PRIMARY KEY,
	market_id TEXT NOT NULL,
	owner     TEXT NOT NULL,
	status    INTEGER NOT NULL,
	payload   BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS positions_market_status_idx ON positions (market_id, status);

CREATE TABLE IF NOT EXISTS orders (
	id        TEXT PRIMARY KEY,
	market_id TEXT NOT NULL,
	status    INTEGER NOT NULL,
	payload   BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_market_idx ON orders (market_id);

CREATE TABLE IF NOT EXISTS settlements (
	market_id TEXT PRIMARY KEY,
	state     INTEGER NOT NULL,
	payload   BYTEA NOT NULL
);
`
