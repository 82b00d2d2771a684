package sqlstore

// schema is applied in order; {{ts}} is the driver's timestamp type.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
		id            TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		phone         TEXT NOT NULL DEFAULT '',
		address       TEXT NOT NULL DEFAULT '',
		threshold     INTEGER NOT NULL,
		notifications TEXT NOT NULL DEFAULT '[]',
		password_hash TEXT NOT NULL,
		salt          TEXT NOT NULL,
		created_at    {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id          TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses (id),
		name        TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL,
		phone       TEXT NOT NULL DEFAULT '',
		created_at  {{ts}} NOT NULL,
		UNIQUE (business_id, email)
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_events (
		id               TEXT PRIMARY KEY,
		business_id      TEXT NOT NULL,
		customer_id      TEXT NOT NULL,
		seq              INTEGER NOT NULL,
		token_hash       TEXT NOT NULL,
		client_timestamp {{ts}} NOT NULL,
		accepted_at      {{ts}} NOT NULL,
		UNIQUE (business_id, customer_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS dedup_entries (
		business_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		token_hash  TEXT NOT NULL,
		total_count INTEGER NOT NULL DEFAULT 0,
		progress    INTEGER NOT NULL DEFAULT 0,
		threshold   INTEGER NOT NULL DEFAULT 0,
		created_at  {{ts}} NOT NULL,
		PRIMARY KEY (business_id, customer_id, token_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS dedup_entries_created_at ON dedup_entries (created_at)`,
	`CREATE TABLE IF NOT EXISTS rewards (
		id          TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		sequence    INTEGER NOT NULL,
		state       TEXT NOT NULL,
		earned_at   {{ts}} NOT NULL,
		redeemed_at {{ts}},
		UNIQUE (business_id, customer_id, sequence)
	)`,
	`CREATE INDEX IF NOT EXISTS rewards_business_state ON rewards (business_id, state)`,
	`CREATE TABLE IF NOT EXISTS notification_jobs (
		id             TEXT PRIMARY KEY,
		kind           TEXT NOT NULL,
		business_id    TEXT NOT NULL,
		customer_id    TEXT NOT NULL,
		customer_email TEXT NOT NULL DEFAULT '',
		reward_id      TEXT NOT NULL,
		sequence       INTEGER NOT NULL,
		channels       TEXT NOT NULL,
		attempts       INTEGER NOT NULL DEFAULT 0,
		claims         INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL DEFAULT 'pending',
		reason         TEXT NOT NULL DEFAULT '',
		not_before     {{ts}} NOT NULL,
		created_at     {{ts}} NOT NULL,
		settled_at     {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS notification_jobs_due ON notification_jobs (status, not_before)`,
	`CREATE TABLE IF NOT EXISTS delivery_alerts (
		id              TEXT PRIMARY KEY,
		business_id     TEXT NOT NULL,
		reward_id       TEXT NOT NULL,
		job_id          TEXT NOT NULL,
		channel         TEXT NOT NULL,
		reason          TEXT NOT NULL,
		permanent       BOOLEAN NOT NULL,
		created_at      {{ts}} NOT NULL,
		acknowledged_at {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS delivery_alerts_business ON delivery_alerts (business_id, created_at)`,
}
