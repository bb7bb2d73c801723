package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	kind TEXT NOT NULL,
	limit_price REAL,
	stop_price REAL,
	fill_price REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	depends_on TEXT NOT NULL DEFAULT '',
	depends_trigger TEXT NOT NULL DEFAULT '',
	transaction_id TEXT NOT NULL DEFAULT '',
	recommendation_id TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL DEFAULT '',
	expert_id TEXT NOT NULL DEFAULT '',
	broker_id TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_transaction ON orders(transaction_id);
CREATE INDEX IF NOT EXISTS idx_orders_depends_on ON orders(depends_on);
CREATE INDEX IF NOT EXISTS idx_orders_expert_status ON orders(expert_id, status);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	quantity REAL NOT NULL,
	open_price REAL NOT NULL DEFAULT 0,
	take_profit REAL,
	stop_loss REAL,
	status TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL,
	expert_id TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_expert ON transactions(expert_id, status);

CREATE TABLE IF NOT EXISTS recommendations (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	signal TEXT NOT NULL,
	confidence REAL NOT NULL,
	expected_profit_pct REAL NOT NULL,
	risk TEXT NOT NULL,
	horizon TEXT NOT NULL,
	price_at_date REAL NOT NULL,
	expert_id TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendations_expert_symbol ON recommendations(expert_id, symbol, created_at);

CREATE TABLE IF NOT EXISTS rulesets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	rules TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	kind TEXT NOT NULL,
	limit_price DOUBLE PRECISION,
	stop_price DOUBLE PRECISION,
	fill_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	depends_on TEXT NOT NULL DEFAULT '',
	depends_trigger TEXT NOT NULL DEFAULT '',
	transaction_id TEXT NOT NULL DEFAULT '',
	recommendation_id TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL DEFAULT '',
	expert_id TEXT NOT NULL DEFAULT '',
	broker_id TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_transaction ON orders(transaction_id);
CREATE INDEX IF NOT EXISTS idx_orders_depends_on ON orders(depends_on);
CREATE INDEX IF NOT EXISTS idx_orders_expert_status ON orders(expert_id, status);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	open_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	take_profit DOUBLE PRECISION,
	stop_loss DOUBLE PRECISION,
	status TEXT NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ NOT NULL,
	expert_id TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_expert ON transactions(expert_id, status);

CREATE TABLE IF NOT EXISTS recommendations (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	signal TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	expected_profit_pct DOUBLE PRECISION NOT NULL,
	risk TEXT NOT NULL,
	horizon TEXT NOT NULL,
	price_at_date DOUBLE PRECISION NOT NULL,
	expert_id TEXT NOT NULL,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendations_expert_symbol ON recommendations(expert_id, symbol, created_at);

CREATE TABLE IF NOT EXISTS rulesets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	rules TEXT NOT NULL
);
`
