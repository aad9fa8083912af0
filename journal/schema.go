package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL,
	leverage INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pnl REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	capital REAL NOT NULL,
	unrealized_pnl REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	drawdown REAL NOT NULL,
	num_positions INTEGER NOT NULL,
	total_position_value REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`

const PostgresSchema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size DOUBLE PRECISION NOT NULL,
	leverage INTEGER NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price DOUBLE PRECISION NOT NULL,
	open_time TIMESTAMPTZ NOT NULL,
	close_time TIMESTAMPTZ NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	time TIMESTAMPTZ NOT NULL,
	capital DOUBLE PRECISION NOT NULL,
	unrealized_pnl DOUBLE PRECISION NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL,
	drawdown DOUBLE PRECISION NOT NULL,
	num_positions INTEGER NOT NULL,
	total_position_value DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`
