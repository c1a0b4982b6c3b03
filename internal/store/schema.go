package store

// The accounts and topups tables are shared by every bot deployment pointing
// at the same database and must stay identical across them. The remaining
// tables belong to the ordering deployment.

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id BIGINT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		total_topup BIGINT NOT NULL DEFAULT 0,
		total_spent BIGINT NOT NULL DEFAULT 0,
		total_orders BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		last_activity_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS topups (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		order_reference VARCHAR(255) UNIQUE NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		payment_type VARCHAR(50) NOT NULL DEFAULT '',
		transaction_id VARCHAR(255),
		bot_source VARCHAR(50) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balance_audit (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		delta BIGINT NOT NULL,
		old_balance BIGINT NOT NULL,
		new_balance BIGINT NOT NULL,
		reason VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stock (
		id BIGSERIAL PRIMARY KEY,
		code_type VARCHAR(50) NOT NULL,
		code VARCHAR(500) UNIQUE NOT NULL,
		is_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
		state VARCHAR(20) NOT NULL DEFAULT 'available',
		reserved_for_order BIGINT,
		reserved_at TIMESTAMPTZ,
		used_at TIMESTAMPTZ,
		added_by BIGINT NOT NULL DEFAULT 0,
		added_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		order_number VARCHAR(255) UNIQUE NOT NULL,
		user_id BIGINT NOT NULL,
		unit_type VARCHAR(50) NOT NULL,
		quantity INT NOT NULL CHECK (quantity > 0),
		total_price BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		delivery_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id BIGSERIAL PRIMARY KEY,
		order_number VARCHAR(255) NOT NULL,
		user_id BIGINT NOT NULL,
		method VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL,
		attempt INT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_reserve ON stock (code_type, state, id)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_order ON stock (reserved_for_order)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id)`,
}

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id INTEGER PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		total_topup INTEGER NOT NULL DEFAULT 0,
		total_spent INTEGER NOT NULL DEFAULT 0,
		total_orders INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		last_activity_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS topups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		order_reference TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_type TEXT NOT NULL DEFAULT '',
		transaction_id TEXT,
		bot_source TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balance_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		delta INTEGER NOT NULL,
		old_balance INTEGER NOT NULL,
		new_balance INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stock (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code_type TEXT NOT NULL,
		code TEXT UNIQUE NOT NULL,
		is_encrypted BOOLEAN NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'available',
		reserved_for_order INTEGER,
		reserved_at TIMESTAMP,
		used_at TIMESTAMP,
		added_by INTEGER NOT NULL DEFAULT 0,
		added_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_number TEXT UNIQUE NOT NULL,
		user_id INTEGER NOT NULL,
		unit_type TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		total_price INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		delivery_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_number TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_reserve ON stock (code_type, state, id)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_order ON stock (reserved_for_order)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id)`,
}
