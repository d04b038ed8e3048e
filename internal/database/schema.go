package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Users table: Owned by the main application; this service only reads it
-- and clears active_data_source on provider revocation
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    active_data_source TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

-- Bikes table: Owned by the main application; read here for the
-- single-bike gear fallback
CREATE TABLE IF NOT EXISTS bikes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- Gear mappings: user-configured provider gear id -> bike. Read-only here.
CREATE TABLE IF NOT EXISTS gear_mappings (
    user_id INTEGER NOT NULL,
    provider_gear_id TEXT NOT NULL,
    bike_id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (user_id, provider_gear_id),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (bike_id) REFERENCES bikes(id) ON DELETE CASCADE
);

-- Provider links: internal user <-> provider-assigned user id
CREATE TABLE IF NOT EXISTS provider_links (
    user_id INTEGER NOT NULL,
    provider TEXT NOT NULL,
    provider_user_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (user_id, provider),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- OAuth credentials: at most one row per (user, provider), rewritten on
-- every refresh, deleted together with the provider link on revocation
CREATE TABLE IF NOT EXISTS oauth_credentials (
    user_id INTEGER NOT NULL,
    provider TEXT NOT NULL,
    access_token TEXT NOT NULL,
    refresh_token TEXT,
    expires_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (user_id, provider),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- Rides table: the canonical activity store. (provider, external_id) is the
-- idempotence key for everything imported from a provider; manual rides
-- leave both NULL.
CREATE TABLE IF NOT EXISTS rides (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,

    start_time INTEGER NOT NULL,
    duration_seconds INTEGER NOT NULL,
    distance_miles REAL NOT NULL,
    elevation_feet REAL NOT NULL DEFAULT 0,
    avg_heart_rate INTEGER,
    ride_type TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    bike_id INTEGER,

    provider TEXT,
    external_id TEXT,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (bike_id) REFERENCES bikes(id) ON DELETE SET NULL
);

-- Backfill requests: history of bulk historical imports, consulted by
-- callers to block duplicate resubmission
CREATE TABLE IF NOT EXISTS backfill_requests (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    provider TEXT NOT NULL,
    period TEXT NOT NULL,
    status TEXT NOT NULL,
    activity_count INTEGER,
    message TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- Webhook queue: inbound payloads acknowledged to the provider and
-- processed asynchronously by the worker
CREATE TABLE IF NOT EXISTS webhook_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    kind TEXT NOT NULL,
    data TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    next_retry_at INTEGER,
    processing_started_at INTEGER,
    created_at INTEGER NOT NULL
);

-- Indexes for provider links
CREATE UNIQUE INDEX IF NOT EXISTS idx_provider_links_provider_user ON provider_links(provider, provider_user_id);

-- Indexes for rides
CREATE UNIQUE INDEX IF NOT EXISTS idx_rides_provider_external ON rides(provider, external_id) WHERE provider IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_rides_user_start ON rides(user_id, start_time DESC);
CREATE INDEX IF NOT EXISTS idx_rides_bike ON rides(bike_id);

-- Indexes for bikes and gear
CREATE INDEX IF NOT EXISTS idx_bikes_user ON bikes(user_id);

-- Indexes for backfill requests
CREATE INDEX IF NOT EXISTS idx_backfill_requests_user_provider ON backfill_requests(user_id, provider, created_at DESC);

-- Indexes for the webhook queue
CREATE INDEX IF NOT EXISTS idx_webhook_queue_ready ON webhook_queue(next_retry_at, processing_started_at);
`
