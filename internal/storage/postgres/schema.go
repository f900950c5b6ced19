// Package postgres provides the PostgreSQL implementation of storage.Store.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. Every statement uses IF NOT EXISTS and is applied on open.
const Schema = `
CREATE TABLE IF NOT EXISTS usage_snapshots (
    session_id TEXT PRIMARY KEY,
    total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    requests INTEGER NOT NULL DEFAULT 0,
    data JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS lore_entries (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    entry_type TEXT NOT NULL DEFAULT 'custom',
    tags JSONB NOT NULL DEFAULT '[]'::jsonb,
    importance INTEGER NOT NULL DEFAULT 50,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_lore_session_importance ON lore_entries(session_id, importance DESC);

CREATE TABLE IF NOT EXISTS intensity_audit (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    dimension TEXT NOT NULL,
    expected INTEGER NOT NULL,
    actual INTEGER NOT NULL,
    excerpt TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_intensity_audit_session ON intensity_audit(session_id, created_at);

CREATE TABLE IF NOT EXISTS sfx_cache (
    cache_key TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_loop BOOLEAN NOT NULL DEFAULT FALSE,
    file_path TEXT NOT NULL,
    size_bytes BIGINT NOT NULL DEFAULT 0,
    hit_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS voices (
    voice_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    name TEXT NOT NULL,
    gender TEXT NOT NULL DEFAULT '',
    age TEXT NOT NULL DEFAULT '',
    accent TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    labels JSONB NOT NULL DEFAULT '[]'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (provider, voice_id)
);
`
