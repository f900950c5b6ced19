package sqlite

// Schema creates every table the store needs. All statements are idempotent
// so the schema is applied on every open instead of through migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS usage_snapshots (
    session_id TEXT PRIMARY KEY,
    total_cost REAL NOT NULL DEFAULT 0,
    requests INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS lore_entries (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    entry_type TEXT NOT NULL DEFAULT 'custom',
    tags TEXT NOT NULL DEFAULT '[]',
    importance INTEGER NOT NULL DEFAULT 50,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_lore_session_importance ON lore_entries(session_id, importance DESC);

CREATE TABLE IF NOT EXISTS intensity_audit (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    dimension TEXT NOT NULL,
    expected INTEGER NOT NULL,
    actual INTEGER NOT NULL,
    excerpt TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_intensity_audit_session ON intensity_audit(session_id, created_at);

CREATE TABLE IF NOT EXISTS sfx_cache (
    cache_key TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    duration_seconds REAL NOT NULL DEFAULT 0,
    is_loop INTEGER NOT NULL DEFAULT 0,
    file_path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    hit_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS voices (
    voice_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    name TEXT NOT NULL,
    gender TEXT NOT NULL DEFAULT '',
    age TEXT NOT NULL DEFAULT '',
    accent TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    labels TEXT NOT NULL DEFAULT '[]',
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (provider, voice_id)
);
`
