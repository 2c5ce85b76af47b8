package catalog

import "database/sql"

// Timestamps are stored as unix seconds so liveness comparisons and the
// monotonic heartbeat guard are plain integer arithmetic.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS repositories (
  repo_hash TEXT PRIMARY KEY,
  owner_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  size INTEGER NOT NULL DEFAULT 0,
  storage_tier TEXT NOT NULL DEFAULT 'standard',
  is_private INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  last_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
  node_id TEXT PRIMARY KEY,
  address TEXT NOT NULL,
  port INTEGER NOT NULL,
  storage_capacity INTEGER NOT NULL DEFAULT 0,
  storage_used INTEGER NOT NULL DEFAULT 0,
  last_seen INTEGER NOT NULL,
  reputation_score INTEGER NOT NULL DEFAULT 50,
  is_anchor INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS replicas (
  repo_hash TEXT NOT NULL,
  node_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  last_verified INTEGER,
  PRIMARY KEY (repo_hash, node_id)
);

-- Satellite tables touched only by the repository delete cascade.
CREATE TABLE IF NOT EXISTS repo_stars (
  user_id INTEGER NOT NULL,
  repo_hash TEXT NOT NULL,
  starred_at INTEGER NOT NULL,
  UNIQUE(user_id, repo_hash)
);

CREATE TABLE IF NOT EXISTS repo_pins (
  user_id INTEGER NOT NULL,
  repo_hash TEXT NOT NULL,
  pinned_at INTEGER NOT NULL,
  UNIQUE(user_id, repo_hash)
);

CREATE TABLE IF NOT EXISTS repo_tags (
  repo_hash TEXT NOT NULL,
  tag TEXT NOT NULL,
  UNIQUE(repo_hash, tag)
);

CREATE TABLE IF NOT EXISTS repo_access_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  repo_hash TEXT NOT NULL,
  accessed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replicas_node ON replicas(node_id);
CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
CREATE INDEX IF NOT EXISTS idx_repo_access_log_hash ON repo_access_log(repo_hash);
`

func bootstrapSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}
