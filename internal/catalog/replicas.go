package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Replica records that a repository has a copy on a node.
type Replica struct {
	RepoHash     string
	NodeID       string
	CreatedAt    time.Time
	LastVerified time.Time // zero if never reconfirmed
}

// AddReplica records that nodeID hosts repoHash. Re-adding an existing
// replica only refreshes last_verified.
func (s *Store) AddReplica(ctx context.Context, repoHash, nodeID string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replicas (repo_hash, node_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(repo_hash, node_id) DO UPDATE SET last_verified = ?`,
		repoHash, nodeID, now, now)
	if err != nil {
		return fmt.Errorf("add replica %s on %s: %w", repoHash, nodeID, err)
	}
	return nil
}

// GetReplica returns the hosting record for (repoHash, nodeID), or
// ErrReplicaNotFound.
func (s *Store) GetReplica(ctx context.Context, repoHash, nodeID string) (Replica, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT repo_hash, node_id, created_at, last_verified
		 FROM replicas WHERE repo_hash = ? AND node_id = ?`, repoHash, nodeID)

	var r Replica
	var created int64
	var verified sql.NullInt64
	err := row.Scan(&r.RepoHash, &r.NodeID, &created, &verified)
	if errors.Is(err, sql.ErrNoRows) {
		return Replica{}, fmt.Errorf("%w: %s on %s", ErrReplicaNotFound, repoHash, nodeID)
	}
	if err != nil {
		return Replica{}, fmt.Errorf("get replica %s on %s: %w", repoHash, nodeID, err)
	}
	r.CreatedAt = time.Unix(created, 0)
	if verified.Valid {
		r.LastVerified = time.Unix(verified.Int64, 0)
	}
	return r, nil
}

// RemoveReplica deletes the hosting record for (repoHash, nodeID).
func (s *Store) RemoveReplica(ctx context.Context, repoHash, nodeID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM replicas WHERE repo_hash = ? AND node_id = ?`, repoHash, nodeID)
	if err != nil {
		return fmt.Errorf("remove replica %s on %s: %w", repoHash, nodeID, err)
	}
	return nil
}

// ListReplicaNodeIDs returns every node id with a replica row for the
// repository, active or not. The placement engine uses this as the
// current-holder set so a dead holder is never double-selected.
func (s *Store) ListReplicaNodeIDs(ctx context.Context, repoHash string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id FROM replicas WHERE repo_hash = ?`, repoHash)
	if err != nil {
		return nil, fmt.Errorf("list replica holders for %s: %w", repoHash, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list replica holders for %s: %w", repoHash, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list replica holders for %s: %w", repoHash, err)
	}
	return ids, nil
}

// ListRepoReplicas returns the nodes hosting a repository, filtered to
// currently active nodes. A replica on a dead node is invisible to readers
// even though the row persists.
func (s *Store) ListRepoReplicas(ctx context.Context, repoHash string, timeout time.Duration) ([]Node, error) {
	cutoff := s.now().Add(-timeout).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.node_id, n.address, n.port, n.storage_capacity, n.storage_used,
		        n.last_seen, n.reputation_score, n.is_anchor
		 FROM replicas r
		 JOIN nodes n ON r.node_id = n.node_id
		 WHERE r.repo_hash = ? AND n.last_seen >= ?`, repoHash, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list replicas for %s: %w", repoHash, err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("list replicas for %s: %w", repoHash, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list replicas for %s: %w", repoHash, err)
	}
	return nodes, nil
}

// CountReplicas returns the number of distinct nodes with a replica row
// for the repository.
func (s *Store) CountReplicas(ctx context.Context, repoHash string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT node_id) FROM replicas WHERE repo_hash = ?`, repoHash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count replicas for %s: %w", repoHash, err)
	}
	return count, nil
}

// FindUnderReplicated returns the hashes of repositories whose replica
// count is below minCount, including repositories with no replicas at all.
// This is the single query driving the health monitor.
func (s *Store) FindUnderReplicated(ctx context.Context, minCount int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.repo_hash
		 FROM repositories r
		 LEFT JOIN (
		   SELECT repo_hash, COUNT(*) AS count
		   FROM replicas
		   GROUP BY repo_hash
		 ) rc ON r.repo_hash = rc.repo_hash
		 WHERE COALESCE(rc.count, 0) < ?`, minCount)
	if err != nil {
		return nil, fmt.Errorf("find under-replicated repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("find under-replicated repositories: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find under-replicated repositories: %w", err)
	}
	return hashes, nil
}
