package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Node is a storage participant in the network.
type Node struct {
	ID              string
	Address         string
	Port            int
	StorageCapacity int64
	StorageUsed     int64
	LastSeen        time.Time
	ReputationScore int
	IsAnchor        bool
}

// Active reports whether the node heartbeated within the timeout.
func (n Node) Active(now time.Time, timeout time.Duration) bool {
	return now.Sub(n.LastSeen) <= timeout
}

// NewNodeID mints an opaque node identifier for first registration.
func NewNodeID() string {
	return uuid.NewString()
}

// RegisterNode upserts a node. On conflict it overwrites address, port and
// capacity and bumps last_seen; reputation_score and is_anchor are
// preserved across re-registration.
func (s *Store) RegisterNode(ctx context.Context, nodeID, address string, port int, capacity int64, isAnchor bool) (Node, error) {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (node_id, address, port, storage_capacity, last_seen, is_anchor)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET
		   address = excluded.address,
		   port = excluded.port,
		   storage_capacity = excluded.storage_capacity,
		   last_seen = MAX(last_seen, excluded.last_seen)`,
		nodeID, address, port, capacity, now, boolToInt(isAnchor))
	if err != nil {
		return Node{}, fmt.Errorf("register node %s: %w", nodeID, err)
	}
	return s.GetNode(ctx, nodeID)
}

// Heartbeat updates a node's last_seen and self-reported storage_used.
// A heartbeat for an unknown node id is a silent no-op: a heartbeat is not
// a registration. last_seen never moves backwards, so delayed client
// retries cannot regress liveness.
func (s *Store) Heartbeat(ctx context.Context, nodeID string, storageUsed int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET last_seen = MAX(last_seen, ?), storage_used = ? WHERE node_id = ?`,
		s.now().Unix(), storageUsed, nodeID)
	if err != nil {
		return fmt.Errorf("heartbeat node %s: %w", nodeID, err)
	}
	return nil
}

// GetNode returns a node by id, or ErrNodeNotFound.
func (s *Store) GetNode(ctx context.Context, nodeID string) (Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT node_id, address, port, storage_capacity, storage_used, last_seen, reputation_score, is_anchor
		 FROM nodes WHERE node_id = ?`, nodeID)

	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if err != nil {
		return Node{}, fmt.Errorf("get node %s: %w", nodeID, err)
	}
	return n, nil
}

// ListActiveNodes returns nodes seen within the timeout, best reputation
// first. This ordering is the entire basis of placement preference.
func (s *Store) ListActiveNodes(ctx context.Context, timeout time.Duration) ([]Node, error) {
	cutoff := s.now().Add(-timeout).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, address, port, storage_capacity, storage_used, last_seen, reputation_score, is_anchor
		 FROM nodes WHERE last_seen >= ?
		 ORDER BY reputation_score DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list active nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("list active nodes: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active nodes: %w", err)
	}
	return nodes, nil
}

// AdjustReputation moves a node's reputation by delta, clamped to [0,100].
func (s *Store) AdjustReputation(ctx context.Context, nodeID string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET reputation_score = MIN(100, MAX(0, reputation_score + ?)) WHERE node_id = ?`,
		delta, nodeID)
	if err != nil {
		return fmt.Errorf("adjust reputation for %s: %w", nodeID, err)
	}
	return nil
}

// stale-anchor reputation penalty per missed window.
const anchorStalePenalty = 10

// EvictStaleNodes removes non-anchor nodes whose last heartbeat is older
// than window, together with their replica rows, in one transaction. The
// affected repositories surface in the next under-replication scan.
// Stale anchor nodes are never removed, only penalized in reputation so
// placement stops preferring them. Returns the evicted node ids.
func (s *Store) EvictStaleNodes(ctx context.Context, window time.Duration) ([]string, error) {
	cutoff := s.now().Add(-window).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("evict stale nodes: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT node_id FROM nodes WHERE last_seen < ? AND is_anchor = 0`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("evict stale nodes: %w", err)
	}
	var evicted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("evict stale nodes: %w", err)
		}
		evicted = append(evicted, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("evict stale nodes: %w", err)
	}
	_ = rows.Close()

	for _, id := range evicted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM replicas WHERE node_id = ?`, id); err != nil {
			return nil, fmt.Errorf("evict stale node %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE node_id = ?`, id); err != nil {
			return nil, fmt.Errorf("evict stale node %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE nodes SET reputation_score = MAX(0, reputation_score - ?)
		 WHERE last_seen < ? AND is_anchor = 1`, anchorStalePenalty, cutoff); err != nil {
		return nil, fmt.Errorf("penalize stale anchors: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("evict stale nodes: %w", err)
	}
	return evicted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (Node, error) {
	var n Node
	var lastSeen int64
	var isAnchor int
	err := row.Scan(&n.ID, &n.Address, &n.Port, &n.StorageCapacity, &n.StorageUsed,
		&lastSeen, &n.ReputationScore, &isAnchor)
	if err != nil {
		return Node{}, err
	}
	n.LastSeen = time.Unix(lastSeen, 0)
	n.IsAnchor = isAnchor != 0
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
