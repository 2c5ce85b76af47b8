package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Repository is a hosted content-addressed repository.
type Repository struct {
	Hash        string
	OwnerID     int64
	Name        string
	Description string
	Size        int64
	StorageTier string
	IsPrivate   bool
	CreatedAt   time.Time
	LastUpdated time.Time
}

// DeriveRepoHash computes a repository's 40-hex identifier from its name,
// owner and creation time. The id is fixed at creation; it is not
// re-derivable from the repository's bytes.
func DeriveRepoHash(name string, ownerID int64, createdAt time.Time) string {
	h, _ := blake2b.New(20, nil)
	_, _ = h.Write([]byte(name))

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(ownerID))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(createdAt.Unix()))
	_, _ = h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}

// CreateRepository inserts a new repository row, deriving its hash.
func (s *Store) CreateRepository(ctx context.Context, name, description string, ownerID int64, tier string, private bool) (Repository, error) {
	now := s.now()
	repo := Repository{
		Hash:        DeriveRepoHash(name, ownerID, now),
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		StorageTier: tier,
		IsPrivate:   private,
		CreatedAt:   now,
		LastUpdated: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (repo_hash, owner_id, name, description, storage_tier, is_private, created_at, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.Hash, repo.OwnerID, repo.Name, repo.Description, repo.StorageTier,
		boolToInt(repo.IsPrivate), now.Unix(), now.Unix())
	if err != nil {
		return Repository{}, fmt.Errorf("create repository %s: %w", name, err)
	}
	return repo, nil
}

// GetRepository returns a repository by hash, or ErrRepoNotFound.
func (s *Store) GetRepository(ctx context.Context, repoHash string) (Repository, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT repo_hash, owner_id, name, description, size, storage_tier, is_private, created_at, last_updated
		 FROM repositories WHERE repo_hash = ?`, repoHash)

	var r Repository
	var isPrivate int
	var created, updated int64
	err := row.Scan(&r.Hash, &r.OwnerID, &r.Name, &r.Description, &r.Size,
		&r.StorageTier, &isPrivate, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Repository{}, fmt.Errorf("%w: %s", ErrRepoNotFound, repoHash)
	}
	if err != nil {
		return Repository{}, fmt.Errorf("get repository %s: %w", repoHash, err)
	}
	r.IsPrivate = isPrivate != 0
	r.CreatedAt = time.Unix(created, 0)
	r.LastUpdated = time.Unix(updated, 0)
	return r, nil
}

// UpdateRepoSize refreshes the recorded on-disk size after a mutating
// batch and bumps last_updated.
func (s *Store) UpdateRepoSize(ctx context.Context, repoHash string, size int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET size = ?, last_updated = ? WHERE repo_hash = ?`,
		size, s.now().Unix(), repoHash)
	if err != nil {
		return fmt.Errorf("update size for %s: %w", repoHash, err)
	}
	return nil
}

// DeleteRepository removes a repository and everything referencing it in a
// single transaction. A partial cascade must never leave orphaned replica
// rows behind.
func (s *Store) DeleteRepository(ctx context.Context, repoHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete repository %s: %w", repoHash, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM replicas WHERE repo_hash = ?`,
		`DELETE FROM repo_pins WHERE repo_hash = ?`,
		`DELETE FROM repo_stars WHERE repo_hash = ?`,
		`DELETE FROM repo_tags WHERE repo_hash = ?`,
		`DELETE FROM repo_access_log WHERE repo_hash = ?`,
		`DELETE FROM repositories WHERE repo_hash = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, repoHash); err != nil {
			return fmt.Errorf("delete repository %s: %w", repoHash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete repository %s: %w", repoHash, err)
	}
	return nil
}

// NetworkStats aggregates the catalog for the health monitor's cycle log.
type NetworkStats struct {
	TotalRepos        int64
	ActiveNodes       int64
	TotalStorageBytes int64
	MeanReplicaCount  float64
}

// Stats computes network-wide aggregates. The active-node count uses the
// same heartbeat timeout as placement.
func (s *Store) Stats(ctx context.Context, heartbeatTimeout time.Duration) (NetworkStats, error) {
	var st NetworkStats

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM repositories`).
		Scan(&st.TotalRepos, &st.TotalStorageBytes); err != nil {
		return NetworkStats{}, fmt.Errorf("network stats: %w", err)
	}

	cutoff := s.now().Add(-heartbeatTimeout).Unix()
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE last_seen >= ?`, cutoff).
		Scan(&st.ActiveNodes); err != nil {
		return NetworkStats{}, fmt.Errorf("network stats: %w", err)
	}

	// Mean over all repositories, counting zero-replica repositories.
	if st.TotalRepos > 0 {
		var totalReplicas int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM replicas
			 WHERE repo_hash IN (SELECT repo_hash FROM repositories)`).
			Scan(&totalReplicas); err != nil {
			return NetworkStats{}, fmt.Errorf("network stats: %w", err)
		}
		st.MeanReplicaCount = float64(totalReplicas) / float64(st.TotalRepos)
	}
	return st, nil
}
