// Package repos coordinates the catalog and the object store for
// repository lifecycle operations.
package repos

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gitmesh/gitmesh/internal/catalog"
	"github.com/gitmesh/gitmesh/internal/objectstore"
)

// Service glues repository rows in the catalog to their on-disk storage
// trees. Storage initialization failure at creation time is surfaced
// synchronously: the repository is not created.
type Service struct {
	catalog *catalog.Store
	store   *objectstore.Store
	logger  zerolog.Logger
}

// NewService creates a repository lifecycle service.
func NewService(cat *catalog.Store, store *objectstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		catalog: cat,
		store:   store,
		logger:  logger.With().Str("component", "repos").Logger(),
	}
}

// Create inserts the catalog row and initializes the storage tree. If
// storage initialization fails the catalog row is rolled back and the
// error returned to the caller.
func (s *Service) Create(ctx context.Context, name, description string, ownerID int64, tier string, private bool) (catalog.Repository, error) {
	repo, err := s.catalog.CreateRepository(ctx, name, description, ownerID, tier, private)
	if err != nil {
		return catalog.Repository{}, err
	}

	if err := s.store.Init(repo.Hash); err != nil {
		if delErr := s.catalog.DeleteRepository(ctx, repo.Hash); delErr != nil {
			s.logger.Error().Err(delErr).Str("repo", repo.Hash).Msg("rollback after failed storage init")
		}
		return catalog.Repository{}, fmt.Errorf("create repository %s: %w", name, err)
	}

	s.logger.Info().Str("repo", repo.Hash).Str("name", name).Msg("repository created")
	return repo, nil
}

// Delete removes the repository from the catalog (cascading replicas and
// satellite rows) and then its storage tree. The catalog delete comes
// first so a crash between the two steps leaves only an orphaned disk
// tree, never orphaned replica rows.
func (s *Service) Delete(ctx context.Context, repoHash string) error {
	if err := s.catalog.DeleteRepository(ctx, repoHash); err != nil {
		return err
	}
	if err := s.store.DeleteRepo(repoHash); err != nil {
		return err
	}
	s.logger.Info().Str("repo", repoHash).Msg("repository deleted")
	return nil
}

// RefreshSize re-measures the repository's on-disk footprint and records
// it in the catalog. Called after every mutating batch.
func (s *Service) RefreshSize(ctx context.Context, repoHash string) (int64, error) {
	size, err := s.store.RepoSize(repoHash)
	if err != nil {
		return 0, err
	}
	if err := s.catalog.UpdateRepoSize(ctx, repoHash, size); err != nil {
		return 0, err
	}
	return size, nil
}
