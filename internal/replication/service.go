// Package replication decides where repository replicas live and keeps the
// network converging toward the configured replica target.
package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gitmesh/gitmesh/internal/catalog"
)

// Catalog is the registry surface the placement engine and health monitor
// operate on. *catalog.Store implements it; tests may substitute fakes.
type Catalog interface {
	ListReplicaNodeIDs(ctx context.Context, repoHash string) ([]string, error)
	ListActiveNodes(ctx context.Context, timeout time.Duration) ([]catalog.Node, error)
	AddReplica(ctx context.Context, repoHash, nodeID string) error
	AdjustReputation(ctx context.Context, nodeID string, delta int) error

	FindUnderReplicated(ctx context.Context, minCount int) ([]string, error)
	EvictStaleNodes(ctx context.Context, window time.Duration) ([]string, error)
	CountReplicas(ctx context.Context, repoHash string) (int, error)
	Stats(ctx context.Context, heartbeatTimeout time.Duration) (catalog.NetworkStats, error)
}

// reputation reward for a node chosen as a replication target.
const placementReward = 1

// Service is the placement engine. Placement is greedy and
// reputation-biased: the best-reputation active node not already holding
// the repository wins. It records bookkeeping only; physically copying
// objects to the chosen node is the data-transfer agent's job.
type Service struct {
	catalog          Catalog
	heartbeatTimeout time.Duration
	logger           zerolog.Logger
}

// NewService creates a placement engine over the given catalog.
func NewService(cat Catalog, heartbeatTimeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		catalog:          cat,
		heartbeatTimeout: heartbeatTimeout,
		logger:           logger.With().Str("component", "placement").Logger(),
	}
}

// TriggerReplication selects one additional node for the repository and
// records the new replica. Returns the chosen node id, or ErrNoEligibleNode
// when every active node already holds a copy.
func (s *Service) TriggerReplication(ctx context.Context, repoHash string) (string, error) {
	holderIDs, err := s.catalog.ListReplicaNodeIDs(ctx, repoHash)
	if err != nil {
		return "", fmt.Errorf("list current holders: %w", err)
	}
	holders := make(map[string]bool, len(holderIDs))
	for _, id := range holderIDs {
		holders[id] = true
	}

	active, err := s.catalog.ListActiveNodes(ctx, s.heartbeatTimeout)
	if err != nil {
		return "", fmt.Errorf("list active nodes: %w", err)
	}

	var target *catalog.Node
	for i := range active {
		if !holders[active[i].ID] {
			target = &active[i]
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("%w: %s", ErrNoEligibleNode, repoHash)
	}

	if err := s.catalog.AddReplica(ctx, repoHash, target.ID); err != nil {
		return "", fmt.Errorf("record replica: %w", err)
	}

	// Hosting another replica earns the node a small reputation reward.
	// Best effort: placement already succeeded.
	if err := s.catalog.AdjustReputation(ctx, target.ID, placementReward); err != nil {
		s.logger.Warn().Err(err).Str("node", target.ID).Msg("reputation reward failed")
	}

	s.logger.Info().
		Str("repo", repoHash).
		Str("node", target.ID).
		Int("reputation", target.ReputationScore).
		Msg("replica placed")

	return target.ID, nil
}
