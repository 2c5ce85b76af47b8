package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const heartbeatTimeout = 10 * time.Minute

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// setClock pins the store's clock to a fixed instant and returns it.
func setClock(s *Store, at time.Time) {
	s.now = func() time.Time { return at }
}

func registerTestNode(t *testing.T, s *Store, id string, reputation int) Node {
	t.Helper()
	n, err := s.RegisterNode(context.Background(), id, "10.0.0.1", 7400, 1<<30, false)
	require.NoError(t, err)
	if reputation != n.ReputationScore {
		require.NoError(t, s.AdjustReputation(context.Background(), id, reputation-n.ReputationScore))
		n, err = s.GetNode(context.Background(), id)
		require.NoError(t, err)
	}
	return n
}

func TestRegisterNodeUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.RegisterNode(ctx, "node-a", "10.0.0.1", 7400, 100, false)
	require.NoError(t, err)
	assert.Equal(t, "node-a", n.ID)
	assert.Equal(t, 50, n.ReputationScore)

	// Re-registration overwrites endpoint and capacity but preserves
	// reputation.
	require.NoError(t, s.AdjustReputation(ctx, "node-a", 25))
	n, err = s.RegisterNode(ctx, "node-a", "10.0.0.2", 7401, 200, false)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", n.Address)
	assert.Equal(t, 7401, n.Port)
	assert.Equal(t, int64(200), n.StorageCapacity)
	assert.Equal(t, 75, n.ReputationScore)
}

func TestHeartbeatUnknownNodeIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Heartbeat(ctx, "ghost", 123))

	_, err := s.GetNode(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestHeartbeatUpdatesLivenessAndUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	setClock(s, base)
	registerTestNode(t, s, "node-a", 50)

	setClock(s, base.Add(5*time.Minute))
	require.NoError(t, s.Heartbeat(ctx, "node-a", 4096))

	n, err := s.GetNode(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), n.StorageUsed)
	assert.Equal(t, base.Add(5*time.Minute).Unix(), n.LastSeen.Unix())
}

func TestHeartbeatNeverRegressesLastSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	setClock(s, base)
	registerTestNode(t, s, "node-a", 50)

	// A delayed retry carrying an older clock must not move last_seen
	// backwards.
	setClock(s, base.Add(-2*time.Minute))
	require.NoError(t, s.Heartbeat(ctx, "node-a", 1))

	n, err := s.GetNode(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, base.Unix(), n.LastSeen.Unix())
}

func TestListActiveNodesOrderAndCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	setClock(s, base)
	registerTestNode(t, s, "node-low", 20)
	registerTestNode(t, s, "node-high", 90)
	registerTestNode(t, s, "node-mid", 60)

	// node-stale heartbeated long ago.
	setClock(s, base.Add(-heartbeatTimeout-time.Minute))
	registerTestNode(t, s, "node-stale", 99)

	setClock(s, base)
	nodes, err := s.ListActiveNodes(ctx, heartbeatTimeout)
	require.NoError(t, err)

	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"node-high", "node-mid", "node-low"}, ids)
}

func TestAdjustReputationClamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerTestNode(t, s, "node-a", 50)

	require.NoError(t, s.AdjustReputation(ctx, "node-a", 1000))
	n, err := s.GetNode(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, 100, n.ReputationScore)

	require.NoError(t, s.AdjustReputation(ctx, "node-a", -1000))
	n, err = s.GetNode(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, 0, n.ReputationScore)
}

func TestEvictStaleNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	window := time.Hour

	setClock(s, base.Add(-2*time.Hour))
	registerTestNode(t, s, "node-stale", 50)
	_, err := s.RegisterNode(ctx, "anchor-stale", "10.0.0.9", 7400, 100, true)
	require.NoError(t, err)

	setClock(s, base)
	registerTestNode(t, s, "node-fresh", 50)

	repo, err := s.CreateRepository(ctx, "evicted", "", 1, "standard", false)
	require.NoError(t, err)
	require.NoError(t, s.AddReplica(ctx, repo.Hash, "node-stale"))
	require.NoError(t, s.AddReplica(ctx, repo.Hash, "node-fresh"))

	evicted, err := s.EvictStaleNodes(ctx, window)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-stale"}, evicted)

	// The stale node and its replica rows are gone.
	_, err = s.GetNode(ctx, "node-stale")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	count, err := s.CountReplicas(ctx, repo.Hash)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The stale anchor survives with a reputation penalty.
	anchor, err := s.GetNode(ctx, "anchor-stale")
	require.NoError(t, err)
	assert.Equal(t, 50-anchorStalePenalty, anchor.ReputationScore)

	// Fresh node untouched.
	_, err = s.GetNode(ctx, "node-fresh")
	require.NoError(t, err)
}

func TestNewNodeIDIsUnique(t *testing.T) {
	assert.NotEqual(t, NewNodeID(), NewNodeID())
}
