package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRepo(t *testing.T, s *Store, name string) Repository {
	t.Helper()
	repo, err := s.CreateRepository(context.Background(), name, "", 1, "standard", false)
	require.NoError(t, err)
	return repo
}

func TestAddReplicaIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	setClock(s, base)
	registerTestNode(t, s, "node-a", 50)
	repo := createTestRepo(t, s, "repo")

	require.NoError(t, s.AddReplica(ctx, repo.Hash, "node-a"))

	r, err := s.GetReplica(ctx, repo.Hash, "node-a")
	require.NoError(t, err)
	assert.True(t, r.LastVerified.IsZero())

	// Re-adding refreshes last_verified only.
	setClock(s, base.Add(time.Minute))
	require.NoError(t, s.AddReplica(ctx, repo.Hash, "node-a"))

	r, err = s.GetReplica(ctx, repo.Hash, "node-a")
	require.NoError(t, err)
	assert.Equal(t, base.Unix(), r.CreatedAt.Unix())
	assert.Equal(t, base.Add(time.Minute).Unix(), r.LastVerified.Unix())

	count, err := s.CountReplicas(ctx, repo.Hash)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCountMatchesActiveListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	setClock(s, base)
	registerTestNode(t, s, "node-a", 50)
	registerTestNode(t, s, "node-b", 50)
	repo := createTestRepo(t, s, "repo")

	require.NoError(t, s.AddReplica(ctx, repo.Hash, "node-a"))
	require.NoError(t, s.AddReplica(ctx, repo.Hash, "node-b"))

	count, err := s.CountReplicas(ctx, repo.Hash)
	require.NoError(t, err)
	nodes, err := s.ListRepoReplicas(ctx, repo.Hash, heartbeatTimeout)
	require.NoError(t, err)
	assert.Equal(t, count, len(nodes))
}

func TestDeadNodeInvisibleToReaders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	setClock(s, base.Add(-time.Hour))
	registerTestNode(t, s, "node-dead", 50)
	setClock(s, base)
	registerTestNode(t, s, "node-live", 50)

	repo := createTestRepo(t, s, "repo")
	require.NoError(t, s.AddReplica(ctx, repo.Hash, "node-dead"))
	require.NoError(t, s.AddReplica(ctx, repo.Hash, "node-live"))

	// The row persists and counts, but readers only see live hosts.
	count, err := s.CountReplicas(ctx, repo.Hash)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	nodes, err := s.ListRepoReplicas(ctx, repo.Hash, heartbeatTimeout)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-live", nodes[0].ID)

	// The placement holder set still includes the dead node.
	ids, err := s.ListReplicaNodeIDs(ctx, repo.Hash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"node-dead", "node-live"}, ids)
}

func TestRemoveReplica(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	registerTestNode(t, s, "node-a", 50)
	repo := createTestRepo(t, s, "repo")
	require.NoError(t, s.AddReplica(ctx, repo.Hash, "node-a"))

	require.NoError(t, s.RemoveReplica(ctx, repo.Hash, "node-a"))

	_, err := s.GetReplica(ctx, repo.Hash, "node-a")
	assert.ErrorIs(t, err, ErrReplicaNotFound)
}

func TestFindUnderReplicated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"node-a", "node-b", "node-c"} {
		registerTestNode(t, s, id, 50)
	}

	full := createTestRepo(t, s, "fully-replicated")
	for _, id := range []string{"node-a", "node-b", "node-c"} {
		require.NoError(t, s.AddReplica(ctx, full.Hash, id))
	}

	partial := createTestRepo(t, s, "partially-replicated")
	require.NoError(t, s.AddReplica(ctx, partial.Hash, "node-a"))

	// Never replicated at all: still must be found.
	bare := createTestRepo(t, s, "bare")

	hashes, err := s.FindUnderReplicated(ctx, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{partial.Hash, bare.Hash}, hashes)

	hashes, err = s.FindUnderReplicated(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{bare.Hash}, hashes)
}
