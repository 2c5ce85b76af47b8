package replication

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/gitmesh/gitmesh/pkg/bytesize"
)

// MonitorConfig configures the health monitor.
type MonitorConfig struct {
	MinReplicaCount  int           // healthy replica floor (default 3)
	HeartbeatTimeout time.Duration // node liveness window (default 10m)
	Interval         time.Duration // delay between cycles (default 10m)
	StaleNodeWindow  time.Duration // eviction threshold (default 1h)
	HealBatchSize    int           // repositories healed per cycle (default 10)
	HealStepTimeout  time.Duration // per-repository placement timeout (default 30s)
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.MinReplicaCount == 0 {
		c.MinReplicaCount = 3
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Minute
	}
	if c.Interval == 0 {
		c.Interval = 10 * time.Minute
	}
	if c.StaleNodeWindow == 0 {
		c.StaleNodeWindow = time.Hour
	}
	if c.HealBatchSize == 0 {
		c.HealBatchSize = 10
	}
	if c.HealStepTimeout == 0 {
		c.HealStepTimeout = 30 * time.Second
	}
	return c
}

// Monitor is the recurring reconciliation loop. Each cycle scans for
// under-replicated repositories, heals a bounded batch through the
// placement engine, evicts stale nodes, and publishes network statistics.
type Monitor struct {
	catalog Catalog
	placer  *Service
	cfg     MonitorConfig
	logger  zerolog.Logger
	metrics *Metrics
}

// NewMonitor creates a health monitor. metrics may be nil to disable
// Prometheus export.
func NewMonitor(cat Catalog, placer *Service, cfg MonitorConfig, logger zerolog.Logger, metrics *Metrics) *Monitor {
	return &Monitor{
		catalog: cat,
		placer:  placer,
		cfg:     cfg.withDefaults(),
		logger:  logger.With().Str("component", "health-monitor").Logger(),
		metrics: metrics,
	}
}

// CycleStats summarizes one reconciliation cycle.
type CycleStats struct {
	UnderReplicated int
	Healed          int
	Failed          int
	Evicted         int
}

// Run drives the reconciliation loop until ctx is cancelled. The next
// cycle is scheduled after the previous one completes, so cycles never
// overlap regardless of how long healing takes.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().
		Dur("interval", m.cfg.Interval).
		Int("min_replicas", m.cfg.MinReplicaCount).
		Msg("health monitor started")

	timer := time.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health monitor stopped")
			return
		case <-timer.C:
			m.RunCycle(ctx)
			timer.Reset(m.cfg.Interval)
		}
	}
}

// RunCycle performs a single reconciliation cycle. A failure in one step
// is logged and does not abort the rest of the cycle.
func (m *Monitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	m.logger.Debug().Msg("starting health cycle")

	deficient, err := m.catalog.FindUnderReplicated(ctx, m.cfg.MinReplicaCount)
	if err != nil {
		m.logger.Error().Err(err).Msg("under-replication scan failed")
	} else {
		stats.UnderReplicated = len(deficient)
		if len(deficient) > 0 {
			m.logger.Warn().Int("count", len(deficient)).Msg("repositories below minimum replica count")
		}
		stats.Healed, stats.Failed = m.healBatch(ctx, deficient)
	}

	evicted, err := m.catalog.EvictStaleNodes(ctx, m.cfg.StaleNodeWindow)
	if err != nil {
		m.logger.Error().Err(err).Msg("stale node eviction failed")
	} else if len(evicted) > 0 {
		stats.Evicted = len(evicted)
		m.logger.Info().Strs("nodes", evicted).Msg("evicted stale nodes")
	}

	m.publishStats(ctx, stats)
	return stats
}

// healBatch invokes the placement engine for up to HealBatchSize deficient
// repositories. Each step gets its own timeout so one stuck dependency
// cannot stall the cycle indefinitely.
func (m *Monitor) healBatch(ctx context.Context, deficient []string) (healed, failed int) {
	batch := deficient
	if len(batch) > m.cfg.HealBatchSize {
		batch = batch[:m.cfg.HealBatchSize]
	}

	for _, repoHash := range batch {
		if ctx.Err() != nil {
			return healed, failed
		}

		stepCtx, cancel := context.WithTimeout(ctx, m.cfg.HealStepTimeout)
		nodeID, err := m.placer.TriggerReplication(stepCtx, repoHash)
		cancel()

		if err != nil {
			failed++
			m.countHeal("failure")
			if errors.Is(err, ErrNoEligibleNode) {
				m.logger.Warn().Str("repo", repoHash).Msg("no eligible node for replication")
			} else {
				m.logger.Warn().Err(err).Str("repo", repoHash).Msg("replication failed")
			}
			continue
		}

		healed++
		m.countHeal("success")
		m.logger.Info().Str("repo", repoHash).Str("node", nodeID).Msg("triggered replication")
	}
	return healed, failed
}

func (m *Monitor) countHeal(outcome string) {
	if m.metrics != nil {
		m.metrics.HealAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Monitor) publishStats(ctx context.Context, cycle CycleStats) {
	st, err := m.catalog.Stats(ctx, m.cfg.HeartbeatTimeout)
	if err != nil {
		m.logger.Warn().Err(err).Msg("network stats unavailable")
		return
	}

	m.logger.Info().
		Int64("repositories", st.TotalRepos).
		Int64("active_nodes", st.ActiveNodes).
		Str("stored", bytesize.Format(st.TotalStorageBytes)).
		Float64("mean_replicas", st.MeanReplicaCount).
		Int("healed", cycle.Healed).
		Int("heal_failures", cycle.Failed).
		Int("evicted", cycle.Evicted).
		Msg("health cycle completed")

	if m.metrics != nil {
		m.metrics.RepositoriesTotal.Set(float64(st.TotalRepos))
		m.metrics.ActiveNodes.Set(float64(st.ActiveNodes))
		m.metrics.StoredBytes.Set(float64(st.TotalStorageBytes))
		m.metrics.MeanReplicaCount.Set(st.MeanReplicaCount)
		m.metrics.UnderReplicated.Set(float64(cycle.UnderReplicated))
		m.metrics.NodesEvicted.Add(float64(cycle.Evicted))
		m.metrics.CyclesTotal.Inc()
	}
}

// CheckRepoHealth classifies a single repository on demand. Zero replicas
// is a valid Critical state, not an error.
func (m *Monitor) CheckRepoHealth(ctx context.Context, repoHash string) (RepoHealth, error) {
	count, err := m.catalog.CountReplicas(ctx, repoHash)
	if err != nil {
		return RepoHealth{}, err
	}
	return RepoHealth{
		RepoHash:     repoHash,
		ReplicaCount: count,
		MinReplicas:  m.cfg.MinReplicaCount,
		Status:       Classify(count, m.cfg.MinReplicaCount),
	}, nil
}
