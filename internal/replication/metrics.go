package replication

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds the Prometheus metrics published by the health monitor.
type Metrics struct {
	RepositoriesTotal prometheus.Gauge       // gitmesh_repositories_total
	ActiveNodes       prometheus.Gauge       // gitmesh_active_nodes
	StoredBytes       prometheus.Gauge       // gitmesh_stored_bytes
	MeanReplicaCount  prometheus.Gauge       // gitmesh_mean_replica_count
	UnderReplicated   prometheus.Gauge       // gitmesh_under_replicated_repositories
	HealAttempts      *prometheus.CounterVec // gitmesh_heal_attempts_total{outcome}
	NodesEvicted      prometheus.Counter     // gitmesh_nodes_evicted_total
	CyclesTotal       prometheus.Counter     // gitmesh_health_cycles_total
}

// InitMetrics initializes the monitor metrics. Metrics are registered only
// once; subsequent calls return the same instance.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		metricsInstance = &Metrics{
			RepositoriesTotal: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "gitmesh_repositories_total",
				Help: "Total number of repositories in the catalog",
			}),
			ActiveNodes: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "gitmesh_active_nodes",
				Help: "Storage nodes seen within the heartbeat timeout",
			}),
			StoredBytes: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "gitmesh_stored_bytes",
				Help: "Total recorded repository bytes",
			}),
			MeanReplicaCount: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "gitmesh_mean_replica_count",
				Help: "Mean replica count across all repositories",
			}),
			UnderReplicated: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "gitmesh_under_replicated_repositories",
				Help: "Repositories below the minimum replica count at last scan",
			}),
			HealAttempts: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "gitmesh_heal_attempts_total",
				Help: "Replication attempts by the health monitor, by outcome",
			}, []string{"outcome"}),
			NodesEvicted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "gitmesh_nodes_evicted_total",
				Help: "Stale nodes evicted from the registry",
			}),
			CyclesTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "gitmesh_health_cycles_total",
				Help: "Completed health monitor cycles",
			}),
		}
	})
	return metricsInstance
}
