package replication

// HealthStatus is the four-tier replication health of a repository.
type HealthStatus int

const (
	// Critical: no replicas exist.
	Critical HealthStatus = iota
	// NeedsReplication: at least one replica, but below the minimum.
	NeedsReplication
	// Good: at or above the configured minimum.
	Good
	// Excellent: five or more replicas.
	Excellent
)

// excellentThreshold is the replica count treated as better than any
// configured minimum.
const excellentThreshold = 5

func (h HealthStatus) String() string {
	switch h {
	case Excellent:
		return "Excellent"
	case Good:
		return "Good"
	case NeedsReplication:
		return "Needs Replication"
	default:
		return "Critical"
	}
}

// MarshalText renders the status name, so health reports serialize with
// the display form rather than an opaque integer.
func (h HealthStatus) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Classify maps a replica count to a health status for the given minimum.
// It is a pure function: absence of replicas is a valid Critical state,
// never an error.
func Classify(replicaCount, minReplicas int) HealthStatus {
	switch {
	case replicaCount >= excellentThreshold:
		return Excellent
	case replicaCount >= minReplicas:
		return Good
	case replicaCount > 0:
		return NeedsReplication
	default:
		return Critical
	}
}

// RepoHealth is the on-demand health report for a single repository.
type RepoHealth struct {
	RepoHash     string       `json:"repo_hash"`
	ReplicaCount int          `json:"replica_count"`
	MinReplicas  int          `json:"min_replicas"`
	Status       HealthStatus `json:"status"`
}
