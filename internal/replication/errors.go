package replication

import "errors"

// ErrNoEligibleNode is returned when every active node already holds a
// replica of the repository. It is reported, not retried; retry belongs to
// the health monitor's scheduling.
var ErrNoEligibleNode = errors.New("no eligible node for replication")
