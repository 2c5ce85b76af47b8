package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	const min = 3

	cases := []struct {
		count int
		want  HealthStatus
	}{
		{0, Critical},
		{1, NeedsReplication},
		{2, NeedsReplication},
		{3, Good},
		{4, Good},
		{5, Excellent},
		{12, Excellent},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.count, min), "count=%d", tc.count)
	}
}

func TestClassifyIsMonotonic(t *testing.T) {
	const min = 3
	prev := Classify(0, min)
	for count := 1; count <= 10; count++ {
		cur := Classify(count, min)
		assert.GreaterOrEqual(t, int(cur), int(prev), "health must not degrade as replicas grow (count=%d)", count)
		prev = cur
	}
}

func TestHealthStatusString(t *testing.T) {
	assert.Equal(t, "Excellent", Excellent.String())
	assert.Equal(t, "Good", Good.String())
	assert.Equal(t, "Needs Replication", NeedsReplication.String())
	assert.Equal(t, "Critical", Critical.String())
}

func TestHealthStatusMarshalText(t *testing.T) {
	b, err := Good.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "Good", string(b))
}
