package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGathersRegisteredMetrics(t *testing.T) {
	RoutingTableSize.Set(7)
	RequestsInitiated.WithLabelValues("ping").Inc()

	families, err := Registry.Gather()
	require.NoError(t, err)

	var sawTableSize, sawRequests bool
	for _, f := range families {
		switch f.GetName() {
		case namespace + "_kademlia_routing_table_size":
			sawTableSize = true
		case namespace + "_dispatch_requests_initiated_total":
			sawRequests = true
		}
	}
	assert.True(t, sawTableSize)
	assert.True(t, sawRequests)
}
