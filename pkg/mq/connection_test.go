package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteFor(t *testing.T) {
	r := RouteFor("milestone-reconciler", "milestone.recompute")
	assert.Equal(t, "milestone.recompute", r.RoutingKey)
	assert.Equal(t, "milestone-reconciler.milestone.recompute", r.Queue)
	assert.Equal(t, "milestone-reconciler.milestone.recompute.dlq", r.DLQ())
	require.NoError(t, r.Validate())
}

func TestRouteValidate(t *testing.T) {
	cases := map[string]Route{
		"no routing key": {Queue: "q"},
		"no queue":       {RoutingKey: "milestone.recompute"},
		"wildcard":       {RoutingKey: "milestone.*", Queue: "q"},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, r.Validate())
		})
	}
}

func TestNewConsumerRejectsInvalidRouteBeforeDialing(t *testing.T) {
	_, err := NewConsumer("amqp://unused", Route{Queue: "q"}, nil)
	assert.ErrorContains(t, err, "routing key")
}
