package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCircuit(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	ObserveCircuit("test-circuit", "CLOSED", "OPEN")
	assert.Equal(t, 2.0, testutil.ToFloat64(CircuitState.WithLabelValues("test-circuit")))
	ObserveCircuit("test-circuit", "OPEN", "HALF_OPEN")
	assert.Equal(t, 1.0, testutil.ToFloat64(CircuitState.WithLabelValues("test-circuit")))
	ObserveCircuit("test-circuit", "HALF_OPEN", "CLOSED")
	assert.Equal(t, 0.0, testutil.ToFloat64(CircuitState.WithLabelValues("test-circuit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CircuitTransitions.WithLabelValues("test-circuit", "CLOSED", "OPEN")))
}
