package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("test_outcome"))

	SubmissionsTotal.WithLabelValues("test_outcome").Inc()
	SubmissionsTotal.WithLabelValues("test_outcome").Inc()

	after := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("test_outcome"))
	if after-before != 2 {
		t.Errorf("expected counter to advance by 2, got %v", after-before)
	}
}

func TestGauges(t *testing.T) {
	DirectInFlight.Set(3)
	if got := testutil.ToFloat64(DirectInFlight); got != 3 {
		t.Errorf("expected gauge 3, got %v", got)
	}

	EndpointCircuitOpen.WithLabelValues("test-ep").Set(1)
	if got := testutil.ToFloat64(EndpointCircuitOpen.WithLabelValues("test-ep")); got != 1 {
		t.Errorf("expected circuit gauge 1, got %v", got)
	}
}
