package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetServiceState(t *testing.T) {
	SetServiceState("ready")
	if got := testutil.ToFloat64(ServiceState.WithLabelValues("ready")); got != 1 {
		t.Fatalf("ready=%v", got)
	}
	SetServiceState("error")
	if got := testutil.ToFloat64(ServiceState.WithLabelValues("ready")); got != 0 {
		t.Fatalf("ready after error=%v", got)
	}
	if got := testutil.ToFloat64(ServiceState.WithLabelValues("error")); got != 1 {
		t.Fatalf("error=%v", got)
	}
}
