package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_TriggersEmittedCounterIncrements(t *testing.T) {
	m := New()
	m.TriggersEmitted.WithLabelValues("safe_to_liq").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TriggersEmitted.WithLabelValues("safe_to_liq")))
}

func TestPhaseTimer_StopReturnsElapsed(t *testing.T) {
	m := New()
	timer := m.StartPhase("micro")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()
	assert.Greater(t, elapsed, time.Duration(0))
}
