package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Turn("replied")
	m.Turn("fallback")
	m.Turn("replied")
	m.Generation("fast", time.Second, errors.New("boom"))
	m.Generation("fast", time.Second, nil)
	m.Duck(true)
	m.Duck(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues("replied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationFailures.WithLabelValues("fast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duckTransitions.WithLabelValues("release")))
}

func TestMetrics_StateIsExclusive(t *testing.T) {
	m := New()
	m.SetState("thinking")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("thinking")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("idle")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Turn("replied")
		m.SetState("idle")
		m.Playback("completed")
		m.WatchAmbientVoices(func() int { return 1 })
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.WatchAmbientVoices(func() int { return 3 })
	m.Playback("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "companion_ambient_voices 3")
	assert.Contains(t, string(body), `companion_playback_total{outcome="completed"} 1`)
}
