package observability

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetrics_RecordTransition(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordTransition(TransitionRoom)
	m.RecordTransition(TransitionRoom)
	m.RecordTransition(TransitionMap)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(TransitionRoom)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(TransitionMap)))
}

func TestMetrics_RecordDelivery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordDelivery(3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MessagesDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition(TransitionMap)
		m.RecordHandshake("accepted")
		m.RecordDelivery(1, 1)
		m.ObserveTick(time.Millisecond)
		m.RecordTickPanic()
	})
}

func TestMetricsServer_ServesMetrics(t *testing.T) {
	srv, m := NewMetricsServer("127.0.0.1:0", zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	defer srv.Stop()
	assert.Error(t, srv.Start(), "second start must fail")

	m.RecordTransition(TransitionMap)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mapworld_transitions_total")

	health, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestMetricsServer_StopIsIdempotent(t *testing.T) {
	srv, _ := NewMetricsServer("127.0.0.1:0", zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	srv.Stop()
	srv.Stop()
}
