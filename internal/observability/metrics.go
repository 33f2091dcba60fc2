package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Transition kinds used as the "kind" label of TransitionsTotal.
const (
	TransitionRoom = "room"
	TransitionMap  = "map"
)

// Metrics holds the prometheus collectors for the routing and transition
// subsystem. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TransitionsTotal  *prometheus.CounterVec
	HandshakesTotal   *prometheus.CounterVec
	MessagesDelivered prometheus.Counter
	MessagesDropped   prometheus.Counter
	TickDuration      prometheus.Histogram
	TickPanics        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
//
// Postcondition: Panics if a collector is already registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapworld_transitions_total",
				Help: "Committed region swaps by kind",
			},
			[]string{"kind"},
		),
		HandshakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapworld_handshakes_total",
				Help: "Map-level transition proposals by outcome",
			},
			[]string{"outcome"},
		),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mapworld_router_messages_delivered_total",
			Help: "Router messages pushed to observers",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mapworld_router_messages_dropped_total",
			Help: "Router messages an observer refused",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mapworld_tick_duration_seconds",
			Help:    "Duration of one world tick",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		TickPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mapworld_tick_panics_total",
			Help: "Per-entity panics recovered inside the tick loop",
		}),
	}
	reg.MustRegister(
		m.TransitionsTotal,
		m.HandshakesTotal,
		m.MessagesDelivered,
		m.MessagesDropped,
		m.TickDuration,
		m.TickPanics,
	)
	return m
}

// RecordTransition counts one committed region swap.
func (m *Metrics) RecordTransition(kind string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(kind).Inc()
}

// RecordHandshake counts one proposal outcome ("accepted", "denied",
// "timeout", "error", "stale").
func (m *Metrics) RecordHandshake(outcome string) {
	if m == nil {
		return
	}
	m.HandshakesTotal.WithLabelValues(outcome).Inc()
}

// RecordDelivery counts delivered and dropped router messages.
func (m *Metrics) RecordDelivery(delivered, dropped int) {
	if m == nil {
		return
	}
	m.MessagesDelivered.Add(float64(delivered))
	m.MessagesDropped.Add(float64(dropped))
}

// ObserveTick records the duration of one tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}

// RecordTickPanic counts one recovered per-entity panic.
func (m *Metrics) RecordTickPanic() {
	if m == nil {
		return
	}
	m.TickPanics.Inc()
}

// MetricsServer serves /metrics and a liveness endpoint over HTTP.
type MetricsServer struct {
	addr     string
	registry *prometheus.Registry
	logger   *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
	done     chan struct{}
}

// NewMetricsServer creates a registry holding the Go and process collectors
// plus the subsystem Metrics, and a server that exposes it on addr.
//
// Postcondition: The server is not listening until Start is called.
func NewMetricsServer(addr string, logger *zap.Logger) (*MetricsServer, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &MetricsServer{addr: addr, registry: reg, logger: logger}, NewMetrics(reg)
}

// Start begins serving. It returns once the listener is bound.
//
// Postcondition: Returns an error if the server is already running or the
// address cannot be bound.
func (s *MetricsServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("metrics server already running")
	}

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	s.listener, s.srv, s.done = lis, srv, done

	go func() {
		defer close(done)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server", zap.Error(err))
		}
	}()
	s.logger.Info("metrics server started", zap.String("addr", lis.Addr().String()))
	return nil
}

// Stop shuts the server down, waiting at most five seconds for in-flight
// scrapes. Calling Stop on a stopped server is a no-op.
func (s *MetricsServer) Stop() {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", zap.Error(err))
	}
	<-done
}

// Addr returns the bound address, or the configured one before Start.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
