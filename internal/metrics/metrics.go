// Package metrics exposes session and ingestion counters in Prometheus
// format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "berry"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	ingested   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duplicates prometheus.Counter
	reconnects prometheus.Counter
	state      *prometheus.GaugeVec

	cancel context.CancelFunc
	done   chan struct{}
}

// New registers the collectors. busDropped, when set, is exported as the
// number of events skipped for slow subscribers.
func New(busDropped func() uint64) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_total",
			Help:      "Inbound events applied, by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Inbound events that failed to decode or persist, by kind.",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_dropped_total",
			Help:      "Inbound messages dropped by the dedup window.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnection attempts.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
	}
	m.reg.MustRegister(m.ingested, m.failures, m.duplicates, m.reconnects, m.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if busDropped != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Bus deliveries skipped because a subscriber was full.",
		}, func() float64 { return float64(busDropped()) }))
	}
	m.setState(status.Disconnected)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Ingested counts an applied inbound event.
func (m *Metrics) Ingested(kind string) { m.ingested.WithLabelValues(kind).Inc() }

// Duplicate counts a message dropped by the dedup window.
func (m *Metrics) Duplicate() { m.duplicates.Inc() }

// Failed counts an inbound event that could not be applied.
func (m *Metrics) Failed(kind string) { m.failures.WithLabelValues(kind).Inc() }

func (m *Metrics) setState(s status.State) {
	for _, st := range status.States {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}

// Start follows session events on b until Stop.
func (m *Metrics) Start(ctx context.Context, b *bus.Bus) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	ch, unsub := b.Subscribe("session.", 64)
	go func() {
		defer close(m.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				switch evt.Kind {
				case bus.KindStatusChanged:
					if sc, ok := evt.Payload.(status.StatusChange); ok {
						m.setState(sc.To)
					}
				case bus.KindReconnecting:
					m.reconnects.Inc()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the event loop.
func (m *Metrics) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Server serves /metrics on a TCP address.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics server for addr.
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("metrics listening", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
