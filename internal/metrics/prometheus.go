package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portman_bots"

var (
	botsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "bots"),
		"Bots by current state.",
		[]string{"state"}, nil,
	)
	failuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "failures_total"),
		"Failed bots by failure kind.",
		[]string{"kind"}, nil,
	)
	registeredDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "registered_total"),
		"Bots that created their user during the run.",
		nil, nil,
	)
	callsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "api", "calls_total"),
		"API calls by operation and result.",
		[]string{"op", "result"}, nil,
	)
	latencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "api", "call_duration_seconds"),
		"API call latency by operation.",
		[]string{"op"}, nil,
	)
	ticksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "ticks_total"),
		"Tick messages received after connecting.",
		nil, nil,
	)
)

// Exporter exposes a Collector as a prometheus.Collector. Values are read
// from the Collector at scrape time.
type Exporter struct {
	collector *Collector
}

func NewExporter(c *Collector) *Exporter {
	return &Exporter{collector: c}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- botsDesc
	ch <- failuresDesc
	ch <- registeredDesc
	ch <- callsDesc
	ch <- latencyDesc
	ch <- ticksDesc
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	stats := e.collector.Stats(e.collector.Elapsed())

	for state, n := range stats.ByState {
		ch <- prometheus.MustNewConstMetric(botsDesc, prometheus.GaugeValue, float64(n), state)
	}
	for kind, n := range stats.ByKind {
		ch <- prometheus.MustNewConstMetric(failuresDesc, prometheus.CounterValue, float64(n), kind)
	}
	ch <- prometheus.MustNewConstMetric(registeredDesc, prometheus.CounterValue, float64(stats.Registered))
	ch <- prometheus.MustNewConstMetric(ticksDesc, prometheus.CounterValue, float64(stats.Ticks))

	for _, cs := range stats.Calls {
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(cs.Successes), cs.Op, "success")
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(cs.Failures), cs.Op, "failure")
		ch <- prometheus.MustNewConstSummary(latencyDesc,
			uint64(cs.Total), cs.SumLatency.Seconds(),
			map[float64]float64{
				0.5:  cs.P50Latency.Seconds(),
				0.9:  cs.P90Latency.Seconds(),
				0.99: cs.P99Latency.Seconds(),
			},
			cs.Op,
		)
	}
}

// Server serves /metrics for one Collector.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Handler returns an http.Handler exposing c on a private registry.
func Handler(c *Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewExporter(c))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics in the background.
func Serve(addr string, c *Collector) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(c))
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
