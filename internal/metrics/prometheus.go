package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "archsense"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	commandDuration     *prom.HistogramVec
	commandResults      *prom.CounterVec
	backendErrors       *prom.CounterVec
	persistenceFailures prom.Counter
	unsupported         *prom.GaugeVec
	connections         prom.Gauge
	cpuTemp             prom.Gauge
	pollDuration        *prom.HistogramVec
}

// NewPrometheusRecorder constructs and registers the daemon metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		commandDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time to handle a control command, including the hardware write",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5},
		}, []string{"command"}),
		commandResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "command_results_total",
			Help:      "Handled commands by outcome",
		}, []string{"command", "result"}),
		backendErrors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Hardware backend failures by capability and kind",
		}, []string{"capability", "kind"}),
		persistenceFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed saves of the persisted settings",
		}),
		unsupported: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "capability_unsupported",
			Help:      "1 when a capability has been marked unsupported for this session",
		}, []string{"capability"}),
		connections: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open client connections",
		}),
		cpuTemp: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_temperature_celsius",
			Help:      "Last polled CPU temperature",
		}),
		pollDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of telemetry poll cycles",
			Buckets:   prom.DefBuckets,
		}, []string{"result"}),
	}
	reg.MustRegister(
		pr.commandDuration, pr.commandResults, pr.backendErrors, pr.persistenceFailures,
		pr.unsupported, pr.connections, pr.cpuTemp, pr.pollDuration,
	)
	return pr
}

func (p *PrometheusRecorder) ObserveCommand(tag, result string, d time.Duration) {
	if p == nil {
		return
	}
	p.commandDuration.WithLabelValues(tag).Observe(d.Seconds())
	p.commandResults.WithLabelValues(tag, result).Inc()
}

func (p *PrometheusRecorder) IncBackendError(capability, kind string) {
	if p == nil {
		return
	}
	p.backendErrors.WithLabelValues(capability, kind).Inc()
}

func (p *PrometheusRecorder) IncPersistenceFailure() {
	if p == nil {
		return
	}
	p.persistenceFailures.Inc()
}

func (p *PrometheusRecorder) SetUnsupported(capability string) {
	if p == nil {
		return
	}
	p.unsupported.WithLabelValues(capability).Set(1)
}

func (p *PrometheusRecorder) ConnectionOpened() {
	if p == nil {
		return
	}
	p.connections.Inc()
}

func (p *PrometheusRecorder) ConnectionClosed() {
	if p == nil {
		return
	}
	p.connections.Dec()
}

func (p *PrometheusRecorder) SetCPUTemp(celsius float64) {
	if p == nil {
		return
	}
	p.cpuTemp.Set(celsius)
}

func (p *PrometheusRecorder) ObservePoll(d time.Duration, success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.pollDuration.WithLabelValues(res).Observe(d.Seconds())
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Server exposes /metrics on a Unix socket.
type Server struct {
	path   string
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server for reg listening on socketPath.
func NewServer(socketPath string, reg *prom.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", HTTPHandler(reg))
	return &Server{
		path:   socketPath,
		logger: logger,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the socket and serves in the background.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create metrics socket dir: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale metrics socket: %w", err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen metrics socket: %w", err)
	}
	if err := os.Chmod(s.path, 0o660); err != nil {
		ln.Close()
		return fmt.Errorf("chmod metrics socket: %w", err)
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	s.logger.Info("serving metrics", "socket", s.path)
	return nil
}

// Stop shuts the server down and removes the socket.
func (s *Server) Stop(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}
