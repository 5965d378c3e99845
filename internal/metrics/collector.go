// Package metrics provides Prometheus metrics for go-jar-supervisor.
//
// The Collector is fed two ways: as an events.Sink it sees every status
// transition and log line, and through the supervisor callbacks it sees
// spawn, readiness, negotiation, exit and stop outcomes. The
// ActuatorScraper in this package polls the server's own Prometheus
// endpoint when one is configured.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-jar-supervisor/internal/errkind"
	"github.com/randomizedcoder/go-jar-supervisor/internal/events"
)

// Exit categories used by the exits counter.
const (
	ExitSuccess = "success"
	ExitError   = "error"
	ExitSignal  = "signal"
)

// NegotiationAccepted is the result label for a shutdown request the server
// accepted. Failed requests are labelled with their error kind.
const NegotiationAccepted = "accepted"

// Collector manages all Prometheus metrics for the supervisor.
type Collector struct {
	info              *prometheus.GaugeVec
	status            *prometheus.GaugeVec
	up                prometheus.Gauge
	ready             prometheus.Gauge
	startsTotal       prometheus.Counter
	stopsTotal        *prometheus.CounterVec
	negotiationsTotal *prometheus.CounterVec
	exitsTotal        *prometheus.CounterVec
	logLinesTotal     *prometheus.CounterVec
	readyLatency      prometheus.Histogram
	stopDuration      *prometheus.HistogramVec
	uptime            prometheus.Histogram

	startTime time.Time

	mu          sync.Mutex
	totalStarts int64
	totalStops  map[string]int64
	exitCodes   map[int]int64
	lastStatus  events.Status
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version  string
	Artifact string
}

// NewCollector creates a new metrics collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jar_supervisor_info",
				Help: "Information about the supervisor (value always 1)",
			},
			[]string{"version", "artifact"},
		),
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jar_supervisor_status",
				Help: "1 for the last reported server status, 0 otherwise",
			},
			[]string{"status"},
		),
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jar_supervisor_server_up",
			Help: "1 while a server process occupies the slot",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jar_supervisor_server_ready",
			Help: "1 once the readiness marker has been seen for the current process",
		}),
		startsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jar_supervisor_starts_total",
			Help: "Server processes spawned",
		}),
		stopsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jar_supervisor_stops_total",
				Help: "Completed stop requests by how the server ended",
			},
			[]string{"mode"},
		),
		negotiationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jar_supervisor_shutdown_requests_total",
				Help: "Shutdown requests sent to the management endpoint by result",
			},
			[]string{"result"},
		),
		exitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jar_supervisor_exits_total",
				Help: "Server process exits by category (success, error, signal)",
			},
			[]string{"category"},
		),
		logLinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jar_supervisor_log_lines_total",
				Help: "Log lines forwarded by stream",
			},
			[]string{"stream"},
		),
		readyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jar_supervisor_ready_latency_seconds",
			Help:    "Time from spawn to the readiness marker",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		stopDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jar_supervisor_stop_duration_seconds",
				Help:    "Wall time of Stop by mode",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 15, 30},
			},
			[]string{"mode"},
		),
		uptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jar_supervisor_server_uptime_seconds",
			Help:    "Server process uptime at exit",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		startTime:  time.Now(),
		totalStops: make(map[string]int64),
		exitCodes:  make(map[int]int64),
		lastStatus: events.StatusStopped,
	}

	registry.MustRegister(
		c.info,
		c.status,
		c.up,
		c.ready,
		c.startsTotal,
		c.stopsTotal,
		c.negotiationsTotal,
		c.exitsTotal,
		c.logLinesTotal,
		c.readyLatency,
		c.stopDuration,
		c.uptime,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Artifact).Set(1)
	c.setStatus(events.StatusStopped)

	return c
}

// =============================================================================
// Event Sink
// =============================================================================

// Emit implements events.Sink.
func (c *Collector) Emit(ev events.Event) {
	switch ev.Kind {
	case events.KindStatus:
		c.mu.Lock()
		c.lastStatus = ev.Status
		c.mu.Unlock()
		c.setStatus(ev.Status)
		switch ev.Status {
		case events.StatusRunning:
			c.ready.Set(1)
		case events.StatusStopped:
			c.up.Set(0)
			c.ready.Set(0)
		}
	case events.KindLog:
		stream := string(ev.Stream)
		if stream == "" {
			stream = string(events.StreamStdout)
		}
		c.logLinesTotal.WithLabelValues(stream).Inc()
	}
}

func (c *Collector) setStatus(current events.Status) {
	for _, s := range []events.Status{events.StatusStarting, events.StatusRunning, events.StatusStopped} {
		v := 0.0
		if s == current {
			v = 1
		}
		c.status.WithLabelValues(string(s)).Set(v)
	}
}

// =============================================================================
// Supervisor Callbacks
// =============================================================================

// ServerStarted records a spawn.
func (c *Collector) ServerStarted(instance string, pid int) {
	c.startsTotal.Inc()
	c.up.Set(1)
	c.ready.Set(0)

	c.mu.Lock()
	c.totalStarts++
	c.mu.Unlock()
}

// ServerReady records the time from spawn to the readiness marker.
func (c *Collector) ServerReady(instance string, latency time.Duration) {
	c.readyLatency.Observe(latency.Seconds())
}

// ShutdownNegotiated records the outcome of a shutdown request.
func (c *Collector) ShutdownNegotiated(instance string, err error) {
	c.negotiationsTotal.WithLabelValues(NegotiationResult(err)).Inc()
}

// ServerExited records a process exit, whether or not a stop caused it.
func (c *Collector) ServerExited(instance string, exitCode int, uptime time.Duration) {
	c.exitsTotal.WithLabelValues(ExitCategory(exitCode)).Inc()
	c.uptime.Observe(uptime.Seconds())
	c.up.Set(0)
	c.ready.Set(0)

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.mu.Unlock()
}

// ServerStopped records the end of a stop. mode is the stop mode name.
func (c *Collector) ServerStopped(instance string, mode string, d time.Duration) {
	c.stopsTotal.WithLabelValues(mode).Inc()
	c.stopDuration.WithLabelValues(mode).Observe(d.Seconds())

	c.mu.Lock()
	c.totalStops[mode]++
	c.mu.Unlock()
}

// NegotiationResult maps a shutdown outcome to its result label.
func NegotiationResult(err error) string {
	if err == nil {
		return NegotiationAccepted
	}
	return errkind.KindOf(err).String()
}

// ExitCategory classifies an exit code. Codes above 128 are the shell
// convention for death by signal.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return ExitSuccess
	case exitCode > 128:
		return ExitSignal
	default:
		return ExitError
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the counters reported when the supervisor exits.
type Summary struct {
	Duration    time.Duration
	TotalStarts int64
	Stops       map[string]int64
	ExitCodes   map[int]int64
	LastStatus  events.Status
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:    time.Since(c.startTime),
		TotalStarts: c.totalStarts,
		Stops:       make(map[string]int64, len(c.totalStops)),
		ExitCodes:   make(map[int]int64, len(c.exitCodes)),
		LastStatus:  c.lastStatus,
	}
	for mode, n := range c.totalStops {
		s.Stops[mode] = n
	}
	for code, n := range c.exitCodes {
		s.ExitCodes[code] = n
	}
	return s
}

// TotalStarts returns the number of spawns recorded.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}

// LastStatus returns the last status event seen.
func (c *Collector) LastStatus() events.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}
