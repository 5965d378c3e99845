package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Micrometer metric families read from the server's Prometheus endpoint.
const (
	familyMemoryUsed   = "jvm_memory_used_bytes"
	familyMemoryMax    = "jvm_memory_max_bytes"
	familyLiveThreads  = "jvm_threads_live_threads"
	familyProcessCPU   = "process_cpu_usage"
	familyHTTPRequests = "http_server_requests_seconds"
)

// JVMMetrics contains metrics scraped from the server's actuator endpoint.
type JVMMetrics struct {
	HeapUsed    int64
	HeapMax     int64
	HeapPercent float64
	LiveThreads int64
	CPUPercent  float64
	ReqRate     float64 // requests/sec since the previous scrape

	// Rolling window over heap usage.
	HeapP50       float64
	HeapMaxWindow float64
	WindowSeconds int

	LastUpdate time.Time
	Healthy    bool
	Error      string
}

// ActuatorScraper polls /actuator/prometheus on the supervised server.
// Reads are lock-free through atomic.Value.
type ActuatorScraper struct {
	url        string
	interval   time.Duration
	logger     *slog.Logger
	httpClient *http.Client

	metrics atomic.Value // *JVMMetrics

	lastReqs atomic.Uint64 // float64 bits
	lastTime atomic.Value  // time.Time

	heapMu      sync.Mutex
	heapDigest  *tdigest.TDigest
	heapSamples []sample
	windowSize  time.Duration
}

type sample struct {
	value float64
	time  time.Time
}

// NewActuatorScraper creates a scraper for url.
// Returns nil if url is empty (feature disabled).
func NewActuatorScraper(url string, interval, windowSize time.Duration, logger *slog.Logger) *ActuatorScraper {
	if url == "" {
		return nil
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	// Clamp window size (validation also done in config.Validate())
	if windowSize < 10*time.Second {
		windowSize = 10 * time.Second
	}
	if windowSize > 300*time.Second {
		windowSize = 300 * time.Second
	}

	s := &ActuatorScraper{
		url:      url,
		interval: interval,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		heapDigest: tdigest.NewWithCompression(100),
		windowSize: windowSize,
	}
	s.metrics.Store(&JVMMetrics{Error: "Not yet scraped"})
	return s
}

// Run scrapes every interval until ctx is done.
func (s *ActuatorScraper) Run(ctx context.Context) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Scrape(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scrape(ctx)
		}
	}
}

// GetMetrics returns a copy of the latest metrics with the window
// percentiles filled in.
func (s *ActuatorScraper) GetMetrics() *JVMMetrics {
	if s == nil {
		return nil
	}
	ptr, _ := s.metrics.Load().(*JVMMetrics)
	if ptr == nil {
		return nil
	}
	m := *ptr

	s.heapMu.Lock()
	s.cleanupWindow(time.Now())
	if len(s.heapSamples) > 0 {
		m.HeapP50 = s.heapDigest.Quantile(0.50)
		m.HeapMaxWindow = s.heapSamples[0].value
		for _, hs := range s.heapSamples {
			if hs.value > m.HeapMaxWindow {
				m.HeapMaxWindow = hs.value
			}
		}
	}
	s.heapMu.Unlock()
	m.WindowSeconds = int(s.windowSize.Seconds())

	return &m
}

// Scrape performs one scrape. A failed scrape keeps the previous values and
// marks the metrics unhealthy, which is the normal state while the server is
// stopped.
func (s *ActuatorScraper) Scrape(ctx context.Context) {
	now := time.Now()
	last, _ := s.metrics.Load().(*JVMMetrics)
	next := &JVMMetrics{}
	if last != nil {
		*next = *last
	}
	next.LastUpdate = now

	families, err := s.fetch(ctx)
	if err != nil {
		next.Healthy = false
		next.Error = err.Error()
		if s.logger != nil {
			s.logger.Debug("actuator_scrape_error", "url", s.url, "error", err)
		}
		s.metrics.Store(next)
		return
	}

	next.HeapUsed, next.HeapMax, next.HeapPercent = extractHeap(families)
	next.LiveThreads = int64(firstGauge(families[familyLiveThreads]))
	next.CPUPercent = firstGauge(families[familyProcessCPU]) * 100
	next.ReqRate = s.requestRate(requestCount(families), now)
	next.Healthy = true
	next.Error = ""

	s.heapMu.Lock()
	s.heapDigest.Add(float64(next.HeapUsed), 1)
	s.heapSamples = append(s.heapSamples, sample{value: float64(next.HeapUsed), time: now})
	if len(s.heapSamples) > 20 {
		s.cleanupWindow(now)
	}
	s.heapMu.Unlock()

	s.metrics.Store(next)
}

func (s *ActuatorScraper) fetch(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return parseFamilies(resp.Body)
}

// parseFamilies decodes the Prometheus text exposition format.
func parseFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(r, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)
	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		families[mf.GetName()] = &mf
	}
	return families, nil
}

// extractHeap sums the heap pools. Pools with no limit report -1 for max and
// are left out of the total.
func extractHeap(families map[string]*dto.MetricFamily) (used, max int64, percent float64) {
	var usedBytes, maxBytes float64
	for _, m := range families[familyMemoryUsed].GetMetric() {
		if labelValue(m, "area") == "heap" {
			usedBytes += metricValue(m)
		}
	}
	for _, m := range families[familyMemoryMax].GetMetric() {
		if labelValue(m, "area") == "heap" {
			if v := metricValue(m); v > 0 {
				maxBytes += v
			}
		}
	}
	used, max = int64(usedBytes), int64(maxBytes)
	if max > 0 {
		percent = float64(used) / float64(max) * 100
	}
	return used, max, percent
}

// requestCount totals the request counter across every label set. Micrometer
// exposes it as a summary, or as a histogram when percentiles are enabled.
func requestCount(families map[string]*dto.MetricFamily) float64 {
	var total float64
	if mf, ok := families[familyHTTPRequests]; ok {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetSummary() != nil:
				total += float64(m.GetSummary().GetSampleCount())
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		return total
	}
	for _, m := range families[familyHTTPRequests+"_count"].GetMetric() {
		total += metricValue(m)
	}
	return total
}

func (s *ActuatorScraper) requestRate(total float64, now time.Time) float64 {
	var rate float64
	last := loadFloat64(&s.lastReqs)
	if lt, ok := s.lastTime.Load().(time.Time); ok && !lt.IsZero() {
		if dt := now.Sub(lt).Seconds(); dt > 0 && total >= last {
			rate = (total - last) / dt
		}
	}
	storeFloat64(&s.lastReqs, total)
	s.lastTime.Store(now)
	return rate
}

// cleanupWindow drops samples older than the window and rebuilds the digest
// when any expired. Caller holds heapMu.
func (s *ActuatorScraper) cleanupWindow(now time.Time) {
	cutoff := now.Add(-s.windowSize)
	valid := s.heapSamples[:0]
	expired := 0
	for _, hs := range s.heapSamples {
		if hs.time.After(cutoff) {
			valid = append(valid, hs)
		} else {
			expired++
		}
	}
	if expired > 0 {
		s.heapDigest = tdigest.NewWithCompression(100)
		for _, hs := range valid {
			s.heapDigest.Add(hs.value, 1)
		}
	}
	s.heapSamples = valid
}

func firstGauge(mf *dto.MetricFamily) float64 {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0
	}
	return metricValue(mf.GetMetric()[0])
}

// metricValue reads a gauge, counter or untyped sample.
func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

// storeFloat64 stores a float64 value atomically using math.Float64bits.
func storeFloat64(addr *atomic.Uint64, val float64) {
	addr.Store(math.Float64bits(val))
}

// loadFloat64 loads a float64 value atomically using math.Float64frombits.
func loadFloat64(addr *atomic.Uint64) float64 {
	return math.Float64frombits(addr.Load())
}
