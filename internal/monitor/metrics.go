package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mcp-core/internal/broker"
	"mcp-core/internal/message"
	"mcp-core/internal/queue"
)

// SystemMetrics tracks overall control plane performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	ProcessLatency *LatencyHistogram
	RoutingLatency *LatencyHistogram
	DBLatency      *LatencyHistogram

	// Counters
	messagesProcessed uint64
	signalsIngested   uint64
	routingsCompleted uint64
	errorsCount       uint64

	// Updated periodically by the server.
	queueStats  []queue.Stats
	brokerStats broker.Stats
	clients     int

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ProcessLatency: NewLatencyHistogram(1000),
		RoutingLatency: NewLatencyHistogram(1000),
		DBLatency:      NewLatencyHistogram(1000),
		lastUpdate:     time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputed only when
// samples changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementProcessed counts a message handled by a processor.
func (m *SystemMetrics) IncrementProcessed() {
	atomic.AddUint64(&m.messagesProcessed, 1)
}

// IncrementSignals counts an ingested trade signal.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsIngested, 1)
}

// IncrementRoutings counts a completed routing call.
func (m *SystemMetrics) IncrementRoutings() {
	atomic.AddUint64(&m.routingsCompleted, 1)
}

// IncrementErrors counts a processing error.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// ObserveProcessed records one processed message. It satisfies
// processor.Observer.
func (m *SystemMetrics) ObserveProcessed(_ string, d time.Duration) {
	m.ProcessLatency.RecordDuration(d)
	m.IncrementProcessed()
}

// ObserveStore records the duration of one storage call.
func (m *SystemMetrics) ObserveStore(_ string, d time.Duration) {
	m.DBLatency.RecordDuration(d)
}

// QueueObserver counts queue processing failures as errors.
func (m *SystemMetrics) QueueObserver() queue.Observer { return errorCounter{m} }

type errorCounter struct{ m *SystemMetrics }

func (errorCounter) Enqueued(string, message.Priority) {}
func (errorCounter) Rejected(string)                   {}
func (e errorCounter) Failed(string)                   { e.m.IncrementErrors() }

// MetricsSnapshot is a point-in-time view of the metrics.
type MetricsSnapshot struct {
	ProcessLatency    LatencyStats  `json:"process_latency"`
	RoutingLatency    LatencyStats  `json:"routing_latency"`
	DBLatency         LatencyStats  `json:"db_latency"`
	MessagesProcessed uint64        `json:"messages_processed"`
	SignalsIngested   uint64        `json:"signals_ingested"`
	RoutingsCompleted uint64        `json:"routings_completed"`
	ErrorsCount       uint64        `json:"errors_count"`
	Queues            []queue.Stats `json:"queues"`
	BrokerPool        broker.Stats  `json:"broker_pool"`
	Clients           int           `json:"clients"`
	GoroutineCount    int           `json:"goroutine_count"`
	HeapAlloc         uint64        `json:"heap_alloc_bytes"`
	HeapSys           uint64        `json:"heap_sys_bytes"`
	LastUpdate        time.Time     `json:"last_update"`
	Timestamp         time.Time     `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	queues := append([]queue.Stats(nil), m.queueStats...)
	brokers := m.brokerStats
	clients := m.clients
	last := m.lastUpdate
	m.mu.RUnlock()

	return MetricsSnapshot{
		ProcessLatency:    m.ProcessLatency.Stats(),
		RoutingLatency:    m.RoutingLatency.Stats(),
		DBLatency:         m.DBLatency.Stats(),
		MessagesProcessed: atomic.LoadUint64(&m.messagesProcessed),
		SignalsIngested:   atomic.LoadUint64(&m.signalsIngested),
		RoutingsCompleted: atomic.LoadUint64(&m.routingsCompleted),
		ErrorsCount:       atomic.LoadUint64(&m.errorsCount),
		Queues:            queues,
		BrokerPool:        brokers,
		Clients:           clients,
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		HeapSys:           memStats.HeapSys,
		LastUpdate:        last,
		Timestamp:         time.Now(),
	}
}

// SetQueueStats updates queue statistics.
func (m *SystemMetrics) SetQueueStats(stats []queue.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueStats = stats
	m.lastUpdate = time.Now()
}

// SetBrokerPoolStats updates broker pool statistics.
func (m *SystemMetrics) SetBrokerPoolStats(stats broker.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokerStats = stats
	m.lastUpdate = time.Now()
}

// SetClients updates the connected client count.
func (m *SystemMetrics) SetClients(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = n
}
