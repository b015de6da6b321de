// Package stats exposes rolling per-connection counters (sent/received
// bytes, drops, corrupt packets, round-trip time) as a prometheus.Collector,
// grounded on runZeroInc-conniver/pkg/exporter/exporter.go's
// Describe/Collect + NewDesc/MustNewConstMetric pattern, generalized from a
// per-TCP-socket collector to a per-transport-connection one.
package stats

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

func float64FromBits(bits uint64) float64 { return math.Float64frombits(bits) }
func bitsFromFloat64(f float64) uint64    { return math.Float64bits(f) }

// Counters holds one connection's rolling counts. All fields are updated
// with atomic operations so Connection and the collector's Collect can run
// on different goroutines without a lock.
type Counters struct {
	Sent      uint64
	Received  uint64
	BytesSent uint64
	BytesRecv uint64
	Dropped   uint64 // malformed, duplicate, too-old, window-full
	Corrupt   uint64 // AEAD auth failures
	rttMillis uint64 // bits of a float64 EWMA, accessed via atomic
}

func (c *Counters) AddSent(n int) {
	atomic.AddUint64(&c.Sent, 1)
	atomic.AddUint64(&c.BytesSent, uint64(n))
}

func (c *Counters) AddReceived(n int) {
	atomic.AddUint64(&c.Received, 1)
	atomic.AddUint64(&c.BytesRecv, uint64(n))
}

func (c *Counters) AddDropped() { atomic.AddUint64(&c.Dropped, 1) }
func (c *Counters) AddCorrupt() { atomic.AddUint64(&c.Corrupt, 1) }

// RTT returns the current EWMA round-trip-time estimate in milliseconds.
func (c *Counters) RTT() float64 {
	return float64FromBits(atomic.LoadUint64(&c.rttMillis))
}

// UpdateRTT folds sampleMillis into the EWMA with smoothing factor alpha
// (spec.md §4.5 suggests alpha=1/8).
func (c *Counters) UpdateRTT(sampleMillis, alpha float64) {
	for {
		old := atomic.LoadUint64(&c.rttMillis)
		oldF := float64FromBits(old)
		var next float64
		if oldF == 0 {
			next = sampleMillis
		} else {
			next = (1-alpha)*oldF + alpha*sampleMillis
		}
		if atomic.CompareAndSwapUint64(&c.rttMillis, old, bitsFromFloat64(next)) {
			return
		}
	}
}

// Collector is a prometheus.Collector exposing per-connection Counters,
// labeled by connection id.
type Collector struct {
	mu    sync.Mutex
	conns map[string]*Counters

	sentDesc      *prometheus.Desc
	recvDesc      *prometheus.Desc
	bytesSentDesc *prometheus.Desc
	bytesRecvDesc *prometheus.Desc
	droppedDesc   *prometheus.Desc
	corruptDesc   *prometheus.Desc
	rttDesc       *prometheus.Desc
}

// NewCollector builds an empty Collector. Register it with a
// prometheus.Registry the way the application wires in its own metrics.
func NewCollector() *Collector {
	labels := []string{"connection_id"}
	return &Collector{
		conns:         make(map[string]*Counters),
		sentDesc:      prometheus.NewDesc("mpgs_packets_sent_total", "Packets transmitted on this connection.", labels, nil),
		recvDesc:      prometheus.NewDesc("mpgs_packets_received_total", "Packets accepted on this connection.", labels, nil),
		bytesSentDesc: prometheus.NewDesc("mpgs_bytes_sent_total", "Bytes transmitted on this connection.", labels, nil),
		bytesRecvDesc: prometheus.NewDesc("mpgs_bytes_received_total", "Bytes accepted on this connection.", labels, nil),
		droppedDesc:   prometheus.NewDesc("mpgs_packets_dropped_total", "Packets dropped (malformed, duplicate, too-old, window-full).", labels, nil),
		corruptDesc:   prometheus.NewDesc("mpgs_packets_corrupt_total", "Packets dropped for AEAD auth failure.", labels, nil),
		rttDesc:       prometheus.NewDesc("mpgs_rtt_milliseconds", "EWMA round-trip-time estimate.", labels, nil),
	}
}

// Track registers a connection id and returns its Counters, creating them if
// this is the first call for that id.
func (c *Collector) Track(connectionID string) *Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.conns[connectionID]; ok {
		return ctr
	}
	ctr := &Counters{}
	c.conns[connectionID] = ctr
	return ctr
}

// Untrack removes a connection's counters once it is destroyed.
func (c *Collector) Untrack(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, connectionID)
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.sentDesc
	descs <- c.recvDesc
	descs <- c.bytesSentDesc
	descs <- c.bytesRecvDesc
	descs <- c.droppedDesc
	descs <- c.corruptDesc
	descs <- c.rttDesc
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ctr := range c.conns {
		metrics <- prometheus.MustNewConstMetric(c.sentDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&ctr.Sent)), id)
		metrics <- prometheus.MustNewConstMetric(c.recvDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&ctr.Received)), id)
		metrics <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&ctr.BytesSent)), id)
		metrics <- prometheus.MustNewConstMetric(c.bytesRecvDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&ctr.BytesRecv)), id)
		metrics <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&ctr.Dropped)), id)
		metrics <- prometheus.MustNewConstMetric(c.corruptDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&ctr.Corrupt)), id)
		metrics <- prometheus.MustNewConstMetric(c.rttDesc, prometheus.GaugeValue, ctr.RTT(), id)
	}
}
