// Package metrics exposes per-connection TCP observability as Prometheus
// metrics, registered once per event loop the way a process registers any
// other collector.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/swastic7/oxtcp/demux"
	"github.com/swastic7/oxtcp/tcp"
)

type connStats struct {
	state       tcp.State
	cwnd        tcp.Size
	ssthresh    tcp.Size
	srtt        time.Duration
	rto         time.Duration
	retransmits int
}

// Collector implements prometheus.Collector and demux.MetricsSink: the event
// loop calls its Observe/SegmentSent/.../GaveUp methods as connections
// progress, and a Prometheus scrape calls Collect, mirroring
// exporter.TCPInfoCollector's map-of-tracked-entries-behind-a-mutex shape.
type Collector struct {
	mu    sync.Mutex
	conns map[demux.Quad]connStats

	stateDesc       *prometheus.Desc
	cwndDesc        *prometheus.Desc
	ssthreshDesc    *prometheus.Desc
	srttDesc        *prometheus.Desc
	rtoDesc         *prometheus.Desc
	retransmitsDesc *prometheus.Desc

	segmentsSent *prometheus.CounterVec
	segmentsRecv *prometheus.CounterVec
	retransmitCt *prometheus.CounterVec
	giveUps      *prometheus.CounterVec
}

// NewCollector builds a Collector whose metric names are prefixed with
// prefix + "_" (e.g. "oxtcp_tcb_cwnd_bytes").
func NewCollector(prefix string) *Collector {
	labels := []string{"quad"}
	c := &Collector{
		conns: make(map[demux.Quad]connStats),

		stateDesc:       prometheus.NewDesc(prefix+"_tcb_state", "RFC 9293 state, as its numeric tag", labels, nil),
		cwndDesc:        prometheus.NewDesc(prefix+"_tcb_cwnd_bytes", "Congestion window", labels, nil),
		ssthreshDesc:    prometheus.NewDesc(prefix+"_tcb_ssthresh_bytes", "Slow-start threshold", labels, nil),
		srttDesc:        prometheus.NewDesc(prefix+"_tcb_srtt_seconds", "Smoothed round-trip time estimate", labels, nil),
		rtoDesc:         prometheus.NewDesc(prefix+"_tcb_rto_seconds", "Current retransmission timeout", labels, nil),
		retransmitsDesc: prometheus.NewDesc(prefix+"_tcb_consecutive_timeouts", "Consecutive retransmit timeouts", labels, nil),

		segmentsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_segments_sent_total", Help: "Segments written to the interface",
		}, labels),
		segmentsRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_segments_received_total", Help: "Segments accepted from the interface",
		}, labels),
		retransmitCt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_retransmits_total", Help: "Segments retransmitted",
		}, labels),
		giveUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_giveups_total", Help: "Connections abandoned after exhausting the retransmit budget",
		}, labels),
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.cwndDesc
	ch <- c.ssthreshDesc
	ch <- c.srttDesc
	ch <- c.rtoDesc
	ch <- c.retransmitsDesc
	c.segmentsSent.Describe(ch)
	c.segmentsRecv.Describe(ch)
	c.retransmitCt.Describe(ch)
	c.giveUps.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snapshot := make(map[demux.Quad]connStats, len(c.conns))
	for q, s := range c.conns {
		snapshot[q] = s
	}
	c.mu.Unlock()

	for quad, s := range snapshot {
		label := quad.String()
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, float64(s.state), label)
		ch <- prometheus.MustNewConstMetric(c.cwndDesc, prometheus.GaugeValue, float64(s.cwnd), label)
		ch <- prometheus.MustNewConstMetric(c.ssthreshDesc, prometheus.GaugeValue, float64(s.ssthresh), label)
		ch <- prometheus.MustNewConstMetric(c.srttDesc, prometheus.GaugeValue, s.srtt.Seconds(), label)
		ch <- prometheus.MustNewConstMetric(c.rtoDesc, prometheus.GaugeValue, s.rto.Seconds(), label)
		ch <- prometheus.MustNewConstMetric(c.retransmitsDesc, prometheus.GaugeValue, float64(s.retransmits), label)
	}
	c.segmentsSent.Collect(ch)
	c.segmentsRecv.Collect(ch)
	c.retransmitCt.Collect(ch)
	c.giveUps.Collect(ch)
}

// Observe records the latest per-connection state/timer snapshot; satisfies demux.MetricsSink.
func (c *Collector) Observe(quad demux.Quad, state tcp.State, cwnd, ssthresh tcp.Size, srtt, rto time.Duration, retransmits int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[quad] = connStats{state: state, cwnd: cwnd, ssthresh: ssthresh, srtt: srtt, rto: rto, retransmits: retransmits}
}

// SegmentSent satisfies demux.MetricsSink.
func (c *Collector) SegmentSent(quad demux.Quad) { c.segmentsSent.WithLabelValues(quad.String()).Inc() }

// SegmentReceived satisfies demux.MetricsSink.
func (c *Collector) SegmentReceived(quad demux.Quad) {
	c.segmentsRecv.WithLabelValues(quad.String()).Inc()
}

// Retransmitted satisfies demux.MetricsSink.
func (c *Collector) Retransmitted(quad demux.Quad) {
	c.retransmitCt.WithLabelValues(quad.String()).Inc()
}

// GaveUp satisfies demux.MetricsSink.
func (c *Collector) GaveUp(quad demux.Quad) {
	c.giveUps.WithLabelValues(quad.String()).Inc()
}

// Forget satisfies demux.MetricsSink: it stops reporting gauges for a
// connection that has been destroyed, gracefully or otherwise.
func (c *Collector) Forget(quad demux.Quad) {
	c.mu.Lock()
	delete(c.conns, quad)
	c.mu.Unlock()
}
