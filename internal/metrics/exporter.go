package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Albermonte/validator-election-bot/internal/rpc"
)

const refreshInterval = 15 * time.Second

// Exporter publishes election processing and node health as Prometheus metrics.
type Exporter struct {
	nodeMgr *rpc.Manager

	electionBlocks   prometheus.Counter
	lastEpoch        prometheus.Gauge
	lastSubscribers  prometheus.Gauge
	reports          *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
	nodeHeight       *prometheus.GaugeVec
	nodeUp           *prometheus.GaugeVec
	nodeLatency      *prometheus.GaugeVec
	nodeLastCheck    *prometheus.GaugeVec
}

// NewExporter registers the collectors on reg. nodeMgr may be nil.
func NewExporter(prefix string, reg prometheus.Registerer, nodeMgr *rpc.Manager) *Exporter {
	if prefix == "" {
		prefix = "election_bot"
	}

	e := &Exporter{
		nodeMgr: nodeMgr,
		electionBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_election_blocks_total",
			Help: "Election blocks processed",
		}),
		lastEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_last_election_epoch",
			Help: "Epoch of the last processed election block",
		}),
		lastSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_last_election_subscribers",
			Help: "Subscribers reported for the last election block",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_reports_total",
			Help: "Subscriber reports by outcome",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_deliveries_total",
			Help: "Telegram deliveries by outcome",
		}, []string{"result"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_upstream_failures_total",
			Help: "Failed chain or storage operations",
		}, []string{"operation"}),
		nodeHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_node_height",
			Help: "Current block height of the node",
		}, []string{"label", "rpc_url"}),
		nodeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_node_up",
			Help: "Node up status (1=up, 0=down)",
		}, []string{"label", "rpc_url"}),
		nodeLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_node_latency_seconds",
			Help: "Latency of the last node health check",
		}, []string{"label", "rpc_url"}),
		nodeLastCheck: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_node_last_check_timestamp",
			Help: "Unix timestamp of last node check",
		}, []string{"label", "rpc_url"}),
	}

	reg.MustRegister(
		e.electionBlocks,
		e.lastEpoch,
		e.lastSubscribers,
		e.reports,
		e.deliveries,
		e.upstreamFailures,
		e.nodeHeight,
		e.nodeUp,
		e.nodeLatency,
		e.nodeLastCheck,
	)

	return e
}

// Start refreshes the node gauges until ctx is cancelled.
func (e *Exporter) Start(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	e.Update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Update()
		}
	}
}

func (e *Exporter) ObserveElectionBlock(epoch uint32, subscribers int) {
	e.electionBlocks.Inc()
	e.lastEpoch.Set(float64(epoch))
	e.lastSubscribers.Set(float64(subscribers))
}

func (e *Exporter) ObserveReport(ok bool) {
	e.reports.WithLabelValues(result(ok)).Inc()
}

func (e *Exporter) ObserveDelivery(ok bool) {
	e.deliveries.WithLabelValues(result(ok)).Inc()
}

func (e *Exporter) ObserveUpstreamFailure(operation string) {
	e.upstreamFailures.WithLabelValues(operation).Inc()
}

func (e *Exporter) Update() {
	if e.nodeMgr == nil {
		return
	}
	for _, n := range e.nodeMgr.GetNodes() {
		status := n.GetStatus()
		labels := prometheus.Labels{
			"label":   n.Config.Label,
			"rpc_url": n.Config.RPC,
		}

		e.nodeHeight.With(labels).Set(float64(status.BlockHeight))

		upVal := 0.0
		if status.Healthy {
			upVal = 1.0
		}
		e.nodeUp.With(labels).Set(upVal)
		e.nodeLatency.With(labels).Set(status.Latency.Seconds())

		if !status.LastCheck.IsZero() {
			e.nodeLastCheck.With(labels).Set(float64(status.LastCheck.Unix()))
		} else {
			e.nodeLastCheck.With(labels).Set(0)
		}
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
