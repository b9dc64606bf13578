// Package metrics exposes Prometheus instrumentation for the scanner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scanner's Prometheus collectors. A nil *Metrics is
// valid and turns every recording call into a no-op, so components don't
// need to care whether metrics are enabled.
type Metrics struct {
	downloads      prometheus.Counter
	downloadErrors prometheus.Counter
	retries        prometheus.Counter
	degraded       prometheus.Counter
	bytesHashed    prometheus.Counter
	issuesScanned  prometheus.Counter
	checkpoints    prometheus.Counter
	activeWorkers  prometheus.Gauge
}

// New registers all collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		downloads: f.NewCounter(prometheus.CounterOpts{
			Name: "architect_downloads_total",
			Help: "Attachment downloads attempted.",
		}),
		downloadErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "architect_download_errors_total",
			Help: "Attachment downloads that failed after all retries.",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Name: "architect_download_retries_total",
			Help: "Transient download failures that were retried.",
		}),
		degraded: f.NewCounter(prometheus.CounterOpts{
			Name: "architect_degraded_digests_total",
			Help: "Attachments that fell back to a locator-based digest.",
		}),
		bytesHashed: f.NewCounter(prometheus.CounterOpts{
			Name: "architect_bytes_hashed_total",
			Help: "Attachment bytes streamed through the content hasher.",
		}),
		issuesScanned: f.NewCounter(prometheus.CounterOpts{
			Name: "architect_issues_scanned_total",
			Help: "Issues processed by the orchestrator.",
		}),
		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Name: "architect_checkpoints_total",
			Help: "Checkpoint snapshots persisted.",
		}),
		activeWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "architect_active_download_workers",
			Help: "Download workers currently processing an attachment.",
		}),
	}
}

func (m *Metrics) DownloadStarted() {
	if m != nil {
		m.downloads.Inc()
		m.activeWorkers.Inc()
	}
}

func (m *Metrics) DownloadFinished() {
	if m != nil {
		m.activeWorkers.Dec()
	}
}

func (m *Metrics) DownloadFailed() {
	if m != nil {
		m.downloadErrors.Inc()
	}
}

func (m *Metrics) RetryAttempted() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) DigestDegraded() {
	if m != nil {
		m.degraded.Inc()
	}
}

func (m *Metrics) BytesHashed(n int64) {
	if m != nil {
		m.bytesHashed.Add(float64(n))
	}
}

func (m *Metrics) IssuesScanned(n int) {
	if m != nil {
		m.issuesScanned.Add(float64(n))
	}
}

func (m *Metrics) CheckpointSaved() {
	if m != nil {
		m.checkpoints.Inc()
	}
}
