package progress

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports run progress as Prometheus collectors.
type Metrics struct {
	runs    *prometheus.CounterVec
	files   *prometheus.GaugeVec
	folders *prometheus.GaugeVec
	active  prometheus.Gauge
	lastRun prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "b2backup_runs_total",
			Help: "Finished backup runs by final status.",
		}, []string{"status"}),
		files: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "b2backup_run_files",
			Help: "File counters of the current or most recent backup run.",
		}, []string{"result"}),
		folders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "b2backup_run_folders",
			Help: "Configured folders of the current or most recent backup run, and how many are done.",
		}, []string{"state"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "b2backup_run_active",
			Help: "1 while a backup run holds the backup lock.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "b2backup_last_run_timestamp_seconds",
			Help: "Unix time the most recent backup run finished.",
		}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.files, m.folders, m.active, m.lastRun} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Publish(e Event) {
	m.files.WithLabelValues("scanned").Set(float64(e.Totals.Scanned))
	m.files.WithLabelValues("uploaded").Set(float64(e.Totals.Uploaded))
	m.files.WithLabelValues("skipped").Set(float64(e.Totals.Skipped))
	m.files.WithLabelValues("failed").Set(float64(e.Totals.Failed))
	m.folders.WithLabelValues("done").Set(float64(e.TargetsDone))
	m.folders.WithLabelValues("total").Set(float64(e.TargetsTotal))

	switch {
	case e.Status.Running():
		m.active.Set(1)
	case e.Status.Terminal():
		m.active.Set(0)
		m.runs.WithLabelValues(string(e.Status)).Inc()
		m.lastRun.Set(float64(e.At.Unix()))
	}
}

var _ Sink = (*Metrics)(nil)
