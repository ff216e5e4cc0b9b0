// Package metrics writes the outcome of the latest run as a Prometheus
// textfile for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blackwell-systems/ciwarden/internal/store"
)

const namespace = "ciwarden"

// Run is what the textfile reports about one cycle.
type Run struct {
	Scenario   string
	Strategy   string
	Success    bool
	DryRun     bool
	RolledBack bool
	FinishedAt time.Time
	Duration   time.Duration
	// Steps counts step outcomes: "ok", "failed", "tolerated", "skipped".
	Steps map[string]int
	// ChangedFiles is how many files built-in actions modified.
	ChangedFiles int
	Snapshots    int
	// History holds run totals per scenario; may be nil.
	History []store.ScenarioCount
}

// Metrics holds the collectors of one textfile.
type Metrics struct {
	registry *prometheus.Registry

	lastRun       *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
	lastTimestamp prometheus.Gauge
	lastDuration  prometheus.Gauge
	rolledBack    prometheus.Gauge
	dryRun        prometheus.Gauge
	steps         *prometheus.GaugeVec
	changedFiles  prometheus.Gauge
	snapshots     prometheus.Gauge
	runsTotal     *prometheus.GaugeVec
	failuresTotal *prometheus.GaugeVec
}

// New creates and registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_info",
				Help:      "Scenario and strategy of the latest run (always 1)",
			},
			[]string{"scenario", "strategy"},
		),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the latest run succeeded, 0 otherwise",
		}),
		lastTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the latest run finished",
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the latest run",
		}),
		rolledBack: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_rolled_back",
			Help:      "1 if the latest run restored its snapshot",
		}),
		dryRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_dry_run",
			Help:      "1 if the latest run was a dry run",
		}),
		steps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_steps",
				Help:      "Steps of the latest run by outcome",
			},
			[]string{"outcome"},
		),
		changedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_changed_files",
			Help:      "Files modified by built-in actions in the latest run",
		}),
		snapshots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshots",
			Help:      "Snapshots currently retained",
		}),
		runsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Recorded runs per scenario",
			},
			[]string{"scenario"},
		),
		failuresTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_failures_total",
				Help:      "Recorded failed runs per scenario",
			},
			[]string{"scenario"},
		),
	}
	m.registry.MustRegister(
		m.lastRun, m.lastSuccess, m.lastTimestamp, m.lastDuration, m.rolledBack,
		m.dryRun, m.steps, m.changedFiles, m.snapshots, m.runsTotal, m.failuresTotal,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe sets every collector from r.
func (m *Metrics) Observe(r Run) {
	m.lastRun.Reset()
	m.lastRun.WithLabelValues(r.Scenario, r.Strategy).Set(1)
	m.lastSuccess.Set(boolFloat(r.Success))
	m.lastTimestamp.Set(float64(r.FinishedAt.Unix()))
	m.lastDuration.Set(r.Duration.Seconds())
	m.rolledBack.Set(boolFloat(r.RolledBack))
	m.dryRun.Set(boolFloat(r.DryRun))
	m.steps.Reset()
	for _, outcome := range []string{"ok", "failed", "tolerated", "skipped"} {
		m.steps.WithLabelValues(outcome).Set(float64(r.Steps[outcome]))
	}
	m.changedFiles.Set(float64(r.ChangedFiles))
	m.snapshots.Set(float64(r.Snapshots))
	m.runsTotal.Reset()
	m.failuresTotal.Reset()
	for _, c := range r.History {
		m.runsTotal.WithLabelValues(c.Scenario).Set(float64(c.Runs))
		m.failuresTotal.WithLabelValues(c.Scenario).Set(float64(c.Failures))
	}
}

// WriteFile atomically replaces path with the current values.
func (m *Metrics) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
