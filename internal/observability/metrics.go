package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "benchctl",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Dispatch runs by policy and result.",
		},
		[]string{"policy", "result"},
	)
	lastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "benchctl",
			Subsystem: "dispatch",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last dispatch run finished.",
		},
	)
	targetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "benchctl",
			Subsystem: "dispatch",
			Name:      "targets_total",
			Help:      "Target tasks by policy and terminal status.",
		},
		[]string{"policy", "status"},
	)
	targetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "benchctl",
			Subsystem: "dispatch",
			Name:      "target_duration_seconds",
			Help:      "Wall time of one target task, connect to close.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"status"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "benchctl",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Executed commands by remote exit status.",
		},
		[]string{"exit_status"},
	)
	commandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "benchctl",
			Subsystem: "dispatch",
			Name:      "command_duration_seconds",
			Help:      "Remote command duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		registry.MustRegister(runsTotal, lastRun, targetsTotal, targetDuration, commandsTotal, commandDuration)
	})
}

// Gatherer exposes the benchctl registry.
func Gatherer() prometheus.Gatherer {
	RegisterMetrics()
	return registry
}

func RecordRun(policy string, failed bool, finished time.Time) {
	RegisterMetrics()
	result := "ok"
	if failed {
		result = "failed"
	}
	runsTotal.WithLabelValues(policy, result).Inc()
	lastRun.Set(float64(finished.Unix()))
}

func RecordTarget(policy, status string, duration time.Duration) {
	RegisterMetrics()
	targetsTotal.WithLabelValues(policy, status).Inc()
	targetDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordCommand(exitStatus int, duration time.Duration) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(strconv.Itoa(exitStatus)).Inc()
	commandDuration.Observe(duration.Seconds())
}

// WriteTextfile writes every benchctl metric in the node exporter textfile
// format. The write is atomic.
func WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, Gatherer()); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
