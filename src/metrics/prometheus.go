// Package metrics contains support for reporting metrics to an external server,
// currently a Prometheus pushgateway. Editors start and stop language servers whenever
// they feel like it so we can't wait around for Prometheus to call us, we've got to push to them.
package metrics

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/psalm-langserver/src/core"
)

var log = logging.MustGetLogger("metrics")

// This is the maximum number of errors after which we will stop attempting to send metrics.
const maxErrors = 3

// The job name that metrics are pushed under.
const job = "psalm_langserver"

// A Result is the outcome of a lint run.
type Result string

const (
	// Success is a run whose output we could parse.
	Success Result = "success"
	// Failure is a run that failed for any reason other than being cancelled.
	Failure Result = "failure"
	// Cancelled is a run that was cancelled, usually because a newer one replaced it.
	Cancelled Result = "cancelled"
	// Skipped is a file that wasn't linted because it isn't in a monitored project.
	Skipped Result = "skipped"
)

type metrics struct {
	url        string
	newMetrics bool
	ticker     *time.Ticker
	cancelled  bool
	errors     int
	pushes     int
	timeout    time.Duration
	mutex      sync.Mutex // guards newMetrics, cancelled, errors and pushes
	registry   *prometheus.Registry
	runCounter *prometheus.CounterVec
	issues     prometheus.Counter
	durations  *prometheus.HistogramVec
}

// m is the singleton metrics instance.
var m *metrics

// InitFromConfig sets up the initial metrics from the configuration.
func InitFromConfig(config *core.Configuration) {
	if config.Metrics.PushGatewayURL != "" {
		m = initMetrics(config.Metrics.PushGatewayURL.String(), time.Duration(config.Metrics.PushFrequency),
			time.Duration(config.Metrics.PushTimeout))
	}
}

// initMetrics initialises a new metrics instance.
// This is deliberately not exposed but is useful for testing.
func initMetrics(url string, frequency, timeout time.Duration) *metrics {
	hostname, err := os.Hostname()
	if err != nil {
		log.Warning("Can't determine hostname for metrics")
		hostname = "unknown"
	}
	constLabels := prometheus.Labels{
		"host": hostname,
		"arch": runtime.GOOS + "_" + runtime.GOARCH,
	}

	m := &metrics{
		url:      url,
		timeout:  timeout,
		ticker:   time.NewTicker(frequency),
		registry: prometheus.NewRegistry(),
	}

	// Count of lint runs by outcome.
	m.runCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "lint_runs",
		Help:        "Count of lint runs by result",
		ConstLabels: constLabels,
	}, []string{"result"})

	// Count of issues reported across all successful runs.
	m.issues = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "lint_issues",
		Help:        "Count of issues reported by psalm after baseline filtering",
		ConstLabels: constLabels,
	})

	// Durations of each run that actually ran psalm.
	m.durations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "lint_durations_histogram",
		Help:        "Durations of lint runs",
		Buckets:     prometheus.ExponentialBuckets(0.25, 2, 10),
		ConstLabels: constLabels,
	}, []string{"result"})

	m.registry.MustRegister(m.runCounter, m.issues, m.durations)
	go m.keepPushing()
	return m
}

// Stop shuts down the metrics and ensures the final ones are sent before returning.
func Stop() {
	if m != nil {
		m.stop()
	}
}

func (m *metrics) stop() {
	m.ticker.Stop()
	if !m.isCancelled() {
		m.pushMetrics()
	}
}

// Record records the outcome of a single lint run.
func Record(result Result, duration time.Duration, issues int) {
	if m != nil {
		m.record(result, duration, issues)
	}
}

func (m *metrics) record(result Result, duration time.Duration, issues int) {
	m.runCounter.WithLabelValues(string(result)).Inc()
	if result != Skipped {
		m.durations.WithLabelValues(string(result)).Observe(duration.Seconds())
	}
	if result == Success {
		m.issues.Add(float64(issues))
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.newMetrics = true
}

func (m *metrics) keepPushing() {
	for range m.ticker.C {
		if m.pushMetrics() >= maxErrors {
			log.Warning("Metrics don't seem to be working, giving up")
			m.mutex.Lock()
			m.cancelled = true
			m.mutex.Unlock()
			return
		}
	}
}

func (m *metrics) isCancelled() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.cancelled
}

// deadline applies a deadline to an arbitrary function and returns when either the function
// completes or the deadline expires.
func deadline(f func() error, timeout time.Duration) error {
	c := make(chan error, 1)
	go func() {
		c <- f()
	}()
	select {
	case err := <-c:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("Metrics push timed out")
	}
}

// pushMetrics attempts to send some new metrics to the server. It returns the new number of errors.
func (m *metrics) pushMetrics() int {
	m.mutex.Lock()
	if !m.newMetrics {
		defer m.mutex.Unlock()
		return m.errors
	}
	m.newMetrics = false
	m.mutex.Unlock()

	start := time.Now()
	err := deadline(func() error {
		return push.New(m.url, job).Gatherer(m.registry).Add()
	}, m.timeout)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err != nil {
		log.Warning("Could not push metrics to the repository: %s", err)
		m.newMetrics = true
		m.errors++
		return m.errors
	}
	m.pushes++
	m.errors = 0
	log.Debug("Push #%d of metrics in %0.3fs", m.pushes, time.Since(start).Seconds())
	return 0
}
