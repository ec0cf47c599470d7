package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "procdash"

// Stop modes recorded by IncStop.
const (
	StopGraceful = "graceful"
	StopForced   = "forced"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process spawns.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Number of spawn attempts that failed.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops by mode (graceful or forced).",
		}, []string{"name", "mode"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of children observed exiting on their own.",
		}, []string{"name"},
	)
	portKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "port_kills_total",
			Help:      "Number of listeners killed by the port fallback.",
		}, []string{"name"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "running",
			Help:      "1 while a child is held for the process, 0 otherwise.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, spawnFailures, processStops, processExits, portKills, running}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with the default registry: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register succeeds.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
		running.WithLabelValues(name).Set(1)
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncStop(name, mode string) {
	if regOK.Load() {
		processStops.WithLabelValues(name, mode).Inc()
		running.WithLabelValues(name).Set(0)
	}
}

func IncExit(name string) {
	if regOK.Load() {
		processExits.WithLabelValues(name).Inc()
		running.WithLabelValues(name).Set(0)
	}
}

func IncPortKill(name string) {
	if regOK.Load() {
		portKills.WithLabelValues(name).Inc()
	}
}
