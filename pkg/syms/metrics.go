package syms

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	built    prometheus.Counter
	failures prometheus.Counter
	duration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		built: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syms_modules_built_total",
			Help: "Number of modules built.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syms_module_build_failures_total",
			Help: "Number of module builds that failed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "syms_module_build_duration_seconds",
			Help:    "Time spent building a module.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	if reg != nil {
		m.built = registerOrGet(reg, m.built)
		m.failures = registerOrGet(reg, m.failures)
		m.duration = registerOrGet(reg, m.duration)
	}
	return m
}

// registerOrGet lets several instances share one registry.
func registerOrGet[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(T)
		}
		panic(err)
	}
	return c
}
