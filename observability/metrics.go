package observability

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks protocol operations and the aggregate pool figures.
type EngineMetrics struct {
	operations    *prometheus.CounterVec
	totalBorrow   prometheus.Gauge
	totalSupplied prometheus.Gauge
	utilization   prometheus.Gauge
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics

	oracleOnce     sync.Once
	oracleRegistry *OracleMetrics
)

// Engine returns the process-wide engine metrics registry.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendefi",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of protocol operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			totalBorrow: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendefi",
				Subsystem: "engine",
				Name:      "total_borrow",
				Help:      "Outstanding protocol borrow in base units.",
			}),
			totalSupplied: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendefi",
				Subsystem: "engine",
				Name:      "total_supplied_liquidity",
				Help:      "Supplied liquidity principal in base units.",
			}),
			utilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendefi",
				Subsystem: "engine",
				Name:      "utilization_wad",
				Help:      "Borrow utilisation at WAD-6 scale.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.totalBorrow,
			engineRegistry.totalSupplied,
			engineRegistry.utilization,
		)
	})
	return engineRegistry
}

// ObserveOperation records one protocol operation outcome.
func (m *EngineMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(normalizeLabel(operation), outcome).Inc()
}

// SetAggregates publishes the pool-wide figures. Values beyond float64
// precision degrade to approximations, which is acceptable for dashboards.
func (m *EngineMetrics) SetAggregates(totalBorrow, totalSupplied, utilization *big.Int) {
	if m == nil {
		return
	}
	m.totalBorrow.Set(approx(totalBorrow))
	m.totalSupplied.Set(approx(totalSupplied))
	m.utilization.Set(approx(utilization))
}

// OracleMetrics tracks price resolution failures and circuit breaker state.
type OracleMetrics struct {
	failures *prometheus.CounterVec
	breaker  *prometheus.GaugeVec
}

// Oracle returns the process-wide oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendefi",
				Subsystem: "oracle",
				Name:      "price_failures_total",
				Help:      "Count of failed price resolutions segmented by reason.",
			}, []string{"reason"}),
			breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendefi",
				Subsystem: "oracle",
				Name:      "circuit_breaker_active",
				Help:      "Whether the per-asset circuit breaker is tripped (1) or clear (0).",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(oracleRegistry.failures, oracleRegistry.breaker)
	})
	return oracleRegistry
}

// ObserveFailure records one failed price resolution.
func (m *OracleMetrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(reason)).Inc()
}

// SetBreaker publishes the circuit breaker state for an asset.
func (m *OracleMetrics) SetBreaker(asset string, active bool) {
	if m == nil {
		return
	}
	value := 0.0
	if active {
		value = 1.0
	}
	m.breaker.WithLabelValues(strings.ToLower(asset)).Set(value)
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return strings.ReplaceAll(v, " ", "_")
}

func approx(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
