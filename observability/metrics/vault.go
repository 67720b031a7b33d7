package metrics

import (
	"context"
	"math/big"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"multivault/core/events"
)

// VaultMetrics tracks vault operations and balances. It implements
// events.Emitter so it can sit in the engine's fan-out next to the journal.
type VaultMetrics struct {
	operations    *prometheus.CounterVec
	eventsTotal   *prometheus.CounterVec
	totalAssets   prometheus.Gauge
	idle          prometheus.Gauge
	totalSupply   prometheus.Gauge
	strategyValue *prometheus.GaugeVec

	otelOps metric.Int64Counter
}

// Outcome labels for the operations counter.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide vault metrics, registering them with the
// default prometheus registry on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = NewVaultMetrics(prometheus.DefaultRegisterer)
	})
	return vaultRegistry
}

// NewVaultMetrics builds a metrics set registered against reg.
func NewVaultMetrics(reg prometheus.Registerer) *VaultMetrics {
	m := &VaultMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multivault",
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Vault operations segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multivault",
			Subsystem: "vault",
			Name:      "events_total",
			Help:      "Vault events emitted by type.",
		}, []string{"type"}),
		totalAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multivault",
			Subsystem: "vault",
			Name:      "total_assets",
			Help:      "Idle balance plus assets held by active strategies, in base units.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multivault",
			Subsystem: "vault",
			Name:      "idle_assets",
			Help:      "Asset balance held directly by the vault.",
		}),
		totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multivault",
			Subsystem: "vault",
			Name:      "share_supply",
			Help:      "Outstanding vault shares.",
		}),
		strategyValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "multivault",
			Subsystem: "vault",
			Name:      "strategy_assets",
			Help:      "Assets reported by each strategy.",
		}, []string{"strategy_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.eventsTotal, m.totalAssets, m.idle, m.totalSupply, m.strategyValue)
	}

	meter := otel.GetMeterProvider().Meter("multivault/vault")
	counter, err := meter.Int64Counter("multivault.vault.operations")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("multivault/vault")
		counter, _ = fallback.Int64Counter("multivault.vault.operations")
	}
	m.otelOps = counter
	return m
}

// ObserveOperation records the outcome of a vault operation.
func (m *VaultMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	if m.otelOps != nil {
		m.otelOps.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		))
	}
}

// Emit implements events.Emitter.
func (m *VaultMetrics) Emit(ev events.Event) {
	if m == nil || ev == nil {
		return
	}
	m.eventsTotal.WithLabelValues(ev.EventType()).Inc()
}

// StrategyBalance is one strategy's reported holdings.
type StrategyBalance struct {
	ID     uint64
	Assets *big.Int
}

// ObserveBalances updates the balance gauges.
func (m *VaultMetrics) ObserveBalances(totalAssets, idle, supply *big.Int, strategies []StrategyBalance) {
	if m == nil {
		return
	}
	m.totalAssets.Set(toFloat(totalAssets))
	m.idle.Set(toFloat(idle))
	m.totalSupply.Set(toFloat(supply))
	for _, s := range strategies {
		m.strategyValue.WithLabelValues(strconv.FormatUint(s.ID, 10)).Set(toFloat(s.Assets))
	}
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
