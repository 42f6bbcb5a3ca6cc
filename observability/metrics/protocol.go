package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ProtocolMetrics struct {
	vaultOps          *prometheus.CounterVec
	liquidations      prometheus.Counter
	priceSubmissions  *prometheus.CounterVec
	priceSettlements  prometheus.Counter
	lastSettledPrice  prometheus.Gauge
	totalCollateral   prometheus.Gauge
	circulatingSupply prometheus.Gauge
}

var (
	protocolOnce     sync.Once
	protocolRegistry *ProtocolMetrics
)

func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			vaultOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "zkusd_vault_operations_total",
				Help: "Count of vault operations by method and outcome.",
			}, []string{"method", "outcome"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "zkusd_liquidations_total",
				Help: "Count of completed vault liquidations.",
			}),
			priceSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "zkusd_price_submissions_total",
				Help: "Count of oracle price submissions by outcome.",
			}, []string{"outcome"}),
			priceSettlements: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "zkusd_price_settlements_total",
				Help: "Count of oracle settlement folds.",
			}),
			lastSettledPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "zkusd_last_settled_price",
				Help: "Most recently settled collateral price in fixed-point units.",
			}),
			totalCollateral: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "zkusd_total_collateral",
				Help: "Collateral tracked in the engine pool.",
			}),
			circulatingSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "zkusd_circulating_supply",
				Help: "Outstanding stablecoin supply.",
			}),
		}
		prometheus.MustRegister(
			protocolRegistry.vaultOps,
			protocolRegistry.liquidations,
			protocolRegistry.priceSubmissions,
			protocolRegistry.priceSettlements,
			protocolRegistry.lastSettledPrice,
			protocolRegistry.totalCollateral,
			protocolRegistry.circulatingSupply,
		)
	})
	return protocolRegistry
}

func (m *ProtocolMetrics) RecordVaultOp(method string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.vaultOps.WithLabelValues(method, outcome).Inc()
}

func (m *ProtocolMetrics) RecordLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

func (m *ProtocolMetrics) RecordPriceSubmission(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.priceSubmissions.WithLabelValues(outcome).Inc()
}

func (m *ProtocolMetrics) RecordSettlement(price uint64) {
	if m == nil {
		return
	}
	m.priceSettlements.Inc()
	m.lastSettledPrice.Set(float64(price))
}

func (m *ProtocolMetrics) SetTotalCollateral(amount uint64) {
	if m == nil {
		return
	}
	m.totalCollateral.Set(float64(amount))
}

func (m *ProtocolMetrics) SetCirculatingSupply(amount uint64) {
	if m == nil {
		return
	}
	m.circulatingSupply.Set(float64(amount))
}
