package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricNetDelta            = "funding_harvester_net_delta"
	MetricImbalancePct        = "funding_harvester_imbalance_pct"
	MetricUnrealizedPnL       = "funding_harvester_unrealized_pnl"
	MetricPositionValueUSD    = "funding_harvester_position_value_usd"
	MetricFundingAPR          = "funding_harvester_funding_apr"
	MetricFundingIncomeUSD    = "funding_harvester_funding_income_usd"
	MetricOrdersPlacedTotal   = "funding_harvester_orders_placed_total"
	MetricTransfersTotal      = "funding_harvester_transfers_total"
	MetricSnapshotDuration    = "funding_harvester_snapshot_duration_seconds"
	MetricSnapshotErrorsTotal = "funding_harvester_snapshot_errors_total"
	MetricHealthWarnings      = "funding_harvester_health_warnings"
	MetricHealthCriticals     = "funding_harvester_health_criticals"
)

// PositionGauge carries the per-pair readings published after each
// portfolio snapshot.
type PositionGauge struct {
	Symbol        string
	NetDelta      float64
	ImbalancePct  float64
	UnrealizedPnL float64
	ValueUSD      float64
}

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal   metric.Int64Counter
	TransfersTotal      metric.Int64Counter
	SnapshotErrorsTotal metric.Int64Counter
	SnapshotDuration    metric.Float64Histogram
	NetDelta            metric.Float64ObservableGauge
	ImbalancePct        metric.Float64ObservableGauge
	UnrealizedPnL       metric.Float64ObservableGauge
	PositionValueUSD    metric.Float64ObservableGauge
	FundingAPR          metric.Float64ObservableGauge
	FundingIncomeUSD    metric.Float64ObservableGauge
	HealthWarnings      metric.Int64ObservableGauge
	HealthCriticals     metric.Int64ObservableGauge

	// State for observable gauges
	mu               sync.RWMutex
	netDeltaMap      map[string]float64
	imbalanceMap     map[string]float64
	unrealizedMap    map[string]float64
	valueUSDMap      map[string]float64
	fundingAPRMap    map[string]float64
	fundingIncomeMap map[string]float64
	healthWarnings   int64
	healthCriticals  int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			netDeltaMap:      make(map[string]float64),
			imbalanceMap:     make(map[string]float64),
			unrealizedMap:    make(map[string]float64),
			valueUSDMap:      make(map[string]float64),
			fundingAPRMap:    make(map[string]float64),
			fundingIncomeMap: make(map[string]float64),
		}
		// Instruments are bound in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders submitted to the venue"))
	if err != nil {
		return err
	}

	m.TransfersTotal, err = meter.Int64Counter(MetricTransfersTotal, metric.WithDescription("Total internal wallet transfers"))
	if err != nil {
		return err
	}

	m.SnapshotErrorsTotal, err = meter.Int64Counter(MetricSnapshotErrorsTotal, metric.WithDescription("Portfolio snapshot branches that returned an error"))
	if err != nil {
		return err
	}

	m.SnapshotDuration, err = meter.Float64Histogram(MetricSnapshotDuration, metric.WithDescription("Wall time of a full portfolio snapshot"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	// Observables
	m.NetDelta, err = meter.Float64ObservableGauge(MetricNetDelta, metric.WithDescription("Signed net delta per pair (spot plus perp quantity)"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.netDeltaMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.ImbalancePct, err = meter.Float64ObservableGauge(MetricImbalancePct, metric.WithDescription("Position imbalance as a percentage of total size"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.imbalanceMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.UnrealizedPnL, err = meter.Float64ObservableGauge(MetricUnrealizedPnL, metric.WithDescription("Unrealized PnL of the perp leg in USD"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.unrealizedMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionValueUSD, err = meter.Float64ObservableGauge(MetricPositionValueUSD, metric.WithDescription("Total position value per pair in USD"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.valueUSDMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.FundingAPR, err = meter.Float64ObservableGauge(MetricFundingAPR, metric.WithDescription("Annualized funding rate per symbol in percent"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.fundingAPRMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.FundingIncomeUSD, err = meter.Float64ObservableGauge(MetricFundingIncomeUSD, metric.WithDescription("Cumulative funding income per symbol in USD"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.fundingIncomeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.HealthWarnings, err = meter.Int64ObservableGauge(MetricHealthWarnings, metric.WithDescription("Warning count from the latest health check"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.healthWarnings)
			return nil
		}))
	if err != nil {
		return err
	}

	m.HealthCriticals, err = meter.Int64ObservableGauge(MetricHealthCriticals, metric.WithDescription("Critical count from the latest health check"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.healthCriticals)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

// SetPortfolioGauges replaces the per-pair position readings. Symbols that
// left the portfolio stop being exported.
func (m *MetricsHolder) SetPortfolioGauges(gauges []PositionGauge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.netDeltaMap = make(map[string]float64, len(gauges))
	m.imbalanceMap = make(map[string]float64, len(gauges))
	m.unrealizedMap = make(map[string]float64, len(gauges))
	m.valueUSDMap = make(map[string]float64, len(gauges))
	for _, g := range gauges {
		m.netDeltaMap[g.Symbol] = g.NetDelta
		m.imbalanceMap[g.Symbol] = g.ImbalancePct
		m.unrealizedMap[g.Symbol] = g.UnrealizedPnL
		m.valueUSDMap[g.Symbol] = g.ValueUSD
	}
}

func (m *MetricsHolder) SetFundingAPR(symbol string, apr float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundingAPRMap[symbol] = apr
}

func (m *MetricsHolder) SetFundingIncome(symbol string, usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundingIncomeMap[symbol] = usd
}

func (m *MetricsHolder) SetHealthCounts(warnings, criticals int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthWarnings = warnings
	m.healthCriticals = criticals
}

func (m *MetricsHolder) RecordOrderPlaced(ctx context.Context, market, side string) {
	if m.OrdersPlacedTotal == nil {
		return
	}
	m.OrdersPlacedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("market", market),
		attribute.String("side", side),
	))
}

func (m *MetricsHolder) RecordTransfer(ctx context.Context, direction string) {
	if m.TransfersTotal == nil {
		return
	}
	m.TransfersTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *MetricsHolder) RecordSnapshotDuration(ctx context.Context, seconds float64) {
	if m.SnapshotDuration == nil {
		return
	}
	m.SnapshotDuration.Record(ctx, seconds)
}

func (m *MetricsHolder) RecordSnapshotError(ctx context.Context, branch string) {
	if m.SnapshotErrorsTotal == nil {
		return
	}
	m.SnapshotErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("branch", branch)))
}

func (m *MetricsHolder) GetNetDelta() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.netDeltaMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetImbalancePct() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.imbalanceMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetFundingAPR() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.fundingAPRMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetHealthCounts() (int64, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthWarnings, m.healthCriticals
}
