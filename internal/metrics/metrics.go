// Package metrics – Prometheus metrics for observability.
//
// Exposes the primary series the bot updates during operation:
//   - makerbot_ticks_total{result}          – engine ticks by result (active|inactive|failed)
//   - makerbot_orders_placed_total{side}    – limit orders placed
//   - makerbot_orders_cancelled_total{reason} – cancels by reason (proximity|drift|stale|refresh|shutdown)
//   - makerbot_order_failures_total         – hard REST failures
//   - makerbot_mid_price                    – last observed mid (gauge)
//   - makerbot_spread_bps                   – last observed market spread (gauge)
//   - makerbot_maker_uptime_seconds         – maker-band seconds this hour (gauge)
//   - makerbot_mm_uptime_seconds            – mm-band seconds this hour (gauge)
//   - makerbot_consecutive_failures         – current failure streak (gauge)
//   - makerbot_ws_reconnects_total          – depth feed reconnects
//   - makerbot_fills_flattened_total        – accidental fills flattened
//
// These are registered in init() and served by the dashboard HTTP server at
// /metrics (Prometheus text exposition format).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "makerbot_ticks_total",
			Help: "Engine ticks by result",
		},
		[]string{"result"}, // active|inactive|failed
	)

	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "makerbot_orders_placed_total",
			Help: "Limit orders placed",
		},
		[]string{"side"},
	)

	ordersCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "makerbot_orders_cancelled_total",
			Help: "Orders cancelled by reason",
		},
		[]string{"reason"}, // proximity|drift|stale|refresh|shutdown
	)

	orderFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "makerbot_order_failures_total",
			Help: "Hard REST failures during the quoting loop",
		},
	)

	midPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "makerbot_mid_price",
			Help: "Last observed mid price",
		},
	)

	spreadBps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "makerbot_spread_bps",
			Help: "Last observed market spread in bps",
		},
	)

	makerUptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "makerbot_maker_uptime_seconds",
			Help: "Maker-band seconds accumulated this hour",
		},
	)

	mmUptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "makerbot_mm_uptime_seconds",
			Help: "MM-band seconds accumulated this hour",
		},
	)

	consecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "makerbot_consecutive_failures",
			Help: "Current consecutive tick failure streak",
		},
	)

	wsReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "makerbot_ws_reconnects_total",
			Help: "Depth feed reconnects",
		},
	)

	fillsFlattened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "makerbot_fills_flattened_total",
			Help: "Accidental fills flattened with reduce-only market orders",
		},
	)
)

func init() {
	prometheus.MustRegister(ticksTotal, ordersPlaced, ordersCancelled, orderFailures)
	prometheus.MustRegister(midPrice, spreadBps, makerUptime, mmUptime, consecutiveFailures)
	prometheus.MustRegister(wsReconnects, fillsFlattened)
}

func IncTick(result string)           { ticksTotal.WithLabelValues(result).Inc() }
func IncOrderPlaced(side string)      { ordersPlaced.WithLabelValues(side).Inc() }
func IncOrderCancelled(reason string) { ordersCancelled.WithLabelValues(reason).Inc() }
func IncOrderFailure()                { orderFailures.Inc() }
func IncWSReconnect()                 { wsReconnects.Inc() }
func IncFillFlattened()               { fillsFlattened.Inc() }

func SetMid(v float64)       { midPrice.Set(v) }
func SetSpreadBps(v float64) { spreadBps.Set(v) }

func SetUptimeSeconds(maker, mm float64) {
	makerUptime.Set(maker)
	mmUptime.Set(mm)
}

func SetConsecutiveFailures(n int) { consecutiveFailures.Set(float64(n)) }
