package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	once     sync.Once

	matchingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_latency_seconds",
		Help:    "Latency of order matching in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	tradesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trades_created_total",
			Help: "Total number of trades created.",
		},
		[]string{"instrument"},
	)
	tradedVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traded_volume_lots_total",
			Help: "Total traded quantity in lots.",
		},
		[]string{"instrument"},
	)
	orderbookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderbook_depth",
			Help: "Number of price levels per side.",
		},
		[]string{"instrument", "side"},
	)
	orderbookQuantity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderbook_quantity_lots",
			Help: "Resting quantity per side in lots.",
		},
		[]string{"instrument", "side"},
	)
	matchingThroughput = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matching_throughput",
		Help: "Total number of orders processed by matching.",
	})
	ordersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_submitted_total",
			Help: "Accepted order submissions.",
		},
		[]string{"type", "origin"},
	)
	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Declined order submissions by error code.",
		},
		[]string{"code"},
	)
	cancelResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_cancels_total",
			Help: "Cancel requests by result.",
		},
		[]string{"result"},
	)
	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "event_subscribers",
		Help: "Current number of event hub subscribers.",
	})
	subscribersDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_subscribers_dropped_total",
			Help: "Subscribers removed after a failed delivery.",
		},
		[]string{"subscriber"},
	)
	publishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_errors_total",
			Help: "Errors writing events to external sinks.",
		},
		[]string{"sink"},
	)
	sinkQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_sink_queue_depth",
			Help: "Buffered events waiting for an external sink.",
		},
		[]string{"sink"},
	)
	bookRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbook_refresh_total",
			Help: "Scheduled full order book snapshot republishes.",
		},
		[]string{"instrument"},
	)
	accountBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "account_balance",
		Help: "Managed account cash balance.",
	})
	positionQuantity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "account_position_lots",
			Help: "Managed account signed position in lots.",
		},
		[]string{"instrument"},
	)
)

// Init registers metrics with the registry once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			matchingLatency,
			tradesCreated,
			tradedVolume,
			orderbookDepth,
			orderbookQuantity,
			matchingThroughput,
			ordersSubmitted,
			ordersRejected,
			cancelResults,
			subscribers,
			subscribersDropped,
			publishErrors,
			sinkQueueDepth,
			bookRefreshes,
			accountBalance,
			positionQuantity,
		)
	})
}

// Handler exposes the Prometheus metrics endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveMatchingLatency records a matching latency duration.
func ObserveMatchingLatency(d time.Duration) {
	Init()
	matchingLatency.Observe(d.Seconds())
}

// RecordTrade counts one trade and its quantity.
func RecordTrade(instrument string, qty int64) {
	Init()
	tradesCreated.WithLabelValues(instrument).Inc()
	if qty > 0 {
		tradedVolume.WithLabelValues(instrument).Add(float64(qty))
	}
}

// SetOrderbookDepth sets level count and resting quantity for one side.
func SetOrderbookDepth(instrument, side string, levels int, qty int64) {
	Init()
	orderbookDepth.WithLabelValues(instrument, side).Set(float64(levels))
	orderbookQuantity.WithLabelValues(instrument, side).Set(float64(qty))
}

// AddMatchingThroughput increments the matching throughput counter by n.
func AddMatchingThroughput(n int) {
	Init()
	if n <= 0 {
		return
	}
	matchingThroughput.Add(float64(n))
}

func IncOrdersSubmitted(orderType, origin string) {
	Init()
	ordersSubmitted.WithLabelValues(orderType, origin).Inc()
}

func IncOrdersRejected(code string) {
	Init()
	ordersRejected.WithLabelValues(code).Inc()
}

func IncCancel(result string) {
	Init()
	cancelResults.WithLabelValues(result).Inc()
}

func SetSubscribers(n int) {
	Init()
	subscribers.Set(float64(n))
}

func IncSubscriberDropped(name string) {
	Init()
	subscribersDropped.WithLabelValues(name).Inc()
}

func IncPublishError(sink string) {
	Init()
	publishErrors.WithLabelValues(sink).Inc()
}

func SetSinkQueueDepth(sink string, n int) {
	Init()
	sinkQueueDepth.WithLabelValues(sink).Set(float64(n))
}

func IncBookRefresh(instrument string) {
	Init()
	bookRefreshes.WithLabelValues(instrument).Inc()
}

// SetAccount records balance and position gauges.
func SetAccount(balance float64, instrument string, position int64) {
	Init()
	accountBalance.Set(balance)
	positionQuantity.WithLabelValues(instrument).Set(float64(position))
}
