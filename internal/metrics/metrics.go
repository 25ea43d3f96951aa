package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal 订单提交结果计数
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "orders_total",
		Help:      "Total orders by exchange and final submit result.",
	}, []string{"exchange", "result"})

	// WebhookSignalsTotal Webhook信号处理结果计数
	WebhookSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "webhook_signals_total",
		Help:      "Total webhook signals by action and result.",
	}, []string{"action", "result"})

	// WebhookSignatureFailures 签名校验失败计数
	WebhookSignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "webhook_signature_failures_total",
		Help:      "Total webhook requests rejected by signature verification.",
	})

	// ExchangeErrorsTotal 交易所错误分类计数
	ExchangeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "exchange_errors_total",
		Help:      "Total exchange errors by exchange and kind.",
	}, []string{"exchange", "kind"})

	// OrderSubmitDuration 下单耗时
	OrderSubmitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "order_submit_duration_seconds",
		Help:      "Order submit latency by exchange.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"exchange"})

	// PositionsOpen 当前开仓数量
	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "positions_open",
		Help:      "Number of currently open positions.",
	})

	// ReconcileRunsTotal 对账执行计数
	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "reconcile_runs_total",
		Help:      "Total reconcile runs by result.",
	}, []string{"result"})
)
