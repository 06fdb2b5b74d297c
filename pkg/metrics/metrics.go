// Package metrics 提供 Prometheus 指标模板与 HTTP 暴露
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stocksim/stocktrading/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal prometheus.Counter
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 数据库查询计数
	DBQueriesTotal prometheus.Counter
	// 数据库查询耗时
	DBQueryDuration prometheus.Histogram

	// 成交笔数
	TradesTotal *prometheus.CounterVec
	// 交易乐观锁冲突次数
	TradeConflictsTotal prometheus.Counter
	// 价格刷新轮次
	RefreshTicksTotal prometheus.Counter
	// 价格更新次数（仅变动时计数）
	PriceUpdatesTotal prometheus.Counter
	// 价格广播次数
	PriceBroadcastsTotal prometheus.Counter
	// 广播失败次数
	BroadcastFailuresTotal prometheus.Counter
	// 报价获取失败次数
	QuoteFailuresTotal prometheus.Counter
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DBQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "db_queries_total",
			Help:      "Total database queries",
		}),
		DBQueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "trades_total",
			Help:      "Total trades executed",
		}, []string{"type"}),
		TradeConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "trade_conflicts_total",
			Help:      "Total optimistic lock conflicts during trades",
		}),
		RefreshTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "price_refresh_ticks_total",
			Help:      "Total price refresh cycles executed",
		}),
		PriceUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "price_updates_total",
			Help:      "Total stock price updates written",
		}),
		PriceBroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "price_broadcasts_total",
			Help:      "Total price change events published",
		}),
		BroadcastFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "price_broadcast_failures_total",
			Help:      "Total failed price change publications",
		}),
		QuoteFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stocksim",
			Subsystem: serviceName,
			Name:      "quote_failures_total",
			Help:      "Total failed quote fetches",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBQueriesTotal,
		m.DBQueryDuration,
		m.TradesTotal,
		m.TradeConflictsTotal,
		m.RefreshTicksTotal,
		m.PriceUpdatesTotal,
		m.PriceBroadcastsTotal,
		m.BroadcastFailuresTotal,
		m.QuoteFailuresTotal,
	}

	for _, c := range collectors {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器
func StartHTTPServer(port int, path string) error {
	if path == "" {
		path = "/metrics"
	}

	http.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Error(context.Background(), "Failed to start Prometheus HTTP server", "error", err)
		}
	}()

	return nil
}
