package application

import (
	"context"
	"sync"
	"time"

	"github.com/stocksim/stocktrading/internal/market/domain"
	"github.com/stocksim/stocktrading/pkg/logger"
	"github.com/stocksim/stocktrading/pkg/metrics"
)

// PriceRefresher 价格刷新器
// 固定间隔轮询报价源，价格变动时写库并广播；
// 单个符号失败只记录，不影响本轮其余符号
type PriceRefresher struct {
	repo         domain.StockRepository
	source       domain.QuoteSource
	publisher    domain.PricePublisher
	interval     time.Duration
	quoteTimeout time.Duration
	metrics      *metrics.Metrics

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewPriceRefresher 创建价格刷新器
func NewPriceRefresher(
	repo domain.StockRepository,
	source domain.QuoteSource,
	publisher domain.PricePublisher,
	interval time.Duration,
	quoteTimeout time.Duration,
	m *metrics.Metrics,
) *PriceRefresher {
	return &PriceRefresher{
		repo:         repo,
		source:       source,
		publisher:    publisher,
		interval:     interval,
		quoteTimeout: quoteTimeout,
		metrics:      m,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start 启动后台刷新循环
// ctx 取消或 Stop 调用都会结束循环；正在执行的一轮会先跑完
func (r *PriceRefresher) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

// Stop 停止刷新循环并等待当前一轮结束
func (r *PriceRefresher) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}

func (r *PriceRefresher) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Info(ctx, "Price refresher started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Price refresher stopping", "reason", "context cancelled")
			return
		case <-r.stop:
			logger.Info(ctx, "Price refresher stopping", "reason", "stop requested")
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

// refreshAll 执行一轮刷新，遍历全部已知符号
func (r *PriceRefresher) refreshAll(ctx context.Context) {
	r.metrics.RefreshTicksTotal.Inc()
	defer logger.LogDuration(ctx, "Price refresh tick finished")()

	stocks, err := r.repo.List(ctx)
	if err != nil {
		logger.Error(ctx, "Failed to list stocks for refresh", "error", err)
		return
	}

	for _, stock := range stocks {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.refreshSymbol(ctx, stock)
	}
}

// refreshSymbol 刷新单个符号，失败只记录
func (r *PriceRefresher) refreshSymbol(ctx context.Context, stock *domain.Stock) {
	quoteCtx, cancel := context.WithTimeout(ctx, r.quoteTimeout)
	defer cancel()

	newPrice, err := r.source.FetchPrice(quoteCtx, stock.Symbol)
	if err != nil {
		r.metrics.QuoteFailuresTotal.Inc()
		logger.Warn(ctx, "Could not fetch price for stock",
			"symbol", stock.Symbol,
			"error", err,
		)
		return
	}

	// 严格相等比较，价格未变不写库也不广播
	if newPrice.Equal(stock.CurrentPrice) {
		logger.Debug(ctx, "Price unchanged", "symbol", stock.Symbol, "price", newPrice.String())
		return
	}

	now := time.Now()
	if err := r.repo.UpdatePrice(ctx, stock.Symbol, newPrice, now); err != nil {
		logger.Error(ctx, "Failed to update stock price",
			"symbol", stock.Symbol,
			"price", newPrice.String(),
			"error", err,
		)
		return
	}
	r.metrics.PriceUpdatesTotal.Inc()

	logger.Info(ctx, "Updated stock price",
		"symbol", stock.Symbol,
		"old_price", stock.CurrentPrice.String(),
		"new_price", newPrice.String(),
	)

	// 广播与价格真值解耦：发布失败不回滚已写入的价格
	snapshot := *stock
	snapshot.CurrentPrice = newPrice
	snapshot.LastUpdated = now
	if err := r.publisher.PublishPriceChange(ctx, domain.NewPriceChangedEvent(&snapshot)); err != nil {
		r.metrics.BroadcastFailuresTotal.Inc()
		logger.Error(ctx, "Failed to publish price change",
			"symbol", stock.Symbol,
			"error", err,
		)
		return
	}
	r.metrics.PriceBroadcastsTotal.Inc()
}
