package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocksim/stocktrading/internal/trade/domain"
	"github.com/stocksim/stocktrading/pkg/metrics"
)

// fakeRepo 内存仓储，WithTx 失败时整体回退
type fakeRepo struct {
	mu         sync.Mutex
	nextID     uint
	portfolios map[string]*domain.Portfolio
	holdings   map[uint]map[string]*domain.Holding
	txs        map[uint][]*domain.Transaction

	// 注入前 N 次 SavePortfolio 返回冲突
	conflictsLeft int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		nextID:     1,
		portfolios: make(map[string]*domain.Portfolio),
		holdings:   make(map[uint]map[string]*domain.Holding),
		txs:        make(map[uint][]*domain.Transaction),
	}
}

func (r *fakeRepo) snapshot() (map[string]*domain.Portfolio, map[uint]map[string]*domain.Holding, map[uint][]*domain.Transaction) {
	ps := make(map[string]*domain.Portfolio, len(r.portfolios))
	for k, v := range r.portfolios {
		cp := *v
		ps[k] = &cp
	}
	hs := make(map[uint]map[string]*domain.Holding, len(r.holdings))
	for id, bysym := range r.holdings {
		inner := make(map[string]*domain.Holding, len(bysym))
		for sym, h := range bysym {
			cp := *h
			inner[sym] = &cp
		}
		hs[id] = inner
	}
	ts := make(map[uint][]*domain.Transaction, len(r.txs))
	for id, list := range r.txs {
		ts[id] = append([]*domain.Transaction(nil), list...)
	}
	return ps, hs, ts
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, hs, ts := r.snapshot()
	if err := fn(ctx); err != nil {
		r.portfolios, r.holdings, r.txs = ps, hs, ts
		return err
	}
	return nil
}

func (r *fakeRepo) CreatePortfolio(ctx context.Context, p *domain.Portfolio) error {
	p.ID = r.nextID
	r.nextID++
	cp := *p
	r.portfolios[p.UserID] = &cp
	return nil
}

func (r *fakeRepo) GetByUserID(ctx context.Context, userID string) (*domain.Portfolio, error) {
	p, ok := r.portfolios[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		return domain.ErrConflict
	}
	stored, ok := r.portfolios[p.UserID]
	if !ok {
		return domain.ErrPortfolioNotFound
	}
	if stored.Version != p.Version {
		return domain.ErrConflict
	}
	p.Version++
	cp := *p
	r.portfolios[p.UserID] = &cp
	return nil
}

func (r *fakeRepo) GetHolding(ctx context.Context, portfolioID uint, symbol string) (*domain.Holding, error) {
	h, ok := r.holdings[portfolioID][symbol]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (r *fakeRepo) ListHoldings(ctx context.Context, portfolioID uint) ([]*domain.Holding, error) {
	var out []*domain.Holding
	for _, h := range r.holdings[portfolioID] {
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) SaveHolding(ctx context.Context, h *domain.Holding) error {
	if r.holdings[h.PortfolioID] == nil {
		r.holdings[h.PortfolioID] = make(map[string]*domain.Holding)
	}
	cp := *h
	r.holdings[h.PortfolioID][h.Symbol] = &cp
	return nil
}

func (r *fakeRepo) DeleteHolding(ctx context.Context, h *domain.Holding) error {
	delete(r.holdings[h.PortfolioID], h.Symbol)
	return nil
}

func (r *fakeRepo) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	cp := *tx
	r.txs[tx.PortfolioID] = append(r.txs[tx.PortfolioID], &cp)
	return nil
}

func (r *fakeRepo) ListTransactions(ctx context.Context, portfolioID uint) ([]*domain.Transaction, error) {
	return append([]*domain.Transaction(nil), r.txs[portfolioID]...), nil
}

// interleavingRepo 在非事务读的间隙落一笔已提交的买入，
// 用于验证读路径是否在单个事务内取快照
type interleavingRepo struct {
	*fakeRepo
	inTx       bool
	interleave func()
}

func (r *interleavingRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.inTx = true
	defer func() { r.inTx = false }()
	return r.fakeRepo.WithTx(ctx, fn)
}

func (r *interleavingRepo) GetByUserID(ctx context.Context, userID string) (*domain.Portfolio, error) {
	p, err := r.fakeRepo.GetByUserID(ctx, userID)
	if !r.inTx && r.interleave != nil {
		hook := r.interleave
		r.interleave = nil
		hook()
	}
	return p, err
}

// fakePrices 固定价格表
type fakePrices struct {
	prices map[string]decimal.Decimal
	err    error
}

func (f *fakePrices) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return p, nil
}

// fakeTradePublisher 把事件写入 channel，便于测试等待
type fakeTradePublisher struct {
	events chan *domain.TradeExecutedEvent
}

func (f *fakeTradePublisher) PublishTradeExecuted(ctx context.Context, e *domain.TradeExecutedEvent) error {
	f.events <- e
	return nil
}

func newTestService(t *testing.T, repo *fakeRepo, prices domain.PriceReader, pub domain.TradePublisher) *TradeService {
	t.Helper()
	cash, _ := decimal.NewFromString("100000.00")
	return NewTradeService(repo, prices, pub, metrics.New("test"), TradeConfig{
		StartingCash: cash,
		MaxRetries:   3,
		NodeID:       1,
	})
}

func price(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestCreatePortfolioStartingCash(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakePrices{}, nil)

	p, err := svc.CreatePortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}
	if !p.CashBalance.Equal(price(t, "100000.00")) {
		t.Errorf("starting cash = %s", p.CashBalance.String())
	}

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); !errors.Is(err, domain.ErrPortfolioExists) {
		t.Errorf("duplicate create: err = %v, want ErrPortfolioExists", err)
	}
}

func TestBuyRecordsHoldingAndTransaction(t *testing.T) {
	repo := newFakeRepo()
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "150")}}
	svc := newTestService(t, repo, prices, nil)

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}

	result, err := svc.Buy(context.Background(), "u1", "aapl", 10)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if result.TransactionID == "" {
		t.Error("missing transaction id")
	}
	if result.TotalAmount != "1500" {
		t.Errorf("total = %s, want 1500", result.TotalAmount)
	}
	if result.CashBalance != "98500" {
		t.Errorf("cash = %s, want 98500", result.CashBalance)
	}

	view, err := svc.GetPortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	if len(view.Holdings) != 1 || view.Holdings[0].Symbol != "AAPL" || view.Holdings[0].Quantity != 10 {
		t.Errorf("holdings = %+v", view.Holdings)
	}

	txs, err := svc.GetTransactions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != domain.TradeTypeBuy {
		t.Errorf("transactions = %+v", txs)
	}
}

func TestBuyInsufficientFundsLeavesStateUntouched(t *testing.T) {
	repo := newFakeRepo()
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "20000.01")}}
	svc := newTestService(t, repo, prices, nil)

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}

	_, err := svc.Buy(context.Background(), "u1", "AAPL", 5)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	view, err := svc.GetPortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	if view.CashBalance != "100000" {
		t.Errorf("cash = %s, want 100000", view.CashBalance)
	}
	if len(view.Holdings) != 0 {
		t.Errorf("holdings = %+v, want none", view.Holdings)
	}
	txs, _ := svc.GetTransactions(context.Background(), "u1")
	if len(txs) != 0 {
		t.Errorf("transactions = %+v, want none", txs)
	}
}

func TestSellAllRemovesHolding(t *testing.T) {
	repo := newFakeRepo()
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "100")}}
	svc := newTestService(t, repo, prices, nil)

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}
	if _, err := svc.Buy(context.Background(), "u1", "AAPL", 10); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := svc.Sell(context.Background(), "u1", "AAPL", 10); err != nil {
		t.Fatalf("Sell: %v", err)
	}

	view, err := svc.GetPortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	if len(view.Holdings) != 0 {
		t.Errorf("holdings = %+v, want none after full sell", view.Holdings)
	}
	if view.CashBalance != "100000" {
		t.Errorf("cash = %s, want 100000", view.CashBalance)
	}
}

func TestSellWithoutHolding(t *testing.T) {
	repo := newFakeRepo()
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "100")}}
	svc := newTestService(t, repo, prices, nil)

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}
	if _, err := svc.Sell(context.Background(), "u1", "AAPL", 1); !errors.Is(err, domain.ErrHoldingNotFound) {
		t.Errorf("err = %v, want ErrHoldingNotFound", err)
	}
}

func TestTradeRetriesOnConflictThenSucceeds(t *testing.T) {
	repo := newFakeRepo()
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "100")}}
	svc := newTestService(t, repo, prices, nil)

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}

	repo.conflictsLeft = 2
	if _, err := svc.Buy(context.Background(), "u1", "AAPL", 1); err != nil {
		t.Fatalf("Buy should succeed after retries: %v", err)
	}
}

func TestTradeExhaustsRetriesReturnsUnavailable(t *testing.T) {
	repo := newFakeRepo()
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "100")}}
	svc := newTestService(t, repo, prices, nil)

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}

	repo.conflictsLeft = 3
	if _, err := svc.Buy(context.Background(), "u1", "AAPL", 1); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}

	// 重试耗尽后账面不变
	view, _ := svc.GetPortfolio(context.Background(), "u1")
	if view.CashBalance != "100000" {
		t.Errorf("cash = %s, want 100000", view.CashBalance)
	}
}

func TestTradeWithoutPortfolio(t *testing.T) {
	repo := newFakeRepo()
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "100")}}
	svc := newTestService(t, repo, prices, nil)

	if _, err := svc.Buy(context.Background(), "ghost", "AAPL", 1); !errors.Is(err, domain.ErrPortfolioNotFound) {
		t.Errorf("err = %v, want ErrPortfolioNotFound", err)
	}
}

func TestTradePublishesExecutedEvent(t *testing.T) {
	repo := newFakeRepo()
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "100")}}
	pub := &fakeTradePublisher{events: make(chan *domain.TradeExecutedEvent, 1)}
	svc := newTestService(t, repo, prices, pub)

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}
	result, err := svc.Buy(context.Background(), "u1", "AAPL", 2)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}

	select {
	case event := <-pub.events:
		if event.TransactionID != result.TransactionID {
			t.Errorf("event tx id = %s, want %s", event.TransactionID, result.TransactionID)
		}
		if event.Type != domain.TradeTypeBuy || event.UserID != "u1" {
			t.Errorf("event = %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trade event published")
	}
}

func TestGetPortfolioReturnsCommittedSnapshot(t *testing.T) {
	inner := newFakeRepo()
	repo := &interleavingRepo{fakeRepo: inner}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "100")}}
	cash, _ := decimal.NewFromString("100000.00")
	svc := NewTradeService(repo, prices, nil, metrics.New("test"), TradeConfig{
		StartingCash: cash,
		MaxRetries:   3,
		NodeID:       1,
	})

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}

	// 另一笔买入恰好提交在组合读与持仓读之间
	repo.interleave = func() {
		p := inner.portfolios["u1"]
		p.CashBalance = p.CashBalance.Sub(price(t, "1000"))
		p.Version++
		inner.holdings[p.ID] = map[string]*domain.Holding{
			"AAPL": {PortfolioID: p.ID, Symbol: "AAPL", Quantity: 10, AverageBuyPrice: price(t, "100")},
		}
	}

	view, err := svc.GetPortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}

	// 视图必须是某个已提交状态：要么买入前，要么买入后，不能两者混合
	switch view.CashBalance {
	case "100000":
		if len(view.Holdings) != 0 {
			t.Errorf("torn view: pre-trade cash %s with post-trade holdings %+v", view.CashBalance, view.Holdings)
		}
	case "99000":
		if len(view.Holdings) != 1 || view.Holdings[0].Quantity != 10 {
			t.Errorf("torn view: post-trade cash %s with holdings %+v", view.CashBalance, view.Holdings)
		}
	default:
		t.Errorf("unexpected cash %s", view.CashBalance)
	}
}

func TestConcurrentBuysDoNotDoubleSpend(t *testing.T) {
	repo := newFakeRepo()
	// 余额只够一笔
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": price(t, "60000")}}
	svc := newTestService(t, repo, prices, nil)

	if _, err := svc.CreatePortfolio(context.Background(), "u1"); err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Buy(context.Background(), "u1", "AAPL", 1)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, domain.ErrInsufficientFunds) && !errors.Is(err, domain.ErrUnavailable) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}

	view, _ := svc.GetPortfolio(context.Background(), "u1")
	if view.CashBalance != "40000" {
		t.Errorf("cash = %s, want 40000", view.CashBalance)
	}
}
