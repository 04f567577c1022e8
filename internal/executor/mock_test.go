package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeClock 提供可控时间，避免测试依赖真实时钟。
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(delta)
	c.mu.Unlock()
}

// mockGateway 记录全部网关调用，按测试预置的行情与余额应答。
type mockGateway struct {
	mu       sync.Mutex
	orderSeq int

	placed   []OrderSpec
	orderIDs []string
	canceled []string

	prices   map[string]decimal.Decimal
	balances map[string]decimal.Decimal
	rules    TradingRules

	placeErr    error
	placeErrFor string
	cancelErr   error
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		prices:   make(map[string]decimal.Decimal),
		balances: make(map[string]decimal.Decimal),
		rules:    TradingRules{MinOrderSize: d("0.0001")},
	}
}

func priceKey(exchange, tradingPair string, pt PriceType) string {
	return exchange + ":" + tradingPair + ":" + string(pt)
}

func (g *mockGateway) setPrice(exchange, tradingPair string, pt PriceType, price decimal.Decimal) {
	g.mu.Lock()
	g.prices[priceKey(exchange, tradingPair, pt)] = price
	g.mu.Unlock()
}

func (g *mockGateway) setAllPrices(exchange, tradingPair string, price decimal.Decimal) {
	for _, pt := range []PriceType{PriceTypeMid, PriceTypeBestBid, PriceTypeBestAsk, PriceTypeLast} {
		g.setPrice(exchange, tradingPair, pt, price)
	}
}

func (g *mockGateway) setBalance(exchange, asset string, amount decimal.Decimal) {
	g.mu.Lock()
	g.balances[exchange+":"+asset] = amount
	g.mu.Unlock()
}

func (g *mockGateway) PlaceOrder(_ context.Context, spec OrderSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil && (g.placeErrFor == "" || g.placeErrFor == spec.Exchange) {
		return "", g.placeErr
	}
	g.orderSeq++
	orderID := fmt.Sprintf("ORDER-%d", g.orderSeq)
	g.placed = append(g.placed, spec)
	g.orderIDs = append(g.orderIDs, orderID)
	return orderID, nil
}

func (g *mockGateway) CancelOrder(_ context.Context, _, _, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, orderID)
	return nil
}

func (g *mockGateway) Price(_ context.Context, exchange, tradingPair string, pt PriceType) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	price, ok := g.prices[priceKey(exchange, tradingPair, pt)]
	if !ok {
		return decimal.Zero, fmt.Errorf("未配置行情: %s", priceKey(exchange, tradingPair, pt))
	}
	return price, nil
}

func (g *mockGateway) TradingRules(context.Context, string, string) (TradingRules, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rules, nil
}

func (g *mockGateway) AvailableBalance(_ context.Context, exchange, asset string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[exchange+":"+asset], nil
}

func (g *mockGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

func (g *mockGateway) placedAt(i int) OrderSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placed[i]
}

func (g *mockGateway) lastPlaced() OrderSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placed[len(g.placed)-1]
}

func (g *mockGateway) canceledCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.canceled)
}

// memoryStore 是内存版归档服务。
type memoryStore struct {
	mu     sync.Mutex
	stored map[string][]ExecutorInfo
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{stored: make(map[string][]ExecutorInfo)}
}

func (s *memoryStore) StoreOrUpdateExecutor(_ context.Context, info ExecutorInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	infos := s.stored[info.ControllerID]
	for i, existing := range infos {
		if existing.ID == info.ID {
			infos[i] = info
			return nil
		}
	}
	s.stored[info.ControllerID] = append(infos, info)
	return nil
}

func (s *memoryStore) ExecutorsByController(_ context.Context, controllerID string) ([]ExecutorInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]ExecutorInfo(nil), s.stored[controllerID]...), nil
}

func (s *memoryStore) count(controllerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored[controllerID])
}

// startSync 在当前 goroutine 内同步执行启动检查，测试随后用 tick 驱动控制周期。
func startSync(t *testing.T, b *baseExecutor) {
	t.Helper()
	b.mu.Lock()
	b.status = StatusRunning
	if err := b.hooks.onStart(context.Background()); err != nil {
		b.setCloseTypeLocked(CloseTypeFailed)
		b.terminateLocked()
	}
	b.mu.Unlock()
}

// tick 同步执行一个控制周期。
func tick(b *baseExecutor) {
	b.step(context.Background())
}

func fillEvent(orderID string, base, avgPrice, fee decimal.Decimal) OrderEvent {
	return OrderEvent{
		Kind:          OrderEventFilled,
		OrderID:       orderID,
		ExecutedBase:  base,
		ExecutedQuote: base.Mul(avgPrice),
		AvgPrice:      avgPrice,
		FeeQuote:      fee,
	}
}

func completedEvent(orderID string, base, avgPrice, fee decimal.Decimal) OrderEvent {
	ev := fillEvent(orderID, base, avgPrice, fee)
	ev.Kind = OrderEventCompleted
	return ev
}

func canceledEvent(orderID string) OrderEvent {
	return OrderEvent{Kind: OrderEventCanceled, OrderID: orderID}
}

func failedEvent(orderID, reason string) OrderEvent {
	return OrderEvent{Kind: OrderEventFailed, OrderID: orderID, Reason: reason}
}

// waitFor 轮询等待条件成立，超时判失败。
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", msg)
}

const (
	testExchange   = "binance"
	testPair       = "BTC-USDT"
	testController = "ctrl-1"
)

func testPositionConfig(ts time.Time) PositionExecutorConfig {
	return PositionExecutorConfig{
		ConfigBase:  baseConfig(testController, ts),
		Exchange:    testExchange,
		TradingPair: testPair,
		Side:        SideBuy,
		Amount:      d("1"),
		EntryPrice:  d("100"),
		Barrier: TripleBarrier{
			StopLoss:   d("0.05"),
			TakeProfit: d("0.10"),
			TimeLimit:  time.Minute,
		},
	}
}

// idlePositionConfig 的激活区间远离行情，执行器不会真正下单。
func idlePositionConfig(ts time.Time) PositionExecutorConfig {
	cfg := testPositionConfig(ts)
	cfg.Barrier.TimeLimit = time.Hour
	cfg.ActivationBounds = []decimal.Decimal{d("0.0001")}
	return cfg
}

func testDCAConfig(ts time.Time) DCAExecutorConfig {
	return DCAExecutorConfig{
		ConfigBase:   baseConfig(testController, ts),
		Exchange:     testExchange,
		TradingPair:  testPair,
		Side:         SideBuy,
		Mode:         DCAModeMaker,
		Prices:       []decimal.Decimal{d("100"), d("90")},
		AmountsQuote: []decimal.Decimal{d("100"), d("100")},
		StopLoss:     d("0.05"),
		TakeProfit:   d("0.10"),
		TimeLimit:    2 * time.Hour,
	}
}

func seedMarket(g *mockGateway, price string) {
	g.setAllPrices(testExchange, testPair, d(price))
	g.setBalance(testExchange, "USDT", d("1000000"))
	g.setBalance(testExchange, "BTC", d("1000"))
}

func newPositionForTest(t *testing.T, cfg PositionExecutorConfig, g *mockGateway, clk *fakeClock, opts Options) *PositionExecutor {
	t.Helper()
	p, err := NewPositionExecutor(cfg, g, nil, opts)
	if err != nil {
		t.Fatalf("NewPositionExecutor: %v", err)
	}
	p.now = clk.Now
	return p
}

func newDCAForTest(t *testing.T, cfg DCAExecutorConfig, g *mockGateway, clk *fakeClock, opts Options) *DCAExecutor {
	t.Helper()
	ex, err := NewDCAExecutor(cfg, g, nil, opts)
	if err != nil {
		t.Fatalf("NewDCAExecutor: %v", err)
	}
	ex.now = clk.Now
	return ex
}
