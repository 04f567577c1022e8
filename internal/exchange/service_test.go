package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-core/internal/executor"
)

type eventCollector struct {
	mu     sync.Mutex
	events []executor.OrderEvent
}

func (c *eventCollector) collect(ev executor.OrderEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *eventCollector) snapshot() []executor.OrderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]executor.OrderEvent, len(c.events))
	copy(out, c.events)
	return out
}

func newTestService(stub *stubAPI) (*Service, *eventCollector) {
	svc := &Service{
		logger:  zap.NewNop(),
		clients: map[string]*Client{"binance": newTestClient(stub)},
		watched: make(map[string]*watchedOrder),
	}
	collector := &eventCollector{}
	svc.Subscribe(collector.collect)
	return svc, collector
}

func TestPlaceOrderEmitsCreatedAndWatches(t *testing.T) {
	stub := &stubAPI{created: ccxt.Order{Id: strPtr("EX-1")}}
	svc, collector := newTestService(stub)

	spec := executor.OrderSpec{
		Exchange:    "binance",
		TradingPair: "BTC-USDT",
		Side:        executor.SideBuy,
		OrderType:   executor.OrderTypeMarket,
		Amount:      decimal.NewFromInt(1),
	}
	orderID, err := svc.PlaceOrder(context.Background(), spec)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if orderID != "EX-1" {
		t.Fatalf("expected order id EX-1, got %s", orderID)
	}

	events := collector.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected one created event, got %d", len(events))
	}
	if events[0].Kind != executor.OrderEventCreated || events[0].OrderID != "EX-1" {
		t.Fatalf("unexpected created event: %+v", events[0])
	}

	svc.watchMu.Lock()
	_, watching := svc.watched["binance/EX-1"]
	svc.watchMu.Unlock()
	if !watching {
		t.Fatalf("expected order to be watched after placement")
	}
}

func TestPollEmitsCompletedOnClose(t *testing.T) {
	stub := &stubAPI{created: ccxt.Order{Id: strPtr("EX-2")}}
	svc, collector := newTestService(stub)

	spec := executor.OrderSpec{
		Exchange:    "binance",
		TradingPair: "BTC-USDT",
		Side:        executor.SideBuy,
		OrderType:   executor.OrderTypeMarket,
		Amount:      decimal.NewFromInt(1),
	}
	if _, err := svc.PlaceOrder(context.Background(), spec); err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	stub.order = ccxt.Order{
		Id:     strPtr("EX-2"),
		Status: strPtr("closed"),
		Filled: f64Ptr(1),
		Cost:   f64Ptr(100),
		Fee:    ccxt.Fee{Cost: f64Ptr(0.1), Currency: strPtr("USDT")},
	}
	svc.pollOnce(context.Background())

	events := collector.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected created plus completed, got %d events", len(events))
	}
	done := events[1]
	if done.Kind != executor.OrderEventCompleted {
		t.Fatalf("expected completed event, got %s", done.Kind)
	}
	if !done.ExecutedBase.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected executed base 1, got %v", done.ExecutedBase)
	}
	if !done.AvgPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected average price 100, got %v", done.AvgPrice)
	}
	if !done.FeeQuote.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("expected quote fee 0.1, got %v", done.FeeQuote)
	}

	// 终态后应停止轮询，再次轮询不产生新事件。
	svc.pollOnce(context.Background())
	if got := len(collector.snapshot()); got != 2 {
		t.Fatalf("expected no events after terminal state, got %d", got)
	}
}

func TestPollEmitsFilledOnceThenCanceled(t *testing.T) {
	stub := &stubAPI{created: ccxt.Order{Id: strPtr("EX-3")}}
	svc, collector := newTestService(stub)

	spec := executor.OrderSpec{
		Exchange:    "binance",
		TradingPair: "BTC-USDT",
		Side:        executor.SideSell,
		OrderType:   executor.OrderTypeLimit,
		Amount:      decimal.NewFromInt(2),
		Price:       decimal.NewFromInt(100),
	}
	if _, err := svc.PlaceOrder(context.Background(), spec); err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	stub.order = ccxt.Order{
		Id:      strPtr("EX-3"),
		Status:  strPtr("open"),
		Filled:  f64Ptr(0.4),
		Cost:    f64Ptr(40),
		Average: f64Ptr(100),
	}
	svc.pollOnce(context.Background())
	svc.pollOnce(context.Background())

	events := collector.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected created plus single filled, got %d events", len(events))
	}
	if events[1].Kind != executor.OrderEventFilled || !events[1].ExecutedBase.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("unexpected fill event: %+v", events[1])
	}

	stub.order.Status = strPtr("canceled")
	svc.pollOnce(context.Background())

	events = collector.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected canceled event, got %d events", len(events))
	}
	canceled := events[2]
	if canceled.Kind != executor.OrderEventCanceled {
		t.Fatalf("expected canceled kind, got %s", canceled.Kind)
	}
	if !canceled.ExecutedBase.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("expected canceled event to carry cumulative fill, got %v", canceled.ExecutedBase)
	}
}

func TestPollGivesUpAfterRepeatedMisses(t *testing.T) {
	stub := &stubAPI{created: ccxt.Order{Id: strPtr("EX-4")}}
	svc, collector := newTestService(stub)

	spec := executor.OrderSpec{
		Exchange:    "binance",
		TradingPair: "BTC-USDT",
		Side:        executor.SideBuy,
		OrderType:   executor.OrderTypeMarket,
		Amount:      decimal.NewFromInt(1),
	}
	if _, err := svc.PlaceOrder(context.Background(), spec); err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	stub.orderErr = &ccxt.Error{Type: ccxt.OrderNotFoundErrType, Message: "unknown order"}
	for i := 0; i < orderMissLimit; i++ {
		svc.pollOnce(context.Background())
	}

	events := collector.snapshot()
	last := events[len(events)-1]
	if last.Kind != executor.OrderEventFailed || last.Reason != "order not found" {
		t.Fatalf("expected order-not-found failure, got %+v", last)
	}

	svc.watchMu.Lock()
	remaining := len(svc.watched)
	svc.watchMu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected watch list to be empty, got %d entries", remaining)
	}
}

func TestGatewayRejectsUnknownExchange(t *testing.T) {
	svc, _ := newTestService(&stubAPI{})

	spec := executor.OrderSpec{
		Exchange:    "bybit",
		TradingPair: "BTC-USDT",
		Side:        executor.SideBuy,
		OrderType:   executor.OrderTypeMarket,
		Amount:      decimal.NewFromInt(1),
	}
	if _, err := svc.PlaceOrder(context.Background(), spec); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected unknown account error, got %v", err)
	}
	if _, err := svc.AvailableBalance(context.Background(), "bybit", "USDT"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected unknown account error for balance, got %v", err)
	}
}

func TestPriceUsesOrderBookTop(t *testing.T) {
	stub := &stubAPI{
		book: ccxt.OrderBook{Bids: [][]float64{{100, 1}}, Asks: [][]float64{{101, 2}}},
	}
	svc, _ := newTestService(stub)

	bid, err := svc.Price(context.Background(), "binance", "BTC-USDT", executor.PriceTypeBestBid)
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if !bid.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected best bid 100, got %v", bid)
	}

	mid, err := svc.Price(context.Background(), "binance", "BTC-USDT", executor.PriceTypeMid)
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if !mid.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("expected mid 100.5, got %v", mid)
	}
}

func TestPriceFailsOnEmptyBook(t *testing.T) {
	svc, _ := newTestService(&stubAPI{})

	if _, err := svc.Price(context.Background(), "binance", "BTC-USDT", executor.PriceTypeMid); err == nil {
		t.Fatalf("expected empty order book error")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc, _ := newTestService(&stubAPI{})
	svc.poll = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancellation")
	}
}
