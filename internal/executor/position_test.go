package executor

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPositionExecutor_StopLossFiresMarketClose(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	p := newPositionForTest(t, testPositionConfig(clk.Now()), g, clk, Options{})

	startSync(t, p.baseExecutor)
	tick(p.baseExecutor)

	if g.placedCount() != 1 {
		t.Fatalf("expected open order placed, got %d orders", g.placedCount())
	}
	open := g.placedAt(0)
	if open.Side != SideBuy || open.OrderType != OrderTypeLimit || !open.Amount.Equal(d("1")) || !open.Price.Equal(d("100")) {
		t.Fatalf("unexpected open order spec: %+v", open)
	}

	p.Deliver(completedEvent("ORDER-1", d("1"), d("100"), d("0.1")))
	tick(p.baseExecutor)
	if p.Status() != StatusRunning {
		t.Fatalf("expected running after fill at entry price, got %s", p.Status())
	}

	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("91"))
	tick(p.baseExecutor)

	if g.placedCount() != 2 {
		t.Fatalf("expected close order placed, got %d orders", g.placedCount())
	}
	close_ := g.placedAt(1)
	if close_.Side != SideSell || close_.OrderType != OrderTypeMarket || !close_.Amount.Equal(d("1")) || !close_.ReduceOnly {
		t.Fatalf("unexpected close order spec: %+v", close_)
	}
	if p.Status() != StatusShuttingDown {
		t.Fatalf("expected shutting_down, got %s", p.Status())
	}
	if got := p.Info().CloseType; got != CloseTypeStopLoss {
		t.Fatalf("expected close type stop_loss, got %s", got)
	}

	p.Deliver(completedEvent("ORDER-2", d("1"), d("91"), d("0.1")))
	tick(p.baseExecutor)

	if p.Status() != StatusTerminated {
		t.Fatalf("expected terminated after close fill, got %s", p.Status())
	}
	info := p.Info()
	if info.CloseType != CloseTypeStopLoss {
		t.Errorf("expected close type stop_loss preserved, got %s", info.CloseType)
	}
	// (91-100)/100 * 1 * 100 - 0.2 手续费
	if !info.NetPnlQuote.Equal(d("-9.2")) {
		t.Errorf("expected net pnl -9.2, got %s", info.NetPnlQuote)
	}
	select {
	case <-p.Done():
	default:
		t.Errorf("expected done channel closed")
	}
}

func TestPositionExecutor_SellSideStopLossClosesWithBuy(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testPositionConfig(clk.Now())
	cfg.Side = SideSell
	p := newPositionForTest(t, cfg, g, clk, Options{})

	startSync(t, p.baseExecutor)
	tick(p.baseExecutor)
	p.Deliver(completedEvent("ORDER-1", d("1"), d("100"), d("0")))

	g.setPrice(testExchange, testPair, PriceTypeBestAsk, d("106"))
	tick(p.baseExecutor)

	if g.placedCount() != 2 {
		t.Fatalf("expected close order placed, got %d orders", g.placedCount())
	}
	if got := g.placedAt(1); got.Side != SideBuy || got.OrderType != OrderTypeMarket {
		t.Fatalf("expected market buy close for sell position, got %+v", got)
	}
	if got := p.Info().CloseType; got != CloseTypeStopLoss {
		t.Errorf("expected close type stop_loss, got %s", got)
	}
}

func TestPositionExecutor_TakeProfitLimitOrderLifecycle(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testPositionConfig(clk.Now())
	cfg.Barrier.TakeProfitOrderType = OrderTypeLimit
	cfg.Barrier.TimeLimit = time.Hour
	p := newPositionForTest(t, cfg, g, clk, Options{})

	startSync(t, p.baseExecutor)
	tick(p.baseExecutor)

	p.Deliver(fillEvent("ORDER-1", d("0.5"), d("100"), d("0")))
	tick(p.baseExecutor)

	if g.placedCount() != 2 {
		t.Fatalf("expected take profit order placed, got %d orders", g.placedCount())
	}
	tp := g.placedAt(1)
	if tp.Side != SideSell || tp.OrderType != OrderTypeLimit || !tp.Amount.Equal(d("0.5")) || !tp.Price.Equal(d("110")) || !tp.ReduceOnly {
		t.Fatalf("unexpected take profit spec: %+v", tp)
	}

	// 开仓单补满后，止盈单按新的净头寸撤旧挂新。
	p.Deliver(completedEvent("ORDER-1", d("1"), d("100"), d("0")))
	tick(p.baseExecutor)

	if g.canceledCount() != 1 || g.canceled[0] != "ORDER-2" {
		t.Fatalf("expected stale take profit canceled, got %v", g.canceled)
	}
	if g.placedCount() != 3 {
		t.Fatalf("expected renewed take profit order, got %d orders", g.placedCount())
	}
	if renewed := g.placedAt(2); !renewed.Amount.Equal(d("1")) || !renewed.Price.Equal(d("110")) {
		t.Fatalf("unexpected renewed take profit spec: %+v", renewed)
	}

	p.Deliver(completedEvent("ORDER-3", d("1"), d("110"), d("0")))
	tick(p.baseExecutor)

	if p.Status() != StatusTerminated {
		t.Fatalf("expected terminated after take profit fill, got %s", p.Status())
	}
	info := p.Info()
	if info.CloseType != CloseTypeTakeProfit {
		t.Errorf("expected close type take_profit, got %s", info.CloseType)
	}
	if !info.NetPnlQuote.Equal(d("10")) {
		t.Errorf("expected net pnl 10, got %s", info.NetPnlQuote)
	}
}

func TestPositionExecutor_TrailingStopLatchRatchetFire(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testPositionConfig(clk.Now())
	cfg.Barrier = TripleBarrier{
		StopLoss:     d("0.2"),
		TrailingStop: &TrailingStop{ActivationPrice: d("0.02"), TrailingDelta: d("0.01")},
	}
	p := newPositionForTest(t, cfg, g, clk, Options{})

	startSync(t, p.baseExecutor)
	tick(p.baseExecutor)
	p.Deliver(completedEvent("ORDER-1", d("1"), d("100"), d("0")))
	tick(p.baseExecutor)

	if p.trailingArmed {
		t.Fatalf("expected trailing stop not armed at zero pnl")
	}

	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("103"))
	tick(p.baseExecutor)
	if !p.trailingArmed || !p.trailingTrigger.Equal(d("0.02")) {
		t.Fatalf("expected armed with trigger 0.02, got armed=%v trigger=%s", p.trailingArmed, p.trailingTrigger)
	}

	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("105"))
	tick(p.baseExecutor)
	if !p.trailingTrigger.Equal(d("0.04")) {
		t.Fatalf("expected trigger ratcheted to 0.04, got %s", p.trailingTrigger)
	}

	// 回撤但未触线：触发线不许回退。
	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("104"))
	tick(p.baseExecutor)
	if !p.trailingTrigger.Equal(d("0.04")) {
		t.Fatalf("expected trigger unchanged on retrace, got %s", p.trailingTrigger)
	}
	if p.Status() != StatusRunning {
		t.Fatalf("expected still running at trigger boundary, got %s", p.Status())
	}

	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("103.5"))
	tick(p.baseExecutor)
	if got := p.Info().CloseType; got != CloseTypeTrailingStop {
		t.Fatalf("expected close type trailing_stop, got %s", got)
	}
	if g.lastPlaced().Side != SideSell || g.lastPlaced().OrderType != OrderTypeMarket {
		t.Fatalf("expected market sell close, got %+v", g.lastPlaced())
	}
}

func TestPositionExecutor_UnfilledAtDeadlineExpires(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	p := newPositionForTest(t, testPositionConfig(clk.Now()), g, clk, Options{})

	startSync(t, p.baseExecutor)
	tick(p.baseExecutor)
	if g.placedCount() != 1 {
		t.Fatalf("expected open order placed, got %d", g.placedCount())
	}

	clk.Advance(61 * time.Second)
	tick(p.baseExecutor)

	if g.canceledCount() == 0 || g.canceled[0] != "ORDER-1" {
		t.Fatalf("expected open order canceled, got %v", g.canceled)
	}
	if g.placedCount() != 1 {
		t.Fatalf("expected no close order for empty position, got %d orders", g.placedCount())
	}
	if got := p.Info().CloseType; got != CloseTypeExpired {
		t.Fatalf("expected close type expired, got %s", got)
	}

	p.Deliver(canceledEvent("ORDER-1"))
	tick(p.baseExecutor)

	if p.Status() != StatusTerminated {
		t.Fatalf("expected terminated, got %s", p.Status())
	}
	if got := p.Info().CloseType; got != CloseTypeExpired {
		t.Errorf("expected close type expired preserved, got %s", got)
	}
}

func TestPositionExecutor_FilledAtDeadlineClosesWithTimeLimit(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	p := newPositionForTest(t, testPositionConfig(clk.Now()), g, clk, Options{})

	startSync(t, p.baseExecutor)
	tick(p.baseExecutor)
	p.Deliver(completedEvent("ORDER-1", d("1"), d("100"), d("0")))

	clk.Advance(61 * time.Second)
	tick(p.baseExecutor)

	if g.placedCount() != 2 {
		t.Fatalf("expected close order placed, got %d orders", g.placedCount())
	}
	if got := g.placedAt(1); got.Side != SideSell || !got.Amount.Equal(d("1")) {
		t.Fatalf("unexpected close order spec: %+v", got)
	}
	if got := p.Info().CloseType; got != CloseTypeTimeLimit {
		t.Fatalf("expected close type time_limit, got %s", got)
	}
}

func TestPositionExecutor_ExpiredBeforeStart(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testPositionConfig(clk.Now())
	clk.Advance(2 * time.Minute)
	p := newPositionForTest(t, cfg, g, clk, Options{})

	startSync(t, p.baseExecutor)

	if p.Status() != StatusTerminated {
		t.Fatalf("expected terminated, got %s", p.Status())
	}
	if got := p.Info().CloseType; got != CloseTypeExpired {
		t.Errorf("expected close type expired, got %s", got)
	}
	if g.placedCount() != 0 {
		t.Errorf("expected no orders placed, got %d", g.placedCount())
	}
}

func TestPositionExecutor_InsufficientBalanceTerminates(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	g.setAllPrices(testExchange, testPair, d("100"))
	p := newPositionForTest(t, testPositionConfig(clk.Now()), g, clk, Options{})

	startSync(t, p.baseExecutor)

	if p.Status() != StatusTerminated {
		t.Fatalf("expected terminated, got %s", p.Status())
	}
	if got := p.Info().CloseType; got != CloseTypeInsufficientBalance {
		t.Errorf("expected close type insufficient_balance, got %s", got)
	}
	if g.placedCount() != 0 {
		t.Errorf("expected no orders placed, got %d", g.placedCount())
	}
}

func TestPositionExecutor_OpenFailuresExhaustRetries(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	p := newPositionForTest(t, testPositionConfig(clk.Now()), g, clk, Options{})

	startSync(t, p.baseExecutor)
	g.placeErr = errors.New("下单通道故障")

	for i := 0; i < 3; i++ {
		tick(p.baseExecutor)
		if p.Status() != StatusRunning {
			t.Fatalf("expected running within retry budget at attempt %d, got %s", i+1, p.Status())
		}
	}
	tick(p.baseExecutor)

	if p.Status() != StatusTerminated {
		t.Fatalf("expected terminated after retry budget exhausted, got %s", p.Status())
	}
	if got := p.Info().CloseType; got != CloseTypeFailed {
		t.Errorf("expected close type failed, got %s", got)
	}
}

func TestPositionExecutor_AtMostOneOpenOrderUnderBoundsChurn(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testPositionConfig(clk.Now())
	cfg.Barrier.TimeLimit = time.Hour
	cfg.ActivationBounds = []decimal.Decimal{d("0.01")}
	p := newPositionForTest(t, cfg, g, clk, Options{})

	startSync(t, p.baseExecutor)
	tick(p.baseExecutor)
	if g.placedCount() != 1 {
		t.Fatalf("expected open order placed, got %d", g.placedCount())
	}

	// 行情远离激活区间：执行器撤单等待，而不是另挂一张。
	g.setPrice(testExchange, testPair, PriceTypeMid, d("105"))
	tick(p.baseExecutor)
	if g.canceledCount() == 0 {
		t.Fatalf("expected out-of-bounds open order canceled")
	}
	if g.placedCount() != 1 {
		t.Fatalf("expected no replacement before cancel confirmation, got %d", g.placedCount())
	}

	p.Deliver(canceledEvent("ORDER-1"))
	tick(p.baseExecutor)
	if g.placedCount() != 1 {
		t.Fatalf("expected no order while price out of bounds, got %d", g.placedCount())
	}

	g.setPrice(testExchange, testPair, PriceTypeMid, d("100.5"))
	tick(p.baseExecutor)
	if g.placedCount() != 2 {
		t.Fatalf("expected order re-placed within bounds, got %d", g.placedCount())
	}
	if p.openOrder == nil || p.openOrder.OrderID != "ORDER-2" {
		t.Fatalf("expected single tracked open order ORDER-2")
	}
}

func TestPositionExecutor_ShutdownReissuesCloseUntilReconciled(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testPositionConfig(clk.Now())
	cfg.Barrier.TimeLimit = time.Hour
	p := newPositionForTest(t, cfg, g, clk, Options{})

	startSync(t, p.baseExecutor)
	tick(p.baseExecutor)
	p.Deliver(completedEvent("ORDER-1", d("1"), d("100"), d("0")))
	tick(p.baseExecutor)

	p.EarlyStop()
	tick(p.baseExecutor)

	if p.Status() != StatusShuttingDown {
		t.Fatalf("expected shutting_down after early stop, got %s", p.Status())
	}
	if g.placedCount() != 2 || !g.placedAt(1).Amount.Equal(d("1")) {
		t.Fatalf("expected full-size close order, got %+v", g.placed)
	}

	// 平仓单部分成交后被撤：补发的平仓单只追剩余敞口。
	p.Deliver(fillEvent("ORDER-2", d("0.4"), d("95"), d("0")))
	p.Deliver(canceledEvent("ORDER-2"))
	tick(p.baseExecutor)

	if p.Status() == StatusTerminated {
		t.Fatalf("must not terminate while 0.6 exposure remains")
	}
	if g.placedCount() != 3 || !g.placedAt(2).Amount.Equal(d("0.6")) {
		t.Fatalf("expected reissued close sized 0.6, got %+v", g.lastPlaced())
	}

	p.Deliver(completedEvent("ORDER-3", d("0.6"), d("94"), d("0")))
	tick(p.baseExecutor)

	if p.Status() != StatusTerminated {
		t.Fatalf("expected terminated once reconciled, got %s", p.Status())
	}
	info := p.Info()
	if info.CloseType != CloseTypeEarlyStop {
		t.Errorf("expected close type early_stop preserved across retries, got %s", info.CloseType)
	}
	if got := info.CustomInfo["current_retries"]; got != 2 {
		t.Errorf("expected 2 retries consumed, got %v", got)
	}
}

func TestPositionExecutor_CloseFailuresOverrideCloseTypeWithFailed(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testPositionConfig(clk.Now())
	cfg.Barrier.TimeLimit = time.Hour
	p := newPositionForTest(t, cfg, g, clk, Options{})

	startSync(t, p.baseExecutor)
	tick(p.baseExecutor)
	p.Deliver(completedEvent("ORDER-1", d("1"), d("100"), d("0")))
	tick(p.baseExecutor)

	g.placeErr = errors.New("下单通道故障")
	p.EarlyStop()
	for i := 0; i < 4; i++ {
		tick(p.baseExecutor)
	}

	if p.Status() != StatusTerminated {
		t.Fatalf("expected terminated after close retries exhausted, got %s", p.Status())
	}
	if got := p.Info().CloseType; got != CloseTypeFailed {
		t.Errorf("expected close type overridden to failed, got %s", got)
	}
}
