package executor

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDCAExecutor_PlacesLevelsWithinActivationBounds(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testDCAConfig(clk.Now())
	cfg.ActivationBounds = []decimal.Decimal{d("0.01")}
	ex := newDCAForTest(t, cfg, g, clk, Options{})

	startSync(t, ex.baseExecutor)
	tick(ex.baseExecutor)

	if g.placedCount() != 1 {
		t.Fatalf("expected first level placed, got %d orders", g.placedCount())
	}
	level0 := g.placedAt(0)
	if level0.OrderType != OrderTypeLimit || !level0.Price.Equal(d("100")) || !level0.Amount.Equal(d("1")) {
		t.Fatalf("unexpected level 0 spec: %+v", level0)
	}

	// 第二级距离现价超过激活区间，不挂出。
	tick(ex.baseExecutor)
	if g.placedCount() != 1 {
		t.Fatalf("expected level 1 held back out of bounds, got %d orders", g.placedCount())
	}

	g.setPrice(testExchange, testPair, PriceTypeMid, d("90.5"))
	tick(ex.baseExecutor)
	if g.placedCount() != 2 {
		t.Fatalf("expected level 1 placed within bounds, got %d orders", g.placedCount())
	}
	level1 := g.placedAt(1)
	if !level1.Price.Equal(d("90")) || !level1.Amount.Equal(d("100").Div(d("90"))) {
		t.Fatalf("unexpected level 1 spec: %+v", level1)
	}
}

func TestDCAExecutor_MakerStopLossGatedUntilAllLevelsSettle(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	ex := newDCAForTest(t, testDCAConfig(clk.Now()), g, clk, Options{})

	startSync(t, ex.baseExecutor)
	tick(ex.baseExecutor)
	tick(ex.baseExecutor)
	if g.placedCount() != 2 {
		t.Fatalf("expected both levels placed, got %d orders", g.placedCount())
	}

	p0Amount := d("1")
	p1Amount := d("100").Div(d("90"))
	ex.Deliver(completedEvent("ORDER-1", p0Amount, d("100"), d("0")))
	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("80"))
	tick(ex.baseExecutor)

	// 级别 1 还挂在场内：即便级别 0 的浮亏远超止损线也不触发。
	if ex.Status() != StatusRunning {
		t.Fatalf("expected stop loss gated while ladder incomplete, got %s", ex.Status())
	}
	if g.placedCount() != 2 {
		t.Fatalf("expected no close order while gated, got %d orders", g.placedCount())
	}

	ex.Deliver(completedEvent("ORDER-2", p1Amount, d("90"), d("0")))
	tick(ex.baseExecutor)

	if got := ex.Info().CloseType; got != CloseTypeStopLoss {
		t.Fatalf("expected close type stop_loss once ladder settled, got %s", got)
	}
	if g.placedCount() != 3 {
		t.Fatalf("expected close order placed, got %d orders", g.placedCount())
	}
	close_ := g.placedAt(2)
	if close_.Side != SideSell || close_.OrderType != OrderTypeMarket || !close_.Amount.Equal(p0Amount.Add(p1Amount)) {
		t.Fatalf("unexpected close spec: %+v", close_)
	}

	ex.Deliver(completedEvent("ORDER-3", p0Amount.Add(p1Amount), d("80"), d("0")))
	tick(ex.baseExecutor)
	if ex.Status() != StatusTerminated {
		t.Fatalf("expected terminated after close fill, got %s", ex.Status())
	}
}

func TestDCAExecutor_TakerStopLossOnQuoteLoss(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testDCAConfig(clk.Now())
	cfg.Mode = DCAModeTaker
	cfg.Prices = []decimal.Decimal{d("100")}
	cfg.AmountsQuote = []decimal.Decimal{d("1000")}
	cfg.StopLoss = d("0.02")
	ex := newDCAForTest(t, cfg, g, clk, Options{})

	startSync(t, ex.baseExecutor)
	tick(ex.baseExecutor)

	if g.placedCount() != 1 {
		t.Fatalf("expected taker level placed, got %d orders", g.placedCount())
	}
	if got := g.placedAt(0); got.OrderType != OrderTypeMarket || !got.Amount.Equal(d("10")) {
		t.Fatalf("unexpected taker level spec: %+v", got)
	}

	ex.Deliver(completedEvent("ORDER-1", d("10"), d("100"), d("0")))
	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("99"))
	tick(ex.baseExecutor)

	// 亏损 10 未达到 20（1000×0.02）的上限。
	if ex.Status() != StatusRunning || g.placedCount() != 1 {
		t.Fatalf("expected running below quote loss cap, got %s with %d orders", ex.Status(), g.placedCount())
	}

	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("97.9"))
	tick(ex.baseExecutor)

	if got := ex.Info().CloseType; got != CloseTypeStopLoss {
		t.Fatalf("expected close type stop_loss on quote loss, got %s", got)
	}
	if g.placedCount() != 2 || !g.placedAt(1).Amount.Equal(d("10")) {
		t.Fatalf("expected close sized 10, got %+v", g.lastPlaced())
	}
}

func TestDCAExecutor_TakeProfitOnPositionAveragePrice(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	ex := newDCAForTest(t, testDCAConfig(clk.Now()), g, clk, Options{})

	startSync(t, ex.baseExecutor)
	tick(ex.baseExecutor)
	tick(ex.baseExecutor)
	ex.Deliver(completedEvent("ORDER-1", d("1"), d("100"), d("0")))
	ex.Deliver(completedEvent("ORDER-2", d("100").Div(d("90")), d("90"), d("0")))

	// 均价约 94.74：现价 104 尚未越过 10% 止盈线。
	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("104"))
	tick(ex.baseExecutor)
	if ex.Status() != StatusRunning {
		t.Fatalf("expected running below take profit, got %s", ex.Status())
	}

	g.setPrice(testExchange, testPair, PriceTypeBestBid, d("105"))
	tick(ex.baseExecutor)
	if got := ex.Info().CloseType; got != CloseTypeTakeProfit {
		t.Fatalf("expected close type take_profit, got %s", got)
	}
	expectedClose := d("1").Add(d("100").Div(d("90")))
	if !g.lastPlaced().Amount.Equal(expectedClose) {
		t.Fatalf("expected close sized %s, got %s", expectedClose, g.lastPlaced().Amount)
	}
}

func TestDCAExecutor_PositionAveragePriceMatchesVWAP(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	cfg := testDCAConfig(clk.Now())
	cfg.Prices = []decimal.Decimal{d("100"), d("95"), d("90"), d("85"), d("80")}
	cfg.AmountsQuote = []decimal.Decimal{d("500"), d("500"), d("500"), d("500"), d("500")}
	cfg.StopLoss = decimal.Zero
	cfg.TakeProfit = decimal.Zero
	ex := newDCAForTest(t, cfg, g, clk, Options{})

	startSync(t, ex.baseExecutor)
	for i := 0; i < 5; i++ {
		tick(ex.baseExecutor)
	}
	if g.placedCount() != 5 {
		t.Fatalf("expected all levels placed, got %d orders", g.placedCount())
	}

	rng := rand.New(rand.NewSource(42))
	num, den := decimal.Zero, decimal.Zero
	for _, orderID := range g.orderIDs {
		amount := decimal.NewFromFloat(rng.Float64()*4 + 0.5).Round(6)
		price := decimal.NewFromFloat(rng.Float64()*20 + 80).Round(4)
		ex.Deliver(fillEvent(orderID, amount, price, decimal.Zero))
		num = num.Add(price.Mul(amount))
		den = den.Add(amount)
	}
	tick(ex.baseExecutor)

	expected := num.Div(den)
	if got := ex.positionAveragePrice(); !got.Equal(expected) {
		t.Fatalf("expected position average price %s, got %s", expected, got)
	}
	if got := ex.openFilled(); !got.Equal(den) {
		t.Fatalf("expected open filled %s, got %s", den, got)
	}
}

func TestDCAExecutor_NeverTerminatesWhileUnreconciled(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	g.rules = TradingRules{MinOrderSize: d("0.1")}
	cfg := testDCAConfig(clk.Now())
	cfg.Prices = []decimal.Decimal{d("100")}
	cfg.AmountsQuote = []decimal.Decimal{d("1000")}
	ex := newDCAForTest(t, cfg, g, clk, Options{})

	startSync(t, ex.baseExecutor)
	tick(ex.baseExecutor)
	ex.Deliver(completedEvent("ORDER-1", d("10"), d("100"), d("0")))
	tick(ex.baseExecutor)

	ex.EarlyStop()
	tick(ex.baseExecutor)
	if g.placedCount() != 2 || !g.placedAt(1).Amount.Equal(d("10")) {
		t.Fatalf("expected close order sized 10, got %+v", g.placed)
	}

	// 平仓单还挂着：不能补发也不能终结。
	tick(ex.baseExecutor)
	if ex.Status() != StatusShuttingDown || g.placedCount() != 2 {
		t.Fatalf("expected waiting on live close order, got %s with %d orders", ex.Status(), g.placedCount())
	}

	ex.Deliver(fillEvent("ORDER-2", d("9.5"), d("99"), d("0")))
	ex.Deliver(canceledEvent("ORDER-2"))
	tick(ex.baseExecutor)

	if ex.Status() == StatusTerminated {
		t.Fatalf("must not terminate with 0.5 exposure above min order size")
	}
	if g.placedCount() != 3 || !g.placedAt(2).Amount.Equal(d("0.5")) {
		t.Fatalf("expected reissued close sized 0.5, got %+v", g.lastPlaced())
	}

	ex.Deliver(completedEvent("ORDER-3", d("0.45"), d("99"), d("0")))
	tick(ex.baseExecutor)

	if ex.Status() != StatusTerminated {
		t.Fatalf("expected terminated once delta below min order size, got %s", ex.Status())
	}
	info := ex.Info()
	if info.CloseType != CloseTypeEarlyStop {
		t.Errorf("expected close type early_stop preserved, got %s", info.CloseType)
	}
	if got := info.CustomInfo["current_retries"]; got != 1 {
		t.Errorf("expected 1 retry consumed by reissue, got %v", got)
	}
}

func TestDCAExecutor_UnfilledAtDeadlineExpires(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	ex := newDCAForTest(t, testDCAConfig(clk.Now()), g, clk, Options{})

	startSync(t, ex.baseExecutor)
	tick(ex.baseExecutor)
	if g.placedCount() != 1 {
		t.Fatalf("expected first level placed, got %d orders", g.placedCount())
	}

	clk.Advance(2*time.Hour + time.Minute)
	tick(ex.baseExecutor)

	if g.canceledCount() != 1 || g.canceled[0] != "ORDER-1" {
		t.Fatalf("expected unfilled level canceled, got %v", g.canceled)
	}
	if g.placedCount() != 1 {
		t.Fatalf("expected no close order for empty position, got %d orders", g.placedCount())
	}
	if got := ex.Info().CloseType; got != CloseTypeExpired {
		t.Fatalf("expected close type expired, got %s", got)
	}

	tick(ex.baseExecutor)
	if ex.Status() != StatusTerminated {
		t.Fatalf("expected terminated, got %s", ex.Status())
	}
}

func TestDCAExecutor_EarlyStopPlacesCloseImmediately(t *testing.T) {
	clk := newFakeClock()
	g := newMockGateway()
	seedMarket(g, "100")
	ex := newDCAForTest(t, testDCAConfig(clk.Now()), g, clk, Options{})

	startSync(t, ex.baseExecutor)
	tick(ex.baseExecutor)
	ex.Deliver(completedEvent("ORDER-1", d("1"), d("100"), d("0")))
	tick(ex.baseExecutor)

	ex.EarlyStop()
	tick(ex.baseExecutor)

	if ex.Status() != StatusShuttingDown {
		t.Fatalf("expected shutting_down, got %s", ex.Status())
	}
	if got := ex.Info().CloseType; got != CloseTypeEarlyStop {
		t.Fatalf("expected close type early_stop, got %s", got)
	}
	last := g.lastPlaced()
	if last.Side != SideSell || last.OrderType != OrderTypeMarket || !last.Amount.Equal(d("1")) || !last.ReduceOnly {
		t.Fatalf("expected immediate market close, got %+v", last)
	}
}
