package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultTickInterval = time.Second
	defaultMaxRetries   = 3
	defaultInboxSize    = 256
)

// ErrAlreadyStarted 表示执行器不处于可启动状态。
var ErrAlreadyStarted = errors.New("executor: 执行器已启动")

// Executor 是编排器可见的执行器统一接口。
// 三种执行器变体共享同一套生命周期与事件投递语义。
type Executor interface {
	ID() string
	ControllerID() string
	Type() ConfigType
	Start(ctx context.Context) error
	EarlyStop()
	Deliver(ev OrderEvent)
	Info() ExecutorInfo
	Status() RunnableStatus
	Done() <-chan struct{}
}

// Options 控制执行器的运行节奏与容错参数。
type Options struct {
	TickInterval time.Duration
	MaxRetries   int
	InboxSize    int
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.InboxSize <= 0 {
		o.InboxSize = defaultInboxSize
	}
	return o
}

// controlLoop 是执行器变体向共享运行器暴露的回调。
// 全部回调都在运行器 goroutine 内、持有状态锁时调用。
type controlLoop interface {
	onStart(ctx context.Context) error
	onEarlyStop(ctx context.Context)
	controlTask(ctx context.Context)
	processOrderEvent(ev OrderEvent)
}

// baseExecutor 承载全部变体共用的生命周期状态机。
//
// 并发模型：每个执行器只有一个控制 goroutine。订单事件投入有界收件箱，
// 每个周期先清空收件箱再执行控制逻辑；外部只通过 EarlyStop/Deliver/Info
// 与之交互，状态字段由 mu 保护，控制周期全程持锁。
type baseExecutor struct {
	id           string
	controllerID string

	gateway OrderGateway
	logger  *zap.Logger
	now     func() time.Time
	opts    Options

	hooks controlLoop
	inbox chan OrderEvent

	mu             sync.Mutex
	status         RunnableStatus
	closeType      CloseType
	closeTimestamp time.Time
	earlyStop      bool
	retries        int

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

func newBaseExecutor(base ConfigBase, gateway OrderGateway, logger *zap.Logger, opts Options) *baseExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &baseExecutor{
		id:           base.ID,
		controllerID: base.ControllerID,
		gateway:      gateway,
		logger: logger.With(
			zap.String("executor_id", base.ID),
			zap.String("controller_id", base.ControllerID),
		),
		now:    time.Now,
		opts:   opts,
		inbox:  make(chan OrderEvent, opts.InboxSize),
		status: StatusNotStarted,
		done:   make(chan struct{}),
	}
}

func (b *baseExecutor) ID() string           { return b.id }
func (b *baseExecutor) ControllerID() string { return b.controllerID }

// Done 在控制 goroutine 退出后关闭。
func (b *baseExecutor) Done() <-chan struct{} { return b.done }

// Status 返回当前生命周期状态。
func (b *baseExecutor) Status() RunnableStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Start 启动控制循环。只允许从未启动状态调用一次。
func (b *baseExecutor) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.status != StatusNotStarted {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.status = StatusRunning
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	b.logger.Info("执行器启动")
	go b.run(runCtx)
	return nil
}

// EarlyStop 请求执行器提前收尾。
// 运行中的执行器在下一个控制周期处理，未启动的执行器直接终结。
func (b *baseExecutor) EarlyStop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.status {
	case StatusNotStarted:
		b.setCloseTypeLocked(CloseTypeEarlyStop)
		b.terminateLocked()
	case StatusRunning:
		b.earlyStop = true
	}
}

// Deliver 把订单事件投入收件箱，不阻塞调用方。
// 收件箱满时丢弃事件；成交字段为累计值，后续事件会补齐状态。
func (b *baseExecutor) Deliver(ev OrderEvent) {
	select {
	case b.inbox <- ev:
	default:
		b.logger.Warn("事件收件箱已满，丢弃订单事件",
			zap.String("order_id", ev.OrderID),
			zap.String("kind", string(ev.Kind)))
	}
}

func (b *baseExecutor) run(ctx context.Context) {
	defer b.closeDone()
	defer b.cancel()

	b.mu.Lock()
	if err := b.hooks.onStart(ctx); err != nil {
		b.logger.Error("执行器启动检查失败", zap.Error(err))
		b.setCloseTypeLocked(CloseTypeFailed)
		b.terminateLocked()
	}
	terminated := b.status == StatusTerminated
	b.mu.Unlock()
	if terminated {
		return
	}

	ticker := time.NewTicker(b.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.terminateLocked()
			b.mu.Unlock()
			return
		case <-ticker.C:
			if b.step(ctx) {
				return
			}
		}
	}
}

// step 执行一个控制周期，返回执行器是否已终结。
func (b *baseExecutor) step(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.drainInboxLocked()
	if b.status == StatusTerminated {
		return true
	}
	if b.earlyStop && b.status == StatusRunning {
		b.earlyStop = false
		b.hooks.onEarlyStop(ctx)
	}
	if b.status == StatusRunning || b.status == StatusShuttingDown {
		b.hooks.controlTask(ctx)
	}
	return b.status == StatusTerminated
}

func (b *baseExecutor) drainInboxLocked() {
	for {
		select {
		case ev := <-b.inbox:
			b.hooks.processOrderEvent(ev)
		default:
			return
		}
	}
}

func (b *baseExecutor) closeDone() {
	b.doneOnce.Do(func() { close(b.done) })
}

// setCloseTypeLocked 记录收尾原因，只有首次调用生效。
func (b *baseExecutor) setCloseTypeLocked(ct CloseType) bool {
	if b.closeType != CloseTypeNone || ct == CloseTypeNone {
		return false
	}
	b.closeType = ct
	b.closeTimestamp = b.now()
	return true
}

// beginShutdownLocked 记录收尾原因并进入收尾阶段。
func (b *baseExecutor) beginShutdownLocked(ct CloseType) {
	if b.setCloseTypeLocked(ct) {
		b.logger.Info("执行器进入收尾阶段", zap.String("close_type", string(ct)))
	}
	if b.status == StatusRunning {
		b.status = StatusShuttingDown
	}
}

// terminateLocked 把执行器置为终结态，收尾时间取终结时刻。
func (b *baseExecutor) terminateLocked() {
	if b.status == StatusTerminated {
		return
	}
	b.status = StatusTerminated
	if b.closeType != CloseTypeNone {
		b.closeTimestamp = b.now()
	}
	b.closeDone()
	b.logger.Info("执行器终结",
		zap.String("close_type", string(b.closeType)),
		zap.Int("retries", b.retries))
}

// exhaustRetriesLocked 检查重试预算，耗尽时覆盖收尾原因为 FAILED 并终结。
func (b *baseExecutor) exhaustRetriesLocked() bool {
	if b.status == StatusTerminated || b.retries <= b.opts.MaxRetries {
		return false
	}
	b.closeType = CloseTypeFailed
	b.logger.Error("重试预算耗尽", zap.Int("retries", b.retries), zap.Int("max_retries", b.opts.MaxRetries))
	b.terminateLocked()
	return true
}

// failLocked 以失败原因终结执行器。
func (b *baseExecutor) failLocked(reason string) {
	b.setCloseTypeLocked(CloseTypeFailed)
	b.logger.Error("执行器失败终结", zap.String("reason", reason))
	b.terminateLocked()
}

func (b *baseExecutor) bumpRetriesLocked() int {
	b.retries++
	return b.retries
}

// infoHeaderLocked 组装快照的公共字段，须持锁调用。
func (b *baseExecutor) infoHeaderLocked(typ ConfigType, cfg Config) ExecutorInfo {
	return ExecutorInfo{
		ID:             b.id,
		Type:           typ,
		ControllerID:   b.controllerID,
		Timestamp:      b.now(),
		Status:         b.status,
		CloseType:      b.closeType,
		CloseTimestamp: b.closeTimestamp,
		Config:         cfg,
		IsActive:       b.status.IsActive(),
	}
}

// submitOrder 向网关提交订单并登记跟踪记录。
func (b *baseExecutor) submitOrder(ctx context.Context, spec OrderSpec) (*TrackedOrder, error) {
	orderID, err := b.gateway.PlaceOrder(ctx, spec)
	if err != nil {
		return nil, err
	}
	b.logger.Info("订单已提交",
		zap.String("order_id", orderID),
		zap.String("trading_pair", spec.TradingPair),
		zap.String("side", string(spec.Side)),
		zap.String("order_type", string(spec.OrderType)),
		zap.String("amount", spec.Amount.String()),
		zap.String("price", spec.Price.String()))
	return newTrackedOrder(orderID, spec, b.now()), nil
}

// cancelOrder 请求撤销一笔仍在交易所挂着的订单。
func (b *baseExecutor) cancelOrder(ctx context.Context, order *TrackedOrder) error {
	if !order.IsOpen() {
		return nil
	}
	if err := b.gateway.CancelOrder(ctx, order.Exchange, order.TradingPair, order.OrderID); err != nil {
		return err
	}
	b.logger.Info("撤单已提交", zap.String("order_id", order.OrderID))
	return nil
}

// hasSufficientBalance 按方向检查可用余额能否覆盖一笔开仓。
func (b *baseExecutor) hasSufficientBalance(ctx context.Context, exchange, tradingPair string, side Side, amount, price decimal.Decimal) (bool, error) {
	baseAsset, quoteAsset := splitTradingPair(tradingPair)
	if side == SideBuy {
		balance, err := b.gateway.AvailableBalance(ctx, exchange, quoteAsset)
		if err != nil {
			return false, err
		}
		return balance.GreaterThanOrEqual(amount.Mul(price)), nil
	}
	balance, err := b.gateway.AvailableBalance(ctx, exchange, baseAsset)
	if err != nil {
		return false, err
	}
	return balance.GreaterThanOrEqual(amount), nil
}

// splitTradingPair 拆出交易对的基础币与计价币。
func splitTradingPair(pair string) (string, string) {
	if i := strings.Index(pair, "-"); i > 0 {
		return pair[:i], pair[i+1:]
	}
	return pair, ""
}
