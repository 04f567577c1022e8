package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrUnsupportedConfig 表示编排器不认识的执行器配置类型。
var ErrUnsupportedConfig = errors.New("executor: 不支持的执行器配置类型")

// Action 是控制器下发给编排器的声明式指令。
// 与 Config 一样做成封闭集合，新指令必须在本包内声明。
type Action interface {
	Controller() string
	sealedAction()
}

// CreateExecutorAction 要求按配置创建并启动一个执行器。
type CreateExecutorAction struct {
	ControllerID string
	Config       Config
}

// StopExecutorAction 要求对指定执行器触发提前停止。
type StopExecutorAction struct {
	ControllerID string
	ExecutorID   string
}

// StoreExecutorAction 要求归档一个已终结的执行器并将其移出注册表。
type StoreExecutorAction struct {
	ControllerID string
	ExecutorID   string
}

func (a CreateExecutorAction) Controller() string { return a.ControllerID }
func (a StopExecutorAction) Controller() string   { return a.ControllerID }
func (a StoreExecutorAction) Controller() string  { return a.ControllerID }

func (CreateExecutorAction) sealedAction() {}
func (StopExecutorAction) sealedAction()   {}
func (StoreExecutorAction) sealedAction()  {}

// NewCreateAction 构造带控制器标识的创建指令。
func NewCreateAction(controllerID string, cfg Config) CreateExecutorAction {
	return CreateExecutorAction{ControllerID: controllerID, Config: cfg}
}

// NewStopAction 构造带控制器标识的提前停止指令。
func NewStopAction(controllerID, executorID string) StopExecutorAction {
	return StopExecutorAction{ControllerID: controllerID, ExecutorID: executorID}
}

// NewStoreAction 构造带控制器标识的归档指令。
func NewStoreAction(controllerID, executorID string) StoreExecutorAction {
	return StoreExecutorAction{ControllerID: controllerID, ExecutorID: executorID}
}

// NewExecutorFromConfig 按配置类型构造对应的执行器。
// 未知类型直接报错，避免静默吞掉新增的配置变体。
func NewExecutorFromConfig(cfg Config, gateway OrderGateway, logger *zap.Logger, opts Options) (Executor, error) {
	switch c := cfg.(type) {
	case PositionExecutorConfig:
		return NewPositionExecutor(c, gateway, logger, opts)
	case *PositionExecutorConfig:
		return NewPositionExecutor(*c, gateway, logger, opts)
	case DCAExecutorConfig:
		return NewDCAExecutor(c, gateway, logger, opts)
	case *DCAExecutorConfig:
		return NewDCAExecutor(*c, gateway, logger, opts)
	case ArbitrageExecutorConfig:
		return NewArbitrageExecutor(c, gateway, logger, opts)
	case *ArbitrageExecutorConfig:
		return NewArbitrageExecutor(*c, gateway, logger, opts)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedConfig, cfg)
	}
}

// Orchestrator 持有按控制器分组的执行器注册表，
// 把控制器的声明式指令翻译成执行器的生命周期调用。
type Orchestrator struct {
	gateway     OrderGateway
	persistence PersistenceService
	logger      *zap.Logger
	opts        Options

	mu       sync.RWMutex
	registry map[string][]Executor
}

// NewOrchestrator 创建编排器。persistence 为空时归档动作会报错。
func NewOrchestrator(gateway OrderGateway, persistence PersistenceService, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gateway:     gateway,
		persistence: persistence,
		logger:      logger,
		opts:        opts.withDefaults(),
		registry:    make(map[string][]Executor),
	}
}

// ExecuteActions 顺序处理一批指令。单条失败不会中断其余指令，
// 所有错误合并返回。
func (o *Orchestrator) ExecuteActions(ctx context.Context, actions []Action) error {
	var errs error
	for _, action := range actions {
		var err error
		switch a := action.(type) {
		case CreateExecutorAction:
			err = o.createExecutor(ctx, a)
		case StopExecutorAction:
			o.stopExecutor(a)
		case StoreExecutorAction:
			err = o.storeExecutor(ctx, a)
		default:
			err = fmt.Errorf("executor: 未知指令类型 %T", action)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// createExecutor 构造、启动并登记一个执行器。
// 传入的 ctx 约束执行器的整个生命周期，应当使用进程级上下文。
func (o *Orchestrator) createExecutor(ctx context.Context, action CreateExecutorAction) error {
	ex, err := NewExecutorFromConfig(action.Config, o.gateway, o.logger, o.opts)
	if err != nil {
		return fmt.Errorf("创建执行器失败: %w", err)
	}
	if err := ex.Start(ctx); err != nil {
		return fmt.Errorf("启动执行器失败: %w", err)
	}
	o.mu.Lock()
	o.registry[action.ControllerID] = append(o.registry[action.ControllerID], ex)
	o.mu.Unlock()
	o.logger.Info("执行器已创建",
		zap.String("controller_id", action.ControllerID),
		zap.String("executor_id", ex.ID()),
		zap.String("executor_type", string(ex.Type())))
	return nil
}

func (o *Orchestrator) stopExecutor(action StopExecutorAction) {
	o.mu.RLock()
	ex := o.findLocked(action.ControllerID, action.ExecutorID)
	o.mu.RUnlock()
	if ex == nil {
		o.logger.Warn("停止指令未命中执行器",
			zap.String("controller_id", action.ControllerID),
			zap.String("executor_id", action.ExecutorID))
		return
	}
	if ex.Status() == StatusTerminated {
		return
	}
	ex.EarlyStop()
}

// storeExecutor 把已终结的执行器快照交给归档服务并移出注册表。
// 对仍在运行的执行器下发归档属于调用方错误，记录后忽略。
func (o *Orchestrator) storeExecutor(ctx context.Context, action StoreExecutorAction) error {
	o.mu.RLock()
	ex := o.findLocked(action.ControllerID, action.ExecutorID)
	o.mu.RUnlock()
	if ex == nil {
		o.logger.Warn("归档指令未命中执行器",
			zap.String("controller_id", action.ControllerID),
			zap.String("executor_id", action.ExecutorID))
		return nil
	}
	if ex.Status() != StatusTerminated {
		o.logger.Error("执行器尚未终结，拒绝归档",
			zap.String("controller_id", action.ControllerID),
			zap.String("executor_id", action.ExecutorID),
			zap.String("status", string(ex.Status())))
		return nil
	}
	if o.persistence == nil {
		return errors.New("executor: 未配置归档服务")
	}
	if err := o.persistence.StoreOrUpdateExecutor(ctx, ex.Info()); err != nil {
		return fmt.Errorf("归档执行器失败: %w", err)
	}
	o.mu.Lock()
	o.removeLocked(action.ControllerID, action.ExecutorID)
	o.mu.Unlock()
	o.logger.Info("执行器已归档",
		zap.String("controller_id", action.ControllerID),
		zap.String("executor_id", action.ExecutorID))
	return nil
}

// findLocked 在注册表中按 id 查找，调用方需持有读锁或写锁。
func (o *Orchestrator) findLocked(controllerID, executorID string) Executor {
	for _, ex := range o.registry[controllerID] {
		if ex.ID() == executorID {
			return ex
		}
	}
	return nil
}

func (o *Orchestrator) removeLocked(controllerID, executorID string) {
	executors := o.registry[controllerID]
	for i, ex := range executors {
		if ex.ID() == executorID {
			o.registry[controllerID] = append(executors[:i], executors[i+1:]...)
			if len(o.registry[controllerID]) == 0 {
				delete(o.registry, controllerID)
			}
			return
		}
	}
}

// Stop 在进程退出前停掉并归档所有执行器：先对活跃执行器触发提前停止，
// 再等待它们终结（受 ctx 限时），最后逐个归档。等待超时的执行器留在
// 注册表里并计入返回错误。
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.RLock()
	var all []Executor
	var pending []string
	for controllerID, executors := range o.registry {
		for _, ex := range executors {
			all = append(all, ex)
			pending = append(pending, controllerID)
		}
	}
	o.mu.RUnlock()

	for _, ex := range all {
		if ex.Status().IsActive() {
			ex.EarlyStop()
		}
	}
	var errs error
	for i, ex := range all {
		select {
		case <-ex.Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("等待执行器终结超时: %s: %w", ex.ID(), ctx.Err()))
			continue
		}
		if err := o.storeExecutor(ctx, StoreExecutorAction{ControllerID: pending[i], ExecutorID: ex.ID()}); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// DeliverOrderEvent 把交易所订单事件广播给所有执行器。
// 事件按订单 id 路由，持有该订单的执行器才会处理。
func (o *Orchestrator) DeliverOrderEvent(ev OrderEvent) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, executors := range o.registry {
		for _, ex := range executors {
			ex.Deliver(ev)
		}
	}
}

// ExecutorsReport 构建当前所有执行器的快照，按控制器分组。
// 每次调用即时投影，不做缓存。
func (o *Orchestrator) ExecutorsReport() map[string][]ExecutorInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()
	report := make(map[string][]ExecutorInfo, len(o.registry))
	for controllerID, executors := range o.registry {
		infos := make([]ExecutorInfo, 0, len(executors))
		for _, ex := range executors {
			infos = append(infos, ex.Info())
		}
		report[controllerID] = infos
	}
	return report
}
