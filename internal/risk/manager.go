package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-core/internal/config"
	"trades-core/internal/store"
)

// Manager 负责开仓前的风控评估。
type Manager struct {
	cfg     config.RiskConfig
	tracker *DailyTracker
	logger  *zap.Logger
}

// NewManager 创建风险管理器。
func NewManager(cfg config.RiskConfig, store *store.Store, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("risk: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker, err := NewDailyTracker(store.DB(), cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger,
	}, nil
}

// Evaluate 判断一次开仓请求是否放行。
func (m *Manager) Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error) {
	ts := input.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	status, err := m.tracker.Status(ctx, ts)
	if err != nil {
		return EvaluationResult{}, err
	}

	result := EvaluationResult{
		Status:      StatusDeny,
		DailyStatus: status,
		Notes:       make([]string, 0, 2),
	}

	if m.cfg.EnableDailyStopLoss && status.Halted {
		result.Notes = append(result.Notes, "当日累计亏损已达到限制，停止开仓。")
		return result, nil
	}

	if m.cfg.MaxActiveExecutors > 0 && input.ActiveExecutors >= m.cfg.MaxActiveExecutors {
		result.Notes = append(result.Notes,
			fmt.Sprintf("在途执行器数量 %d 已达上限 %d。", input.ActiveExecutors, m.cfg.MaxActiveExecutors))
		return result, nil
	}

	if !input.ProposedQuote.IsPositive() {
		result.Notes = append(result.Notes, "开仓金额无效，放弃操作。")
		return result, nil
	}

	result.Status = StatusProceed
	result.Notes = append(result.Notes,
		fmt.Sprintf("允许开仓，金额 %s，当日已实现盈亏 %s。",
			input.ProposedQuote.String(), status.RealizedPnl.String()))

	return result, nil
}

// RecordClosedTrade 把一笔平仓盈亏计入当日风控账本。
func (m *Manager) RecordClosedTrade(ctx context.Context, ts time.Time, pnlQuote decimal.Decimal) (DailyStatus, error) {
	return m.tracker.RecordClosedTrade(ctx, ts, pnlQuote)
}

// DailyStatus 返回当前交易日的风控状态。
func (m *Manager) DailyStatus(ctx context.Context, ts time.Time) (DailyStatus, error) {
	return m.tracker.Status(ctx, ts)
}
