package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-core/internal/config"
)

// DailyTracker 维护日度已实现盈亏与停交易状态。
type DailyTracker struct {
	db     *sql.DB
	cfg    config.RiskConfig
	logger *zap.Logger
}

// NewDailyTracker 创建日度监控器并初始化表结构。
func NewDailyTracker(db *sql.DB, cfg config.RiskConfig, logger *zap.Logger) (*DailyTracker, error) {
	if db == nil {
		return nil, errors.New("risk: 数据库实例不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker := &DailyTracker{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}

	if err := tracker.initSchema(); err != nil {
		return nil, err
	}

	return tracker, nil
}

func (t *DailyTracker) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS risk_daily_metrics (
			trading_date TEXT PRIMARY KEY,
			realized_pnl_quote TEXT NOT NULL,
			trade_count INTEGER NOT NULL DEFAULT 0,
			halted INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS risk_activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TEXT NOT NULL,
			event_type TEXT NOT NULL,
			message TEXT NOT NULL,
			details TEXT,
			trading_date TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_activity_date ON risk_activity_log(trading_date);`,
	}

	for _, stmt := range schema {
		if _, err := t.db.Exec(stmt); err != nil {
			return fmt.Errorf("risk: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

// RecordClosedTrade 把一笔平仓盈亏累计到当日，并在突破限额时停交易。
func (t *DailyTracker) RecordClosedTrade(ctx context.Context, ts time.Time, pnlQuote decimal.Decimal) (DailyStatus, error) {
	var result DailyStatus

	tradingDate := tradingDay(ts, t.cfg.DailyLossResetHour)
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		realizedRaw string
		tradeCount  int
		haltedInt   int
	)

	row := tx.QueryRowContext(ctx,
		`SELECT realized_pnl_quote, trade_count, halted FROM risk_daily_metrics WHERE trading_date = ?`, tradingDate)
	switch scanErr := row.Scan(&realizedRaw, &tradeCount, &haltedInt); {
	case scanErr == nil:
	case errors.Is(scanErr, sql.ErrNoRows):
		halted := t.shouldHalt(pnlQuote)
		haltedValue := 0
		if halted {
			haltedValue = 1
		}
		if _, execErr := tx.ExecContext(ctx,
			`INSERT INTO risk_daily_metrics (trading_date, realized_pnl_quote, trade_count, halted, updated_at)
			 VALUES (?, ?, 1, ?, ?)`,
			tradingDate, pnlQuote.String(), haltedValue, now,
		); execErr != nil {
			err = fmt.Errorf("risk: 初始化日度盈亏失败: %w", execErr)
			return result, err
		}

		if halted {
			if err = t.recordHaltTx(ctx, tx, tradingDate, pnlQuote); err != nil {
				return result, err
			}
		}

		result = DailyStatus{
			TradingDate: tradingDate,
			RealizedPnl: pnlQuote,
			TradeCount:  1,
			Halted:      halted,
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return result, fmt.Errorf("risk: 提交事务失败: %w", commitErr)
		}

		return result, nil
	default:
		err = fmt.Errorf("risk: 查询日度盈亏失败: %w", scanErr)
		return result, err
	}

	realized, parseErr := decimal.NewFromString(realizedRaw)
	if parseErr != nil {
		err = fmt.Errorf("risk: 解析已实现盈亏失败: %w", parseErr)
		return result, err
	}

	realized = realized.Add(pnlQuote)
	tradeCount++

	if _, execErr := tx.ExecContext(ctx,
		`UPDATE risk_daily_metrics SET realized_pnl_quote = ?, trade_count = ?, updated_at = ? WHERE trading_date = ?`,
		realized.String(), tradeCount, now, tradingDate,
	); execErr != nil {
		err = fmt.Errorf("risk: 更新日度盈亏失败: %w", execErr)
		return result, err
	}

	halted := haltedInt == 1
	if !halted && t.shouldHalt(realized) {
		halted = true
		if _, execErr := tx.ExecContext(ctx,
			`UPDATE risk_daily_metrics SET halted = 1, updated_at = ? WHERE trading_date = ?`,
			now, tradingDate,
		); execErr != nil {
			err = fmt.Errorf("risk: 更新日停交易状态失败: %w", execErr)
			return result, err
		}
		if err = t.recordHaltTx(ctx, tx, tradingDate, realized); err != nil {
			return result, err
		}
	}

	result = DailyStatus{
		TradingDate: tradingDate,
		RealizedPnl: realized,
		TradeCount:  tradeCount,
		Halted:      halted,
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return result, fmt.Errorf("risk: 提交事务失败: %w", commitErr)
	}

	return result, nil
}

// Status 返回指定时间所属交易日的风控状态。
func (t *DailyTracker) Status(ctx context.Context, ts time.Time) (DailyStatus, error) {
	tradingDate := tradingDay(ts, t.cfg.DailyLossResetHour)

	var (
		realizedRaw string
		tradeCount  int
		haltedInt   int
	)

	row := t.db.QueryRowContext(ctx,
		`SELECT realized_pnl_quote, trade_count, halted FROM risk_daily_metrics WHERE trading_date = ?`, tradingDate)
	switch err := row.Scan(&realizedRaw, &tradeCount, &haltedInt); {
	case err == nil:
		realized, parseErr := decimal.NewFromString(realizedRaw)
		if parseErr != nil {
			return DailyStatus{}, fmt.Errorf("risk: 解析已实现盈亏失败: %w", parseErr)
		}
		return DailyStatus{
			TradingDate: tradingDate,
			RealizedPnl: realized,
			TradeCount:  tradeCount,
			Halted:      haltedInt == 1,
		}, nil
	case errors.Is(err, sql.ErrNoRows):
		return DailyStatus{TradingDate: tradingDate, RealizedPnl: decimal.Zero}, nil
	default:
		return DailyStatus{}, fmt.Errorf("risk: 查询日度风控状态失败: %w", err)
	}
}

func (t *DailyTracker) shouldHalt(realized decimal.Decimal) bool {
	if !t.cfg.EnableDailyStopLoss || !t.cfg.MaxDailyLossQuote.IsPositive() {
		return false
	}
	return realized.LessThanOrEqual(t.cfg.MaxDailyLossQuote.Neg())
}

func (t *DailyTracker) recordHaltTx(ctx context.Context, tx *sql.Tx, tradingDate string, realized decimal.Decimal) error {
	msg := fmt.Sprintf("当日累计亏损 %s 超过上限 %s，触发停交易", realized.String(), t.cfg.MaxDailyLossQuote.String())
	if err := t.logEventTx(ctx, tx, tradingDate, "daily_halt", msg, ""); err != nil {
		return err
	}

	t.logger.Warn("触发日度亏损限制",
		zap.String("trading_date", tradingDate),
		zap.String("realized_pnl_quote", realized.String()),
	)

	return nil
}

// LogEvent 记录风控事件。
func (t *DailyTracker) LogEvent(ctx context.Context, eventType, message, details, tradingDate string) error {
	if eventType == "" {
		return errors.New("risk: eventType 不能为空")
	}
	if tradingDate == "" {
		tradingDate = tradingDay(time.Now().UTC(), t.cfg.DailyLossResetHour)
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO risk_activity_log (occurred_at, event_type, message, details, trading_date)
		 VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), eventType, message, details, tradingDate,
	)
	if err != nil {
		return fmt.Errorf("risk: 写入风险事件日志失败: %w", err)
	}

	return nil
}

func (t *DailyTracker) logEventTx(ctx context.Context, tx *sql.Tx, tradingDate, eventType, message, details string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO risk_activity_log (occurred_at, event_type, message, details, trading_date)
		 VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), eventType, message, details, tradingDate,
	)
	if err != nil {
		return fmt.Errorf("risk: 记录风险事件失败: %w", err)
	}
	return nil
}

func tradingDay(ts time.Time, resetHour int) string {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	utc := ts.UTC()
	shifted := utc.Add(-time.Duration(resetHour) * time.Hour)
	day := time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
	return day.Format("2006-01-02")
}
