package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-core/internal/executor"
)

// Repository 负责执行器快照的归档与读回。
// 快照整体以JSON存储，另冗余若干列用于SQL侧过滤与排序。
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository 创建归档仓库并初始化表结构。
func NewRepository(db *sql.DB, logger *zap.Logger) (*Repository, error) {
	if db == nil {
		return nil, errors.New("archive: 数据库实例不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	repo := &Repository{
		db:     db,
		logger: logger,
	}

	if err := repo.initSchema(); err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *Repository) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS executors (
			id TEXT PRIMARY KEY,
			controller_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			close_type TEXT,
			created_at TEXT NOT NULL,
			closed_at TEXT,
			net_pnl_pct TEXT NOT NULL,
			net_pnl_quote TEXT NOT NULL,
			cum_fees_quote TEXT NOT NULL,
			filled_amount_quote TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_executors_controller ON executors(controller_id);`,
		`CREATE INDEX IF NOT EXISTS idx_executors_status ON executors(status);`,
	}

	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("archive: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

// StoreOrUpdateExecutor 写入或更新一条执行器快照。
func (r *Repository) StoreOrUpdateExecutor(ctx context.Context, info executor.ExecutorInfo) error {
	if info.ID == "" {
		return errors.New("archive: 执行器ID不能为空")
	}

	snapshot, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("archive: 序列化执行器快照失败: %w", err)
	}

	var closedAt interface{}
	if !info.CloseTimestamp.IsZero() {
		closedAt = info.CloseTimestamp.UTC().Format(time.RFC3339)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM executors WHERE id = ?`, info.ID)
	switch scanErr := row.Scan(&exists); {
	case scanErr == nil:
		if _, execErr := tx.ExecContext(ctx,
			`UPDATE executors SET controller_id = ?, type = ?, status = ?, close_type = ?, closed_at = ?,
			 net_pnl_pct = ?, net_pnl_quote = ?, cum_fees_quote = ?, filled_amount_quote = ?,
			 snapshot = ?, updated_at = ?
			 WHERE id = ?`,
			info.ControllerID, string(info.Type), string(info.Status), string(info.CloseType), closedAt,
			info.NetPnlPct.String(), info.NetPnlQuote.String(), info.CumFeesQuote.String(),
			info.FilledAmountQuote.String(), string(snapshot), now, info.ID,
		); execErr != nil {
			err = fmt.Errorf("archive: 更新执行器快照失败: %w", execErr)
			return err
		}
	case errors.Is(scanErr, sql.ErrNoRows):
		if _, execErr := tx.ExecContext(ctx,
			`INSERT INTO executors (id, controller_id, type, status, close_type, created_at, closed_at,
			 net_pnl_pct, net_pnl_quote, cum_fees_quote, filled_amount_quote, snapshot, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			info.ID, info.ControllerID, string(info.Type), string(info.Status), string(info.CloseType),
			info.Timestamp.UTC().Format(time.RFC3339), closedAt,
			info.NetPnlPct.String(), info.NetPnlQuote.String(), info.CumFeesQuote.String(),
			info.FilledAmountQuote.String(), string(snapshot), now,
		); execErr != nil {
			err = fmt.Errorf("archive: 写入执行器快照失败: %w", execErr)
			return err
		}
	default:
		err = fmt.Errorf("archive: 查询执行器快照失败: %w", scanErr)
		return err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("archive: 提交事务失败: %w", commitErr)
	}

	return nil
}

// ExecutorsByController 读回指定控制器名下归档的全部执行器。
func (r *Repository) ExecutorsByController(ctx context.Context, controllerID string) ([]executor.ExecutorInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT snapshot FROM executors WHERE controller_id = ? ORDER BY created_at`, controllerID)
	if err != nil {
		return nil, fmt.Errorf("archive: 查询归档执行器失败: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// Executor 按ID读回单条执行器快照。
func (r *Repository) Executor(ctx context.Context, id string) (executor.ExecutorInfo, bool, error) {
	var raw string
	row := r.db.QueryRowContext(ctx, `SELECT snapshot FROM executors WHERE id = ?`, id)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return executor.ExecutorInfo{}, false, nil
		}
		return executor.ExecutorInfo{}, false, fmt.Errorf("archive: 查询执行器快照失败: %w", err)
	}

	var info executor.ExecutorInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return executor.ExecutorInfo{}, false, fmt.Errorf("archive: 解析执行器快照失败: %w", err)
	}
	return info, true, nil
}

// RecentExecutors 按更新时间倒序返回最近的归档快照。
func (r *Repository) RecentExecutors(ctx context.Context, limit int) ([]executor.ExecutorInfo, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT snapshot FROM executors ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: 查询最近执行器失败: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ControllerIDs 返回归档中出现过的全部控制器ID。
func (r *Repository) ControllerIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT controller_id FROM executors ORDER BY controller_id`)
	if err != nil {
		return nil, fmt.Errorf("archive: 查询控制器列表失败: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("archive: 读取控制器ID失败: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: 遍历控制器列表失败: %w", err)
	}
	return ids, nil
}

func scanSnapshots(rows *sql.Rows) ([]executor.ExecutorInfo, error) {
	var infos []executor.ExecutorInfo
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("archive: 读取执行器快照失败: %w", err)
		}

		var info executor.ExecutorInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("archive: 解析执行器快照失败: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: 遍历执行器快照失败: %w", err)
	}
	return infos, nil
}
