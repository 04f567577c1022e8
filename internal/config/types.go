package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Exchange    ExchangeConfig     `mapstructure:"exchange"`
	OpenAI      OpenAIConfig       `mapstructure:"openai"`
	Risk        RiskConfig         `mapstructure:"risk"`
	Executors   ExecutorsConfig    `mapstructure:"executors"`
	Controllers []ControllerConfig `mapstructure:"controllers"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Scheduler   SchedulerConfig    `mapstructure:"scheduler"`
	Monitor     MonitorConfig      `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeAccountConfig 描述一个交易所账户的连接信息。
type ExchangeAccountConfig struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	APIPass    string `mapstructure:"api_password"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// ExchangeConfig 描述交易所接入层配置。
// 执行器可能同时在多个交易所下单（套利双腿），账户按名称区分。
type ExchangeConfig struct {
	Accounts          []ExchangeAccountConfig `mapstructure:"accounts"`
	Retry             RetryConfig             `mapstructure:"retry"`
	OrderPollInterval time.Duration           `mapstructure:"order_poll_interval"`
}

// Account 按交易所名称查找账户配置。
func (c ExchangeConfig) Account(name string) (ExchangeAccountConfig, bool) {
	for _, account := range c.Accounts {
		if account.Name == name {
			return account, true
		}
	}
	return ExchangeAccountConfig{}, false
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RiskConfig 管理风控参数。
type RiskConfig struct {
	MaxActiveExecutors  int             `mapstructure:"max_active_executors"`
	MaxDailyLossQuote   decimal.Decimal `mapstructure:"max_daily_loss_quote"`
	DailyLossResetHour  int             `mapstructure:"daily_loss_reset_hour"`
	EnableDailyStopLoss bool            `mapstructure:"enable_daily_stop_loss"`
}

// ExecutorsConfig 控制执行器的容错与事件缓冲参数。
type ExecutorsConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	InboxSize  int `mapstructure:"inbox_size"`
}

// ControllerConfig 描述一个策略控制器实例。
type ControllerConfig struct {
	ID          string          `mapstructure:"id"`
	Type        string          `mapstructure:"type"`
	Exchange    string          `mapstructure:"exchange"`
	TradingPair string          `mapstructure:"trading_pair"`
	Amount      decimal.Decimal `mapstructure:"amount"`
	Timeframe   string          `mapstructure:"timeframe"`
	Lookback    int             `mapstructure:"lookback"`
	Barrier     BarrierConfig   `mapstructure:"barrier"`
	DCA         DCAGridConfig   `mapstructure:"dca"`

	// MinConfidence 仅 ai_advised 使用，低于该信心度的建议被忽略。
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// 控制器类型取值。
const (
	ControllerTypeDirectional = "directional"
	ControllerTypeDCAGrid     = "dca_grid"
	ControllerTypeAIAdvised   = "ai_advised"
)

// BarrierConfig 描述控制器下发给执行器的三重屏障参数。
type BarrierConfig struct {
	StopLoss           decimal.Decimal `mapstructure:"stop_loss"`
	TakeProfit         decimal.Decimal `mapstructure:"take_profit"`
	TimeLimit          time.Duration   `mapstructure:"time_limit"`
	TrailingActivation decimal.Decimal `mapstructure:"trailing_activation"`
	TrailingDelta      decimal.Decimal `mapstructure:"trailing_delta"`
}

// DCAGridConfig 描述分批建仓控制器的阶梯参数。
type DCAGridConfig struct {
	Levels      int             `mapstructure:"levels"`
	StepPct     decimal.Decimal `mapstructure:"step_pct"`
	AmountQuote decimal.Decimal `mapstructure:"amount_quote"`
	Mode        string          `mapstructure:"mode"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制两层循环的节奏：
// tick_interval 是执行器控制周期，controller_interval 是控制器决策周期。
type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	ControllerInterval time.Duration `mapstructure:"controller_interval"`
}

// MonitorConfig 控制监控服务。
type MonitorConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if len(c.Exchange.Accounts) == 0 {
		err = multierr.Append(err, errors.New("exchange.accounts 至少配置一个账户"))
	}
	seenAccounts := make(map[string]struct{}, len(c.Exchange.Accounts))
	for i, account := range c.Exchange.Accounts {
		if account.Name == "" {
			err = multierr.Append(err, fmt.Errorf("exchange.accounts[%d].name 不能为空", i))
			continue
		}
		if _, dup := seenAccounts[account.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("exchange.accounts 存在重复账户 %q", account.Name))
		}
		seenAccounts[account.Name] = struct{}{}
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Exchange.OrderPollInterval <= 0 {
		err = multierr.Append(err, errors.New("exchange.order_poll_interval 必须大于0"))
	}

	if c.Risk.MaxActiveExecutors <= 0 {
		err = multierr.Append(err, errors.New("risk.max_active_executors 必须大于0"))
	}
	if c.Risk.EnableDailyStopLoss {
		if !c.Risk.MaxDailyLossQuote.IsPositive() {
			err = multierr.Append(err, errors.New("risk.max_daily_loss_quote 必须为正"))
		}
		if c.Risk.DailyLossResetHour < 0 || c.Risk.DailyLossResetHour > 23 {
			err = multierr.Append(err, errors.New("risk.daily_loss_reset_hour 必须位于[0,23]"))
		}
	}

	if c.Executors.MaxRetries <= 0 {
		err = multierr.Append(err, errors.New("executors.max_retries 必须大于0"))
	}
	if c.Executors.InboxSize <= 0 {
		err = multierr.Append(err, errors.New("executors.inbox_size 必须大于0"))
	}

	err = multierr.Append(err, c.validateControllers())

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if c.Scheduler.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.tick_interval 必须大于0"))
	}
	if c.Scheduler.ControllerInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.controller_interval 必须大于0"))
	}
	if c.Scheduler.ControllerInterval < c.Scheduler.TickInterval {
		err = multierr.Append(err, errors.New("scheduler.controller_interval 不应小于 tick_interval"))
	}

	if c.Monitor.Enabled && c.Monitor.ListenAddr == "" {
		err = multierr.Append(err, errors.New("monitor.listen_addr 不能为空"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (c *Config) validateControllers() error {
	var err error
	seen := make(map[string]struct{}, len(c.Controllers))
	needsOpenAI := false

	for i, ctrl := range c.Controllers {
		prefix := fmt.Sprintf("controllers[%d]", i)
		if ctrl.ID == "" {
			err = multierr.Append(err, fmt.Errorf("%s.id 不能为空", prefix))
		} else if _, dup := seen[ctrl.ID]; dup {
			err = multierr.Append(err, fmt.Errorf("controllers 存在重复 id %q", ctrl.ID))
		} else {
			seen[ctrl.ID] = struct{}{}
		}
		if ctrl.Exchange == "" {
			err = multierr.Append(err, fmt.Errorf("%s.exchange 不能为空", prefix))
		} else if _, ok := c.Exchange.Account(ctrl.Exchange); !ok {
			err = multierr.Append(err, fmt.Errorf("%s.exchange %q 未在 exchange.accounts 中配置", prefix, ctrl.Exchange))
		}
		if ctrl.TradingPair == "" {
			err = multierr.Append(err, fmt.Errorf("%s.trading_pair 不能为空", prefix))
		}

		switch ctrl.Type {
		case ControllerTypeDirectional:
			if !ctrl.Amount.IsPositive() {
				err = multierr.Append(err, fmt.Errorf("%s.amount 必须为正", prefix))
			}
			if ctrl.Timeframe == "" {
				err = multierr.Append(err, fmt.Errorf("%s.timeframe 不能为空", prefix))
			}
			if ctrl.Lookback <= 0 {
				err = multierr.Append(err, fmt.Errorf("%s.lookback 必须大于0", prefix))
			}
		case ControllerTypeDCAGrid:
			if ctrl.DCA.Levels <= 0 {
				err = multierr.Append(err, fmt.Errorf("%s.dca.levels 必须大于0", prefix))
			}
			if !ctrl.DCA.StepPct.IsPositive() {
				err = multierr.Append(err, fmt.Errorf("%s.dca.step_pct 必须为正", prefix))
			}
			if !ctrl.DCA.AmountQuote.IsPositive() {
				err = multierr.Append(err, fmt.Errorf("%s.dca.amount_quote 必须为正", prefix))
			}
		case ControllerTypeAIAdvised:
			needsOpenAI = true
			if !ctrl.Amount.IsPositive() {
				err = multierr.Append(err, fmt.Errorf("%s.amount 必须为正", prefix))
			}
			if ctrl.Timeframe == "" {
				err = multierr.Append(err, fmt.Errorf("%s.timeframe 不能为空", prefix))
			}
			if ctrl.MinConfidence < 0 || ctrl.MinConfidence > 1 {
				err = multierr.Append(err, fmt.Errorf("%s.min_confidence 必须位于[0,1]", prefix))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("%s.type %q 非法", prefix, ctrl.Type))
		}
	}

	if needsOpenAI {
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空（配置了 ai_advised 控制器）"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	}
	return err
}
