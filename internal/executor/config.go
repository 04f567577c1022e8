package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// ConfigType 标识执行器配置的具体种类。
type ConfigType string

const (
	ConfigTypePosition  ConfigType = "position_executor"
	ConfigTypeDCA       ConfigType = "dca_executor"
	ConfigTypeArbitrage ConfigType = "arbitrage_executor"
)

// Config 是执行器配置的封闭联合类型，仅允许本包内的三种变体实现。
// 编排器对它做穷举分派，新增变体必须同步扩展所有分派点。
type Config interface {
	Base() ConfigBase
	Type() ConfigType
	Validate() error

	sealedConfig()
}

// ConfigBase 聚合全部配置变体共有的字段。
type ConfigBase struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ControllerID string    `json:"controller_id"`
	Leverage     int       `json:"leverage,omitempty"`
}

func (b ConfigBase) validate() error {
	var err error
	if b.ID == "" {
		err = multierr.Append(err, errors.New("executor: 配置缺少 id"))
	}
	if b.Timestamp.IsZero() {
		err = multierr.Append(err, errors.New("executor: 配置缺少 timestamp"))
	}
	if b.ControllerID == "" {
		err = multierr.Append(err, errors.New("executor: 配置缺少 controller_id"))
	}
	if b.Leverage < 0 {
		err = multierr.Append(err, errors.New("executor: leverage 不能为负"))
	}
	return err
}

// NewExecutorID 基于配置内容派生唯一标识。
// 同一控制器在同一时刻针对不同内容生成的 ID 互不相同。
func NewExecutorID(controllerID string, ts time.Time, parts ...string) string {
	payload := fmt.Sprintf("%s|%d|%s", controllerID, ts.UnixNano(), strings.Join(parts, "|"))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(payload)).String()
}

// TrailingStop 描述移动止损参数。
// ActivationPrice 是激活所需的净收益率，TrailingDelta 是回撤触发幅度。
type TrailingStop struct {
	ActivationPrice decimal.Decimal `json:"activation_price"`
	TrailingDelta   decimal.Decimal `json:"trailing_delta"`
}

func (t *TrailingStop) validate() error {
	var err error
	if !t.ActivationPrice.IsPositive() {
		err = multierr.Append(err, errors.New("executor: trailing_stop.activation_price 必须为正"))
	}
	if !t.TrailingDelta.IsPositive() {
		err = multierr.Append(err, errors.New("executor: trailing_stop.trailing_delta 必须为正"))
	}
	return err
}

// TripleBarrier 描述一组风险屏障及各自的下单方式。
type TripleBarrier struct {
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	TimeLimit    time.Duration   `json:"time_limit"`
	TrailingStop *TrailingStop   `json:"trailing_stop,omitempty"`

	OpenOrderType       OrderType `json:"open_order_type,omitempty"`
	TakeProfitOrderType OrderType `json:"take_profit_order_type,omitempty"`
	StopLossOrderType   OrderType `json:"stop_loss_order_type,omitempty"`
	TimeLimitOrderType  OrderType `json:"time_limit_order_type,omitempty"`
}

// normalized 返回补全默认下单方式后的屏障配置。
func (t TripleBarrier) normalized() TripleBarrier {
	if t.OpenOrderType == "" {
		t.OpenOrderType = OrderTypeLimit
	}
	if t.TakeProfitOrderType == "" {
		t.TakeProfitOrderType = OrderTypeMarket
	}
	if t.StopLossOrderType == "" {
		t.StopLossOrderType = OrderTypeMarket
	}
	if t.TimeLimitOrderType == "" {
		t.TimeLimitOrderType = OrderTypeMarket
	}
	return t
}

func (t TripleBarrier) validate() error {
	t = t.normalized()

	var err error
	if !t.StopLoss.IsPositive() && !t.TakeProfit.IsPositive() && t.TimeLimit <= 0 {
		err = multierr.Append(err, errors.New("executor: 止损/止盈/时限至少配置一项"))
	}
	if t.StopLossOrderType != OrderTypeMarket {
		err = multierr.Append(err, errors.New("executor: 止损只支持市价单"))
	}
	if t.TimeLimitOrderType != OrderTypeMarket {
		err = multierr.Append(err, errors.New("executor: 时限平仓只支持市价单"))
	}
	if t.StopLoss.IsNegative() || t.TakeProfit.IsNegative() {
		err = multierr.Append(err, errors.New("executor: 屏障比例不能为负"))
	}
	if t.TimeLimit < 0 {
		err = multierr.Append(err, errors.New("executor: time_limit 不能为负"))
	}
	if t.TrailingStop != nil {
		err = multierr.Append(err, t.TrailingStop.validate())
	}
	return err
}

// PositionExecutorConfig 描述单仓位三重屏障执行器。
type PositionExecutorConfig struct {
	ConfigBase

	Exchange    string          `json:"exchange"`
	TradingPair string          `json:"trading_pair"`
	Side        Side            `json:"side"`
	Amount      decimal.Decimal `json:"amount"`

	// EntryPrice 为空时按买一/卖一价推导。
	EntryPrice decimal.Decimal `json:"entry_price"`

	Barrier TripleBarrier `json:"barrier"`

	// ActivationBounds 控制开仓单与盘口的距离，空则不限制。
	ActivationBounds []decimal.Decimal `json:"activation_bounds,omitempty"`

	LevelID string `json:"level_id,omitempty"`
}

func (c PositionExecutorConfig) Base() ConfigBase { return c.ConfigBase }
func (c PositionExecutorConfig) Type() ConfigType { return ConfigTypePosition }
func (c PositionExecutorConfig) sealedConfig()    {}

// Validate 校验配置完整性。
func (c PositionExecutorConfig) Validate() error {
	err := c.ConfigBase.validate()
	if c.Exchange == "" {
		err = multierr.Append(err, errors.New("executor: position 配置缺少 exchange"))
	}
	if c.TradingPair == "" {
		err = multierr.Append(err, errors.New("executor: position 配置缺少 trading_pair"))
	}
	if !c.Side.Valid() {
		err = multierr.Append(err, fmt.Errorf("executor: position 配置方向非法 %q", c.Side))
	}
	if !c.Amount.IsPositive() {
		err = multierr.Append(err, errors.New("executor: position 配置 amount 必须为正"))
	}
	if c.EntryPrice.IsNegative() {
		err = multierr.Append(err, errors.New("executor: position 配置 entry_price 不能为负"))
	}
	err = multierr.Append(err, c.Barrier.validate())
	if len(c.ActivationBounds) > 2 {
		err = multierr.Append(err, errors.New("executor: activation_bounds 至多两个元素"))
	}
	if err != nil {
		return fmt.Errorf("executor: position 配置校验失败: %w", err)
	}
	return nil
}

// DCAMode 表示 DCA 执行器的挂单模式。
type DCAMode string

const (
	DCAModeMaker DCAMode = "maker"
	DCAModeTaker DCAMode = "taker"
)

// 吃单模式缺省激活区间：贴近 0.01% 才追价，偏离超过 0.5% 放弃追价。
var defaultTakerActivationBounds = []decimal.Decimal{
	decimal.RequireFromString("0.0001"),
	decimal.RequireFromString("0.005"),
}

// DCAExecutorConfig 描述多级分批建仓执行器。
// Prices 与 AmountsQuote 一一对应，整组级别视作一个逻辑仓位。
type DCAExecutorConfig struct {
	ConfigBase

	Exchange    string  `json:"exchange"`
	TradingPair string  `json:"trading_pair"`
	Side        Side    `json:"side"`
	Mode        DCAMode `json:"mode"`

	Prices       []decimal.Decimal `json:"prices"`
	AmountsQuote []decimal.Decimal `json:"amounts_quote"`

	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	TimeLimit    time.Duration   `json:"time_limit"`
	TrailingStop *TrailingStop   `json:"trailing_stop,omitempty"`

	// ActivationBounds 挂单模式为单侧界，吃单模式为双侧界；
	// 吃单模式为空时套用缺省区间。
	ActivationBounds []decimal.Decimal `json:"activation_bounds,omitempty"`
}

func (c DCAExecutorConfig) Base() ConfigBase { return c.ConfigBase }
func (c DCAExecutorConfig) Type() ConfigType { return ConfigTypeDCA }
func (c DCAExecutorConfig) sealedConfig()    {}

// normalizedActivationBounds 返回按模式补全后的激活区间。
func (c DCAExecutorConfig) normalizedActivationBounds() []decimal.Decimal {
	if c.Mode == DCAModeTaker && len(c.ActivationBounds) == 0 {
		return defaultTakerActivationBounds
	}
	return c.ActivationBounds
}

// openOrderType 返回开仓委托方式：挂单模式限价，吃单模式市价。
func (c DCAExecutorConfig) openOrderType() OrderType {
	if c.Mode == DCAModeMaker {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

// MaxAmountQuote 返回全部级别的计价币总额。
func (c DCAExecutorConfig) MaxAmountQuote() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range c.AmountsQuote {
		total = total.Add(amount)
	}
	return total
}

// TargetPositionAveragePrice 返回全部级别按金额加权的目标均价。
func (c DCAExecutorConfig) TargetPositionAveragePrice() decimal.Decimal {
	total := c.MaxAmountQuote()
	if !total.IsPositive() {
		return decimal.Zero
	}
	weighted := decimal.Zero
	for i, price := range c.Prices {
		weighted = weighted.Add(price.Mul(c.AmountsQuote[i]))
	}
	return weighted.Div(total)
}

// Validate 校验配置完整性。
func (c DCAExecutorConfig) Validate() error {
	err := c.ConfigBase.validate()
	if c.Exchange == "" {
		err = multierr.Append(err, errors.New("executor: dca 配置缺少 exchange"))
	}
	if c.TradingPair == "" {
		err = multierr.Append(err, errors.New("executor: dca 配置缺少 trading_pair"))
	}
	if !c.Side.Valid() {
		err = multierr.Append(err, fmt.Errorf("executor: dca 配置方向非法 %q", c.Side))
	}
	if c.Mode != DCAModeMaker && c.Mode != DCAModeTaker {
		err = multierr.Append(err, fmt.Errorf("executor: dca 配置模式非法 %q", c.Mode))
	}
	if len(c.Prices) == 0 {
		err = multierr.Append(err, errors.New("executor: dca 配置至少包含一个级别"))
	}
	if len(c.Prices) != len(c.AmountsQuote) {
		err = multierr.Append(err, errors.New("executor: dca 配置 prices 与 amounts_quote 长度不一致"))
	}
	for i, price := range c.Prices {
		if !price.IsPositive() {
			err = multierr.Append(err, fmt.Errorf("executor: dca 配置第 %d 级价格必须为正", i))
		}
	}
	for i, amount := range c.AmountsQuote {
		if !amount.IsPositive() {
			err = multierr.Append(err, fmt.Errorf("executor: dca 配置第 %d 级金额必须为正", i))
		}
	}
	if c.StopLoss.IsNegative() || c.TakeProfit.IsNegative() {
		err = multierr.Append(err, errors.New("executor: dca 配置屏障比例不能为负"))
	}
	if c.TimeLimit < 0 {
		err = multierr.Append(err, errors.New("executor: dca 配置 time_limit 不能为负"))
	}
	if c.TrailingStop != nil {
		err = multierr.Append(err, c.TrailingStop.validate())
	}
	if n := len(c.ActivationBounds); n > 2 {
		err = multierr.Append(err, errors.New("executor: dca 配置 activation_bounds 至多两个元素"))
	} else if c.Mode == DCAModeTaker && n == 1 {
		err = multierr.Append(err, errors.New("executor: 吃单模式 activation_bounds 需要上下两侧"))
	}
	if err != nil {
		return fmt.Errorf("executor: dca 配置校验失败: %w", err)
	}
	return nil
}

// ConnectorPair 标识一条交易所与交易对的组合。
type ConnectorPair struct {
	Exchange    string `json:"exchange"`
	TradingPair string `json:"trading_pair"`
}

func (p ConnectorPair) String() string {
	return p.Exchange + ":" + p.TradingPair
}

func (p ConnectorPair) validate(field string) error {
	var err error
	if p.Exchange == "" {
		err = multierr.Append(err, fmt.Errorf("executor: arbitrage 配置缺少 %s.exchange", field))
	}
	if p.TradingPair == "" {
		err = multierr.Append(err, fmt.Errorf("executor: arbitrage 配置缺少 %s.trading_pair", field))
	}
	return err
}

// ArbitrageExecutorConfig 描述跨市场双腿套利执行器。
type ArbitrageExecutorConfig struct {
	ConfigBase

	BuyingMarket  ConnectorPair `json:"buying_market"`
	SellingMarket ConnectorPair `json:"selling_market"`

	OrderAmount      decimal.Decimal `json:"order_amount"`
	MinProfitability decimal.Decimal `json:"min_profitability"`
}

func (c ArbitrageExecutorConfig) Base() ConfigBase { return c.ConfigBase }
func (c ArbitrageExecutorConfig) Type() ConfigType { return ConfigTypeArbitrage }
func (c ArbitrageExecutorConfig) sealedConfig()    {}

// Validate 校验配置完整性。
func (c ArbitrageExecutorConfig) Validate() error {
	err := c.ConfigBase.validate()
	err = multierr.Append(err, c.BuyingMarket.validate("buying_market"))
	err = multierr.Append(err, c.SellingMarket.validate("selling_market"))
	if c.BuyingMarket == c.SellingMarket {
		err = multierr.Append(err, errors.New("executor: arbitrage 两腿市场不能相同"))
	}
	if !c.OrderAmount.IsPositive() {
		err = multierr.Append(err, errors.New("executor: arbitrage 配置 order_amount 必须为正"))
	}
	if c.MinProfitability.IsNegative() {
		err = multierr.Append(err, errors.New("executor: arbitrage 配置 min_profitability 不能为负"))
	}
	if err != nil {
		return fmt.Errorf("executor: arbitrage 配置校验失败: %w", err)
	}
	return nil
}
