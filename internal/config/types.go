package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了路由核心运行所需的全部配置项。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Trust       TrustConfig       `mapstructure:"trust"`
	Router      RouterConfig      `mapstructure:"router"`
	Mode        ModeConfig        `mapstructure:"mode"`
	Venues      []VenueConfig     `mapstructure:"venues"`
	RiskAdvisor RiskAdvisorConfig `mapstructure:"risk_advisor"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	// MonitorPort 为监控接口监听端口，0 表示不启动。
	MonitorPort int `mapstructure:"monitor_port"`
}

// TrustConfig 管理场所信任引擎参数。
type TrustConfig struct {
	MinScore        float64 `mapstructure:"min_score"`
	MaxScore        float64 `mapstructure:"max_score"`
	DefaultScore    float64 `mapstructure:"default_score"`
	DecayRatePerDay float64 `mapstructure:"decay_rate_per_day"`
	MaxPenalty      float64 `mapstructure:"max_penalty"`
	MaxReward       float64 `mapstructure:"max_reward"`
}

// RouterConfig 控制智能路由行为。
type RouterConfig struct {
	MaxPriceImpact   float64       `mapstructure:"max_price_impact"`
	FailOnHighImpact bool          `mapstructure:"fail_on_high_impact"`
	QuoteTTL         time.Duration `mapstructure:"quote_ttl"`
	QuoteRetries     int           `mapstructure:"quote_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	Simulation       bool          `mapstructure:"simulation"`
}

// ModeConfig 管理执行模式状态机的触发阈值。
type ModeConfig struct {
	HighVolatilityThreshold float64 `mapstructure:"high_volatility_threshold"`
	FailureCountThreshold   int     `mapstructure:"failure_count_threshold"`
	MinLiquidityUSD         float64 `mapstructure:"min_liquidity_usd"`
	LargeSizeThreshold      float64 `mapstructure:"large_size_threshold"`
	HighCongestionThreshold float64 `mapstructure:"high_congestion_threshold"`
	GasVolatilityThreshold  float64 `mapstructure:"gas_volatility_threshold"`
	RiskScoreEscalation     float64 `mapstructure:"risk_score_escalation"`
	CustomFactorEscalation  float64 `mapstructure:"custom_factor_escalation"`
}

// VenueConfig 描述一个参与路由的场所。
type VenueConfig struct {
	ID      string `mapstructure:"id"`
	Type    string `mapstructure:"type"` // sim | ccxt
	Enabled bool   `mapstructure:"enabled"`

	// ccxt 适配器参数。
	APIKey     string            `mapstructure:"api_key"`
	APISecret  string            `mapstructure:"api_secret"`
	APIPass    string            `mapstructure:"api_password"`
	UseSandbox bool              `mapstructure:"use_sandbox"`
	TakerFee   float64           `mapstructure:"taker_fee"`
	Symbols    map[string]string `mapstructure:"symbols"`

	// sim 适配器参数。
	BasePrice    float64  `mapstructure:"base_price"`
	LiquidityUSD float64  `mapstructure:"liquidity_usd"`
	FeeRate      float64  `mapstructure:"fee_rate"`
	ImpactFactor float64  `mapstructure:"impact_factor"`
	FailEvery    int      `mapstructure:"fail_every"`
	Assets       []string `mapstructure:"assets"`
}

// RiskAdvisorConfig 描述可选的大模型风险顾问。
type RiskAdvisorConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
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

// SchedulerConfig 控制演示循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
	Assets       []string      `mapstructure:"assets"`
	Quantity     float64       `mapstructure:"quantity"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.App.MonitorPort < 0 || c.App.MonitorPort > 65535 {
		err = multierr.Append(err, errors.New("app.monitor_port 必须位于 [0,65535]"))
	}

	if c.Trust.MinScore < 0 || c.Trust.MinScore >= c.Trust.MaxScore {
		err = multierr.Append(err, errors.New("trust.min_score 必须非负且小于 max_score"))
	}
	if c.Trust.MaxScore > 1 {
		err = multierr.Append(err, errors.New("trust.max_score 不能大于1"))
	}
	if c.Trust.DefaultScore < c.Trust.MinScore || c.Trust.DefaultScore > c.Trust.MaxScore {
		err = multierr.Append(err, errors.New("trust.default_score 必须位于 [min_score, max_score]"))
	}
	if c.Trust.DecayRatePerDay < 0 {
		err = multierr.Append(err, errors.New("trust.decay_rate_per_day 不能为负"))
	}
	if c.Trust.MaxPenalty <= 0 || c.Trust.MaxPenalty > 1 {
		err = multierr.Append(err, errors.New("trust.max_penalty 必须位于(0,1]"))
	}
	if c.Trust.MaxReward <= 0 || c.Trust.MaxReward > 1 {
		err = multierr.Append(err, errors.New("trust.max_reward 必须位于(0,1]"))
	}

	if c.Router.MaxPriceImpact <= 0 || c.Router.MaxPriceImpact > 1 {
		err = multierr.Append(err, errors.New("router.max_price_impact 必须位于(0,1]"))
	}
	if c.Router.QuoteTTL < 0 {
		err = multierr.Append(err, errors.New("router.quote_ttl 不能为负"))
	}
	if c.Router.QuoteRetries <= 0 {
		err = multierr.Append(err, errors.New("router.quote_retries 必须大于0"))
	}
	if c.Router.RetryDelay < 0 {
		err = multierr.Append(err, errors.New("router.retry_delay 不能为负"))
	}

	if c.Mode.HighVolatilityThreshold <= 0 || c.Mode.HighVolatilityThreshold > 1 {
		err = multierr.Append(err, errors.New("mode.high_volatility_threshold 必须位于(0,1]"))
	}
	if c.Mode.FailureCountThreshold <= 0 {
		err = multierr.Append(err, errors.New("mode.failure_count_threshold 必须大于0"))
	}
	if c.Mode.MinLiquidityUSD < 0 {
		err = multierr.Append(err, errors.New("mode.min_liquidity_usd 不能为负"))
	}
	if c.Mode.LargeSizeThreshold <= 0 || c.Mode.LargeSizeThreshold > 1 {
		err = multierr.Append(err, errors.New("mode.large_size_threshold 必须位于(0,1]"))
	}
	if c.Mode.HighCongestionThreshold <= 0 || c.Mode.HighCongestionThreshold > 1 {
		err = multierr.Append(err, errors.New("mode.high_congestion_threshold 必须位于(0,1]"))
	}
	if c.Mode.GasVolatilityThreshold <= 0 {
		err = multierr.Append(err, errors.New("mode.gas_volatility_threshold 必须大于0"))
	}

	if len(c.Venues) == 0 {
		err = multierr.Append(err, errors.New("venues 至少配置一个场所"))
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.ID == "" {
			err = multierr.Append(err, fmt.Errorf("venues[%d].id 不能为空", i))
			continue
		}
		if seen[v.ID] {
			err = multierr.Append(err, fmt.Errorf("venues[%d].id 重复: %s", i, v.ID))
		}
		seen[v.ID] = true
		switch strings.ToLower(v.Type) {
		case "sim":
		case "ccxt":
			if len(v.Symbols) == 0 {
				err = multierr.Append(err, fmt.Errorf("venues[%d] (ccxt) 必须配置 symbols 映射", i))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("venues[%d].type 取值非法: %s", i, v.Type))
		}
	}

	if c.RiskAdvisor.Enabled {
		if c.RiskAdvisor.APIKey == "" {
			err = multierr.Append(err, errors.New("risk_advisor.api_key 不能为空"))
		}
		if c.RiskAdvisor.Model == "" {
			err = multierr.Append(err, errors.New("risk_advisor.model 不能为空"))
		}
		if c.RiskAdvisor.Timeout <= 0 {
			err = multierr.Append(err, errors.New("risk_advisor.timeout 必须大于0"))
		}
	}

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

	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}
	if len(c.Scheduler.Assets) == 0 {
		err = multierr.Append(err, errors.New("scheduler.assets 至少包含一个资产"))
	}
	if c.Scheduler.Quantity <= 0 {
		err = multierr.Append(err, errors.New("scheduler.quantity 必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
