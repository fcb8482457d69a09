package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "dexrouter"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.monitor_port", 0)

	v.SetDefault("trust.min_score", 0.0)
	v.SetDefault("trust.max_score", 1.0)
	v.SetDefault("trust.default_score", 0.5)
	v.SetDefault("trust.decay_rate_per_day", 0.01)
	v.SetDefault("trust.max_penalty", 0.2)
	v.SetDefault("trust.max_reward", 0.1)

	v.SetDefault("router.max_price_impact", 0.05)
	v.SetDefault("router.fail_on_high_impact", true)
	v.SetDefault("router.quote_ttl", "30s")
	v.SetDefault("router.quote_retries", 3)
	v.SetDefault("router.retry_delay", "500ms")
	v.SetDefault("router.simulation", true)

	v.SetDefault("mode.high_volatility_threshold", 0.7)
	v.SetDefault("mode.failure_count_threshold", 2)
	v.SetDefault("mode.min_liquidity_usd", 50000)
	v.SetDefault("mode.large_size_threshold", 0.15)
	v.SetDefault("mode.high_congestion_threshold", 0.6)
	v.SetDefault("mode.gas_volatility_threshold", 0.2)
	v.SetDefault("mode.risk_score_escalation", 0.7)
	v.SetDefault("mode.custom_factor_escalation", 0.8)

	v.SetDefault("risk_advisor.enabled", false)
	v.SetDefault("risk_advisor.base_url", "https://api.openai.com/v1")
	v.SetDefault("risk_advisor.model", "gpt-4.1")
	v.SetDefault("risk_advisor.timeout", "15s")

	v.SetDefault("database.path", "data/dex_router.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.loop_interval", "1m")
	v.SetDefault("scheduler.assets", []string{"ETH/USDC"})
	v.SetDefault("scheduler.quantity", 10)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
