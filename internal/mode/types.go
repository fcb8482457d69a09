package mode

import "time"

// Mode 表示执行模式状态机的四个状态。
type Mode string

const (
	ModeNormal  Mode = "NORMAL"
	ModeStealth Mode = "STEALTH"
	ModeSpeed   Mode = "SPEED"
	ModeSafety  Mode = "SAFETY"
)

// Params 是每个模式固定携带的参数包。
type Params struct {
	MaxSlippageBps     float64
	GasPriceMultiplier float64
	FragmentCount      int
	FragmentInterval   time.Duration
	UsePrivateTx       bool
	RequireSimulation  bool
}

// paramsFor 返回模式对应的参数包。未知模式按 NORMAL 处理。
func paramsFor(m Mode) Params {
	switch m {
	case ModeStealth:
		return Params{
			MaxSlippageBps:     50,
			GasPriceMultiplier: 1.1,
			FragmentCount:      4,
			FragmentInterval:   30 * time.Second,
			UsePrivateTx:       true,
			RequireSimulation:  true,
		}
	case ModeSpeed:
		return Params{
			MaxSlippageBps:     150,
			GasPriceMultiplier: 1.5,
			FragmentCount:      1,
		}
	case ModeSafety:
		return Params{
			MaxSlippageBps:     30,
			GasPriceMultiplier: 1.0,
			FragmentCount:      2,
			FragmentInterval:   60 * time.Second,
			UsePrivateTx:       true,
			RequireSimulation:  true,
		}
	default:
		return Params{
			MaxSlippageBps:     100,
			GasPriceMultiplier: 1.0,
			FragmentCount:      1,
		}
	}
}

// RiskReport 是外部交易风险报告，由风险顾问或调用方提供。
type RiskReport struct {
	RiskScore      float64
	PoolVolatility float64
	Summary        string
}

// FailureRecord 描述一次近期执行失败。
type FailureRecord struct {
	Asset      string
	Reason     string
	OccurredAt time.Time
}

// Context 是模式决策的输入上下文。指针字段表示"未知"而非零值，
// 缺失字段在决策时取安全默认。
type Context struct {
	VolatilityIndex         float64
	OrderSizeRelativeToPool float64
	GasPriceVolatility      float64
	RecentVolatileBlocks    int
	MempoolCongestion       float64
	RecentFailureCount      int
	RecentFailures          []FailureRecord

	RouterRecommendation  string
	RiskReport            *RiskReport
	HistoricalSuccessRate *float64
	TokenLiquidityUSD     *float64
	CustomRiskFactors     map[string]float64
}

// Overrides 是模式参数之上的显式覆盖。与 applyModeToOrder 的
// "只收紧"规则不同，显式覆盖允许有意放宽。
type Overrides struct {
	MaxSlippageBps     *float64
	GasPriceMultiplier *float64
	FragmentCount      *int
	FragmentInterval   *time.Duration
	UsePrivateTx       *bool
	RequireSimulation  *bool

	AvoidVenues  []string
	PreferVenues []string
}

func (o *Overrides) empty() bool {
	return o.MaxSlippageBps == nil &&
		o.GasPriceMultiplier == nil &&
		o.FragmentCount == nil &&
		o.FragmentInterval == nil &&
		o.UsePrivateTx == nil &&
		o.RequireSimulation == nil &&
		len(o.AvoidVenues) == 0 &&
		len(o.PreferVenues) == 0
}

// SelectionResult 是一次模式决策的完整输出。
type SelectionResult struct {
	Mode                Mode
	PrimaryReason       string
	ContributingFactors []string
	Overrides           *Overrides
	DecidedAt           time.Time
}
