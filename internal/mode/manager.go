package mode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"dex-router/internal/config"
	"dex-router/internal/order"
)

// ErrContextNotImplemented 表示自动上下文采集尚未接入实时行情。
// 调用方必须自行构造 Context 传入 DetermineExecutionMode，
// 绝不允许在缺失集成的情况下用编造的市场数据继续执行。
var ErrContextNotImplemented = errors.New("execution context gathering is not implemented; supply the context manually")

// ExecutionMemory 是模式管理器对执行记忆的窄依赖，
// 用于在覆盖建议中给出规避/偏好场所。
type ExecutionMemory interface {
	RoutesForPair(ctx context.Context, asset string) (map[string]float64, error)
}

// Manager 是执行模式状态机。初始状态 NORMAL。
type Manager struct {
	cfg    config.ModeConfig
	logger *zap.Logger
	memory ExecutionMemory

	mu      sync.Mutex
	current Mode

	telemetry *telemetry

	now func() time.Time
}

// NewManager 创建模式管理器。memory 可为 nil，此时覆盖建议不含场所偏好。
func NewManager(cfg config.ModeConfig, memory ExecutionMemory, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		memory:    memory,
		current:   ModeNormal,
		telemetry: newTelemetry(),
		now:       time.Now,
	}
}

// CurrentMode 返回状态机当前模式。
func (m *Manager) CurrentMode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ParamsFor 返回模式对应的参数包。
func (m *Manager) ParamsFor(mode Mode) Params {
	return paramsFor(mode)
}

// GatherExecutionContext 是接入实时行情的桥接点，当前版本未实现。
// 必须响亮失败而不是静默兜底：靠自动采集的调用方不能在编造数据上继续。
func (m *Manager) GatherExecutionContext(_ context.Context, asset string) (Context, error) {
	return Context{}, fmt.Errorf("mode: gather context for %s: %w", asset, ErrContextNotImplemented)
}

// DetermineExecutionMode 按严格优先级评估触发条件并更新当前模式。
// 第一个命中的触发决定模式；之后的检查只追加 contributingFactors，
// 不覆盖已选中的更高优先级模式。缺失的上下文字段取安全默认。
func (m *Manager) DetermineExecutionMode(ctx context.Context, o order.Order, ec Context) SelectionResult {
	ec = normalizeContext(ec)

	selected := ModeNormal
	primary := "Normal market conditions"
	decided := false
	var factors []string

	pick := func(mode Mode, reason string) {
		factors = append(factors, reason)
		if !decided {
			selected = mode
			primary = reason
			decided = true
		}
	}

	if ec.VolatilityIndex >= m.cfg.HighVolatilityThreshold {
		pick(ModeSafety, fmt.Sprintf("High volatility: %.2f", ec.VolatilityIndex))
	}
	if ec.RecentFailureCount >= m.cfg.FailureCountThreshold {
		pick(ModeSafety, fmt.Sprintf("Recent failures: %d", ec.RecentFailureCount))
	}
	if ec.TokenLiquidityUSD != nil && *ec.TokenLiquidityUSD < m.cfg.MinLiquidityUSD {
		pick(ModeSafety, fmt.Sprintf("Low liquidity: $%.0f", *ec.TokenLiquidityUSD))
	}
	if ec.OrderSizeRelativeToPool >= m.cfg.LargeSizeThreshold {
		pick(ModeStealth, fmt.Sprintf("Large order size: %.1f%% of pool", ec.OrderSizeRelativeToPool*100))
	}
	if ec.MempoolCongestion >= m.cfg.HighCongestionThreshold {
		pick(ModeStealth, fmt.Sprintf("High mempool congestion: %.2f", ec.MempoolCongestion))
	}
	if ec.GasPriceVolatility >= m.cfg.GasVolatilityThreshold && ec.RecentVolatileBlocks > 3 {
		pick(ModeSpeed, fmt.Sprintf("Volatile gas prices: %.2f over %d blocks", ec.GasPriceVolatility, ec.RecentVolatileBlocks))
	}

	// 附加升级检查，只向上收紧，不降低已选模式。
	if ec.RiskReport != nil && ec.RiskReport.RiskScore > m.cfg.RiskScoreEscalation {
		reason := fmt.Sprintf("High transaction risk score: %.2f", ec.RiskReport.RiskScore)
		factors = append(factors, reason)
		if selected == ModeNormal {
			selected = ModeSafety
			primary = reason
			decided = true
		}
	}
	for _, name := range sortedFactorNames(ec.CustomRiskFactors) {
		value := ec.CustomRiskFactors[name]
		if value <= m.cfg.CustomFactorEscalation {
			continue
		}
		reason := fmt.Sprintf("Custom risk factor %s: %.2f", name, value)
		factors = append(factors, reason)
		// 自定义风险超限无条件强制 SAFETY，即便更早的触发选了其他模式。
		if selected != ModeSafety {
			selected = ModeSafety
			primary = reason
			decided = true
		}
	}
	switch ec.RouterRecommendation {
	case "aggressive":
		factors = append(factors, "Router recommends aggressive execution")
		if selected == ModeNormal {
			selected = ModeSpeed
			primary = "Router recommends aggressive execution"
			decided = true
		}
	case "passive":
		factors = append(factors, "Router recommends passive execution")
	}

	now := m.now()

	m.mu.Lock()
	previous := m.current
	m.current = selected
	m.mu.Unlock()

	if previous != selected {
		m.telemetry.recordSwitch(SwitchRecord{
			From:          previous,
			To:            selected,
			Asset:         o.Asset,
			PrimaryReason: primary,
			Context:       ec,
			SwitchedAt:    now,
		})
		m.logger.Info("执行模式切换",
			zap.String("asset", o.Asset),
			zap.String("from", string(previous)),
			zap.String("to", string(selected)),
			zap.String("reason", primary),
		)
	}

	return SelectionResult{
		Mode:                selected,
		PrimaryReason:       primary,
		ContributingFactors: factors,
		Overrides:           m.buildOverrides(ctx, o, selected, ec),
		DecidedAt:           now,
	}
}

// ApplyModeToOrder 把模式参数写进订单副本。
// 滑点上限只收紧不放宽；显式覆盖例外，允许有意放宽。
func (m *Manager) ApplyModeToOrder(o order.Order, mode Mode, overrides *Overrides) order.Order {
	out := o.Clone()
	p := paramsFor(mode)

	if out.MaxSlippageBps <= 0 || out.MaxSlippageBps > p.MaxSlippageBps {
		out.MaxSlippageBps = p.MaxSlippageBps
	}
	out.GasPriceMultiplier = p.GasPriceMultiplier
	out.FragmentCount = p.FragmentCount
	out.FragmentInterval = p.FragmentInterval
	out.UsePrivateTx = p.UsePrivateTx
	out.RequireSimulation = p.RequireSimulation

	switch mode {
	case ModeSpeed:
		out.Urgency = order.UrgencyHigh
	case ModeSafety, ModeStealth:
		out.Urgency = order.UrgencyLow
	default:
		out.Urgency = order.UrgencyMedium
	}

	if overrides != nil {
		if overrides.MaxSlippageBps != nil {
			out.MaxSlippageBps = *overrides.MaxSlippageBps
		}
		if overrides.GasPriceMultiplier != nil {
			out.GasPriceMultiplier = *overrides.GasPriceMultiplier
		}
		if overrides.FragmentCount != nil {
			out.FragmentCount = *overrides.FragmentCount
		}
		if overrides.FragmentInterval != nil {
			out.FragmentInterval = *overrides.FragmentInterval
		}
		if overrides.UsePrivateTx != nil {
			out.UsePrivateTx = *overrides.UsePrivateTx
		}
		if overrides.RequireSimulation != nil {
			out.RequireSimulation = *overrides.RequireSimulation
		}
	}

	tag := "mode:" + string(mode)
	if !out.HasTag(tag) {
		out.Tags = append(out.Tags, tag)
	}

	return out
}

// RecordExecutionOutcome 更新模式表现计数，并回填 60 秒内同资产
// 同模式的切换记录。slippageBps 为 nil 表示滑点未知。
func (m *Manager) RecordExecutionOutcome(mode Mode, o order.Order, success bool, slippageBps *float64) {
	m.telemetry.recordOutcome(mode, o.Asset, success, slippageBps, m.now())
}

// ModeSwitches 返回模式切换历史快照，从旧到新，至多 100 条。
func (m *Manager) ModeSwitches() []SwitchRecord {
	return m.telemetry.Switches()
}

// ModePerformance 返回每模式累计表现快照。
func (m *Manager) ModePerformance() map[Mode]PerfRecord {
	return m.telemetry.Performance()
}

// normalizeContext 把缺失或非法字段归到安全默认值。
func normalizeContext(ec Context) Context {
	if ec.VolatilityIndex < 0 {
		ec.VolatilityIndex = 0
	}
	if ec.OrderSizeRelativeToPool < 0 {
		ec.OrderSizeRelativeToPool = 0
	}
	if ec.GasPriceVolatility < 0 {
		ec.GasPriceVolatility = 0
	}
	if ec.MempoolCongestion < 0 {
		ec.MempoolCongestion = 0
	}
	if ec.RecentVolatileBlocks < 0 {
		ec.RecentVolatileBlocks = 0
	}
	if ec.RecentFailureCount < 0 {
		ec.RecentFailureCount = 0
	}
	if ec.RecentFailureCount < len(ec.RecentFailures) {
		ec.RecentFailureCount = len(ec.RecentFailures)
	}
	return ec
}

func sortedFactorNames(factors map[string]float64) []string {
	if len(factors) == 0 {
		return nil
	}
	names := make([]string, 0, len(factors))
	for name := range factors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
