//go:build integration
// +build integration

package execution

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"dex-router/internal/config"
	"dex-router/internal/mode"
	"dex-router/internal/order"
	"dex-router/internal/router"
	"dex-router/internal/trust"
	"dex-router/internal/venue"
)

func integrationTrustConfig() config.TrustConfig {
	return config.TrustConfig{
		MinScore:     0,
		MaxScore:     1,
		DefaultScore: 0.5,
		MaxPenalty:   0.3,
		MaxReward:    0.1,
	}
}

func integrationRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		MaxPriceImpact:   0.05,
		FailOnHighImpact: true,
		QuoteTTL:         30 * time.Second,
		QuoteRetries:     1,
		RetryDelay:       time.Millisecond,
	}
}

func integrationModeConfig() config.ModeConfig {
	return config.ModeConfig{
		HighVolatilityThreshold: 0.7,
		FailureCountThreshold:   2,
		MinLiquidityUSD:         50_000,
		LargeSizeThreshold:      0.15,
		HighCongestionThreshold: 0.6,
		GasVolatilityThreshold:  0.2,
		RiskScoreEscalation:     0.7,
		CustomFactorEscalation:  0.8,
	}
}

func integrationVenues() []venue.Venue {
	deep := venue.NewSimVenue(venue.SimConfig{
		ID:              "uniswap",
		SupportedAssets: map[string]bool{"WETH/USDC": true},
		BasePrice:       2000,
		LiquidityUSD:    5_000_000,
	})
	shallow := venue.NewSimVenue(venue.SimConfig{
		ID:              "sushiswap",
		SupportedAssets: map[string]bool{"WETH/USDC": true},
		BasePrice:       2000,
		LiquidityUSD:    200_000,
	})
	return []venue.Venue{deep, shallow}
}

// TestStealthPipelineFragmentsLargeOrder 走完整链路：模式决策 → 参数改写 →
// 拆单 → 路由执行，验证大单触发隐蔽模式后被拆成多个分片并经私有通道仿真成交。
func TestStealthPipelineFragmentsLargeOrder(t *testing.T) {
	ctx := context.Background()

	engine := trust.NewEngine(integrationTrustConfig(), nil, nil)
	rtr, err := router.New(integrationRouterConfig(), integrationVenues(), engine, nil, nil)
	if err != nil {
		t.Fatalf("router.New returned error: %v", err)
	}
	mgr := mode.NewManager(integrationModeConfig(), nil, nil)
	frag, err := NewFragmenter(rtr, nil)
	if err != nil {
		t.Fatalf("NewFragmenter returned error: %v", err)
	}

	intent := order.Order{
		Asset:    "WETH/USDC",
		Side:     order.SideBuy,
		Quantity: 8.0,
		Urgency:  order.UrgencyMedium,
	}

	ec := mode.Context{OrderSizeRelativeToPool: 0.2}
	selection := mgr.DetermineExecutionMode(ctx, intent, ec)
	if selection.Mode != mode.ModeStealth {
		t.Fatalf("expected STEALTH for large order, got %s", selection.Mode)
	}

	applied := mgr.ApplyModeToOrder(intent, selection.Mode, selection.Overrides)
	if applied.FragmentCount != 4 {
		t.Fatalf("expected 4 fragments in stealth mode, got %d", applied.FragmentCount)
	}
	if applied.MaxSlippageBps != 50 {
		t.Errorf("expected slippage tightened to 50 bps, got %f", applied.MaxSlippageBps)
	}
	if !applied.UsePrivateTx || !applied.RequireSimulation {
		t.Error("stealth mode must enable private tx and simulation")
	}

	plan, err := frag.BuildPlan(applied)
	if err != nil {
		t.Fatalf("BuildPlan returned error: %v", err)
	}
	if len(plan) != 4 {
		t.Fatalf("expected plan with 4 fragments, got %d", len(plan))
	}
	// 测试里不等真实冷却间隔。
	for i := range plan {
		plan[i].FragmentInterval = 0
	}

	res, err := frag.Execute(ctx, plan)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.Completed {
		t.Error("expected completed execution")
	}
	if res.Executed() != 4 {
		t.Errorf("expected 4 executed fragments, got %d", res.Executed())
	}
	if math.Abs(res.FilledAmount-intent.Quantity) > 1e-9 {
		t.Errorf("filled %f, expected full quantity %f", res.FilledAmount, intent.Quantity)
	}

	// RequireSimulation 生效时成交应为合成回执，不触达场所。
	for i, fill := range res.Fragments {
		if !strings.HasPrefix(fill.OrderID, "sim-") {
			t.Errorf("fragment %d executed against live venue, order id %s", i, fill.OrderID)
		}
		if fill.VenueID != "uniswap" {
			t.Errorf("fragment %d routed to %s, expected deepest pool", i, fill.VenueID)
		}
	}

	if engine.GetVenueTrust("uniswap") <= 0.5 {
		t.Errorf("expected trust rewarded above default, got %f", engine.GetVenueTrust("uniswap"))
	}

	slippage := res.SlippageBps
	mgr.RecordExecutionOutcome(selection.Mode, applied, true, &slippage)
	perf := mgr.ModePerformance()[mode.ModeStealth]
	if perf.Total != 1 || perf.Successes != 1 {
		t.Errorf("unexpected stealth performance record: %+v", perf)
	}
}

// TestNormalPipelineFailureFeedsTrust 在正常模式下注入场所失败，
// 验证失败沿 路由 → 信任惩罚 → 模式遥测 反馈回来。
func TestNormalPipelineFailureFeedsTrust(t *testing.T) {
	ctx := context.Background()

	engine := trust.NewEngine(integrationTrustConfig(), nil, nil)
	failing := venue.NewSimVenue(venue.SimConfig{
		ID:              "uniswap",
		SupportedAssets: map[string]bool{"WETH/USDC": true},
		BasePrice:       2000,
		LiquidityUSD:    5_000_000,
		FailEvery:       1,
	})
	rtr, err := router.New(integrationRouterConfig(), []venue.Venue{failing}, engine, nil, nil)
	if err != nil {
		t.Fatalf("router.New returned error: %v", err)
	}
	mgr := mode.NewManager(integrationModeConfig(), nil, nil)
	frag, err := NewFragmenter(rtr, nil)
	if err != nil {
		t.Fatalf("NewFragmenter returned error: %v", err)
	}

	intent := order.Order{
		Asset:    "WETH/USDC",
		Side:     order.SideBuy,
		Quantity: 1.0,
		Urgency:  order.UrgencyMedium,
	}

	selection := mgr.DetermineExecutionMode(ctx, intent, mode.Context{})
	if selection.Mode != mode.ModeNormal {
		t.Fatalf("expected NORMAL with calm context, got %s", selection.Mode)
	}

	applied := mgr.ApplyModeToOrder(intent, selection.Mode, selection.Overrides)
	plan, err := frag.BuildPlan(applied)
	if err != nil {
		t.Fatalf("BuildPlan returned error: %v", err)
	}

	res, err := frag.Execute(ctx, plan)
	if err == nil {
		t.Fatal("expected execution failure from rejecting venue")
	}
	if res.Completed {
		t.Error("failed execution must not be marked completed")
	}
	if res.Executed() != 0 {
		t.Errorf("expected no successful fragments, got %d", res.Executed())
	}

	if engine.GetVenueTrust("uniswap") >= 0.5 {
		t.Errorf("expected trust penalized below default, got %f", engine.GetVenueTrust("uniswap"))
	}

	mgr.RecordExecutionOutcome(selection.Mode, applied, false, nil)
	perf := mgr.ModePerformance()[mode.ModeNormal]
	if perf.Total != 1 || perf.Failures != 1 {
		t.Errorf("unexpected normal performance record: %+v", perf)
	}
}
