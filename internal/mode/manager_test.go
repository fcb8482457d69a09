package mode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dex-router/internal/config"
	"dex-router/internal/order"
)

func testModeConfig() config.ModeConfig {
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

func testModeOrder() order.Order {
	return order.Order{Asset: "ETH", Side: order.SideBuy, Quantity: 10}
}

func floatPtr(v float64) *float64 { return &v }

type fakeRoutes struct {
	routes map[string]float64
	err    error
}

func (f *fakeRoutes) RoutesForPair(_ context.Context, _ string) (map[string]float64, error) {
	return f.routes, f.err
}

func TestModePriorityInvariant(t *testing.T) {
	// 高波动必须压过所有 STEALTH/SPEED 触发条件。
	contexts := []Context{
		{VolatilityIndex: 0.7},
		{VolatilityIndex: 0.9},
		{VolatilityIndex: 0.75, OrderSizeRelativeToPool: 0.5},
		{VolatilityIndex: 0.8, MempoolCongestion: 0.9},
		{VolatilityIndex: 0.7, GasPriceVolatility: 0.5, RecentVolatileBlocks: 10},
		{VolatilityIndex: 0.95, RouterRecommendation: "aggressive"},
	}
	for i, ec := range contexts {
		m := NewManager(testModeConfig(), nil, nil)
		res := m.DetermineExecutionMode(context.Background(), testModeOrder(), ec)
		if res.Mode != ModeSafety {
			t.Errorf("case %d: expected SAFETY, got %s", i, res.Mode)
		}
		if !strings.Contains(res.PrimaryReason, "High volatility") {
			t.Errorf("case %d: primary reason should mention high volatility, got %q", i, res.PrimaryReason)
		}
	}
}

func TestModeTriggerPriorityOrder(t *testing.T) {
	cases := []struct {
		name string
		ec   Context
		want Mode
	}{
		{"volatility", Context{VolatilityIndex: 0.9}, ModeSafety},
		{"failures", Context{RecentFailureCount: 2}, ModeSafety},
		{"low liquidity", Context{TokenLiquidityUSD: floatPtr(10_000)}, ModeSafety},
		{"large order", Context{OrderSizeRelativeToPool: 0.2}, ModeStealth},
		{"congestion", Context{MempoolCongestion: 0.7}, ModeStealth},
		{"gas volatility", Context{GasPriceVolatility: 0.3, RecentVolatileBlocks: 4}, ModeSpeed},
		{"gas volatility too few blocks", Context{GasPriceVolatility: 0.3, RecentVolatileBlocks: 3}, ModeNormal},
		{"liquidity unknown stays normal", Context{}, ModeNormal},
		{"liquidity known and healthy", Context{TokenLiquidityUSD: floatPtr(500_000)}, ModeNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(testModeConfig(), nil, nil)
			res := m.DetermineExecutionMode(context.Background(), testModeOrder(), tc.ec)
			if res.Mode != tc.want {
				t.Fatalf("expected %s, got %s (reason %q)", tc.want, res.Mode, res.PrimaryReason)
			}
			if m.CurrentMode() != tc.want {
				t.Fatalf("current mode should follow decision, got %s", m.CurrentMode())
			}
		})
	}
}

func TestLaterTriggersContributeWithoutOverriding(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	res := m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{
		RecentFailureCount:      3,
		OrderSizeRelativeToPool: 0.5,
		MempoolCongestion:       0.9,
	})
	if res.Mode != ModeSafety {
		t.Fatalf("failure trigger should win, got %s", res.Mode)
	}
	if len(res.ContributingFactors) != 3 {
		t.Fatalf("lower-priority triggers should still contribute factors, got %v", res.ContributingFactors)
	}
}

func TestRiskReportEscalatesOnlyFromNormal(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	res := m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{
		RiskReport: &RiskReport{RiskScore: 0.8},
	})
	if res.Mode != ModeSafety {
		t.Fatalf("high risk score should escalate NORMAL to SAFETY, got %s", res.Mode)
	}

	m = NewManager(testModeConfig(), nil, nil)
	res = m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{
		OrderSizeRelativeToPool: 0.2,
		RiskReport:              &RiskReport{RiskScore: 0.8},
	})
	if res.Mode != ModeStealth {
		t.Fatalf("risk escalation must not override STEALTH, got %s", res.Mode)
	}
	found := false
	for _, f := range res.ContributingFactors {
		if strings.Contains(f, "risk score") {
			found = true
		}
	}
	if !found {
		t.Fatalf("risk score should still appear as a factor, got %v", res.ContributingFactors)
	}
}

func TestCustomFactorForcesSafety(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	res := m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{
		OrderSizeRelativeToPool: 0.2, // would pick STEALTH
		CustomRiskFactors:       map[string]float64{"rugpull": 0.9},
	})
	if res.Mode != ModeSafety {
		t.Fatalf("custom factor above threshold must force SAFETY, got %s", res.Mode)
	}
	if !strings.Contains(res.PrimaryReason, "rugpull") {
		t.Fatalf("primary reason should name the factor, got %q", res.PrimaryReason)
	}
}

func TestRouterRecommendationEscalation(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	res := m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{
		RouterRecommendation: "aggressive",
	})
	if res.Mode != ModeSpeed {
		t.Fatalf("aggressive recommendation should escalate NORMAL to SPEED, got %s", res.Mode)
	}

	m = NewManager(testModeConfig(), nil, nil)
	res = m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{
		RouterRecommendation: "passive",
	})
	if res.Mode != ModeNormal {
		t.Fatalf("passive recommendation is a factor only, got %s", res.Mode)
	}
	if len(res.ContributingFactors) != 1 {
		t.Fatalf("passive recommendation should be logged as a factor, got %v", res.ContributingFactors)
	}
}

func TestApplyModeTightensSlippageOnly(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)

	loose := testModeOrder()
	loose.MaxSlippageBps = 200
	applied := m.ApplyModeToOrder(loose, ModeSafety, nil)
	if applied.MaxSlippageBps != 30 {
		t.Fatalf("SAFETY should tighten slippage to 30, got %f", applied.MaxSlippageBps)
	}

	tight := testModeOrder()
	tight.MaxSlippageBps = 20
	applied = m.ApplyModeToOrder(tight, ModeSafety, nil)
	if applied.MaxSlippageBps != 20 {
		t.Fatalf("mode must never loosen slippage, got %f", applied.MaxSlippageBps)
	}

	// 显式覆盖允许有意放宽。
	applied = m.ApplyModeToOrder(tight, ModeSafety, &Overrides{MaxSlippageBps: floatPtr(80)})
	if applied.MaxSlippageBps != 80 {
		t.Fatalf("explicit override should loosen slippage to 80, got %f", applied.MaxSlippageBps)
	}
}

func TestApplyModeSetsUrgencyAndTag(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	cases := []struct {
		mode Mode
		want order.Urgency
	}{
		{ModeSpeed, order.UrgencyHigh},
		{ModeNormal, order.UrgencyMedium},
		{ModeSafety, order.UrgencyLow},
		{ModeStealth, order.UrgencyLow},
	}
	for _, tc := range cases {
		applied := m.ApplyModeToOrder(testModeOrder(), tc.mode, nil)
		if applied.Urgency != tc.want {
			t.Errorf("%s: expected urgency %s, got %s", tc.mode, tc.want, applied.Urgency)
		}
		if !applied.HasTag("mode:" + string(tc.mode)) {
			t.Errorf("%s: order should carry the mode tag, got %v", tc.mode, applied.Tags)
		}
	}

	original := testModeOrder()
	_ = m.ApplyModeToOrder(original, ModeStealth, nil)
	if len(original.Tags) != 0 || original.Urgency != "" {
		t.Fatal("ApplyModeToOrder must not mutate the caller's order")
	}
}

func TestStealthParamsApplied(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	applied := m.ApplyModeToOrder(testModeOrder(), ModeStealth, nil)
	if applied.FragmentCount != 4 {
		t.Fatalf("STEALTH should fragment into 4, got %d", applied.FragmentCount)
	}
	if applied.FragmentInterval != 30*time.Second {
		t.Fatalf("unexpected fragment interval: %s", applied.FragmentInterval)
	}
	if !applied.UsePrivateTx || !applied.RequireSimulation {
		t.Fatal("STEALTH should use private transactions and require simulation")
	}
}

func TestOverridesFromExecutionMemory(t *testing.T) {
	memory := &fakeRoutes{routes: map[string]float64{
		"shady":  0.1,
		"solid":  0.9,
		"middle": 0.5,
	}}
	m := NewManager(testModeConfig(), memory, nil)
	res := m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{})

	if res.Overrides == nil {
		t.Fatal("expected venue preference overrides")
	}
	if len(res.Overrides.AvoidVenues) != 1 || res.Overrides.AvoidVenues[0] != "shady" {
		t.Fatalf("expected shady to be avoided, got %v", res.Overrides.AvoidVenues)
	}
	if len(res.Overrides.PreferVenues) != 1 || res.Overrides.PreferVenues[0] != "solid" {
		t.Fatalf("expected solid to be preferred, got %v", res.Overrides.PreferVenues)
	}
}

func TestOverridesTightenUnderExtremeConditions(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	res := m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{
		VolatilityIndex: 0.95,
	})
	if res.Mode != ModeSafety {
		t.Fatalf("expected SAFETY, got %s", res.Mode)
	}
	if res.Overrides == nil || res.Overrides.MaxSlippageBps == nil || res.Overrides.FragmentCount == nil {
		t.Fatal("extreme volatility should tighten slippage and fragmentation")
	}
	if *res.Overrides.MaxSlippageBps >= 30 {
		t.Fatalf("tightened slippage should be below the SAFETY ceiling, got %f", *res.Overrides.MaxSlippageBps)
	}
	if *res.Overrides.FragmentCount <= 2 {
		t.Fatalf("tightened fragmentation should exceed the SAFETY default, got %d", *res.Overrides.FragmentCount)
	}
}

func TestMemoryErrorSkipsVenuePreferences(t *testing.T) {
	memory := &fakeRoutes{err: errors.New("db locked")}
	m := NewManager(testModeConfig(), memory, nil)
	res := m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{})
	if res.Overrides != nil {
		t.Fatalf("memory failure should not produce overrides, got %+v", res.Overrides)
	}
}

func TestTelemetryRingBounded(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	// 交替触发 SAFETY 与 NORMAL，每次调用都切换一次。
	for i := 0; i < 150; i++ {
		ec := Context{}
		if i%2 == 0 {
			ec.VolatilityIndex = 0.9
		}
		m.DetermineExecutionMode(context.Background(), testModeOrder(), ec)
	}
	switches := m.ModeSwitches()
	if len(switches) != 100 {
		t.Fatalf("telemetry ring must hold exactly 100 entries, got %d", len(switches))
	}
	last := switches[len(switches)-1]
	if last.SwitchedAt.Before(switches[0].SwitchedAt) {
		t.Fatal("ring should be ordered oldest to newest")
	}
}

func TestOutcomeBackfillWithinWindow(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	base := time.Now()
	m.now = func() time.Time { return base }

	res := m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{VolatilityIndex: 0.9})
	if res.Mode != ModeSafety {
		t.Fatalf("expected SAFETY, got %s", res.Mode)
	}

	m.now = func() time.Time { return base.Add(30 * time.Second) }
	m.RecordExecutionOutcome(ModeSafety, testModeOrder(), true, floatPtr(12))

	switches := m.ModeSwitches()
	if len(switches) != 1 {
		t.Fatalf("expected one switch record, got %d", len(switches))
	}
	if !switches[0].OutcomeKnown || !switches[0].Success || switches[0].SlippageBps != 12 {
		t.Fatalf("outcome should be back-filled, got %+v", switches[0])
	}

	perf := m.ModePerformance()[ModeSafety]
	if perf.Total != 1 || perf.Successes != 1 || perf.AvgSlippageBps != 12 {
		t.Fatalf("unexpected performance record: %+v", perf)
	}
}

func TestOutcomeNotBackfilledOutsideWindow(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	base := time.Now()
	m.now = func() time.Time { return base }

	m.DetermineExecutionMode(context.Background(), testModeOrder(), Context{VolatilityIndex: 0.9})

	m.now = func() time.Time { return base.Add(61 * time.Second) }
	m.RecordExecutionOutcome(ModeSafety, testModeOrder(), false, nil)

	switches := m.ModeSwitches()
	if switches[0].OutcomeKnown {
		t.Fatal("outcome outside the 60s window must not be back-filled")
	}

	perf := m.ModePerformance()[ModeSafety]
	if perf.Total != 1 || perf.Failures != 1 {
		t.Fatalf("counters should still update, got %+v", perf)
	}
}

func TestIncrementalAverageSlippage(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	for i, bps := range []float64{10, 20, 30} {
		m.RecordExecutionOutcome(ModeNormal, testModeOrder(), true, floatPtr(bps))
		perf := m.ModePerformance()[ModeNormal]
		want := []float64{10, 15, 20}[i]
		if diff := perf.AvgSlippageBps - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("after %d outcomes expected avg %f, got %f", i+1, want, perf.AvgSlippageBps)
		}
	}
}

func TestGatherContextFailsLoudly(t *testing.T) {
	m := NewManager(testModeConfig(), nil, nil)
	_, err := m.GatherExecutionContext(context.Background(), "ETH")
	if err == nil {
		t.Fatal("context gathering must fail loudly until live data is wired in")
	}
	if !errors.Is(err, ErrContextNotImplemented) {
		t.Fatalf("error should wrap the not-implemented sentinel, got %v", err)
	}
	if !strings.Contains(err.Error(), "not implemented") {
		t.Fatalf("error should be clearly labeled, got %q", err.Error())
	}
}
