package router

import (
	"math"
	"testing"

	"dex-router/internal/order"
	"dex-router/internal/venue"
)

func TestSlippageScoreCaps(t *testing.T) {
	if got := slippageScore(0); got != 1 {
		t.Errorf("zero impact should score 1, got %v", got)
	}
	if got := slippageScore(0.05); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("half-cap impact should score 0.5, got %v", got)
	}
	if got := slippageScore(0.10); got != 0 {
		t.Errorf("impact at cap should score 0, got %v", got)
	}
	if got := slippageScore(0.50); got != 0 {
		t.Errorf("impact above cap should score 0, got %v", got)
	}
	if got := slippageScore(-0.01); got != 1 {
		t.Errorf("negative impact clamps to 1, got %v", got)
	}
}

func TestGasScoreCaps(t *testing.T) {
	if got := gasScore(0); got != 1 {
		t.Errorf("free gas should score 1, got %v", got)
	}
	if got := gasScore(25); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("$25 should score 0.5, got %v", got)
	}
	if got := gasScore(50); got != 0 {
		t.Errorf("$50 should score 0, got %v", got)
	}
	if got := gasScore(500); got != 0 {
		t.Errorf("above cap should score 0, got %v", got)
	}
}

func TestLiquidityScoreShape(t *testing.T) {
	if got := liquidityScore(1_000_000, 0); got != 0 {
		t.Errorf("zero quantity should score 0, got %v", got)
	}
	if got := liquidityScore(0, 10); got != 0 {
		t.Errorf("zero depth should score 0, got %v", got)
	}
	// depth/(2q)+1 == 11 时恰好封顶。
	if got := liquidityScore(200, 10); math.Abs(got-1) > 1e-9 {
		t.Errorf("ratio 10 should score exactly 1, got %v", got)
	}
	if got := liquidityScore(1_000_000, 10); got != 1 {
		t.Errorf("deep pool should clamp to 1, got %v", got)
	}

	shallow := liquidityScore(20, 10)
	deeper := liquidityScore(100, 10)
	if !(0 < shallow && shallow < deeper && deeper < 1) {
		t.Errorf("score must grow monotonically with depth: shallow=%v deeper=%v", shallow, deeper)
	}
}

func TestBlendTrustShares(t *testing.T) {
	if got := blendTrust(1, 0); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("venue-only trust should contribute 0.4, got %v", got)
	}
	if got := blendTrust(0, 1); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("route-only trust should contribute 0.6, got %v", got)
	}
	if got := blendTrust(0.5, 0.5); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("equal trust should blend to itself, got %v", got)
	}
}

func TestAdjustForUrgency(t *testing.T) {
	base := baseWeights()

	high := base.adjustForUrgency(order.UrgencyHigh)
	if high.slippage >= base.slippage || high.gas >= base.gas {
		t.Error("high urgency must reduce cost sensitivity")
	}
	if high.trust <= base.trust {
		t.Error("high urgency must raise trust weight")
	}

	low := base.adjustForUrgency(order.UrgencyLow)
	if low.slippage <= base.slippage || low.gas <= base.gas {
		t.Error("low urgency must raise cost sensitivity")
	}
	if low.trust != base.trust {
		t.Errorf("low urgency leaves trust weight unchanged, got %v", low.trust)
	}

	if base.adjustForUrgency(order.UrgencyMedium) != base {
		t.Error("medium urgency must keep base weights")
	}
}

func TestScoreQuoteWeighting(t *testing.T) {
	q := venue.Quote{
		VenueID:        "uniswap",
		PriceImpact:    0.01,
		GasCostUSD:     5,
		LiquidityDepth: 200,
	}
	o := order.Order{Quantity: 10, Urgency: order.UrgencyMedium}

	score := scoreQuote(q, o, 0.8, 0.6)

	b := score.Breakdown
	expected := b.Slippage*0.5 + b.Gas*0.25 + b.Trust*0.15 + b.Liquidity*0.1
	if math.Abs(score.TotalScore-expected) > 1e-9 {
		t.Errorf("total %v does not match weighted breakdown %v", score.TotalScore, expected)
	}
	if math.Abs(b.Trust-(0.4*0.8+0.6*0.6)) > 1e-9 {
		t.Errorf("trust breakdown = %v, expected blended 0.68", b.Trust)
	}
	if score.VenueID != "uniswap" {
		t.Errorf("score must carry venue id, got %s", score.VenueID)
	}
}

func TestUrgencySlippageBps(t *testing.T) {
	cases := []struct {
		urgency order.Urgency
		want    float64
	}{
		{order.UrgencyHigh, 100},
		{order.UrgencyMedium, 50},
		{order.UrgencyLow, 30},
		{order.Urgency(""), 50},
	}
	for _, tc := range cases {
		if got := urgencySlippageBps(tc.urgency); got != tc.want {
			t.Errorf("urgency %q: got %v, want %v", tc.urgency, got, tc.want)
		}
	}
}
