package router

import (
	"math"

	"dex-router/internal/order"
	"dex-router/internal/venue"
)

const (
	// slippageCap 之上的价格冲击一律记 0 分。
	slippageCap = 0.10
	// gasCostCapUSD 之上的成本一律记 0 分。
	gasCostCapUSD = 50.0

	// 场所级信任与路由级信任的混合比例。
	venueTrustShare = 0.4
	routeTrustShare = 0.6
)

// weights 为四个子分值的权重组合。
type weights struct {
	slippage  float64
	gas       float64
	trust     float64
	liquidity float64
}

func baseWeights() weights {
	return weights{
		slippage:  0.5,
		gas:       0.25,
		trust:     0.15,
		liquidity: 0.1,
	}
}

// adjustForUrgency 按紧急程度偏移权重：
// 高紧急弱化成本敏感、强化信任；低紧急反之。
func (w weights) adjustForUrgency(u order.Urgency) weights {
	switch u {
	case order.UrgencyHigh:
		w.slippage *= 0.8
		w.gas *= 0.7
		w.trust *= 1.3
	case order.UrgencyLow:
		w.slippage *= 1.3
		w.gas *= 1.2
	}
	return w
}

// slippageScore: 1 表示无冲击，冲击达到 10% 及以上记 0。
func slippageScore(priceImpact float64) float64 {
	capped := math.Min(math.Max(priceImpact, 0), slippageCap)
	return 1 - capped/slippageCap
}

// gasScore: 1 表示零成本，达到 $50 及以上记 0。
func gasScore(gasCostUSD float64) float64 {
	capped := math.Min(math.Max(gasCostUSD, 0), gasCostCapUSD)
	return 1 - capped/gasCostCapUSD
}

// liquidityScore 用对数刻度衡量深度相对订单规模的富余程度。
// 分母取 orderQuantity×2、底数取 11 沿用既有实现，属可调参数而非推导结论。
func liquidityScore(liquidityDepth, orderQuantity float64) float64 {
	if orderQuantity <= 0 || liquidityDepth <= 0 {
		return 0
	}
	ratio := liquidityDepth / (2 * orderQuantity)
	score := math.Log10(ratio+1) / math.Log10(11)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// blendTrust 按 40/60 混合场所级信任与路由级信任。
func blendTrust(venueTrust, routeTrust float64) float64 {
	return venueTrustShare*venueTrust + routeTrustShare*routeTrust
}

// scoreQuote 对单条报价做四因子加权打分。
func scoreQuote(q venue.Quote, o order.Order, venueTrust, routeTrust float64) RouteScore {
	w := baseWeights().adjustForUrgency(o.Urgency)

	breakdown := ScoreBreakdown{
		Slippage:  slippageScore(q.PriceImpact),
		Gas:       gasScore(q.GasCostUSD),
		Trust:     blendTrust(venueTrust, routeTrust),
		Liquidity: liquidityScore(q.LiquidityDepth, o.Quantity),
	}

	total := breakdown.Slippage*w.slippage +
		breakdown.Gas*w.gas +
		breakdown.Trust*w.trust +
		breakdown.Liquidity*w.liquidity

	return RouteScore{
		VenueID:    q.VenueID,
		TotalScore: total,
		Breakdown:  breakdown,
		Quote:      q,
	}
}

// determineStyle 由紧急程度与报价冲击推导执行方式。
func determineStyle(u order.Urgency, q venue.Quote) order.ExecutionStyle {
	switch u {
	case order.UrgencyHigh:
		return order.StyleAggressive
	case order.UrgencyLow:
		if q.PriceImpact < 0.003 {
			return order.StyleAggressive
		}
		return order.StylePassive
	default:
		if q.PriceImpact > 0.02 {
			return order.StyleTWAP
		}
		return order.StyleAdaptive
	}
}

// urgencySlippageBps 为执行克隆推导滑点容忍度。
func urgencySlippageBps(u order.Urgency) float64 {
	switch u {
	case order.UrgencyHigh:
		return 100
	case order.UrgencyLow:
		return 30
	default:
		return 50
	}
}
