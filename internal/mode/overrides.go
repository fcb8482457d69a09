package mode

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"dex-router/internal/order"
)

const (
	// 路由信任低于此值的场所建议规避，高于偏好值的优先。
	avoidTrustBelow  = 0.3
	preferTrustAbove = 0.7

	// 超过这些水位进一步收紧拆单与滑点，在已选模式之上叠加。
	extremeVolatility = 0.9
	extremeCongestion = 0.8
)

// buildOverrides 根据执行记忆与极端行情生成模式参数覆盖。
// 没有任何可覆盖内容时返回 nil。
func (m *Manager) buildOverrides(ctx context.Context, o order.Order, selected Mode, ec Context) *Overrides {
	ov := &Overrides{}

	if m.memory != nil && o.Asset != "" {
		routes, err := m.memory.RoutesForPair(ctx, o.Asset)
		if err != nil {
			m.logger.Debug("读取交易对路由信任失败，跳过场所偏好",
				zap.String("asset", o.Asset),
				zap.Error(err),
			)
		} else {
			for _, venueID := range sortedVenueIDs(routes) {
				trust := routes[venueID]
				switch {
				case trust < avoidTrustBelow:
					ov.AvoidVenues = append(ov.AvoidVenues, venueID)
				case trust > preferTrustAbove:
					ov.PreferVenues = append(ov.PreferVenues, venueID)
				}
			}
		}
	}

	if ec.VolatilityIndex >= extremeVolatility || ec.MempoolCongestion >= extremeCongestion {
		p := paramsFor(selected)
		tighterSlippage := p.MaxSlippageBps * 0.8
		moreFragments := p.FragmentCount * 2
		ov.MaxSlippageBps = &tighterSlippage
		ov.FragmentCount = &moreFragments
	}

	if ov.empty() {
		return nil
	}
	return ov
}

func sortedVenueIDs(routes map[string]float64) []string {
	ids := make([]string, 0, len(routes))
	for id := range routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
