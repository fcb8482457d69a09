package router

import (
	"context"
	"time"

	"dex-router/internal/order"
	"dex-router/internal/venue"
)

// TrustSource 是路由器消费的场所级信任接口。
type TrustSource interface {
	GetVenueTrust(venueID string) float64
	PenalizeVenue(venueID, reason string, severity float64)
	RewardVenue(venueID, reason string, magnitude float64)
}

// ExecutionMemory 是执行记忆协作方的窄契约。
type ExecutionMemory interface {
	RouteTrust(ctx context.Context, venueID, asset string) float64
	RecordExecution(ctx context.Context, o order.Order, result order.Executed) error
}

// ScoreBreakdown 记录四个子分值，便于观测路由决策。
type ScoreBreakdown struct {
	Slippage  float64
	Gas       float64
	Trust     float64
	Liquidity float64
}

// RouteScore 为一条候选路由的打分结果，仅在单次路由调用内使用。
type RouteScore struct {
	VenueID    string
	TotalScore float64
	Breakdown  ScoreBreakdown
	Quote      venue.Quote
}

// Alternative 描述一条备选路由，用于结果元数据。
type Alternative struct {
	VenueID     string
	TotalScore  float64
	PriceImpact float64
}

// Metrics 为单次路由调用的过程统计。
type Metrics struct {
	VenuesConsidered int
	VenuesEligible   int
	QuotesObtained   int
	CacheHits        int
	Elapsed          time.Duration
}

// Result 为一次路由决策的结构化结果。
// 没有可用场所不是错误：VenueID 为空、ShouldDelay 为 true，
// 调用方必须检查 VenueID 而不是依赖 error。
type Result struct {
	VenueID              string
	Score                float64
	RecommendedStyle     order.ExecutionStyle
	EstimatedSlippageBps float64
	TrustScore           float64
	ShouldDelay          bool
	DelayReason          string
	BestQuote            venue.Quote
	Alternatives         []Alternative
	Metrics              Metrics
	DecidedAt            time.Time
}

// Selected 表示结果是否选出了可执行场所。
func (r Result) Selected() bool {
	return r.VenueID != ""
}
