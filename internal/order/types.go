package order

import "time"

// Side 表示交易方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Urgency 表示订单的紧急程度，直接影响路由打分权重与滑点容忍度。
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ExecutionStyle 表示路由器推荐的执行方式。
type ExecutionStyle string

const (
	StyleAggressive ExecutionStyle = "aggressive"
	StylePassive    ExecutionStyle = "passive"
	StyleTWAP       ExecutionStyle = "twap"
	StyleAdaptive   ExecutionStyle = "adaptive"
)

// Order 描述一次待路由的订单意图。
// 执行参数 (滑点上限、Gas倍率、拆单数等) 由执行模式管理器改写。
type Order struct {
	Asset    string
	Side     Side
	Quantity float64
	Urgency  Urgency

	MaxSlippageBps     float64
	GasPriceMultiplier float64
	FragmentCount      int
	FragmentInterval   time.Duration
	UsePrivateTx       bool
	RequireSimulation  bool

	Tags []string

	CreatedAt time.Time
}

// Clone 返回订单的深拷贝，避免模式改写污染调用方持有的原始意图。
func (o Order) Clone() Order {
	dup := o
	if len(o.Tags) > 0 {
		dup.Tags = make([]string, len(o.Tags))
		copy(dup.Tags, o.Tags)
	}
	return dup
}

// HasTag 判断订单是否携带指定标签。
func (o Order) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Executed 表示一次执行结果。
type Executed struct {
	OrderID      string
	Asset        string
	Side         Side
	VenueID      string
	Quantity     float64
	FilledAmount float64
	AvgPrice     float64
	SlippageBps  float64
	GasCostUSD   float64
	Latency      time.Duration
	Success      bool
	FailReason   string
	ExecutedAt   time.Time
}
