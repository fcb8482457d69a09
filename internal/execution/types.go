package execution

import (
	"time"

	"dex-router/internal/order"
)

// Result 汇总一次 (可能拆分的) 订单执行。
type Result struct {
	Fragments    []order.Executed
	FilledAmount float64
	// AvgPrice 为各分片按成交量加权的均价。
	AvgPrice    float64
	SlippageBps float64
	GasCostUSD  float64
	// Completed 为真表示所有分片都成交；部分成交时为假。
	Completed     bool
	ExecutionTime time.Time
	Notes         []string
}

// Executed 返回成交的分片数量。
func (r Result) Executed() int {
	count := 0
	for _, f := range r.Fragments {
		if f.Success {
			count++
		}
	}
	return count
}
