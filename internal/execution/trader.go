package execution

import (
	"context"

	"dex-router/internal/order"
)

// Trader 抽象执行器接口，方便调用方在直接执行与拆单执行间切换。
type Trader interface {
	BuildPlan(o order.Order) ([]order.Order, error)
	Execute(ctx context.Context, fragments []order.Order) (Result, error)
}

var _ Trader = (*Fragmenter)(nil)
