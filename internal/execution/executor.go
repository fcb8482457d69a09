package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dex-router/internal/order"
)

// routeExecutor 是对智能路由的窄依赖：每个分片独立路由并执行。
type routeExecutor interface {
	Execute(ctx context.Context, o order.Order) (order.Executed, error)
}

// Fragmenter 按订单携带的拆分参数把大单切成分片，逐个经路由执行，
// 分片之间等待配置的冷却间隔。拆分参数由执行模式管理器写入订单。
type Fragmenter struct {
	router routeExecutor
	logger *zap.Logger
}

// NewFragmenter 创建拆单执行器。
func NewFragmenter(router routeExecutor, logger *zap.Logger) (*Fragmenter, error) {
	if router == nil {
		return nil, errors.New("execution: 路由器不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fragmenter{
		router: router,
		logger: logger,
	}, nil
}

// BuildPlan 把订单按 FragmentCount 均分为分片。
// 末片吸收浮点拆分误差，保证分片数量之和等于原始数量。
func (f *Fragmenter) BuildPlan(o order.Order) ([]order.Order, error) {
	if o.Asset == "" {
		return nil, errors.New("execution: 订单资产不能为空")
	}
	if o.Quantity <= 0 {
		return nil, fmt.Errorf("execution: 订单数量无效: %f", o.Quantity)
	}

	count := o.FragmentCount
	if count <= 1 {
		return []order.Order{o.Clone()}, nil
	}

	slice := o.Quantity / float64(count)
	fragments := make([]order.Order, 0, count)
	assigned := 0.0
	for i := 0; i < count; i++ {
		fragment := o.Clone()
		if i == count-1 {
			fragment.Quantity = o.Quantity - assigned
		} else {
			fragment.Quantity = slice
			assigned += slice
		}
		fragments = append(fragments, fragment)
	}

	return fragments, nil
}

// Execute 顺序执行分片。任一分片失败即停止，已完成的分片保留在结果中，
// 错误连同部分成交一起返回给调用方。
func (f *Fragmenter) Execute(ctx context.Context, fragments []order.Order) (Result, error) {
	result := Result{
		ExecutionTime: time.Now().UTC(),
		Notes:         make([]string, 0),
	}

	if len(fragments) == 0 {
		return result, nil
	}

	interval := fragments[0].FragmentInterval

	var weightedPrice, weightedSlippage float64
	for i, fragment := range fragments {
		if i > 0 && interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				result.Notes = append(result.Notes, fmt.Sprintf("分片 %d/%d 前被取消", i+1, len(fragments)))
				return result, ctx.Err()
			case <-timer.C:
			}
		}

		executed, err := f.router.Execute(ctx, fragment)
		result.Fragments = append(result.Fragments, executed)
		if err != nil {
			result.Notes = append(result.Notes, fmt.Sprintf("分片 %d/%d 执行失败: %v", i+1, len(fragments), err))
			f.finalize(&result, weightedPrice, weightedSlippage)
			return result, fmt.Errorf("execution: 分片 %d/%d 执行失败: %w", i+1, len(fragments), err)
		}

		result.FilledAmount += executed.FilledAmount
		result.GasCostUSD += executed.GasCostUSD
		weightedPrice += executed.AvgPrice * executed.FilledAmount
		weightedSlippage += executed.SlippageBps * executed.FilledAmount

		f.logger.Debug("分片执行完成",
			zap.String("asset", fragment.Asset),
			zap.Int("fragment", i+1),
			zap.Int("total", len(fragments)),
			zap.String("venue", executed.VenueID),
			zap.Float64("filled", executed.FilledAmount),
		)
	}

	result.Completed = true
	f.finalize(&result, weightedPrice, weightedSlippage)
	return result, nil
}

func (f *Fragmenter) finalize(result *Result, weightedPrice, weightedSlippage float64) {
	if result.FilledAmount > 0 {
		result.AvgPrice = weightedPrice / result.FilledAmount
		result.SlippageBps = weightedSlippage / result.FilledAmount
	}
}
