package venue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"dex-router/internal/order"
)

// SimConfig 控制模拟场所的报价行为。
type SimConfig struct {
	ID             string
	SupportedAssets map[string]bool
	BasePrice      float64
	LiquidityUSD   float64
	FeeRate        float64
	// ImpactFactor 控制价格冲击随订单规模增长的斜率。
	ImpactFactor float64
	Latency      time.Duration
	// FailEvery 大于0时，每第N次执行注入一次失败，用于演练信任惩罚路径。
	FailEvery int
}

// SimVenue 是一个确定性的内存场所实现，供演示循环与测试使用。
type SimVenue struct {
	cfg SimConfig

	mu        sync.Mutex
	execCount int
}

// NewSimVenue 创建模拟场所。
func NewSimVenue(cfg SimConfig) *SimVenue {
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 2000
	}
	if cfg.LiquidityUSD <= 0 {
		cfg.LiquidityUSD = 1_000_000
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = 0.0005
	}
	if cfg.ImpactFactor <= 0 {
		cfg.ImpactFactor = 0.5
	}
	return &SimVenue{cfg: cfg}
}

// ID 返回场所标识。
func (v *SimVenue) ID() string {
	return v.cfg.ID
}

// IsAssetSupported 按配置的资产白名单判断。
func (v *SimVenue) IsAssetSupported(ctx context.Context, asset string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return v.cfg.SupportedAssets[asset], nil
}

// GetMarketData 返回静态行情摘要。
func (v *SimVenue) GetMarketData(ctx context.Context, asset string) (MarketData, error) {
	if err := ctx.Err(); err != nil {
		return MarketData{}, err
	}
	spread := v.cfg.BasePrice * 0.0005
	return MarketData{
		Asset:        asset,
		LastPrice:    v.cfg.BasePrice,
		BidPrice:     v.cfg.BasePrice - spread,
		AskPrice:     v.cfg.BasePrice + spread,
		LiquidityUSD: v.cfg.LiquidityUSD,
		RetrievedAt:  time.Now().UTC(),
	}, nil
}

// FetchQuote 按订单规模相对流动性的占比推导价格冲击。
func (v *SimVenue) FetchQuote(ctx context.Context, o order.Order) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	notional := o.Quantity * v.cfg.BasePrice
	impact := v.cfg.ImpactFactor * notional / v.cfg.LiquidityUSD
	if impact > 0.5 {
		impact = 0.5
	}

	effective := v.cfg.BasePrice * (1 + impact)
	if o.Side == order.SideSell {
		effective = v.cfg.BasePrice * (1 - impact)
	}

	return Quote{
		VenueID:        v.cfg.ID,
		Asset:          o.Asset,
		Side:           o.Side,
		InputAmount:    o.Quantity,
		OutputAmount:   o.Quantity * effective,
		EffectivePrice: effective,
		PriceImpact:    impact,
		GasCostNative:  notional * v.cfg.FeeRate,
		GasCostUSD:     notional * v.cfg.FeeRate,
		EstimatedTime:  v.cfg.Latency,
		LiquidityDepth: v.cfg.LiquidityUSD,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// FetchCandles 生成一段确定性的正弦波K线，围绕基准价小幅震荡。
func (v *SimVenue) FetchCandles(ctx context.Context, asset, timeframe string, limit int64) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !v.cfg.SupportedAssets[asset] {
		return nil, fmt.Errorf("%w: %s@%s", ErrAssetNotSupported, asset, v.cfg.ID)
	}
	if limit <= 0 {
		limit = 1
	}

	step := time.Minute
	if d, err := time.ParseDuration(timeframe); err == nil && d > 0 {
		step = d
	}

	now := time.Now().UTC().Truncate(step)
	candles := make([]Candle, 0, limit)
	for i := int64(0); i < limit; i++ {
		phase := float64(limit - i)
		swing := v.cfg.BasePrice * 0.004 * math.Sin(phase/5)
		open := v.cfg.BasePrice + swing
		close := v.cfg.BasePrice + v.cfg.BasePrice*0.004*math.Sin((phase-1)/5)
		high := math.Max(open, close) * 1.001
		low := math.Min(open, close) * 0.999
		candles = append(candles, Candle{
			Timestamp: now.Add(-time.Duration(limit-i) * step),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    v.cfg.LiquidityUSD / v.cfg.BasePrice / 100,
		})
	}
	return candles, nil
}

// Execute 按报价合成一笔成交，并在配置要求时周期性注入失败。
func (v *SimVenue) Execute(ctx context.Context, o order.Order, style order.ExecutionStyle) (order.Executed, error) {
	if err := ctx.Err(); err != nil {
		return order.Executed{}, err
	}

	v.mu.Lock()
	v.execCount++
	count := v.execCount
	v.mu.Unlock()

	if v.cfg.FailEvery > 0 && count%v.cfg.FailEvery == 0 {
		return order.Executed{}, fmt.Errorf("%w: simulated rejection on %s", ErrExecutionRejected, v.cfg.ID)
	}

	quote, err := v.FetchQuote(ctx, o)
	if err != nil {
		return order.Executed{}, err
	}

	slippageBps := quote.PriceImpact * 10000
	if style == order.StylePassive || style == order.StyleTWAP {
		slippageBps *= 0.5
	}

	return order.Executed{
		OrderID:      fmt.Sprintf("%s-%d", v.cfg.ID, count),
		Asset:        o.Asset,
		Side:         o.Side,
		VenueID:      v.cfg.ID,
		Quantity:     o.Quantity,
		FilledAmount: o.Quantity,
		AvgPrice:     quote.EffectivePrice,
		SlippageBps:  math.Round(slippageBps*100) / 100,
		GasCostUSD:   quote.GasCostUSD,
		Latency:      v.cfg.Latency,
		Success:      true,
		ExecutedAt:   time.Now().UTC(),
	}, nil
}
