package venue

import (
	"context"
	"time"

	"dex-router/internal/order"
)

// Quote 表示某交易场所针对一次询价返回的报价。
// 报价是短暂的，仅在路由缓存TTL内被复用。
type Quote struct {
	VenueID        string
	Asset          string
	Side           order.Side
	InputAmount    float64
	OutputAmount   float64
	EffectivePrice float64
	// PriceImpact 为成交价相对中间价的偏离比例，0.01 表示 1%。
	PriceImpact    float64
	GasCostNative  float64
	GasCostUSD     float64
	EstimatedTime  time.Duration
	LiquidityDepth float64
	IsEstimate     bool
	RoutePath      []string
	Timestamp      time.Time
}

// MarketData 为场所返回的行情摘要。
type MarketData struct {
	Asset        string
	LastPrice    float64
	BidPrice     float64
	AskPrice     float64
	Volume24hUSD float64
	LiquidityUSD float64
	RetrievedAt  time.Time
}

// Candle 为单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Venue 抽象一个可执行订单的交易场所。
// 所有网络调用接受 context，支持调用方取消。
type Venue interface {
	ID() string
	IsAssetSupported(ctx context.Context, asset string) (bool, error)
	GetMarketData(ctx context.Context, asset string) (MarketData, error)
	FetchQuote(ctx context.Context, o order.Order) (Quote, error)
	Execute(ctx context.Context, o order.Order, style order.ExecutionStyle) (order.Executed, error)
}

// CandleSource 由支持历史K线的场所实现，供波动率评估使用。
type CandleSource interface {
	FetchCandles(ctx context.Context, asset, timeframe string, limit int64) ([]Candle, error)
}
