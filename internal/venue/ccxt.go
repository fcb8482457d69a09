package venue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"dex-router/internal/order"
)

// CCXTConfig 描述一个基于 ccxt 的场所适配器。
type CCXTConfig struct {
	ID          string
	APIKey      string
	APISecret   string
	APIPass     string
	UseSandbox  bool
	TakerFee    float64
	// SymbolMap 将内部资产标识映射到交易所交易对，例如 "ETH/USDC" -> "ETH/USDC"。
	SymbolMap   map[string]string
	MaxAttempts int
	RetryDelay  time.Duration
}

// CCXTVenue 通过 ccxt 将中心化交易所包装为统一的 Venue。
type CCXTVenue struct {
	cfg      CCXTConfig
	logger   *zap.Logger
	exchange *ccxt.Binance

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewCCXTVenue 构造 ccxt 场所适配器。
func NewCCXTVenue(cfg CCXTConfig, logger *zap.Logger) (*CCXTVenue, error) {
	if cfg.ID == "" {
		return nil, errors.New("venue: ccxt 场所 id 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.TakerFee <= 0 {
		cfg.TakerFee = 0.001
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinance(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &CCXTVenue{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// ID 返回场所标识。
func (v *CCXTVenue) ID() string {
	return v.cfg.ID
}

// IsAssetSupported 判断资产是否在该场所可交易。
func (v *CCXTVenue) IsAssetSupported(ctx context.Context, asset string) (bool, error) {
	if _, ok := v.cfg.SymbolMap[asset]; !ok {
		return false, nil
	}
	if err := v.ensureMarketsLoaded(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// GetMarketData 获取行情摘要。中间价与流动性由订单簿推导。
func (v *CCXTVenue) GetMarketData(ctx context.Context, asset string) (MarketData, error) {
	book, err := v.fetchBook(ctx, asset, 50)
	if err != nil {
		return MarketData{}, err
	}

	bid, ask := bestLevels(book)
	last := midPrice(bid, ask)

	return MarketData{
		Asset:        asset,
		LastPrice:    last,
		BidPrice:     bid,
		AskPrice:     ask,
		LiquidityUSD: bookNotional(book, last),
		RetrievedAt:  time.Now().UTC(),
	}, nil
}

// FetchQuote 基于订单簿深度推导一笔报价，包括有效价格与价格冲击。
func (v *CCXTVenue) FetchQuote(ctx context.Context, o order.Order) (Quote, error) {
	book, err := v.fetchBook(ctx, o.Asset, 100)
	if err != nil {
		return Quote{}, err
	}

	bid, ask := bestLevels(book)
	mid := midPrice(bid, ask)
	if mid <= 0 {
		return Quote{}, fmt.Errorf("venue %s: 订单簿为空，无法报价 (%s)", v.cfg.ID, o.Asset)
	}

	levels := book.Asks
	if o.Side == order.SideSell {
		levels = book.Bids
	}

	effective, filled := walkLevels(levels, o.Quantity)
	if filled <= 0 {
		return Quote{}, fmt.Errorf("venue %s: 深度不足，无法覆盖数量 %.6f", v.cfg.ID, o.Quantity)
	}

	impact := (effective - mid) / mid
	if o.Side == order.SideSell {
		impact = (mid - effective) / mid
	}
	if impact < 0 {
		impact = 0
	}

	notional := o.Quantity * effective
	feeUSD := notional * v.cfg.TakerFee

	return Quote{
		VenueID:        v.cfg.ID,
		Asset:          o.Asset,
		Side:           o.Side,
		InputAmount:    o.Quantity,
		OutputAmount:   o.Quantity * effective,
		EffectivePrice: effective,
		PriceImpact:    impact,
		GasCostNative:  feeUSD,
		GasCostUSD:     feeUSD,
		EstimatedTime:  2 * time.Second,
		LiquidityDepth: bookNotional(book, mid),
		IsEstimate:     filled < o.Quantity,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// Execute 提交市价单并汇总成交结果。
func (v *CCXTVenue) Execute(ctx context.Context, o order.Order, style order.ExecutionStyle) (order.Executed, error) {
	symbol, ok := v.cfg.SymbolMap[o.Asset]
	if !ok {
		return order.Executed{}, fmt.Errorf("%w: %s@%s", ErrAssetNotSupported, o.Asset, v.cfg.ID)
	}
	if err := v.ensureMarketsLoaded(ctx); err != nil {
		return order.Executed{}, err
	}

	params := map[string]interface{}{}
	if o.MaxSlippageBps > 0 {
		params["slippage"] = fmt.Sprintf("%.6f", o.MaxSlippageBps/10000)
	}
	if style == order.StylePassive {
		params["postOnly"] = true
	}

	start := time.Now()
	var placed ccxt.Order
	err := v.callWithRetry(ctx, "create_order", func() error {
		var opts []ccxt.CreateMarketOrderOptions
		if len(params) > 0 {
			opts = append(opts, ccxt.WithCreateMarketOrderParams(params))
		}
		result, err := v.exchange.CreateMarketOrder(symbol, string(o.Side), o.Quantity, opts...)
		if err != nil {
			return err
		}
		placed = result
		return nil
	})
	latency := time.Since(start)
	if err != nil {
		return order.Executed{}, fmt.Errorf("%w: %v", ErrExecutionRejected, err)
	}

	executed := order.Executed{
		Asset:      o.Asset,
		Side:       o.Side,
		VenueID:    v.cfg.ID,
		Quantity:   o.Quantity,
		Latency:    latency,
		Success:    true,
		ExecutedAt: time.Now().UTC(),
	}
	if placed.Id != nil {
		executed.OrderID = *placed.Id
	}
	if placed.Filled != nil {
		executed.FilledAmount = *placed.Filled
	}
	if placed.Average != nil {
		executed.AvgPrice = *placed.Average
	}

	return executed, nil
}

// FetchCandles 获取指定周期的K线，用于上层波动率评估。
func (v *CCXTVenue) FetchCandles(ctx context.Context, asset, timeframe string, limit int64) ([]Candle, error) {
	symbol, ok := v.cfg.SymbolMap[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrAssetNotSupported, asset, v.cfg.ID)
	}
	if limit <= 0 {
		limit = 1
	}
	if err := v.ensureMarketsLoaded(ctx); err != nil {
		return nil, err
	}

	var raw []ccxt.OHLCV
	err := v.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		result, err := v.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}
	return candles, nil
}

type bookSnapshot struct {
	Bids [][]float64
	Asks [][]float64
}

func (v *CCXTVenue) fetchBook(ctx context.Context, asset string, depth int64) (bookSnapshot, error) {
	symbol, ok := v.cfg.SymbolMap[asset]
	if !ok {
		return bookSnapshot{}, fmt.Errorf("%w: %s@%s", ErrAssetNotSupported, asset, v.cfg.ID)
	}
	if err := v.ensureMarketsLoaded(ctx); err != nil {
		return bookSnapshot{}, err
	}

	var raw ccxt.OrderBook
	err := v.callWithRetry(ctx, "fetch_order_book", func() error {
		book, err := v.exchange.FetchOrderBook(symbol, ccxt.WithFetchOrderBookLimit(depth))
		if err != nil {
			return err
		}
		raw = book
		return nil
	})
	if err != nil {
		return bookSnapshot{}, err
	}

	snap := bookSnapshot{}
	for _, level := range raw.Bids {
		if len(level) >= 2 {
			snap.Bids = append(snap.Bids, []float64{level[0], level[1]})
		}
	}
	for _, level := range raw.Asks {
		if len(level) >= 2 {
			snap.Asks = append(snap.Asks, []float64{level[0], level[1]})
		}
	}
	return snap, nil
}

func (v *CCXTVenue) ensureMarketsLoaded(ctx context.Context) error {
	if v.marketsLoaded {
		return nil
	}

	v.marketsMu.Lock()
	defer v.marketsMu.Unlock()

	if v.marketsLoaded {
		return nil
	}

	err := v.callWithRetry(ctx, "load_markets", func() error {
		_, err := v.exchange.LoadMarkets()
		return err
	})
	if err != nil {
		return err
	}

	v.marketsLoaded = true
	v.logger.Info("场所市场元数据加载完成", zap.String("venue", v.cfg.ID))
	return nil
}

func (v *CCXTVenue) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= v.cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		start := time.Now()
		err = fn()
		if err == nil {
			return nil
		}

		if !retryableTransport(err) || attempt >= v.cfg.MaxAttempts {
			v.logger.Error("场所调用失败",
				zap.String("venue", v.cfg.ID),
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", time.Since(start)),
				zap.Error(err),
			)
			return err
		}

		v.logger.Warn("场所调用失败，等待重试",
			zap.String("venue", v.cfg.ID),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", v.cfg.RetryDelay),
			zap.Error(err),
		)

		timer := time.NewTimer(v.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func retryableTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func bestLevels(book bookSnapshot) (bid, ask float64) {
	if len(book.Bids) > 0 {
		bid = book.Bids[0][0]
	}
	if len(book.Asks) > 0 {
		ask = book.Asks[0][0]
	}
	return bid, ask
}

func midPrice(bid, ask float64) float64 {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	case ask > 0:
		return ask
	default:
		return 0
	}
}

func walkLevels(levels [][]float64, quantity float64) (effective, filled float64) {
	if quantity <= 0 {
		return 0, 0
	}

	var cost float64
	remaining := quantity
	for _, level := range levels {
		price, amount := level[0], level[1]
		take := amount
		if take > remaining {
			take = remaining
		}
		cost += take * price
		filled += take
		remaining -= take
		if remaining <= 0 {
			break
		}
	}

	if filled <= 0 {
		return 0, 0
	}
	return cost / filled, filled
}

func bookNotional(book bookSnapshot, price float64) float64 {
	if price <= 0 {
		return 0
	}
	var amount float64
	for _, level := range book.Bids {
		amount += level[1]
	}
	for _, level := range book.Asks {
		amount += level[1]
	}
	return amount * price
}
