package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dex-router/internal/config"
	"dex-router/internal/order"
	"dex-router/internal/venue"
)

const (
	// 路由层面的空结果原因，调用方据此分支，不应依赖异常。
	reasonNoEligibleVenues = "No eligible venues found"
	reasonNoQuotes         = "Failed to obtain quotes from eligible venues"
)

// Router 在配置的场所集合内为订单意图挑选最优执行路径。
type Router struct {
	cfg    config.RouterConfig
	logger *zap.Logger

	venues     []venue.Venue
	venueIndex map[string]venue.Venue

	trust  TrustSource
	memory ExecutionMemory
	cache  *quoteCache
}

// New 创建智能路由器。trust 为必需依赖；memory 可以为 nil，此时路由信任取中性值。
func New(cfg config.RouterConfig, venues []venue.Venue, trust TrustSource, memory ExecutionMemory, logger *zap.Logger) (*Router, error) {
	if trust == nil {
		return nil, errors.New("router: 信任引擎不能为空")
	}
	if len(venues) == 0 {
		return nil, errors.New("router: 至少需要一个场所")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QuoteRetries <= 0 {
		cfg.QuoteRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	index := make(map[string]venue.Venue, len(venues))
	for _, v := range venues {
		if _, dup := index[v.ID()]; dup {
			return nil, fmt.Errorf("router: 场所 id 重复: %s", v.ID())
		}
		index[v.ID()] = v
	}

	return &Router{
		cfg:        cfg,
		logger:     logger,
		venues:     venues,
		venueIndex: index,
		trust:      trust,
		memory:     memory,
		cache:      newQuoteCache(cfg.QuoteTTL),
	}, nil
}

type venueOutcome struct {
	eligible bool
	hasQuote bool
	cacheHit bool
	quote    venue.Quote
}

// Route 为订单意图选择场所与执行方式。
// 单个场所的支持检查或报价失败只会将其排除，不使整个调用失败；
// 没有任何可用场所时返回带原因的空结果，而非错误。
func (r *Router) Route(ctx context.Context, o order.Order) (Result, error) {
	start := time.Now()

	if o.Asset == "" {
		return Result{}, errors.New("router: 订单资产不能为空")
	}
	if o.Quantity <= 0 {
		return Result{}, fmt.Errorf("router: 订单数量无效: %f", o.Quantity)
	}
	if o.Urgency == "" {
		o.Urgency = order.UrgencyMedium
	}

	outcomes := make([]venueOutcome, len(r.venues))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, v := range r.venues {
		i, v := i, v
		group.Go(func() error {
			key := quoteKey(o.Asset, o.Side, o.Quantity, v.ID())

			// 缓存命中时连支持检查都省掉，不产生任何网络调用。
			if cached, ok := r.cache.get(key); ok {
				outcomes[i] = venueOutcome{eligible: true, hasQuote: true, cacheHit: true, quote: cached}
				return nil
			}

			supported, err := v.IsAssetSupported(groupCtx, o.Asset)
			if err != nil {
				r.logger.Debug("场所支持检查失败，排除该场所",
					zap.String("venue", v.ID()),
					zap.String("asset", o.Asset),
					zap.Error(err),
				)
				return nil
			}
			if !supported {
				return nil
			}
			outcomes[i].eligible = true

			quote, err := r.fetchQuoteWithRetry(groupCtx, v, o)
			if err != nil {
				r.logger.Debug("场所报价失败，排除该场所",
					zap.String("venue", v.ID()),
					zap.String("asset", o.Asset),
					zap.Error(err),
				)
				return nil
			}

			r.cache.put(key, quote)
			outcomes[i].hasQuote = true
			outcomes[i].quote = quote
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	metrics := Metrics{VenuesConsidered: len(r.venues)}
	scores := make([]RouteScore, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.eligible {
			metrics.VenuesEligible++
		}
		if outcome.cacheHit {
			metrics.CacheHits++
		}
		if !outcome.hasQuote {
			continue
		}
		metrics.QuotesObtained++

		venueTrust := r.trust.GetVenueTrust(outcome.quote.VenueID)
		routeTrust := 0.5
		if r.memory != nil {
			routeTrust = r.memory.RouteTrust(ctx, outcome.quote.VenueID, o.Asset)
		}
		scores = append(scores, scoreQuote(outcome.quote, o, venueTrust, routeTrust))
	}

	if len(scores) == 0 {
		reason := reasonNoQuotes
		if metrics.VenuesEligible == 0 {
			reason = reasonNoEligibleVenues
		}
		metrics.Elapsed = time.Since(start)
		r.logger.Info("路由无可用场所",
			zap.String("asset", o.Asset),
			zap.String("reason", reason),
		)
		return Result{
			ShouldDelay: true,
			DelayReason: reason,
			Metrics:     metrics,
			DecidedAt:   time.Now().UTC(),
		}, nil
	}

	// 按总分降序，使用稳定排序让同分时保持输入迭代顺序。
	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].TotalScore > scores[b].TotalScore
	})

	top := scores[0]
	metrics.Elapsed = time.Since(start)

	if r.cfg.FailOnHighImpact && top.Quote.PriceImpact > r.cfg.MaxPriceImpact {
		reason := fmt.Sprintf("price impact %.2f%% exceeds maximum %.2f%%",
			top.Quote.PriceImpact*100, r.cfg.MaxPriceImpact*100)
		r.logger.Warn("最优路由价格冲击过高，放弃执行",
			zap.String("asset", o.Asset),
			zap.String("venue", top.VenueID),
			zap.Float64("price_impact", top.Quote.PriceImpact),
		)
		return Result{
			ShouldDelay: true,
			DelayReason: reason,
			Metrics:     metrics,
			DecidedAt:   time.Now().UTC(),
		}, nil
	}

	alternatives := make([]Alternative, 0, 2)
	for _, alt := range scores[1:] {
		if len(alternatives) == 2 {
			break
		}
		alternatives = append(alternatives, Alternative{
			VenueID:     alt.VenueID,
			TotalScore:  alt.TotalScore,
			PriceImpact: alt.Quote.PriceImpact,
		})
	}

	result := Result{
		VenueID:              top.VenueID,
		Score:                top.TotalScore,
		RecommendedStyle:     determineStyle(o.Urgency, top.Quote),
		EstimatedSlippageBps: top.Quote.PriceImpact * 10000,
		TrustScore:           top.Breakdown.Trust,
		BestQuote:            top.Quote,
		Alternatives:         alternatives,
		Metrics:              metrics,
		DecidedAt:            time.Now().UTC(),
	}

	r.logger.Info("路由决策完成",
		zap.String("asset", o.Asset),
		zap.String("venue", result.VenueID),
		zap.Float64("score", result.Score),
		zap.String("style", string(result.RecommendedStyle)),
		zap.Float64("estimated_slippage_bps", result.EstimatedSlippageBps),
		zap.Int("quotes", metrics.QuotesObtained),
		zap.Int("cache_hits", metrics.CacheHits),
	)

	return result, nil
}

// Execute 路由并执行订单。全局仿真开关或订单的 RequireSimulation 任一开启时
// 合成成交而不触达场所。场所执行失败会先写入执行记忆再向调用方抛出。
func (r *Router) Execute(ctx context.Context, o order.Order) (order.Executed, error) {
	result, err := r.Route(ctx, o)
	if err != nil {
		return order.Executed{}, err
	}
	if !result.Selected() {
		return order.Executed{}, fmt.Errorf("router: 没有可用路由: %s", result.DelayReason)
	}

	target, ok := r.venueIndex[result.VenueID]
	if !ok {
		return order.Executed{}, fmt.Errorf("router: 选中的场所未注册: %s", result.VenueID)
	}

	exec := o.Clone()
	if exec.MaxSlippageBps <= 0 {
		exec.MaxSlippageBps = urgencySlippageBps(exec.Urgency)
	}

	start := time.Now()

	var executed order.Executed
	if r.cfg.Simulation || exec.RequireSimulation {
		executed = synthesizeFill(result, exec)
	} else {
		executed, err = target.Execute(ctx, exec, result.RecommendedStyle)
	}

	if err != nil {
		failed := order.Executed{
			Asset:      exec.Asset,
			Side:       exec.Side,
			VenueID:    result.VenueID,
			Quantity:   exec.Quantity,
			Latency:    time.Since(start),
			Success:    false,
			FailReason: err.Error(),
			ExecutedAt: time.Now().UTC(),
		}
		r.recordOutcome(ctx, exec, failed)
		r.trust.PenalizeVenue(result.VenueID, "execution failed", 0.5)
		return failed, fmt.Errorf("router: 场所执行失败 (%s): %w", result.VenueID, err)
	}

	r.recordOutcome(ctx, exec, executed)
	r.trust.RewardVenue(result.VenueID, "execution succeeded", 0.3)

	return executed, nil
}

// ClearQuoteCache 失效报价缓存；asset 为空时清空全部。
// 行情剧烈波动后应调用，避免用陈旧报价做决策。
func (r *Router) ClearQuoteCache(asset string) {
	r.cache.clear(asset)
}

func (r *Router) fetchQuoteWithRetry(ctx context.Context, v venue.Venue, o order.Order) (venue.Quote, error) {
	var err error
	var quote venue.Quote

	for attempt := 1; attempt <= r.cfg.QuoteRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return venue.Quote{}, ctxErr
		}

		quote, err = v.FetchQuote(ctx, o)
		if err == nil {
			return quote, nil
		}

		if attempt >= r.cfg.QuoteRetries {
			break
		}

		timer := time.NewTimer(r.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return venue.Quote{}, ctx.Err()
		case <-timer.C:
		}
	}

	return venue.Quote{}, fmt.Errorf("router: 场所 %s 报价重试 %d 次后仍失败: %w", v.ID(), r.cfg.QuoteRetries, err)
}

func (r *Router) recordOutcome(ctx context.Context, o order.Order, executed order.Executed) {
	if r.memory == nil {
		return
	}
	if err := r.memory.RecordExecution(ctx, o, executed); err != nil {
		r.logger.Warn("写入执行记忆失败",
			zap.String("venue", executed.VenueID),
			zap.String("asset", o.Asset),
			zap.Error(err),
		)
	}
}

// synthesizeFill 在模拟模式下按最优报价合成一笔成交。
func synthesizeFill(result Result, o order.Order) order.Executed {
	return order.Executed{
		OrderID:      fmt.Sprintf("sim-%s-%d", result.VenueID, time.Now().UnixNano()),
		Asset:        o.Asset,
		Side:         o.Side,
		VenueID:      result.VenueID,
		Quantity:     o.Quantity,
		FilledAmount: o.Quantity,
		AvgPrice:     result.BestQuote.EffectivePrice,
		SlippageBps:  result.BestQuote.PriceImpact * 10000,
		GasCostUSD:   result.BestQuote.GasCostUSD,
		Latency:      time.Millisecond,
		Success:      true,
		ExecutedAt:   time.Now().UTC(),
	}
}
