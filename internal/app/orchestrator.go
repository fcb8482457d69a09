package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dex-router/internal/config"
	"dex-router/internal/execution"
	"dex-router/internal/indicator"
	"dex-router/internal/memory"
	"dex-router/internal/mode"
	"dex-router/internal/monitor"
	"dex-router/internal/order"
	"dex-router/internal/riskadvisor"
	"dex-router/internal/router"
	"dex-router/internal/store"
	"dex-router/internal/trust"
	"dex-router/internal/venue"
)

const (
	contextTimeframe   = "1m"
	contextCandleCount = 120
	// 失败记录只在此窗口内计入模式决策。
	failureWindow = 10 * time.Minute
)

type orchestrator struct {
	logger *zap.Logger

	trust    *trust.Engine
	memory   *memory.Service
	router   *router.Router
	executor execution.Trader
	modeMgr  *mode.Manager
	calc     *indicator.Calculator
	advisor  *riskadvisor.Client
	monitor  *monitor.Service

	venues        []venue.Venue
	candleSources map[string]venue.CandleSource

	assets   []string
	quantity float64

	recentFailures []mode.FailureRecord
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, st *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sink, err := trust.NewSQLiteSink(st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化信任持久化失败: %w", err)
	}
	trustEngine := trust.NewEngine(cfg.Trust, sink, logger)

	memSvc, err := memory.NewService(st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化执行记忆失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	venues, candleSources, err := buildVenues(cfg.Venues, logger)
	if err != nil {
		return nil, err
	}

	rtr, err := router.New(cfg.Router, venues, trustEngine, memSvc, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化智能路由失败: %w", err)
	}

	frag, err := execution.NewFragmenter(rtr, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化分片执行器失败: %w", err)
	}

	var advisor *riskadvisor.Client
	if cfg.RiskAdvisor.Enabled {
		advisor, err = riskadvisor.NewClient(cfg.RiskAdvisor, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化风险顾问失败: %w", err)
		}
	}

	return &orchestrator{
		logger:        logger,
		trust:         trustEngine,
		memory:        memSvc,
		router:        rtr,
		executor:      frag,
		modeMgr:       mode.NewManager(cfg.Mode, memSvc, logger),
		calc:          indicator.NewCalculator(),
		advisor:       advisor,
		monitor:       monitorSvc,
		venues:        venues,
		candleSources: candleSources,
		assets:        cfg.Scheduler.Assets,
		quantity:      cfg.Scheduler.Quantity,
	}, nil
}

// Tick 对每个配置资产跑一轮 模式决策 → 路由 → 执行。
// 单个资产失败不中断其它资产，错误聚合后返回。
func (o *orchestrator) Tick(ctx context.Context) error {
	var errs error
	for _, asset := range o.assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.processAsset(ctx, asset); err != nil {
			o.monitor.RecordError(ctx, "资产处理失败", err, map[string]interface{}{"asset": asset})
			o.logger.Error("资产处理失败", zap.String("asset", asset), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", asset, err))
		}
	}
	return errs
}

func (o *orchestrator) processAsset(ctx context.Context, asset string) error {
	intent := order.Order{
		Asset:     asset,
		Side:      order.SideBuy,
		Quantity:  o.quantity,
		CreatedAt: time.Now().UTC(),
	}

	ec := o.buildContext(ctx, intent)

	if o.advisor != nil {
		o.attachRiskReport(ctx, intent, &ec)
	}

	selection := o.modeMgr.DetermineExecutionMode(ctx, intent, ec)
	o.monitor.RecordMode(ctx, asset, selection)

	applied := o.modeMgr.ApplyModeToOrder(intent, selection.Mode, selection.Overrides)

	result, err := o.router.Route(ctx, applied)
	if err != nil {
		return fmt.Errorf("路由失败: %w", err)
	}
	o.monitor.RecordRouting(ctx, asset, result)

	if !result.Selected() {
		o.logger.Info("本轮放弃执行",
			zap.String("asset", asset),
			zap.String("mode", string(selection.Mode)),
			zap.String("reason", result.DelayReason),
		)
		return nil
	}

	fragments, err := o.executor.BuildPlan(applied)
	if err != nil {
		return fmt.Errorf("构建执行计划失败: %w", err)
	}

	res, execErr := o.executor.Execute(ctx, fragments)
	for _, fill := range res.Fragments {
		o.monitor.RecordExecution(ctx, applied, fill)
	}
	if execErr != nil {
		o.noteFailure(asset, execErr)
		o.modeMgr.RecordExecutionOutcome(selection.Mode, applied, false, nil)
		return fmt.Errorf("执行失败: %w", execErr)
	}

	slippage := res.SlippageBps
	o.modeMgr.RecordExecutionOutcome(selection.Mode, applied, true, &slippage)

	o.logger.Info("执行完成",
		zap.String("asset", asset),
		zap.String("mode", string(selection.Mode)),
		zap.Int("fragments", res.Executed()),
		zap.Float64("filled", res.FilledAmount),
		zap.Float64("avg_price", res.AvgPrice),
		zap.Float64("slippage_bps", res.SlippageBps),
	)
	return nil
}

// buildContext 从可用场所收集行情并构造模式决策上下文。
// 任何数据源失败都降级为"字段未知"，由模式管理器套用安全默认。
func (o *orchestrator) buildContext(ctx context.Context, intent order.Order) mode.Context {
	ec := mode.Context{}

	if src, ok := o.candleSources[intent.Asset]; ok {
		candles, err := src.FetchCandles(ctx, intent.Asset, contextTimeframe, contextCandleCount)
		if err != nil {
			o.logger.Warn("拉取K线失败，波动指数缺省为0",
				zap.String("asset", intent.Asset),
				zap.Error(err),
			)
		} else if snap, err := o.calc.Compute(intent.Asset, contextTimeframe, candles); err != nil {
			o.logger.Warn("计算波动指数失败", zap.String("asset", intent.Asset), zap.Error(err))
		} else {
			ec.VolatilityIndex = snap.VolatilityIndex
		}
	}

	for _, v := range o.venues {
		supported, err := v.IsAssetSupported(ctx, intent.Asset)
		if err != nil || !supported {
			continue
		}
		md, err := v.GetMarketData(ctx, intent.Asset)
		if err != nil {
			continue
		}
		if md.LiquidityUSD > 0 {
			liquidity := md.LiquidityUSD
			ec.TokenLiquidityUSD = &liquidity
			if md.LastPrice > 0 {
				ec.OrderSizeRelativeToPool = intent.Quantity * md.LastPrice / liquidity
			}
		}
		break
	}

	o.pruneFailures()
	ec.RecentFailures = append(ec.RecentFailures, o.recentFailures...)
	ec.RecentFailureCount = len(ec.RecentFailures)

	return ec
}

func (o *orchestrator) attachRiskReport(ctx context.Context, intent order.Order, ec *mode.Context) {
	input := riskadvisor.AssessmentInput{
		Asset:           intent.Asset,
		Side:            string(intent.Side),
		Quantity:        intent.Quantity,
		VolatilityIndex: ec.VolatilityIndex,
		RecentFailures:  ec.RecentFailureCount,
	}
	if ec.TokenLiquidityUSD != nil {
		input.LiquidityUSD = *ec.TokenLiquidityUSD
		input.NotionalUSD = ec.OrderSizeRelativeToPool * input.LiquidityUSD
	}

	report, err := o.advisor.Assess(ctx, input)
	if err != nil {
		o.logger.Warn("风险顾问评估失败，跳过风险报告",
			zap.String("asset", intent.Asset),
			zap.Error(err),
		)
		return
	}

	o.monitor.RecordRiskReport(ctx, report)
	ec.RiskReport = &mode.RiskReport{
		RiskScore:      report.RiskScore,
		PoolVolatility: report.PoolVolatility,
		Summary:        report.Summary,
	}
}

func (o *orchestrator) noteFailure(asset string, err error) {
	o.recentFailures = append(o.recentFailures, mode.FailureRecord{
		Asset:      asset,
		Reason:     err.Error(),
		OccurredAt: time.Now().UTC(),
	})
	o.pruneFailures()
}

func (o *orchestrator) pruneFailures() {
	cutoff := time.Now().UTC().Add(-failureWindow)
	kept := o.recentFailures[:0]
	for _, f := range o.recentFailures {
		if f.OccurredAt.After(cutoff) {
			kept = append(kept, f)
		}
	}
	o.recentFailures = kept
}

func buildVenues(configs []config.VenueConfig, logger *zap.Logger) ([]venue.Venue, map[string]venue.CandleSource, error) {
	venues := make([]venue.Venue, 0, len(configs))
	candleSources := make(map[string]venue.CandleSource)

	for i, vc := range configs {
		if !vc.Enabled {
			continue
		}

		switch strings.ToLower(vc.Type) {
		case "sim":
			supported := make(map[string]bool, len(vc.Assets))
			for _, asset := range vc.Assets {
				supported[asset] = true
			}
			sim := venue.NewSimVenue(venue.SimConfig{
				ID:              vc.ID,
				SupportedAssets: supported,
				BasePrice:       vc.BasePrice,
				LiquidityUSD:    vc.LiquidityUSD,
				FeeRate:         vc.FeeRate,
				ImpactFactor:    vc.ImpactFactor,
				FailEvery:       vc.FailEvery,
			})
			venues = append(venues, sim)
			for _, asset := range vc.Assets {
				if _, exists := candleSources[asset]; !exists {
					candleSources[asset] = sim
				}
			}
		case "ccxt":
			cx, err := venue.NewCCXTVenue(venue.CCXTConfig{
				ID:         vc.ID,
				APIKey:     vc.APIKey,
				APISecret:  vc.APISecret,
				APIPass:    vc.APIPass,
				UseSandbox: vc.UseSandbox,
				TakerFee:   vc.TakerFee,
				SymbolMap:  vc.Symbols,
			}, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("初始化场所失败 (%s): %w", vc.ID, err)
			}
			venues = append(venues, cx)
			for asset := range vc.Symbols {
				if _, exists := candleSources[asset]; !exists {
					candleSources[asset] = cx
				}
			}
		default:
			return nil, nil, fmt.Errorf("venues[%d].type 取值非法: %s", i, vc.Type)
		}
	}

	if len(venues) == 0 {
		return nil, nil, fmt.Errorf("没有启用任何场所")
	}

	return venues, candleSources, nil
}
