package indicator

import (
	"fmt"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"

	"dex-router/internal/venue"
)

// 波动率归一化水位：相对ATR达到5%、布林带宽达到10%时各自贡献满分。
const (
	atrFullScale       = 0.05
	bandwidthFullScale = 0.10
	volumeFullScale    = 4.0

	// talib 的 BBands/ATR 需要足够的历史才能出稳定值。
	minCandles = 30
)

// Snapshot 汇总一次波动率评估，供执行模式决策消费。
type Snapshot struct {
	Asset     string
	Timeframe string

	// VolatilityIndex 为归一化到 [0,1] 的综合波动指数。
	VolatilityIndex float64

	ATRRelative   float64
	Bandwidth     float64
	RSI           float64
	TrendStrength float64
	VolumeRatio   float64
	Close         float64

	ComputedAt time.Time
}

type cacheEntry struct {
	key      string
	snapshot Snapshot
}

// Calculator 从K线计算波动率指标并带有简单缓存。
// 同一 (资产, 周期) 在K线末根不变时直接复用上次结果。
type Calculator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算波动率快照。
func (c *Calculator) Compute(asset, timeframe string, candles []venue.Candle) (Snapshot, error) {
	if len(candles) < minCandles {
		return Snapshot{}, fmt.Errorf("计算波动率失败: K线不足 (%d < %d)", len(candles), minCandles)
	}

	series := NewSeries(candles)
	cacheID := asset + "|" + timeframe
	cacheKey := fmt.Sprintf("%d:%d", series.Len(), series.Timestamps[series.Len()-1].Unix())

	c.mu.Lock()
	if entry, ok := c.cache[cacheID]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.snapshot, nil
	}
	c.mu.Unlock()

	snapshot := c.calculate(asset, timeframe, series)

	c.mu.Lock()
	c.cache[cacheID] = cacheEntry{key: cacheKey, snapshot: snapshot}
	c.mu.Unlock()

	return snapshot, nil
}

func (c *Calculator) calculate(asset, timeframe string, series Series) Snapshot {
	closePrices := series.Close
	highs := series.High
	lows := series.Low
	volumes := series.Volume

	atr := talib.Atr(highs, lows, closePrices, 14)
	bbUpper, bbMiddle, bbLower := talib.BBands(closePrices, 20, 2, 2, talib.EMA)
	rsi := talib.Rsi(closePrices, 14)
	adx := talib.Adx(highs, lows, closePrices, 14)

	lastClose := Last(closePrices)
	atrRel := SafeDivide(Last(atr), lastClose)
	bandwidth := SafeDivide(Last(bbUpper)-Last(bbLower), Last(bbMiddle))

	volumeAvg20 := average(SliceTail(volumes, 20))
	volumeRatio := SafeDivide(Last(volumes), volumeAvg20)

	index := 0.5*Clamp01(atrRel/atrFullScale) +
		0.3*Clamp01(bandwidth/bandwidthFullScale) +
		0.2*Clamp01((volumeRatio-1)/volumeFullScale)

	return Snapshot{
		Asset:           asset,
		Timeframe:       timeframe,
		VolatilityIndex: Clamp01(index),
		ATRRelative:     atrRel,
		Bandwidth:       bandwidth,
		RSI:             Last(rsi),
		TrendStrength:   Last(adx),
		VolumeRatio:     volumeRatio,
		Close:           lastClose,
		ComputedAt:      time.Now().UTC(),
	}
}

// SeriesVolatility 返回一组样本的变异系数 (标准差/均值)，
// 用于评估 Gas 价格等非K线序列的波动程度。
func SeriesVolatility(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	stdev := Last(talib.StdDev(values, len(values), 1))
	return SafeDivide(stdev, average(values))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
