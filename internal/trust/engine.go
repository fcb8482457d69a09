package trust

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dex-router/internal/config"
)

const (
	// penaltyWeight 与 rewardWeight 刻意不对称：信任易失难得。
	penaltyWeight = 0.2
	rewardWeight  = 0.1
)

// SnapshotSink 为可选的信任快照持久化挂钩。
// 写入是 fire-and-forget 的，失败不影响内存状态。
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, scores map[string]float64) error
}

// Engine 为每个场所维护一个随时间衰减、随结果浮动的信任分。
// 所有状态常驻内存，任何操作都不会阻塞调用方。
type Engine struct {
	cfg    config.TrustConfig
	logger *zap.Logger
	sink   SnapshotSink

	mu      sync.Mutex
	records map[string]*Record

	now func() time.Time
}

// NewEngine 创建信任引擎。sink 可以为 nil。
func NewEngine(cfg config.TrustConfig, sink SnapshotSink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxScore <= cfg.MinScore {
		cfg.MinScore = 0
		cfg.MaxScore = 1
	}
	if cfg.DefaultScore < cfg.MinScore || cfg.DefaultScore > cfg.MaxScore {
		cfg.DefaultScore = (cfg.MinScore + cfg.MaxScore) / 2
	}
	if cfg.MaxPenalty <= 0 {
		cfg.MaxPenalty = penaltyWeight
	}
	if cfg.MaxReward <= 0 {
		cfg.MaxReward = rewardWeight
	}

	return &Engine{
		cfg:     cfg,
		logger:  logger,
		sink:    sink,
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// GetVenueTrust 返回场所当前信任分。
// 读取时按闲置天数做线性衰减并持久化衰减后的值：不读取则不衰减，这是刻意的语义。
func (e *Engine) GetVenueTrust(venueID string) float64 {
	e.mu.Lock()
	rec := e.ensureLocked(venueID)

	now := e.now()
	if e.cfg.DecayRatePerDay > 0 && now.After(rec.UpdatedAt) {
		days := now.Sub(rec.UpdatedAt).Hours() / 24
		decayed := rec.Score - e.cfg.DecayRatePerDay*days
		if decayed < e.cfg.MinScore {
			decayed = e.cfg.MinScore
		}
		rec.Score = decayed
	}
	rec.UpdatedAt = now

	score := rec.Score
	e.mu.Unlock()

	e.persist()
	return score
}

// PenalizeVenue 按严重程度扣减信任分并记录事件。severity 取值 [0,1]。
func (e *Engine) PenalizeVenue(venueID, reason string, severity float64) {
	severity = clamp(severity, 0, 1)

	e.mu.Lock()
	rec := e.ensureLocked(venueID)

	penalty := severity * penaltyWeight
	if penalty > e.cfg.MaxPenalty {
		penalty = e.cfg.MaxPenalty
	}

	rec.Score = clamp(rec.Score-penalty, e.cfg.MinScore, e.cfg.MaxScore)
	rec.FailureCount++
	rec.UpdatedAt = e.now()
	rec.Incidents = append(rec.Incidents, Incident{
		Timestamp: rec.UpdatedAt,
		Reason:    reason,
		Severity:  severity,
	})

	score := rec.Score
	e.mu.Unlock()

	e.logger.Warn("场所信任分惩罚",
		zap.String("venue", venueID),
		zap.String("reason", reason),
		zap.Float64("severity", severity),
		zap.Float64("score", score),
	)
	e.persist()
}

// RewardVenue 按幅度提升信任分。magnitude 取值 [0,1]。
func (e *Engine) RewardVenue(venueID, reason string, magnitude float64) {
	magnitude = clamp(magnitude, 0, 1)

	e.mu.Lock()
	rec := e.ensureLocked(venueID)

	reward := magnitude * rewardWeight
	if reward > e.cfg.MaxReward {
		reward = e.cfg.MaxReward
	}

	rec.Score = clamp(rec.Score+reward, e.cfg.MinScore, e.cfg.MaxScore)
	rec.ExecutionCount++
	rec.UpdatedAt = e.now()

	score := rec.Score
	e.mu.Unlock()

	e.logger.Debug("场所信任分奖励",
		zap.String("venue", venueID),
		zap.String("reason", reason),
		zap.Float64("magnitude", magnitude),
		zap.Float64("score", score),
	)
	e.persist()
}

// ResetVenueTrust 将场所信任记录恢复为默认值。
func (e *Engine) ResetVenueTrust(venueID string) {
	e.mu.Lock()
	e.records[venueID] = e.newRecord(venueID)
	e.mu.Unlock()

	e.logger.Info("场所信任记录已重置", zap.String("venue", venueID))
	e.persist()
}

// GetVenueSuccessRate 返回执行成功率，无历史时为 0。
func (e *Engine) GetVenueSuccessRate(venueID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.ensureLocked(venueID)
	total := rec.ExecutionCount + rec.FailureCount
	if total == 0 {
		return 0
	}
	return float64(rec.ExecutionCount) / float64(total)
}

// VenueRecord 返回场所信任记录的拷贝。
func (e *Engine) VenueRecord(venueID string) Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureLocked(venueID).Clone()
}

// Snapshot 返回所有场所当前分值的拷贝。
func (e *Engine) Snapshot() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	scores := make(map[string]float64, len(e.records))
	for id, rec := range e.records {
		scores[id] = rec.Score
	}
	return scores
}

func (e *Engine) ensureLocked(venueID string) *Record {
	rec, ok := e.records[venueID]
	if !ok {
		rec = e.newRecord(venueID)
		e.records[venueID] = rec
	}
	return rec
}

func (e *Engine) newRecord(venueID string) *Record {
	return &Record{
		VenueID:   venueID,
		Score:     e.cfg.DefaultScore,
		UpdatedAt: e.now(),
	}
}

// persist 异步推送快照，失败只记日志。
func (e *Engine) persist() {
	if e.sink == nil {
		return
	}

	scores := e.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.sink.SaveSnapshot(ctx, scores); err != nil {
			e.logger.Warn("信任快照持久化失败", zap.Error(err))
		}
	}()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
