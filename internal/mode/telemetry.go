package mode

import (
	"sync"
	"time"
)

const (
	telemetryRingSize     = 100
	outcomeBackfillWindow = 60 * time.Second
)

// SwitchRecord 记录一次模式切换，结果字段在 60 秒内到达的
// 执行结果会被回填。
type SwitchRecord struct {
	From          Mode
	To            Mode
	Asset         string
	PrimaryReason string
	Context       Context
	SwitchedAt    time.Time

	OutcomeKnown bool
	Success      bool
	SlippageBps  float64
}

// PerfRecord 是单个模式的累计表现，不会自动重置。
type PerfRecord struct {
	Successes      int
	Failures       int
	Total          int
	AvgSlippageBps float64
	LastUsed       time.Time
}

// telemetry 持有模式切换环形缓冲与每模式表现计数。
type telemetry struct {
	mu       sync.Mutex
	switches []SwitchRecord
	perf     map[Mode]*PerfRecord
}

func newTelemetry() *telemetry {
	return &telemetry{
		switches: make([]SwitchRecord, 0, telemetryRingSize),
		perf:     make(map[Mode]*PerfRecord, 4),
	}
}

func (t *telemetry) recordSwitch(rec SwitchRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.switches) == telemetryRingSize {
		copy(t.switches, t.switches[1:])
		t.switches = t.switches[:telemetryRingSize-1]
	}
	t.switches = append(t.switches, rec)
}

// recordOutcome 更新模式计数并尝试回填最近的切换记录。
// slippageBps 为 nil 表示滑点未知，不计入均值。
func (t *telemetry) recordOutcome(m Mode, asset string, success bool, slippageBps *float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.perf[m]
	if !ok {
		rec = &PerfRecord{}
		t.perf[m] = rec
	}
	rec.Total++
	if success {
		rec.Successes++
	} else {
		rec.Failures++
	}
	rec.LastUsed = now
	if slippageBps != nil {
		// 增量平均，避免保存全部样本。
		rec.AvgSlippageBps += (*slippageBps - rec.AvgSlippageBps) / float64(rec.Total)
	}

	// 从最新往回找同资产同模式、60 秒内的未回填切换记录。
	for i := len(t.switches) - 1; i >= 0; i-- {
		s := &t.switches[i]
		if s.OutcomeKnown || s.Asset != asset || s.To != m {
			continue
		}
		if now.Sub(s.SwitchedAt) > outcomeBackfillWindow {
			break
		}
		s.OutcomeKnown = true
		s.Success = success
		if slippageBps != nil {
			s.SlippageBps = *slippageBps
		}
		break
	}
}

// Switches 返回切换记录快照，从旧到新。
func (t *telemetry) Switches() []SwitchRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SwitchRecord, len(t.switches))
	copy(out, t.switches)
	return out
}

// Performance 返回每模式表现计数的快照。
func (t *telemetry) Performance() map[Mode]PerfRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Mode]PerfRecord, len(t.perf))
	for m, rec := range t.perf {
		out[m] = *rec
	}
	return out
}
