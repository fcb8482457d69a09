package trust

import "time"

// Incident 记录一次信任惩罚事件。
type Incident struct {
	Timestamp time.Time
	Reason    string
	Severity  float64
}

// Record 为单个场所维护的信任状态。
type Record struct {
	VenueID        string
	Score          float64
	ExecutionCount int64
	FailureCount   int64
	UpdatedAt      time.Time
	Incidents      []Incident
}

// Clone 返回记录的拷贝，incident 列表独立。
func (r Record) Clone() Record {
	dup := r
	if len(r.Incidents) > 0 {
		dup.Incidents = make([]Incident, len(r.Incidents))
		copy(dup.Incidents, r.Incidents)
	}
	return dup
}
