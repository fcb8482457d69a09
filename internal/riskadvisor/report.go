package riskadvisor

import (
	"errors"
	"fmt"
	"strings"
)

// Report 表示大模型返回的交易风险评估。
type Report struct {
	Asset          string   `json:"asset"`
	RiskScore      float64  `json:"risk_score"`
	PoolVolatility float64  `json:"pool_volatility"`
	Confidence     float64  `json:"confidence"`
	Summary        string   `json:"summary"`
	Factors        []string `json:"factors"`
}

// Validate 校验报告字段合法性。
func (r Report) Validate() error {
	if strings.TrimSpace(r.Asset) == "" {
		return errors.New("asset 不能为空")
	}
	if r.RiskScore < 0 || r.RiskScore > 1 {
		return fmt.Errorf("risk_score 必须位于 [0,1]，当前为 %f", r.RiskScore)
	}
	if r.PoolVolatility < 0 || r.PoolVolatility > 1 {
		return fmt.Errorf("pool_volatility 必须位于 [0,1]，当前为 %f", r.PoolVolatility)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", r.Confidence)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return errors.New("summary 不能为空")
	}
	return nil
}
