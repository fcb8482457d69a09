package riskadvisor

import (
	"bytes"
	"fmt"
	"text/template"
)

// AssessmentInput 汇总一次风险评估所需的交易与行情上下文。
type AssessmentInput struct {
	Asset           string
	Side            string
	Quantity        float64
	NotionalUSD     float64
	VolatilityIndex float64
	LiquidityUSD    float64
	RecentFailures  int
}

const reportTemplate = `
你是一个专业的链上交易风控分析师。你的任务是评估一笔即将路由执行的订单面临的交易层面风险（滑点、流动性、MEV、执行失败），并给出量化的风险评分。

待评估订单：
- 资产: {{ .Asset }}
- 方向: {{ .Side }}
- 数量: {{ printf "%.6f" .Quantity }}
- 名义金额: ${{ printf "%.2f" .NotionalUSD }}

当前市场环境：
- 波动指数 (0-1): {{ printf "%.2f" .VolatilityIndex }}
- 可用流动性: ${{ printf "%.0f" .LiquidityUSD }}
- 近期执行失败次数: {{ .RecentFailures }}

评估时请遵循：
1. 订单名义金额相对流动性越大，滑点与 MEV 风险越高；
2. 波动指数高企时成交价格的不确定性显著增加；
3. 近期失败是执行环境恶化的直接信号，应加重评分；
4. 不确定时宁可高估风险，评分偏保守。

请严格输出唯一的 JSON 对象，格式如下：
{
  "asset": "{{ .Asset }}",
  "risk_score": 0.0-1.0,          // 综合风险评分，越高越危险
  "pool_volatility": 0.0-1.0,     // 流动性池/价格波动程度
  "confidence": 0.0-1.0,          // 评估信心度
  "summary": "...",              // 一句话风险结论
  "factors": ["...", "..."]      // 主要风险因素列表
}

注意事项：
- 所有数值字段必须位于 [0,1] 区间。
- summary 必须非空；没有显著风险因素时 factors 可为空数组。
`

var tmpl = template.Must(template.New("risk_report").Parse(reportTemplate))

// BuildPrompt 将评估输入渲染成提示词字符串。
func BuildPrompt(input AssessmentInput) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, input); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}
