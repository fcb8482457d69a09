package riskadvisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"dex-router/internal/config"
)

// Client 封装 OpenAI 调用逻辑，产出交易风险报告。
type Client struct {
	cfg    config.RiskAdvisorConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建风险顾问客户端。
func NewClient(cfg config.RiskAdvisorConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("risk_advisor api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkConfig),
	}, nil
}

// Assess 根据订单与行情上下文获取模型风险评估。
func (c *Client) Assess(ctx context.Context, input AssessmentInput) (Report, error) {
	if c.cfg.Model == "" {
		return Report{}, errors.New("risk_advisor model 不能为空")
	}

	prompt, err := BuildPrompt(input)
	if err != nil {
		return Report{}, err
	}

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return Report{}, fmt.Errorf("调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return Report{}, errors.New("OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Report{}, errors.New("OpenAI 返回内容为空")
	}

	report, err := parseReport(rawContent)
	if err != nil {
		c.logger.Error("解析风险报告失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Report{}, err
	}

	if err := report.Validate(); err != nil {
		return Report{}, err
	}

	c.logger.Info("风险评估完成",
		zap.String("asset", report.Asset),
		zap.Float64("risk_score", report.RiskScore),
		zap.Float64("confidence", report.Confidence),
	)

	return report, nil
}

func parseReport(content string) (Report, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Report{}, err
	}

	var report Report
	if err = json.Unmarshal(jsonPayload, &report); err != nil {
		return Report{}, fmt.Errorf("解析报告JSON失败: %w", err)
	}

	return report, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
