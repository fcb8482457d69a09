package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dex-router/internal/order"
	"dex-router/internal/store"
)

// neutralTrust 是没有足够历史时的路由信任默认值。
const neutralTrust = 0.5

// priorWeight 控制先验在成功率估计中的份量，避免单次成功把信任推满。
const priorWeight = 2.0

// Service 是执行记忆存储：记录每次执行结果，
// 并从历史中推导 (场所, 资产) 维度的路由信任。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化执行记忆存储，创建所需表结构。
func NewService(st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("memory: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     st.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS route_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			venue_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			filled REAL NOT NULL,
			avg_price REAL NOT NULL,
			slippage_bps REAL NOT NULL,
			gas_cost_usd REAL NOT NULL,
			latency_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			fail_reason TEXT,
			executed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_route_exec_venue_asset ON route_executions(venue_id, asset);`,
		`CREATE INDEX IF NOT EXISTS idx_route_exec_asset ON route_executions(asset);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("memory: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

// RecordExecution 写入一次执行结果，成功与失败都要记录。
func (s *Service) RecordExecution(ctx context.Context, o order.Order, result order.Executed) error {
	successInt := 0
	if result.Success {
		successInt = 1
	}

	executedAt := result.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO route_executions
		 (venue_id, asset, side, quantity, filled, avg_price, slippage_bps, gas_cost_usd, latency_ms, success, fail_reason, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.VenueID, o.Asset, string(o.Side), o.Quantity,
		result.FilledAmount, result.AvgPrice, result.SlippageBps, result.GasCostUSD,
		result.Latency.Milliseconds(), successInt, result.FailReason,
		executedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("memory: 写入执行记录失败: %w", err)
	}

	return nil
}

// RouteTrust 返回 (场所, 资产) 维度的路由信任，取值 [0,1]。
// 查询失败或没有历史时返回中性值，不向路由传播错误。
func (s *Service) RouteTrust(ctx context.Context, venueID, asset string) float64 {
	var total, successes int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM route_executions WHERE venue_id = ? AND asset = ?`,
		venueID, asset,
	).Scan(&total, &successes)
	if err != nil {
		s.logger.Warn("查询路由信任失败", zap.String("venue", venueID), zap.String("asset", asset), zap.Error(err))
		return neutralTrust
	}

	return blendedTrust(successes, total)
}

// RoutesForPair 返回某资产在各场所的路由信任表。
func (s *Service) RoutesForPair(ctx context.Context, asset string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT venue_id, COUNT(*), COALESCE(SUM(success), 0)
		 FROM route_executions WHERE asset = ? GROUP BY venue_id`,
		asset,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: 查询资产路由表失败: %w", err)
	}
	defer func() { _ = rows.Close() }()

	routes := make(map[string]float64)
	for rows.Next() {
		var venueID string
		var total, successes int64
		if scanErr := rows.Scan(&venueID, &total, &successes); scanErr != nil {
			return nil, fmt.Errorf("memory: 扫描路由信任行失败: %w", scanErr)
		}
		routes[venueID] = blendedTrust(successes, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: 遍历路由信任结果失败: %w", err)
	}

	return routes, nil
}

// blendedTrust 用带先验的成功率估计路由信任。
func blendedTrust(successes, total int64) float64 {
	if total <= 0 {
		return neutralTrust
	}
	trust := (float64(successes) + neutralTrust*priorWeight) / (float64(total) + priorWeight)
	if trust < 0 {
		return 0
	}
	if trust > 1 {
		return 1
	}
	return trust
}
