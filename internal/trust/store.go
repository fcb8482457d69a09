package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dex-router/internal/store"
)

// SQLiteSink 将信任快照写入 SQLite，并保留历史记录。
// 运行期不提供读路径，内存状态才是权威数据。
type SQLiteSink struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteSink 创建快照存储并初始化表结构。
func NewSQLiteSink(st *store.Store, logger *zap.Logger) (*SQLiteSink, error) {
	if st == nil {
		return nil, errors.New("trust: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SQLiteSink{
		db:     st.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS venue_trust_scores (
			venue_id TEXT PRIMARY KEY,
			score REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS venue_trust_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			venue_id TEXT NOT NULL,
			score REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trust_history_venue ON venue_trust_history(venue_id);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("trust: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

// SaveSnapshot 写入当前全部场所分值。
func (s *SQLiteSink) SaveSnapshot(ctx context.Context, scores map[string]float64) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("trust: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for venueID, score := range scores {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO venue_trust_scores (venue_id, score, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(venue_id) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
			venueID, score, now,
		); err != nil {
			err = fmt.Errorf("trust: 写入快照失败: %w", err)
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO venue_trust_history (venue_id, score, recorded_at) VALUES (?, ?, ?)`,
			venueID, score, now,
		); err != nil {
			err = fmt.Errorf("trust: 写入历史失败: %w", err)
			return err
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("trust: 提交事务失败: %w", commitErr)
	}

	return nil
}
