package registry

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "XGov-Mesh/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 保存智能体注册表，供多实例部署共享。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建连接池并初始化数据表。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// seq 列保证 BestActive 在分数与注册时间都相同时仍有确定顺序。
func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS agents (
        agent_id VARCHAR(64) PRIMARY KEY,
        seq BIGINT AUTO_INCREMENT UNIQUE,
        owner VARCHAR(255) DEFAULT '',
        wallet VARCHAR(255) NOT NULL,
        service_type VARCHAR(64) NOT NULL,
        api_url VARCHAR(255) NOT NULL,
        reputation_score BIGINT NOT NULL,
        total_successful_txs BIGINT NOT NULL DEFAULT 0,
        total_failed_txs BIGINT NOT NULL DEFAULT 0,
        status VARCHAR(32) NOT NULL,
        registered_at BIGINT NOT NULL,
        last_updated BIGINT NOT NULL,
        INDEX idx_agent_category (service_type),
        INDEX idx_agent_status (status)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agents 表失败")
	}
	return nil
}

// Register 插入新的智能体记录。
func (s *MySQLStore) Register(ctx context.Context, record *AgentRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体 ID 不能为空")
	}
	if !IsValidCategory(record.Category) {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的服务类型: %s", record.Category))
	}

	clone := cloneRecord(record)
	applyRegistrationDefaults(clone)

	const stmt = `INSERT INTO agents
        (agent_id, owner, wallet, service_type, api_url, reputation_score, total_successful_txs, total_failed_txs, status, registered_at, last_updated)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		clone.ID,
		clone.Owner,
		clone.Address,
		clone.Category,
		clone.Endpoint,
		clone.ReputationScore,
		clone.SuccessfulCount,
		clone.FailedCount,
		clone.Status,
		clone.RegisteredAt,
		clone.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrAgentExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入智能体失败")
	}
	*record = *clone
	return nil
}

const selectColumns = `agent_id, owner, wallet, service_type, api_url, reputation_score,
        total_successful_txs, total_failed_txs, status, registered_at, last_updated`

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*AgentRecord, error) {
	var record AgentRecord
	if err := scanner.Scan(
		&record.ID,
		&record.Owner,
		&record.Address,
		&record.Category,
		&record.Endpoint,
		&record.ReputationScore,
		&record.SuccessfulCount,
		&record.FailedCount,
		&record.Status,
		&record.RegisteredAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}

// Get 查询指定智能体。
func (s *MySQLStore) Get(ctx context.Context, id string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM agents WHERE agent_id = ?`, id)
	record, err := scanRecord(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体失败")
	}
	return record, nil
}

// List 按注册顺序返回全部智能体。
func (s *MySQLStore) List(ctx context.Context) ([]*AgentRecord, error) {
	return s.queryRecords(ctx, `SELECT `+selectColumns+` FROM agents ORDER BY seq ASC`)
}

// ListByCategory 按注册顺序返回指定服务类型的智能体。
func (s *MySQLStore) ListByCategory(ctx context.Context, category Category) ([]*AgentRecord, error) {
	return s.queryRecords(ctx, `SELECT `+selectColumns+` FROM agents WHERE service_type = ? ORDER BY seq ASC`, category)
}

func (s *MySQLStore) queryRecords(ctx context.Context, stmt string, args ...any) ([]*AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体列表失败")
	}
	defer rows.Close()

	var records []*AgentRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析智能体记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历智能体记录失败")
	}
	return records, nil
}

// RecordOutcome 用单条 UPDATE 完成奖惩，保证同一智能体上的并发更新按顺序生效。
func (s *MySQLStore) RecordOutcome(ctx context.Context, id string, success bool) (*AgentRecord, error) {
	const successStmt = `UPDATE agents
        SET reputation_score = reputation_score + ?, total_successful_txs = total_successful_txs + 1, last_updated = ?
        WHERE agent_id = ?`
	const failureStmt = `UPDATE agents
        SET reputation_score = GREATEST(0, reputation_score - ?), total_failed_txs = total_failed_txs + 1, last_updated = ?
        WHERE agent_id = ?`

	now := time.Now().Unix()
	var res sql.Result
	var err error
	if success {
		res, err = s.db.ExecContext(ctx, successStmt, successReward, now, id)
	} else {
		res, err = s.db.ExecContext(ctx, failureStmt, failurePenalty, now, id)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新信誉分数失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return nil, ErrAgentNotFound
	}
	return s.Get(ctx, id)
}

// SetStatus 更新智能体状态。
func (s *MySQLStore) SetStatus(ctx context.Context, id string, status Status) error {
	if !IsValidStatus(status) {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的状态: %s", status))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, last_updated = ? WHERE agent_id = ?`,
		status, time.Now().Unix(), id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新智能体状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// BestActive 返回指定服务类型下信誉最高的活跃智能体。
func (s *MySQLStore) BestActive(ctx context.Context, category Category) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM agents
        WHERE service_type = ? AND status = ?
        ORDER BY reputation_score DESC, registered_at ASC, seq ASC LIMIT 1`,
		category, StatusActive,
	)
	record, err := scanRecord(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoneAvailable
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询最佳智能体失败")
	}
	return record, nil
}

// Stats 汇总注册表统计信息。
func (s *MySQLStore) Stats(ctx context.Context) (Stats, error) {
	const stmt = `SELECT COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(total_successful_txs + total_failed_txs), 0),
        COALESCE(AVG(reputation_score), 0)
        FROM agents`

	var stats Stats
	if err := s.db.QueryRowContext(ctx, stmt, StatusActive).Scan(
		&stats.TotalAgents,
		&stats.ActiveAgents,
		&stats.TotalTransactions,
		&stats.AverageReputation,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计注册表失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
