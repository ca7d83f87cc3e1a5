package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	storage "github.com/ChaosChain/chaoschain-dvn/internal/storage/mysql"
)

const roundColumns = `id, submission_id, content_address, package_hash, metadata, status, attempts, max_retries,
        last_error, error_code, verdict_state, verified, approvals, successful, approval_rate, created_at, updated_at`

// MySQLStore 使用 MySQL 的 verification_rounds 表记录轮次状态。
type MySQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewMySQLStore 打开连接并执行迁移。
func NewMySQLStore(ctx context.Context, cfg storage.Config) (*MySQLStore, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &MySQLStore{db: db, clock: time.Now}, nil
}

// NewMySQLStoreWithDB 复用已经迁移过的连接池。
func NewMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, clock: time.Now}
}

// Create 插入新的轮次记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "轮次不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "轮次 ID 不能为空")
	}

	now := s.clock().Unix()
	task.CreatedAt = now
	task.UpdatedAt = now

	metadataValue, err := marshalMetadata(task.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码轮次 metadata 失败")
	}

	const stmt = `INSERT INTO verification_rounds
        (id, submission_id, content_address, package_hash, metadata, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		task.SubmissionID,
		task.ContentAddress,
		task.PackageHash,
		metadataValue,
		task.Status,
		task.Attempts,
		task.MaxRetries,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrRoundConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入轮次失败")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task      Task
		result    ExecutionResult
		metadata  sql.NullString
		lastError sql.NullString
		errorCode sql.NullString
		state     sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.SubmissionID,
		&task.ContentAddress,
		&task.PackageHash,
		&metadata,
		&task.Status,
		&task.Attempts,
		&task.MaxRetries,
		&lastError,
		&errorCode,
		&state,
		&result.Verified,
		&result.Approvals,
		&result.SuccessfulEvaluations,
		&result.ApprovalRate,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.LastError = lastError.String
	task.ErrorCode = errorCode.String

	decoded, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析轮次 metadata 失败")
	}
	task.Metadata = decoded

	if state.String != "" {
		result.VerdictState = consensus.State(state.String)
		task.Result = &result
	}
	return &task, nil
}

// Get 查询指定轮次。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM verification_rounds WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		if xerrors.CodeOf(err) != xerrors.CodeUnknown {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询轮次失败")
	}
	return task, nil
}

// Claim 将轮次标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	const updateStmt = `UPDATE verification_rounds SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		s.clock().Unix(),
		id,
		StatusPending,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新轮次状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		switch {
		case task.Status == StatusSucceeded:
			return task, ErrRoundCompleted
		case task.Status == StatusRunning:
			return task, ErrRoundConflict
		case task.Status == StatusFailed || task.Attempts >= task.MaxRetries:
			return task, ErrRoundExhausted
		default:
			return task, ErrRoundConflict
		}
	}
	return task, nil
}

// MarkSucceeded 写入轮次结论。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	const stmt = `UPDATE verification_rounds SET status = ?, verdict_state = ?, verified = ?, approvals = ?, successful = ?,
        approval_rate = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		string(result.VerdictState),
		result.Verified,
		result.Approvals,
		result.SuccessfulEvaluations,
		result.ApprovalRate,
		s.clock().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入轮次结论失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRoundNotFound
	}
	return nil
}

// MarkFailed 记录失败原因，terminal 为 false 时轮次回到 pending。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE verification_rounds SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	res, err := s.db.ExecContext(ctx, stmt,
		status,
		lastError,
		string(code),
		s.clock().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录轮次失败状态出错")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRoundNotFound
	}
	return nil
}

// List 返回符合过滤条件的轮次。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.normalize()

	query := `SELECT ` + roundColumns + ` FROM verification_rounds`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询轮次列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			if xerrors.CodeOf(err) != xerrors.CodeUnknown {
				return nil, err
			}
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析轮次记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历轮次失败")
	}
	return tasks, nil
}

// Stats 返回符合过滤条件的轮次聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (RoundStats, error) {
	opts.normalize()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(verified), 0) AS verified,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM verification_rounds`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats RoundStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Verified,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return RoundStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询轮次统计失败")
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

func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Since > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.Since)
	}
	if opts.Until > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.Until)
	}
	if opts.Decided != nil {
		if *opts.Decided {
			conditions = append(conditions, "verdict_state <> ''")
		} else {
			conditions = append(conditions, "(verdict_state IS NULL OR verdict_state = '')")
		}
	}
	if opts.Verdict != "" {
		conditions = append(conditions, "verdict_state = ?")
		args = append(args, opts.Verdict)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR submission_id LIKE ? OR content_address LIKE ? OR package_hash LIKE ? OR last_error LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
