package statestore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"time"

	"stratus/errors"
	"stratus/model"
)

// SQLiteInstanceStore 基于 database/sql 的实例存储
//
// 调用方必须确保所配置的 Driver 已通过空导入注册（例如在上层显式 `_ "modernc.org/sqlite"`）。
// 实例与步骤日志分表：instances 存实例快照，instance_steps 以 (instance_id, seq)
// 为主键追加检查点。
type SQLiteInstanceStore struct {
	db *sql.DB
}

// NewSQLiteInstanceStore 创建 SQLite 实例存储
func NewSQLiteInstanceStore(db *sql.DB) *SQLiteInstanceStore {
	return &SQLiteInstanceStore{db: db}
}

// Init 初始化表结构，幂等
func (s *SQLiteInstanceStore) Init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			instance_id      TEXT NOT NULL PRIMARY KEY,
			descriptor       TEXT NOT NULL,
			command          BLOB NOT NULL,
			status           TEXT NOT NULL,
			custom_status    TEXT NOT NULL DEFAULT '',
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			result           BLOB,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS instance_steps (
			instance_id TEXT NOT NULL,
			seq         INTEGER NOT NULL,
			name        TEXT NOT NULL,
			output      BLOB,
			err_code    TEXT NOT NULL DEFAULT '',
			err_message TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (instance_id, seq)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WrapError(err, errors.ErrCodeDatabase, "init instance tables")
		}
	}
	return nil
}

// Get 加载实例及其步骤日志
func (s *SQLiteInstanceStore) Get(ctx context.Context, instanceID string) (*Instance, error) {
	query := `SELECT descriptor, command, status, custom_status, cancel_requested, result, created_at, updated_at
		FROM instances WHERE instance_id = ?`

	var (
		instance  = Instance{InstanceID: instanceID}
		status    string
		cancelled int
		result    []byte
		created   string
		updated   string
	)
	err := s.db.QueryRowContext(ctx, query, instanceID).Scan(
		&instance.Descriptor, (*[]byte)(&instance.Command), &status,
		&instance.CustomStatus, &cancelled, &result, &created, &updated)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "get instance")
	}

	instance.Status = model.RuntimeStatus(status)
	instance.CancelRequested = cancelled != 0
	instance.Result = result
	if instance.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "parse created_at")
	}
	if instance.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "parse updated_at")
	}

	if instance.Steps, err = s.loadSteps(ctx, instanceID); err != nil {
		return nil, err
	}
	return &instance, nil
}

func (s *SQLiteInstanceStore) loadSteps(ctx context.Context, instanceID string) ([]StepRecord, error) {
	query := `SELECT seq, name, output, err_code, err_message, recorded_at
		FROM instance_steps WHERE instance_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "list instance steps")
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var (
			record   StepRecord
			output   []byte
			recorded string
		)
		if err := rows.Scan(&record.Seq, &record.Name, &output, &record.ErrCode, &record.ErrMessage, &recorded); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "scan instance step")
		}
		record.Output = output
		if record.RecordedAt, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "parse recorded_at")
		}
		steps = append(steps, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "iterate instance steps")
	}
	return steps, nil
}

// Save 保存实例（UPSERT，步骤日志不回写）
func (s *SQLiteInstanceStore) Save(ctx context.Context, instance *Instance) error {
	if instance == nil || instance.InstanceID == "" {
		return errors.NewError(errors.ErrCodeValidation, "instance id is required")
	}

	upsert := `INSERT INTO instances (instance_id, descriptor, command, status, custom_status, cancel_requested, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id) DO UPDATE SET
			status = excluded.status,
			custom_status = excluded.custom_status,
			cancel_requested = excluded.cancel_requested,
			result = excluded.result,
			updated_at = excluded.updated_at`

	cancelled := 0
	if instance.CancelRequested {
		cancelled = 1
	}
	_, err := s.db.ExecContext(ctx, upsert,
		instance.InstanceID, instance.Descriptor, []byte(instance.Command),
		string(instance.Status), instance.CustomStatus, cancelled, []byte(instance.Result),
		instance.CreatedAt.Format(time.RFC3339Nano), instance.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "save instance")
	}
	return nil
}

// AppendStep 追加步骤检查点
func (s *SQLiteInstanceStore) AppendStep(ctx context.Context, instanceID string, record StepRecord) error {
	insert := `INSERT INTO instance_steps (instance_id, seq, name, output, err_code, err_message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var output []byte
	if len(record.Output) > 0 {
		output = append([]byte(nil), record.Output...)
	}
	_, err := s.db.ExecContext(ctx, insert,
		instanceID, record.Seq, record.Name, output,
		record.ErrCode, record.ErrMessage, record.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "append instance step")
	}
	return nil
}

// ResetSteps 清空步骤日志
func (s *SQLiteInstanceStore) ResetSteps(ctx context.Context, instanceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM instance_steps WHERE instance_id = ?`, instanceID); err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "reset instance steps")
	}
	return nil
}

// RequestCancel 置位取消标志
func (s *SQLiteInstanceStore) RequestCancel(ctx context.Context, instanceID string) (bool, error) {
	update := fmt.Sprintf(`UPDATE instances SET cancel_requested = 1, updated_at = ?
		WHERE instance_id = ? AND status NOT IN ('%s', '%s', '%s')`,
		model.RuntimeStatusCompleted, model.RuntimeStatusFailed, model.RuntimeStatusCanceled)

	res, err := s.db.ExecContext(ctx, update, time.Now().UTC().Format(time.RFC3339Nano), instanceID)
	if err != nil {
		return false, errors.WrapError(err, errors.ErrCodeDatabase, "request cancel")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.WrapError(err, errors.ErrCodeDatabase, "request cancel rows")
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE instance_id = ?`, instanceID).Scan(&exists)
		if stdErrors.Is(err, sql.ErrNoRows) {
			return false, ErrInstanceNotFound
		}
		if err != nil {
			return false, errors.WrapError(err, errors.ErrCodeDatabase, "request cancel lookup")
		}
		return false, nil
	}
	return true, nil
}

// ListActive 列出非终态实例
func (s *SQLiteInstanceStore) ListActive(ctx context.Context) ([]*Instance, error) {
	query := fmt.Sprintf(`SELECT instance_id FROM instances
		WHERE status NOT IN ('%s', '%s', '%s') ORDER BY created_at`,
		model.RuntimeStatusCompleted, model.RuntimeStatusFailed, model.RuntimeStatusCanceled)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "list active instances")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "scan instance id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "iterate active instances")
	}

	var result []*Instance
	for _, id := range ids {
		instance, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, instance)
	}
	return result, nil
}

var _ IInstanceStore = (*SQLiteInstanceStore)(nil)
