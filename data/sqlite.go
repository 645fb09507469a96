package data

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"stratus/errors"
	"stratus/model"
)

// SQLiteStore 基于 database/sql 的文档存储
//
// 调用方必须确保所配置的 Driver 已通过空导入注册（例如在上层显式 `_ "modernc.org/sqlite"`）。
// 表结构：(kind, part, id) 为主键，body 保存文档 JSON，etag/ts 由本层维护。
type SQLiteStore struct {
	db        *sql.DB
	tableName string
}

// NewSQLiteStore 创建 SQLite 文档存储
func NewSQLiteStore(db *sql.DB, tableName string) *SQLiteStore {
	if tableName == "" {
		tableName = "documents"
	}
	return &SQLiteStore{db: db, tableName: tableName}
}

// Init 初始化表结构，幂等
func (s *SQLiteStore) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		kind      TEXT NOT NULL,
		part      TEXT NOT NULL,
		id        TEXT NOT NULL,
		etag      TEXT NOT NULL,
		ts        TEXT NOT NULL,
		body      BLOB NOT NULL,
		PRIMARY KEY (kind, part, id)
	)`, s.tableName)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "init document table")
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, kind model.DocumentKind, partition, id string) (model.IDocument, error) {
	query := fmt.Sprintf(`SELECT body FROM %s WHERE kind = ? AND part = ? AND id = ?`, s.tableName)

	var body []byte
	err := s.db.QueryRowContext(ctx, query, string(kind), partition, id).Scan(&body)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewError(errors.ErrCodeNotFound, "document not found").
			WithContext("kind", string(kind)).
			WithContext("id", id)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "get document")
	}
	return unmarshalDocument(kind, body)
}

func (s *SQLiteStore) Set(ctx context.Context, doc model.IDocument) (model.IDocument, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "begin set transaction")
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT etag FROM %s WHERE kind = ? AND part = ? AND id = ?`, s.tableName)

	var currentETag string
	err = tx.QueryRowContext(ctx, query, string(doc.Kind()), doc.PartitionKey(), doc.GetID()).Scan(&currentETag)
	exists := !stdErrors.Is(err, sql.ErrNoRows)
	if err != nil && exists {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "read current etag")
	}

	if exists && doc.GetETag() != currentETag {
		return nil, errors.NewError(errors.ErrCodeConflict, "document etag mismatch").
			WithContext("id", doc.GetID())
	}
	if !exists && doc.GetETag() != "" {
		return nil, errors.NewError(errors.ErrCodeConflict, "document no longer exists").
			WithContext("id", doc.GetID())
	}

	updated, err := clone(doc)
	if err != nil {
		return nil, err
	}
	updated.SetETag(uuid.NewString())
	updated.SetTimestamp(time.Now().UTC())

	body, err := marshalDocument(updated)
	if err != nil {
		return nil, err
	}

	upsert := fmt.Sprintf(`INSERT INTO %s (kind, part, id, etag, ts, body) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, part, id) DO UPDATE SET etag = excluded.etag, ts = excluded.ts, body = excluded.body`, s.tableName)

	_, err = tx.ExecContext(ctx, upsert,
		string(updated.Kind()), updated.PartitionKey(), updated.GetID(),
		updated.GetETag(), updated.GetTimestamp().Format(time.RFC3339Nano), body)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "upsert document")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "commit set transaction")
	}
	return updated, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, doc model.IDocument) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE kind = ? AND part = ? AND id = ?`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, string(doc.Kind()), doc.PartitionKey(), doc.GetID()); err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "remove document")
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, kind model.DocumentKind, partition string) iter.Seq2[model.IDocument, error] {
	return func(yield func(model.IDocument, error) bool) {
		query := fmt.Sprintf(`SELECT body FROM %s WHERE kind = ? AND part = ? ORDER BY id`, s.tableName)

		rows, err := s.db.QueryContext(ctx, query, string(kind), partition)
		if err != nil {
			yield(nil, errors.WrapError(err, errors.ErrCodeDatabase, "list documents"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var body []byte
			if err := rows.Scan(&body); err != nil {
				yield(nil, errors.WrapError(err, errors.ErrCodeDatabase, "scan document"))
				return
			}
			doc, err := unmarshalDocument(kind, body)
			if err == nil && softDeleted(doc) {
				continue
			}
			if !yield(doc, err) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, errors.WrapError(err, errors.ErrCodeDatabase, "iterate documents"))
		}
	}
}
