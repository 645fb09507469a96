package data

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stratus/errors"
	"stratus/model"
)

// MemoryStore 内存文档存储（用于测试与本地开发）
//
// 不持久化，进程重启后数据丢失。ETag 语义与 SQLiteStore 保持一致。
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[memKey]memEntry
}

type memKey struct {
	kind      model.DocumentKind
	partition string
	id        string
}

type memEntry struct {
	etag string
	ts   time.Time
	body []byte
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[memKey]memEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, kind model.DocumentKind, partition, id string) (model.IDocument, error) {
	s.mu.RLock()
	entry, ok := s.docs[memKey{kind, partition, id}]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.NewError(errors.ErrCodeNotFound, "document not found").
			WithContext("kind", string(kind)).
			WithContext("id", id)
	}
	return unmarshalDocument(kind, entry.body)
}

func (s *MemoryStore) Set(ctx context.Context, doc model.IDocument) (model.IDocument, error) {
	key := memKey{doc.Kind(), doc.PartitionKey(), doc.GetID()}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.docs[key]
	if exists && doc.GetETag() != existing.etag {
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
	s.docs[key] = memEntry{etag: updated.GetETag(), ts: updated.GetTimestamp(), body: body}
	return updated, nil
}

func (s *MemoryStore) Remove(ctx context.Context, doc model.IDocument) error {
	s.mu.Lock()
	delete(s.docs, memKey{doc.Kind(), doc.PartitionKey(), doc.GetID()})
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, kind model.DocumentKind, partition string) iter.Seq2[model.IDocument, error] {
	return func(yield func(model.IDocument, error) bool) {
		s.mu.RLock()
		keys := make([]memKey, 0)
		for k := range s.docs {
			if k.kind == kind && k.partition == partition {
				keys = append(keys, k)
			}
		}
		bodies := make([][]byte, len(keys))
		sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })
		for i, k := range keys {
			bodies[i] = s.docs[k].body
		}
		s.mu.RUnlock()

		for _, body := range bodies {
			doc, err := unmarshalDocument(kind, body)
			if err == nil && softDeleted(doc) {
				continue
			}
			if !yield(doc, err) {
				return
			}
		}
	}
}
