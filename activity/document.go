package activity

import (
	"context"

	"stratus/data"
	"stratus/errors"
	"stratus/locking"
	"stratus/logging"
	"stratus/model"
)

// DocumentActivities 文档读写活动
//
// 变更活动（Set/Remove）带仓储守卫：调用编排必须持有目标文档的锁，
// 否则拒绝执行。这是防止绕过锁管理器直接变更的最后一道防线。
type DocumentActivities struct {
	store  data.IDocumentStore
	locks  locking.ILockManager
	logger logging.Logger
}

// NewDocumentActivities 创建文档活动集
func NewDocumentActivities(store data.IDocumentStore, locks locking.ILockManager) *DocumentActivities {
	return &DocumentActivities{
		store:  store,
		locks:  locks,
		logger: logging.ComponentLogger("activity.document"),
	}
}

// Get 读取文档；不存在返回 (nil, nil)，由编排按动作语义分支
// （delete 视为已删除短路，create 视为尚未创建）。
func (a *DocumentActivities) Get(ctx context.Context, kind model.DocumentKind, partition, id string) (model.IDocument, error) {
	doc, err := a.store.Get(ctx, kind, partition, id)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	return doc, err
}

// Set 写入文档（upsert），要求 owner 持有文档锁
//
// ETag 冲突在本层消解：重读当前版本刷新 ETag 后重放写入。
// 冲突只可能来自锁管理器缺陷或租约过期竞争，持锁写入下重放是安全的。
func (a *DocumentActivities) Set(ctx context.Context, owner string, doc model.IDocument) (model.IDocument, error) {
	if err := a.requireLock(ctx, owner, doc); err != nil {
		return nil, err
	}

	saved, err := a.store.Set(ctx, doc)
	for errors.IsConflict(err) {
		a.logger.Warn(ctx, "document conflict, rereading and reapplying",
			logging.String("document", model.DocumentPath(doc)))

		current, getErr := a.store.Get(ctx, doc.Kind(), doc.PartitionKey(), doc.GetID())
		if getErr != nil {
			if errors.IsNotFound(getErr) {
				doc.SetETag("")
			} else {
				return nil, getErr
			}
		} else {
			doc.SetETag(current.GetETag())
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		saved, err = a.store.Set(ctx, doc)
	}
	return saved, err
}

// Remove 删除文档，要求 owner 持有文档锁，幂等
func (a *DocumentActivities) Remove(ctx context.Context, owner string, doc model.IDocument) error {
	if err := a.requireLock(ctx, owner, doc); err != nil {
		return err
	}
	return a.store.Remove(ctx, doc)
}

// List 枚举分区内文档
func (a *DocumentActivities) List(ctx context.Context, kind model.DocumentKind, partition string) ([]model.IDocument, error) {
	var docs []model.IDocument
	for doc, err := range a.store.List(ctx, kind, partition) {
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (a *DocumentActivities) requireLock(ctx context.Context, owner string, doc model.IDocument) error {
	holder, err := a.locks.Holder(ctx, locking.KeyFor(doc))
	if err != nil {
		return err
	}
	if holder != owner {
		return errors.NewError(errors.ErrCodeInternal, "unable to mutate document without acquired lock").
			WithContext("document", model.DocumentPath(doc)).
			WithContext("owner", owner).
			WithContext("holder", holder)
	}
	return nil
}
