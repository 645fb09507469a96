// Package data 提供容器文档的键寻址存储抽象
//
// 核心把仓储视为 get/set/list/remove 接口；Set 为 upsert 语义，
// 由存储层通过 ETag 做乐观并发控制：携带过期 ETag 的写入返回冲突错误，
// 调用方（活动层）应当重读后重放写入。
package data

import (
	"context"
	"iter"

	"stratus/model"
)

// IDocumentStore 文档存储接口
type IDocumentStore interface {
	// Get 读取文档；不存在时返回 ErrCodeNotFound
	Get(ctx context.Context, kind model.DocumentKind, partition, id string) (model.IDocument, error)

	// Set 写入文档（upsert）
	//
	// 并发语义：
	//   - 文档已存在且传入 ETag 与当前不一致 → ErrCodeConflict
	//   - 文档不存在但传入了 ETag（写给已删除的文档）→ ErrCodeConflict
	//
	// 成功后返回带新 ETag/Timestamp 的文档。
	Set(ctx context.Context, doc model.IDocument) (model.IDocument, error)

	// Remove 删除文档，幂等（不存在时不报错）
	Remove(ctx context.Context, doc model.IDocument) error

	// List 枚举分区内指定类型的全部文档，一次遍历的惰性序列；
	// 软删除的文档被跳过，按 ID Get 仍可读到（清理流程用）
	List(ctx context.Context, kind model.DocumentKind, partition string) iter.Seq2[model.IDocument, error]
}

// clone 通过序列化往返深拷贝文档，保证存储内部状态不被调用方修改
func clone(doc model.IDocument) (model.IDocument, error) {
	raw, err := marshalDocument(doc)
	if err != nil {
		return nil, err
	}
	return unmarshalDocument(doc.Kind(), raw)
}
