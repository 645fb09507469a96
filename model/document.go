// Package model 定义命令编排引擎的核心数据模型
//
// 包含命令信封（Command/CommandResult）、容器文档（ContainerDocument 及各实体变体）
// 和资源状态机（ResourceState）。文档的 ETag/Timestamp 只由存储层填充，
// 应用代码不得自行设置。
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentKind 文档类型（封闭集合）
type DocumentKind string

const (
	KindOrganization      DocumentKind = "organization"
	KindProject           DocumentKind = "project"
	KindUser              DocumentKind = "user"
	KindDeploymentScope   DocumentKind = "deploymentscope"
	KindComponent         DocumentKind = "component"
	KindComponentTask     DocumentKind = "componenttask"
	KindProjectTemplate   DocumentKind = "projecttemplate"
	KindComponentTemplate DocumentKind = "componenttemplate"
	KindProvider          DocumentKind = "provider"
)

// lockRank 锁获取全局顺序：组织 < 项目 < 用户 < 部署范围 < 组件 < 任务
//
// 编排在锁多个实体时必须按该顺序获取，避免死锁。
var lockRank = map[DocumentKind]int{
	KindOrganization:      0,
	KindProject:           1,
	KindUser:              2,
	KindDeploymentScope:   3,
	KindProvider:          4,
	KindProjectTemplate:   5,
	KindComponentTemplate: 6,
	KindComponent:         7,
	KindComponentTask:     8,
}

// LockRank 返回文档类型在全局锁顺序中的序号
func (k DocumentKind) LockRank() int {
	if r, ok := lockRank[k]; ok {
		return r
	}
	return len(lockRank)
}

// IDocument 容器文档接口
//
// 每个文档属于且仅属于一个分区（组织级文档分区键为组织 ID，
// 项目级文档分区键为项目 ID），由存储层保证多租户隔离。
type IDocument interface {
	GetID() string
	SetID(id string)
	Kind() DocumentKind
	PartitionKey() string

	GetETag() string
	SetETag(etag string)
	GetTimestamp() time.Time
	SetTimestamp(ts time.Time)
}

// ContainerDocument 容器文档基础结构，嵌入到各实体中
type ContainerDocument struct {
	ID string `json:"id"`

	// Timestamp/ETag 由存储层填充，应用代码不得设置
	Timestamp time.Time `json:"_timestamp,omitempty"`
	ETag      string    `json:"_etag,omitempty"`
}

// NewContainerDocument 创建带新生成 ID 的文档基础结构
func NewContainerDocument() ContainerDocument {
	return ContainerDocument{ID: uuid.NewString()}
}

func (d *ContainerDocument) GetID() string            { return d.ID }
func (d *ContainerDocument) SetID(id string)          { d.ID = id }
func (d *ContainerDocument) GetETag() string          { return d.ETag }
func (d *ContainerDocument) SetETag(etag string)      { d.ETag = etag }
func (d *ContainerDocument) GetTimestamp() time.Time  { return d.Timestamp }
func (d *ContainerDocument) SetTimestamp(t time.Time) { d.Timestamp = t }

// DocumentPath 文档的规范路径，用于日志与错误上下文
func DocumentPath(doc IDocument) string {
	return fmt.Sprintf("/%ss/%s/%s", doc.Kind(), doc.PartitionKey(), doc.GetID())
}

// ISoftDeletable 支持软删除的文档；已软删除的文档对常规 List 不可见
type ISoftDeletable interface {
	IDocument
	IsDeleted() bool
}
