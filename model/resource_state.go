package model

// ResourceState 资源生命周期状态机
//
// Pending → Provisioning → {Succeeded | Failed}
//
// Succeeded/Failed 为终态；重新供给（re-provision）允许从终态回到 Provisioning。
// 编排在依赖资源处于非终态时不得继续资源相关步骤，必须延迟重调度。
type ResourceState string

const (
	ResourceStatePending      ResourceState = "Pending"
	ResourceStateProvisioning ResourceState = "Provisioning"
	ResourceStateSucceeded    ResourceState = "Succeeded"
	ResourceStateFailed       ResourceState = "Failed"
)

// IsFinal 是否为终态
func (s ResourceState) IsFinal() bool {
	return s == ResourceStateSucceeded || s == ResourceStateFailed
}

// CanTransition 检查状态迁移是否合法；迁移到自身恒合法（重放幂等）
func (s ResourceState) CanTransition(to ResourceState) bool {
	if to == s {
		return true
	}
	switch s {
	case ResourceStatePending:
		return to == ResourceStateProvisioning
	case ResourceStateProvisioning:
		return to == ResourceStateSucceeded || to == ResourceStateFailed
	case ResourceStateSucceeded, ResourceStateFailed:
		// 终态仅允许重新供给，或重置回 Pending（组件 reset）
		return to == ResourceStateProvisioning || to == ResourceStatePending
	case "":
		// 零值视同 Pending
		return to == ResourceStatePending || to == ResourceStateProvisioning
	}
	return false
}

// IResourceHolder 携带 ResourceState 的被供给实体
type IResourceHolder interface {
	IDocument
	GetResourceState() ResourceState
	SetResourceState(state ResourceState)
}
