package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResourceStateIsFinal(t *testing.T) {
	require.False(t, ResourceStatePending.IsFinal())
	require.False(t, ResourceStateProvisioning.IsFinal())
	require.True(t, ResourceStateSucceeded.IsFinal())
	require.True(t, ResourceStateFailed.IsFinal())
}

func TestResourceStateTransitions(t *testing.T) {
	// 正常供给路径
	require.True(t, ResourceStatePending.CanTransition(ResourceStateProvisioning))
	require.True(t, ResourceStateProvisioning.CanTransition(ResourceStateSucceeded))
	require.True(t, ResourceStateProvisioning.CanTransition(ResourceStateFailed))

	// 终态只允许重新供给或重置
	require.True(t, ResourceStateSucceeded.CanTransition(ResourceStateProvisioning))
	require.True(t, ResourceStateFailed.CanTransition(ResourceStateProvisioning))
	require.True(t, ResourceStateSucceeded.CanTransition(ResourceStatePending))

	// 自身迁移恒合法（重放幂等）
	require.True(t, ResourceStatePending.CanTransition(ResourceStatePending))
	require.True(t, ResourceStateProvisioning.CanTransition(ResourceStateProvisioning))

	// 非法跳转
	require.False(t, ResourceStatePending.CanTransition(ResourceStateSucceeded))
	require.False(t, ResourceStateSucceeded.CanTransition(ResourceStateFailed))
	require.False(t, ResourceStateProvisioning.CanTransition(ResourceStatePending))
}

func TestLockRankOrdering(t *testing.T) {
	// 全局锁顺序：组织先于项目先于组件
	require.Less(t, KindOrganization.LockRank(), KindProject.LockRank())
	require.Less(t, KindProject.LockRank(), KindComponent.LockRank())
	require.Less(t, KindComponent.LockRank(), KindComponentTask.LockRank())
}
