package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"stratus/activity"
	"stratus/data"
	"stratus/errors"
	"stratus/locking"
	"stratus/model"
	"stratus/orchestration"
	"stratus/orchestration/statestore"
	"stratus/patterns/retry"
)

// fakeProvisioner 计数的假资源服务，验证幂等重提交不重新供给
type fakeProvisioner struct {
	calls int32
}

func (f *fakeProvisioner) EnsureResourceGroup(ctx context.Context, subscriptionID, name string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return "/subscriptions/" + subscriptionID + "/resourceGroups/" + name, nil
}

func (f *fakeProvisioner) FindStorageAccount(ctx context.Context, resourceGroupID string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return resourceGroupID + "/providers/Storage/accounts/shared", nil
}

func (f *fakeProvisioner) FindKeyVault(ctx context.Context, resourceGroupID string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return resourceGroupID + "/providers/KeyVault/vaults/shared", nil
}

func (f *fakeProvisioner) EnsureIdentity(ctx context.Context, resourceGroupID, name string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return resourceGroupID + "/providers/Identity/userAssignedIdentities/" + name, nil
}

func (f *fakeProvisioner) EnsureDeployment(ctx context.Context, resourceGroupID, name string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return resourceGroupID + "/providers/Resources/deployments/" + name, nil
}

func (f *fakeProvisioner) EnsurePermission(ctx context.Context, identityID, scopeID string) error {
	atomic.AddInt32(&f.calls, 1)
	return nil
}

func (f *fakeProvisioner) DeleteResource(ctx context.Context, resourceID string) error { return nil }

func (f *fakeProvisioner) RunTask(ctx context.Context, component *model.Component, task *model.ComponentTask) (string, int, error) {
	return "", 0, nil
}

type fixture struct {
	dispatcher  *Dispatcher
	store       *data.MemoryStore
	instances   *statestore.MemoryInstanceStore
	provisioner *fakeProvisioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := data.NewMemoryStore()
	instances := statestore.NewMemoryInstanceStore()
	locks := locking.NewMemoryLockManager(locking.Config{
		TTL:            time.Second,
		AcquireTimeout: 5 * time.Second,
		PollInterval:   time.Millisecond,
	})
	provisioner := &fakeProvisioner{}

	exec := activity.NewExecutor(retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Millisecond,
	})
	docActs := activity.NewDocumentActivities(store, locks)
	resActs := activity.NewResourceActivities(provisioner, provisioner)

	runner := orchestration.NewRunner(instances, locks, exec, orchestration.Config{
		RescheduleDelay:   10 * time.Millisecond,
		KeepAliveInterval: 200 * time.Millisecond,
	})

	registry := orchestration.NewRegistry()
	orchestration.NewWorkflows(docActs, resActs, nil, nil, nil).Register(registry)

	d := New(instances, registry, runner, Config{Workers: 2, QueueSize: 16})
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { d.Stop() })

	return &fixture{dispatcher: d, store: store, instances: instances, provisioner: provisioner}
}

// awaitFinal 轮询直到实例终态
func (f *fixture) awaitFinal(t *testing.T, trackingID string) *Handle {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		handle, err := f.dispatcher.GetStatus(context.Background(), trackingID)
		require.NoError(t, err)
		if handle.Final() {
			return handle
		}
		select {
		case <-deadline:
			t.Fatalf("instance %s did not reach a final state", trackingID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	f := newFixture(t)

	org := &model.Organization{
		ContainerDocument: model.NewContainerDocument(),
		DisplayName:       "acme",
		SubscriptionID:    "sub-1",
	}
	cmd := model.NewCommand(model.ActionCreate, nil, org)

	handle, err := f.dispatcher.Submit(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, cmd.CommandID.String(), handle.TrackingID)
	require.False(t, handle.Final())

	final := f.awaitFinal(t, handle.TrackingID)
	require.Equal(t, model.RuntimeStatusCompleted, final.RuntimeStatus)
	require.NotNil(t, final.Result)
	require.True(t, final.Result.Succeeded())
}

// 幂等重提交：返回原始结果，不重新执行供给活动
func TestResubmitReturnsOriginalResult(t *testing.T) {
	f := newFixture(t)

	org := &model.Organization{
		ContainerDocument: model.NewContainerDocument(),
		DisplayName:       "acme",
		SubscriptionID:    "sub-1",
	}
	cmd := model.NewCommand(model.ActionCreate, nil, org)

	_, err := f.dispatcher.Submit(context.Background(), cmd)
	require.NoError(t, err)
	first := f.awaitFinal(t, cmd.CommandID.String())
	callsAfterFirst := atomic.LoadInt32(&f.provisioner.calls)

	again, err := f.dispatcher.Submit(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, again.Final())
	require.Equal(t, first.Result.CommandID, again.Result.CommandID)
	require.Equal(t, first.Result.RuntimeStatus, again.Result.RuntimeStatus)
	require.Equal(t, callsAfterFirst, atomic.LoadInt32(&f.provisioner.calls))
}

func TestSubmitUnknownDescriptorRejected(t *testing.T) {
	f := newFixture(t)

	// componenttemplate 不是命令目标，没有注册编排
	tpl := &model.ComponentTemplate{ContainerDocument: model.NewContainerDocument(), Organization: "o"}
	_, err := f.dispatcher.Submit(context.Background(), model.NewCommand(model.ActionCreate, nil, tpl))
	require.Error(t, err)
	require.True(t, errors.IsValidation(err))
}

func TestGetStatusUnknownTracking(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.GetStatus(context.Background(), "missing")
	require.True(t, errors.IsNotFound(err))
}

func TestCancelFinalInstanceReturnsFalse(t *testing.T) {
	f := newFixture(t)

	org := &model.Organization{
		ContainerDocument: model.NewContainerDocument(),
		DisplayName:       "acme",
		SubscriptionID:    "sub-1",
	}
	cmd := model.NewCommand(model.ActionCreate, nil, org)
	_, err := f.dispatcher.Submit(context.Background(), cmd)
	require.NoError(t, err)
	f.awaitFinal(t, cmd.CommandID.String())

	ok, err := f.dispatcher.Cancel(context.Background(), cmd.CommandID.String())
	require.NoError(t, err)
	require.False(t, ok)
}

// 崩溃恢复：预置非终态实例，Start 时自动恢复执行
func TestStartResumesActiveInstances(t *testing.T) {
	store := data.NewMemoryStore()
	instances := statestore.NewMemoryInstanceStore()
	locks := locking.NewMemoryLockManager(locking.Config{
		TTL:            time.Second,
		AcquireTimeout: 5 * time.Second,
		PollInterval:   time.Millisecond,
	})
	provisioner := &fakeProvisioner{}

	exec := activity.NewExecutor(retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Millisecond,
	})
	runner := orchestration.NewRunner(instances, locks, exec, orchestration.Config{
		RescheduleDelay:   10 * time.Millisecond,
		KeepAliveInterval: 200 * time.Millisecond,
	})
	registry := orchestration.NewRegistry()
	orchestration.NewWorkflows(
		activity.NewDocumentActivities(store, locks),
		activity.NewResourceActivities(provisioner, provisioner),
		nil, nil, nil,
	).Register(registry)

	// 模拟崩溃前留下的运行中实例
	org := &model.Organization{
		ContainerDocument: model.NewContainerDocument(),
		DisplayName:       "acme",
		SubscriptionID:    "sub-1",
	}
	cmd := model.NewCommand(model.ActionCreate, nil, org)
	instance, err := statestore.NewInstance(cmd)
	require.NoError(t, err)
	instance.MarkRunning()
	require.NoError(t, instances.Save(context.Background(), instance))

	d := New(instances, registry, runner, Config{Workers: 1, QueueSize: 4})
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { d.Stop() })

	f := &fixture{dispatcher: d, store: store, instances: instances, provisioner: provisioner}
	final := f.awaitFinal(t, instance.InstanceID)
	require.Equal(t, model.RuntimeStatusCompleted, final.RuntimeStatus)
}

// create 命令缺负载 ID 时在提交边界补齐，落库文档携带生成的标识
func TestSubmitGeneratesMissingPayloadID(t *testing.T) {
	f := newFixture(t)

	org := &model.Organization{DisplayName: "acme", SubscriptionID: "sub-1"}
	cmd := model.NewCommand(model.ActionCreate, nil, org)

	handle, err := f.dispatcher.Submit(context.Background(), cmd)
	require.NoError(t, err)
	require.NotEmpty(t, org.ID)

	final := f.awaitFinal(t, handle.TrackingID)
	require.True(t, final.Result.Succeeded())

	saved := final.Result.Result.(*model.Organization)
	require.Equal(t, org.ID, saved.ID)

	stored, err := f.store.Get(context.Background(), model.KindOrganization, org.ID, org.ID)
	require.NoError(t, err)
	require.Equal(t, org.ID, stored.GetID())
}

// 非 create 动作缺负载 ID 无从寻址既有实体，直接拒绝
func TestSubmitRejectsMissingIDOnUpdate(t *testing.T) {
	f := newFixture(t)

	org := &model.Organization{DisplayName: "acme"}
	_, err := f.dispatcher.Submit(context.Background(), model.NewCommand(model.ActionUpdate, nil, org))
	require.Error(t, err)
	require.True(t, errors.IsValidation(err))
}

// 零值 CommandId 补发新标识，两条命令不会折叠到同一实例
func TestSubmitAssignsZeroCommandID(t *testing.T) {
	f := newFixture(t)

	first := model.NewCommand(model.ActionCreate, nil, &model.Organization{
		ContainerDocument: model.NewContainerDocument(), DisplayName: "org-a", SubscriptionID: "sub-1",
	})
	second := model.NewCommand(model.ActionCreate, nil, &model.Organization{
		ContainerDocument: model.NewContainerDocument(), DisplayName: "org-b", SubscriptionID: "sub-1",
	})
	first.CommandID = uuid.Nil
	second.CommandID = uuid.Nil

	h1, err := f.dispatcher.Submit(context.Background(), first)
	require.NoError(t, err)
	h2, err := f.dispatcher.Submit(context.Background(), second)
	require.NoError(t, err)

	require.NotEqual(t, uuid.Nil.String(), h1.TrackingID)
	require.NotEqual(t, uuid.Nil.String(), h2.TrackingID)
	require.NotEqual(t, h1.TrackingID, h2.TrackingID)

	require.True(t, f.awaitFinal(t, h1.TrackingID).Result.Succeeded())
	require.True(t, f.awaitFinal(t, h2.TrackingID).Result.Succeeded())
}
