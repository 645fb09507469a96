package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stratus/config"
	"stratus/dispatcher"
	"stratus/model"
)

type resourceStub struct{}

func (resourceStub) EnsureResourceGroup(ctx context.Context, subscriptionID, name string) (string, error) {
	return "/subscriptions/" + subscriptionID + "/resourceGroups/" + name, nil
}
func (resourceStub) FindStorageAccount(ctx context.Context, resourceGroupID string) (string, error) {
	return resourceGroupID + "/providers/Storage/accounts/shared", nil
}
func (resourceStub) FindKeyVault(ctx context.Context, resourceGroupID string) (string, error) {
	return resourceGroupID + "/providers/KeyVault/vaults/shared", nil
}
func (resourceStub) EnsureIdentity(ctx context.Context, resourceGroupID, name string) (string, error) {
	return resourceGroupID + "/providers/Identity/userAssignedIdentities/" + name, nil
}
func (resourceStub) EnsureDeployment(ctx context.Context, resourceGroupID, name string) (string, error) {
	return resourceGroupID + "/providers/Resources/deployments/" + name, nil
}
func (resourceStub) EnsurePermission(ctx context.Context, identityID, scopeID string) error {
	return nil
}
func (resourceStub) DeleteResource(ctx context.Context, resourceID string) error { return nil }
func (resourceStub) RunTask(ctx context.Context, component *model.Component, task *model.ComponentTask) (string, int, error) {
	return "", 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:        "127.0.0.1:0",
		Workers:         2,
		QueueSize:       16,
		LockTTL:         time.Second,
		AcquireTimeout:  5 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      time.Millisecond,
		ProviderTimeout: time.Second,
		RescheduleDelay: 10 * time.Millisecond,
	}
}

func newRuntime(t *testing.T, cfg *config.Config) *Runtime {
	t.Helper()
	rt, err := New(cfg, Dependencies{Resources: resourceStub{}, Tasks: resourceStub{}})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func awaitFinal(t *testing.T, d *dispatcher.Dispatcher, trackingID string) *dispatcher.Handle {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		handle, err := d.GetStatus(context.Background(), trackingID)
		require.NoError(t, err)
		if handle.Final() {
			return handle
		}
		select {
		case <-deadline:
			t.Fatalf("instance %s did not finish", trackingID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRuntimeRequiresDependencies(t *testing.T) {
	_, err := New(testConfig(), Dependencies{})
	require.Error(t, err)
}

func TestMemoryRuntimeRunsCommand(t *testing.T) {
	rt := newRuntime(t, testConfig())

	d := rt.Dispatcher()
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })

	org := &model.Organization{
		ContainerDocument: model.NewContainerDocument(),
		DisplayName:       "acme",
		SubscriptionID:    "sub-1",
	}
	handle, err := d.Submit(context.Background(), model.NewCommand(model.ActionCreate, nil, org))
	require.NoError(t, err)

	final := awaitFinal(t, d, handle.TrackingID)
	require.Equal(t, model.RuntimeStatusCompleted, final.RuntimeStatus)

	saved, err := rt.Store().Get(context.Background(), model.KindOrganization, org.ID, org.ID)
	require.NoError(t, err)
	require.Equal(t, model.ResourceStateSucceeded, saved.(*model.Organization).ResourceState)
}

func TestSQLiteRuntimePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig()
	cfg.SQLiteDSN = "file:" + t.TempDir() + "/stratus.db"

	rt := newRuntime(t, cfg)
	d := rt.Dispatcher()
	require.NoError(t, d.Start(context.Background()))

	org := &model.Organization{
		ContainerDocument: model.NewContainerDocument(),
		DisplayName:       "acme",
		SubscriptionID:    "sub-1",
	}
	cmd := model.NewCommand(model.ActionCreate, nil, org)
	handle, err := d.Submit(context.Background(), cmd)
	require.NoError(t, err)
	awaitFinal(t, d, handle.TrackingID)
	d.Stop()
	rt.Close()

	// 重新装配同一 DSN，实例与文档都还在
	rt2 := newRuntime(t, cfg)
	d2 := rt2.Dispatcher()
	require.NoError(t, d2.Start(context.Background()))
	t.Cleanup(func() { _ = d2.Stop() })

	handle, err = d2.GetStatus(context.Background(), cmd.CommandID.String())
	require.NoError(t, err)
	require.Equal(t, model.RuntimeStatusCompleted, handle.RuntimeStatus)

	saved, err := rt2.Store().Get(context.Background(), model.KindOrganization, org.ID, org.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)
}
