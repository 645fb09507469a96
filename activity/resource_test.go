package activity

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"stratus/model"
)

// fakeResourceService 记录调用次数的假资源服务
type fakeResourceService struct {
	ensureGroupCalls      int
	findStorageCalls      int
	findVaultCalls        int
	ensureIdentityCalls   int
	ensureDeploymentCalls int
	permissionCalls       int
	deleted               []string
	failPermission        error
}

func (f *fakeResourceService) EnsureResourceGroup(ctx context.Context, subscriptionID, name string) (string, error) {
	f.ensureGroupCalls++
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s", subscriptionID, name), nil
}

func (f *fakeResourceService) FindStorageAccount(ctx context.Context, resourceGroupID string) (string, error) {
	f.findStorageCalls++
	return resourceGroupID + "/providers/Storage/accounts/shared", nil
}

func (f *fakeResourceService) FindKeyVault(ctx context.Context, resourceGroupID string) (string, error) {
	f.findVaultCalls++
	return resourceGroupID + "/providers/KeyVault/vaults/shared", nil
}

func (f *fakeResourceService) EnsureIdentity(ctx context.Context, resourceGroupID, name string) (string, error) {
	f.ensureIdentityCalls++
	return fmt.Sprintf("%s/providers/Identity/userAssignedIdentities/%s", resourceGroupID, name), nil
}

func (f *fakeResourceService) EnsureDeployment(ctx context.Context, resourceGroupID, name string) (string, error) {
	f.ensureDeploymentCalls++
	return fmt.Sprintf("%s/providers/Resources/deployments/%s", resourceGroupID, name), nil
}

func (f *fakeResourceService) EnsurePermission(ctx context.Context, identityID, scopeID string) error {
	f.permissionCalls++
	return f.failPermission
}

func (f *fakeResourceService) DeleteResource(ctx context.Context, resourceID string) error {
	f.deleted = append(f.deleted, resourceID)
	return nil
}

type fakeTaskRunner struct {
	output   string
	exitCode int
	err      error
}

func (f *fakeTaskRunner) RunTask(ctx context.Context, component *model.Component, task *model.ComponentTask) (string, int, error) {
	return f.output, f.exitCode, f.err
}

func testProject() *model.Project {
	p := &model.Project{ContainerDocument: model.NewContainerDocument(), Organization: "org-1"}
	p.ResourceID = "/subscriptions/sub-1/resourceGroups/prj-" + p.ID
	return p
}

// ensure 型活动执行两次产出相同结果且只调外部一次
func TestEnsureComponentStorageIsIdempotent(t *testing.T) {
	svc := &fakeResourceService{}
	acts := NewResourceActivities(svc, &fakeTaskRunner{})
	ctx := context.Background()

	project := testProject()
	component := &model.Component{ContainerDocument: model.NewContainerDocument(), ProjectID: project.ID}

	first, err := acts.EnsureComponentStorage(ctx, component, project)
	require.NoError(t, err)
	require.NotEmpty(t, first.StorageID)

	second, err := acts.EnsureComponentStorage(ctx, first, project)
	require.NoError(t, err)
	require.Equal(t, first.StorageID, second.StorageID)
	require.Equal(t, 1, svc.findStorageCalls)
}

func TestEnsureComponentIdentityIsIdempotent(t *testing.T) {
	svc := &fakeResourceService{}
	acts := NewResourceActivities(svc, &fakeTaskRunner{})
	ctx := context.Background()

	project := testProject()
	component := &model.Component{ContainerDocument: model.NewContainerDocument(), ProjectID: project.ID}

	first, err := acts.EnsureComponentIdentity(ctx, component, project)
	require.NoError(t, err)
	require.NotEmpty(t, first.IdentityID)

	_, ok := TryParseResourceID(first.IdentityID)
	require.True(t, ok)

	second, err := acts.EnsureComponentIdentity(ctx, first, project)
	require.NoError(t, err)
	require.Equal(t, first.IdentityID, second.IdentityID)
	require.Equal(t, 1, svc.ensureIdentityCalls)
}

// 项目资源组未就绪时 ensure 为 no-op，不发外部调用
func TestEnsureSkipsWhenProjectResourceMissing(t *testing.T) {
	svc := &fakeResourceService{}
	acts := NewResourceActivities(svc, &fakeTaskRunner{})
	ctx := context.Background()

	project := &model.Project{ContainerDocument: model.NewContainerDocument(), Organization: "org-1"}
	component := &model.Component{ContainerDocument: model.NewContainerDocument(), ProjectID: project.ID}

	got, err := acts.EnsureComponentVault(ctx, component, project)
	require.NoError(t, err)
	require.Empty(t, got.VaultID)
	require.Zero(t, svc.findVaultCalls)
}

func TestEnsureOrganizationResource(t *testing.T) {
	svc := &fakeResourceService{}
	acts := NewResourceActivities(svc, &fakeTaskRunner{})
	ctx := context.Background()

	org := &model.Organization{ContainerDocument: model.NewContainerDocument(), SubscriptionID: "sub-1"}

	first, err := acts.EnsureOrganizationResource(ctx, org)
	require.NoError(t, err)
	_, ok := TryParseResourceID(first.ResourceID)
	require.True(t, ok)

	second, err := acts.EnsureOrganizationResource(ctx, first)
	require.NoError(t, err)
	require.Equal(t, first.ResourceID, second.ResourceID)
	require.Equal(t, 1, svc.ensureGroupCalls)
}

func TestEnsureComponentPermissionNeedsBothReferences(t *testing.T) {
	svc := &fakeResourceService{}
	acts := NewResourceActivities(svc, &fakeTaskRunner{})
	ctx := context.Background()

	component := &model.Component{ContainerDocument: model.NewContainerDocument()}

	// 引用未就绪时跳过
	_, err := acts.EnsureComponentPermission(ctx, component)
	require.NoError(t, err)
	require.Zero(t, svc.permissionCalls)

	component.IdentityID = "/subscriptions/s/resourceGroups/g/providers/Identity/userAssignedIdentities/i"
	component.ResourceID = "/subscriptions/s/resourceGroups/g/providers/Resources/deployments/d"

	_, err = acts.EnsureComponentPermission(ctx, component)
	require.NoError(t, err)
	require.Equal(t, 1, svc.permissionCalls)
}

func TestTeardownResourceIgnoresEmpty(t *testing.T) {
	svc := &fakeResourceService{}
	acts := NewResourceActivities(svc, &fakeTaskRunner{})

	require.NoError(t, acts.TeardownResource(context.Background(), ""))
	require.Empty(t, svc.deleted)

	require.NoError(t, acts.TeardownResource(context.Background(), "/subscriptions/s/resourceGroups/g"))
	require.Equal(t, []string{"/subscriptions/s/resourceGroups/g"}, svc.deleted)
}

func TestRunComponentTaskFillsOutput(t *testing.T) {
	runner := &fakeTaskRunner{output: "done", exitCode: 0}
	acts := NewResourceActivities(&fakeResourceService{}, runner)

	component := &model.Component{ContainerDocument: model.NewContainerDocument()}
	task := &model.ComponentTask{ContainerDocument: model.NewContainerDocument(), Type: model.ComponentTaskTypeCustom}

	got, err := acts.RunComponentTask(context.Background(), component, task)
	require.NoError(t, err)
	require.Equal(t, "done", got.Output)
	require.NotNil(t, got.ExitCode)
	require.Equal(t, 0, *got.ExitCode)
}

func TestTryParseResourceID(t *testing.T) {
	id, ok := TryParseResourceID("/subscriptions/sub-1/resourceGroups/rg-1/providers/Storage/accounts/sa1")
	require.True(t, ok)
	require.Equal(t, "sub-1", id.SubscriptionID)
	require.Equal(t, "rg-1", id.ResourceGroup)
	require.Equal(t, "sa1", id.Name)
	require.Equal(t, "/subscriptions/sub-1/resourceGroups/rg-1", id.ResourceGroupID())

	_, ok = TryParseResourceID("")
	require.False(t, ok)
	_, ok = TryParseResourceID("not-a-resource")
	require.False(t, ok)
	_, ok = TryParseResourceID("/subscriptions/sub-1")
	require.False(t, ok)
}
