package activity

import (
	"context"
	"fmt"

	"stratus/logging"
	"stratus/model"
)

// IResourceService 云资源供给 SDK 的外部接口
//
// 核心只编排这些调用的时机与顺序，不关心底层实现。
// 所有方法都要求幂等（ensure 语义）。
type IResourceService interface {
	// EnsureResourceGroup 确保资源组存在，返回资源组标识符
	EnsureResourceGroup(ctx context.Context, subscriptionID, name string) (string, error)

	// FindStorageAccount 在资源组内查找存储账号，返回其标识符；不存在返回空串
	FindStorageAccount(ctx context.Context, resourceGroupID string) (string, error)

	// FindKeyVault 在资源组内查找密钥保管库，返回其标识符；不存在返回空串
	FindKeyVault(ctx context.Context, resourceGroupID string) (string, error)

	// EnsureIdentity 确保托管身份存在，返回其标识符
	EnsureIdentity(ctx context.Context, resourceGroupID, name string) (string, error)

	// EnsureDeployment 确保组件部署资源存在，返回其标识符
	EnsureDeployment(ctx context.Context, resourceGroupID, name string) (string, error)

	// EnsurePermission 确保身份在目标范围上拥有权限
	EnsurePermission(ctx context.Context, identityID, scopeID string) error

	// DeleteResource 删除资源，幂等（不存在时不报错）
	DeleteResource(ctx context.Context, resourceID string) error
}

// ITaskRunner 组件任务执行器的外部接口（模板定义的任务在隔离环境中运行）
type ITaskRunner interface {
	RunTask(ctx context.Context, component *model.Component, task *model.ComponentTask) (output string, exitCode int, err error)
}

// ResourceActivities 资源供给活动
//
// 每个 ensure 活动检查目标字段是否已是有效资源引用：是则 no-op，
// 否则恰好发起一次外部调用填充引用。活动不读写文档——文档状态
// 由编排通过 DocumentActivities 单独持久化。
type ResourceActivities struct {
	resources IResourceService
	tasks     ITaskRunner
	logger    logging.Logger
}

// NewResourceActivities 创建资源活动集
func NewResourceActivities(resources IResourceService, tasks ITaskRunner) *ResourceActivities {
	return &ResourceActivities{
		resources: resources,
		tasks:     tasks,
		logger:    logging.ComponentLogger("activity.resource"),
	}
}

// EnsureOrganizationResource 确保组织资源组存在
func (a *ResourceActivities) EnsureOrganizationResource(ctx context.Context, org *model.Organization) (*model.Organization, error) {
	if _, ok := TryParseResourceID(org.ResourceID); ok {
		return org, nil
	}

	resourceID, err := a.resources.EnsureResourceGroup(ctx, org.SubscriptionID, fmt.Sprintf("org-%s", org.ID))
	if err != nil {
		return nil, err
	}
	org.ResourceID = resourceID
	return org, nil
}

// EnsureProjectResource 确保项目资源组存在
func (a *ResourceActivities) EnsureProjectResource(ctx context.Context, project *model.Project, org *model.Organization) (*model.Project, error) {
	if _, ok := TryParseResourceID(project.ResourceID); ok {
		return project, nil
	}

	resourceID, err := a.resources.EnsureResourceGroup(ctx, org.SubscriptionID, fmt.Sprintf("prj-%s", project.ID))
	if err != nil {
		return nil, err
	}
	project.ResourceID = resourceID
	return project, nil
}

// EnsureComponentIdentity 确保组件的托管身份引用已填充
func (a *ResourceActivities) EnsureComponentIdentity(ctx context.Context, component *model.Component, project *model.Project) (*model.Component, error) {
	if _, ok := TryParseResourceID(component.IdentityID); ok {
		return component, nil
	}

	projectResource, ok := TryParseResourceID(project.ResourceID)
	if !ok {
		return component, nil
	}

	identityID, err := a.resources.EnsureIdentity(ctx, projectResource.ResourceGroupID(), fmt.Sprintf("id-%s", component.ID))
	if err != nil {
		return nil, err
	}
	component.IdentityID = identityID
	return component, nil
}

// EnsureComponentResource 确保组件部署资源引用已填充
func (a *ResourceActivities) EnsureComponentResource(ctx context.Context, component *model.Component, project *model.Project) (*model.Component, error) {
	if _, ok := TryParseResourceID(component.ResourceID); ok {
		return component, nil
	}

	projectResource, ok := TryParseResourceID(project.ResourceID)
	if !ok {
		return component, nil
	}

	resourceID, err := a.resources.EnsureDeployment(ctx, projectResource.ResourceGroupID(), fmt.Sprintf("cmp-%s", component.ID))
	if err != nil {
		return nil, err
	}
	component.ResourceID = resourceID
	return component, nil
}

// EnsureComponentStorage 确保组件的存储引用指向项目级存储账号
func (a *ResourceActivities) EnsureComponentStorage(ctx context.Context, component *model.Component, project *model.Project) (*model.Component, error) {
	if _, ok := TryParseResourceID(component.StorageID); ok {
		return component, nil
	}

	projectResource, ok := TryParseResourceID(project.ResourceID)
	if !ok {
		return component, nil
	}

	storageID, err := a.resources.FindStorageAccount(ctx, projectResource.ResourceGroupID())
	if err != nil {
		return nil, err
	}
	component.StorageID = storageID
	return component, nil
}

// EnsureComponentVault 确保组件的密钥保管库引用指向项目级保管库
func (a *ResourceActivities) EnsureComponentVault(ctx context.Context, component *model.Component, project *model.Project) (*model.Component, error) {
	if _, ok := TryParseResourceID(component.VaultID); ok {
		return component, nil
	}

	projectResource, ok := TryParseResourceID(project.ResourceID)
	if !ok {
		return component, nil
	}

	vaultID, err := a.resources.FindKeyVault(ctx, projectResource.ResourceGroupID())
	if err != nil {
		return nil, err
	}
	component.VaultID = vaultID
	return component, nil
}

// EnsureComponentPermission 确保组件身份在其部署范围上拥有权限
func (a *ResourceActivities) EnsureComponentPermission(ctx context.Context, component *model.Component) (*model.Component, error) {
	if component.IdentityID == "" || component.ResourceID == "" {
		return component, nil
	}
	if err := a.resources.EnsurePermission(ctx, component.IdentityID, component.ResourceID); err != nil {
		return nil, err
	}
	return component, nil
}

// TeardownResource 删除资源，幂等
func (a *ResourceActivities) TeardownResource(ctx context.Context, resourceID string) error {
	if resourceID == "" {
		return nil
	}
	return a.resources.DeleteResource(ctx, resourceID)
}

// RunComponentTask 执行组件任务，回填输出与退出码
func (a *ResourceActivities) RunComponentTask(ctx context.Context, component *model.Component, task *model.ComponentTask) (*model.ComponentTask, error) {
	output, exitCode, err := a.tasks.RunTask(ctx, component, task)
	if err != nil {
		return nil, err
	}
	task.Output = output
	task.ExitCode = &exitCode
	return task, nil
}
