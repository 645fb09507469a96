package model

import "time"

// Organization 组织，租户的顶层容器
type Organization struct {
	ContainerDocument

	DisplayName    string            `json:"displayName"`
	Slug           string            `json:"slug,omitempty"`
	SubscriptionID string            `json:"subscriptionId,omitempty"`
	ResourceID     string            `json:"resourceId,omitempty"`
	ResourceState  ResourceState     `json:"resourceState,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

func (o *Organization) Kind() DocumentKind               { return KindOrganization }
func (o *Organization) PartitionKey() string             { return o.ID }
func (o *Organization) GetResourceState() ResourceState  { return o.ResourceState }
func (o *Organization) SetResourceState(s ResourceState) { o.ResourceState = s }

// Project 项目，按组织分区
type Project struct {
	ContainerDocument

	Organization  string        `json:"organization"`
	DisplayName   string        `json:"displayName"`
	Template      string        `json:"template,omitempty"`
	ResourceID    string        `json:"resourceId,omitempty"`
	StorageID     string        `json:"storageId,omitempty"`
	VaultID       string        `json:"vaultId,omitempty"`
	ResourceState ResourceState `json:"resourceState,omitempty"`
	UserIDs       []string      `json:"userIds,omitempty"`
}

func (p *Project) Kind() DocumentKind               { return KindProject }
func (p *Project) PartitionKey() string             { return p.Organization }
func (p *Project) GetResourceState() ResourceState  { return p.ResourceState }
func (p *Project) SetResourceState(s ResourceState) { p.ResourceState = s }

// HasUser 项目是否包含指定用户
func (p *Project) HasUser(userID string) bool {
	for _, id := range p.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// UserRole 用户角色
type UserRole string

const (
	UserRoleNone   UserRole = "None"
	UserRoleMember UserRole = "Member"
	UserRoleAdmin  UserRole = "Admin"
	UserRoleOwner  UserRole = "Owner"
)

// ProjectMembership 项目成员关系
type ProjectMembership struct {
	ProjectID string   `json:"projectId"`
	Role      UserRole `json:"role"`
}

// User 用户文档，按组织分区
type User struct {
	ContainerDocument

	Organization       string              `json:"organization"`
	DisplayName        string              `json:"displayName,omitempty"`
	LoginName          string              `json:"loginName,omitempty"`
	Role               UserRole            `json:"role"`
	ProjectMemberships []ProjectMembership `json:"projectMemberships,omitempty"`
}

func (u *User) Kind() DocumentKind   { return KindUser }
func (u *User) PartitionKey() string { return u.Organization }

// EnsureMembership 幂等地写入项目成员关系
func (u *User) EnsureMembership(projectID string, role UserRole) {
	for i, m := range u.ProjectMemberships {
		if m.ProjectID == projectID {
			u.ProjectMemberships[i].Role = role
			return
		}
	}
	u.ProjectMemberships = append(u.ProjectMemberships, ProjectMembership{ProjectID: projectID, Role: role})
}

// DeploymentScope 部署范围，按组织分区
//
// IsDefault 按请求原样落库；显式指定默认时，
// 旧的默认范围在组织锁内被清除。
type DeploymentScope struct {
	ContainerDocument

	Organization      string   `json:"organization"`
	DisplayName       string   `json:"displayName"`
	Slug              string   `json:"slug,omitempty"`
	IsDefault         bool     `json:"isDefault"`
	ManagementGroupID string   `json:"managementGroupId,omitempty"`
	SubscriptionIDs   []string `json:"subscriptionIds,omitempty"`
}

func (s *DeploymentScope) Kind() DocumentKind   { return KindDeploymentScope }
func (s *DeploymentScope) PartitionKey() string { return s.Organization }

// Component 组件，按项目分区的被供给实体
type Component struct {
	ContainerDocument

	Organization      string        `json:"organization"`
	ProjectID         string        `json:"projectId"`
	TemplateID        string        `json:"templateId,omitempty"`
	DeploymentScopeID string        `json:"deploymentScopeId,omitempty"`
	Creator           string        `json:"creator,omitempty"`
	IdentityID        string        `json:"identityId,omitempty"`
	ResourceID        string        `json:"resourceId,omitempty"`
	StorageID         string        `json:"storageId,omitempty"`
	VaultID           string        `json:"vaultId,omitempty"`
	ResourceState     ResourceState `json:"resourceState,omitempty"`

	// Deleted 软删除时间戳；置位后对常规 List 不可见，等待清理
	Deleted *time.Time `json:"deleted,omitempty"`
}

func (c *Component) Kind() DocumentKind               { return KindComponent }
func (c *Component) PartitionKey() string             { return c.ProjectID }
func (c *Component) GetResourceState() ResourceState  { return c.ResourceState }
func (c *Component) SetResourceState(s ResourceState) { c.ResourceState = s }
func (c *Component) IsDeleted() bool                  { return c.Deleted != nil }

// ComponentTaskType 组件任务类型
type ComponentTaskType string

const (
	ComponentTaskTypeCreate ComponentTaskType = "Create"
	ComponentTaskTypeDelete ComponentTaskType = "Delete"
	ComponentTaskTypeCustom ComponentTaskType = "Custom"
)

// ComponentTask 组件任务，按项目分区
type ComponentTask struct {
	ContainerDocument

	Organization  string            `json:"organization"`
	ProjectID     string            `json:"projectId"`
	ComponentID   string            `json:"componentId"`
	Type          ComponentTaskType `json:"type"`
	InputJSON     string            `json:"inputJson,omitempty"`
	Output        string            `json:"output,omitempty"`
	ExitCode      *int              `json:"exitCode,omitempty"`
	ResourceState ResourceState     `json:"resourceState,omitempty"`
}

func (t *ComponentTask) Kind() DocumentKind               { return KindComponentTask }
func (t *ComponentTask) PartitionKey() string             { return t.ProjectID }
func (t *ComponentTask) GetResourceState() ResourceState  { return t.ResourceState }
func (t *ComponentTask) SetResourceState(s ResourceState) { t.ResourceState = s }

// RepositoryReference 模板所在 git 仓库引用
type RepositoryReference struct {
	URL     string `json:"url"`
	Ref     string `json:"ref,omitempty"`
	Token   string `json:"token,omitempty"`
	Version string `json:"version,omitempty"`
}

// ProjectTemplate 项目模板，按组织分区
type ProjectTemplate struct {
	ContainerDocument

	Organization string              `json:"organization"`
	DisplayName  string              `json:"displayName"`
	Repository   RepositoryReference `json:"repository"`
	IsDefault    bool                `json:"isDefault"`
	Components   []string            `json:"components,omitempty"`
}

func (t *ProjectTemplate) Kind() DocumentKind   { return KindProjectTemplate }
func (t *ProjectTemplate) PartitionKey() string { return t.Organization }

// ComponentTemplate 组件模板（由 git 模板解析服务产出），按组织分区
type ComponentTemplate struct {
	ContainerDocument

	Organization string              `json:"organization"`
	ParentID     string              `json:"parentId"`
	DisplayName  string              `json:"displayName"`
	Description  string              `json:"description,omitempty"`
	Repository   RepositoryReference `json:"repository"`
	TypeName     string              `json:"typeName,omitempty"`
	InputSchema  string              `json:"inputJsonSchema,omitempty"`
}

func (t *ComponentTemplate) Kind() DocumentKind   { return KindComponentTemplate }
func (t *ComponentTemplate) PartitionKey() string { return t.Organization }

// ProviderProtocol Provider 通道类型
type ProviderProtocol string

const (
	ProviderProtocolNATS ProviderProtocol = "nats"
	ProviderProtocolHTTP ProviderProtocol = "http"
)

// Provider 外部 Provider 注册文档，按组织分区
//
// ProjectIDs 为空表示组织级 Provider，对组织内所有项目生效。
// 注册顺序决定扇出聚合时代表性错误的选取顺序。
type Provider struct {
	ContainerDocument

	Organization string           `json:"organization"`
	DisplayName  string           `json:"displayName,omitempty"`
	Protocol     ProviderProtocol `json:"protocol"`

	// URL HTTP 通道地址；Subject NATS 通道主题
	URL     string `json:"url,omitempty"`
	Subject string `json:"subject,omitempty"`

	ProjectIDs []string  `json:"projectIds,omitempty"`
	Registered time.Time `json:"registered"`
}

func (p *Provider) Kind() DocumentKind   { return KindProvider }
func (p *Provider) PartitionKey() string { return p.Organization }

// AppliesTo Provider 是否对指定项目生效
func (p *Provider) AppliesTo(projectID string) bool {
	if len(p.ProjectIDs) == 0 {
		return true
	}
	for _, id := range p.ProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}
