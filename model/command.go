package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CommandAction 命令动作（封闭集合）
type CommandAction string

const (
	ActionCreate CommandAction = "Create"
	ActionUpdate CommandAction = "Update"
	ActionDelete CommandAction = "Delete"
	ActionDeploy CommandAction = "Deploy"
	ActionReset  CommandAction = "Reset"
	ActionCustom CommandAction = "Custom"
)

// Command 命令信封，创建后不可变
//
// 描述一次意图明确的实体变更：动作 × 负载类型。API 层负责校验并构造；
// 调度器按 CommandID 精确一次地启动对应编排。命令本身不携带结果，
// 结果通过 CommandResult 单独跟踪。
type Command struct {
	CommandID      uuid.UUID     `json:"commandId"`
	Action         CommandAction `json:"commandAction"`
	OrganizationID string        `json:"organizationId,omitempty"`
	ProjectID      string        `json:"projectId,omitempty"`
	User           *User         `json:"user,omitempty"`
	Payload        IDocument     `json:"-"`
}

// NewCommand 创建命令，组织/项目作用域从负载推导
func NewCommand(action CommandAction, user *User, payload IDocument) *Command {
	cmd := &Command{
		CommandID: uuid.New(),
		Action:    action,
		User:      user,
		Payload:   payload,
	}
	cmd.OrganizationID = OrganizationOf(payload)
	switch p := payload.(type) {
	case *Component:
		cmd.ProjectID = p.ProjectID
	case *ComponentTask:
		cmd.ProjectID = p.ProjectID
	}
	return cmd
}

// Descriptor 命令描述符，形如 "component.deploy"，调度器据此路由编排定义
func (c *Command) Descriptor() string {
	kind := DocumentKind("")
	if c.Payload != nil {
		kind = c.Payload.Kind()
	}
	return Descriptor(kind, c.Action)
}

// Descriptor 构造命令描述符
func Descriptor(kind DocumentKind, action CommandAction) string {
	return fmt.Sprintf("%s.%s", kind, strings.ToLower(string(action)))
}

// OrganizationOf 提取文档所属组织 ID
func OrganizationOf(doc IDocument) string {
	switch d := doc.(type) {
	case *Organization:
		return d.ID
	case *Project:
		return d.Organization
	case *User:
		return d.Organization
	case *DeploymentScope:
		return d.Organization
	case *Component:
		return d.Organization
	case *ComponentTask:
		return d.Organization
	case *ProjectTemplate:
		return d.Organization
	case *ComponentTemplate:
		return d.Organization
	case *Provider:
		return d.Organization
	}
	return ""
}

// NewDocument 按类型构造空文档，用于负载反序列化
func NewDocument(kind DocumentKind) (IDocument, error) {
	switch kind {
	case KindOrganization:
		return &Organization{}, nil
	case KindProject:
		return &Project{}, nil
	case KindUser:
		return &User{}, nil
	case KindDeploymentScope:
		return &DeploymentScope{}, nil
	case KindComponent:
		return &Component{}, nil
	case KindComponentTask:
		return &ComponentTask{}, nil
	case KindProjectTemplate:
		return &ProjectTemplate{}, nil
	case KindComponentTemplate:
		return &ComponentTemplate{}, nil
	case KindProvider:
		return &Provider{}, nil
	}
	return nil, fmt.Errorf("unknown document kind %q", kind)
}

// commandEnvelope 命令的传输形态，负载带类型标签
type commandEnvelope struct {
	CommandID      uuid.UUID       `json:"commandId"`
	Action         CommandAction   `json:"commandAction"`
	OrganizationID string          `json:"organizationId,omitempty"`
	ProjectID      string          `json:"projectId,omitempty"`
	User           *User           `json:"user,omitempty"`
	PayloadKind    DocumentKind    `json:"payloadKind,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON 序列化命令，负载附带 payloadKind 标签
func (c *Command) MarshalJSON() ([]byte, error) {
	env := commandEnvelope{
		CommandID:      c.CommandID,
		Action:         c.Action,
		OrganizationID: c.OrganizationID,
		ProjectID:      c.ProjectID,
		User:           c.User,
	}
	if c.Payload != nil {
		raw, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, err
		}
		env.PayloadKind = c.Payload.Kind()
		env.Payload = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON 反序列化命令，按 payloadKind 还原具体负载类型
func (c *Command) UnmarshalJSON(data []byte) error {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	c.CommandID = env.CommandID
	c.Action = env.Action
	c.OrganizationID = env.OrganizationID
	c.ProjectID = env.ProjectID
	c.User = env.User
	c.Payload = nil

	if env.PayloadKind != "" {
		payload, err := NewDocument(env.PayloadKind)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return err
		}
		c.Payload = payload
	}
	return nil
}
