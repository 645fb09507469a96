package orchestration

import (
	"context"
	"fmt"
	"time"

	"stratus/activity"
	"stratus/errors"
	"stratus/locking"
	"stratus/logging"
	"stratus/model"
	"stratus/template"
)

// ISender Provider 扇出发送器
//
// 把命令并行中继给目标组织/项目注册的全部 Provider，返回聚合后的
// 代表性错误（nil 表示全部成功或无 Provider）。
type ISender interface {
	SendCommand(ctx context.Context, cmd *model.Command, doc model.IDocument) error
}

// IProviderCache Provider 解析缓存，注册变更后按组织失效
type IProviderCache interface {
	Invalidate(organizationID string)
}

// Workflows 全部命令类型的编排定义
//
// 每种命令描述符映射到唯一的顶层编排；共享子编排（组件准备链、
// 失败落盘、依赖护卫）以私有方法复用。
type Workflows struct {
	docs      *activity.DocumentActivities
	resources *activity.ResourceActivities
	sender    ISender
	templates template.IResolver
	providers IProviderCache
	logger    logging.Logger
}

// NewWorkflows 创建编排定义集；sender、templates、providers 可为 nil（对应能力禁用）
func NewWorkflows(docs *activity.DocumentActivities, resources *activity.ResourceActivities,
	sender ISender, templates template.IResolver, providers IProviderCache) *Workflows {
	return &Workflows{
		docs:      docs,
		resources: resources,
		sender:    sender,
		templates: templates,
		providers: providers,
		logger:    logging.ComponentLogger("orchestration.workflows"),
	}
}

// Register 注册全部编排定义
func (w *Workflows) Register(reg *Registry) {
	reg.Register(model.Descriptor(model.KindOrganization, model.ActionCreate), w.OrganizationCreate())
	reg.Register(model.Descriptor(model.KindOrganization, model.ActionUpdate), w.genericSet("Updating"))
	reg.Register(model.Descriptor(model.KindOrganization, model.ActionDelete), w.teardownDelete())

	reg.Register(model.Descriptor(model.KindProject, model.ActionCreate), w.ProjectCreate())
	reg.Register(model.Descriptor(model.KindProject, model.ActionUpdate), w.genericSet("Updating"))
	reg.Register(model.Descriptor(model.KindProject, model.ActionDelete), w.teardownDelete())

	reg.Register(model.Descriptor(model.KindUser, model.ActionCreate), w.genericSet("Creating"))
	reg.Register(model.Descriptor(model.KindUser, model.ActionUpdate), w.genericSet("Updating"))
	reg.Register(model.Descriptor(model.KindUser, model.ActionDelete), w.genericDelete())

	reg.Register(model.Descriptor(model.KindDeploymentScope, model.ActionCreate), w.DeploymentScopeSet("Creating"))
	reg.Register(model.Descriptor(model.KindDeploymentScope, model.ActionUpdate), w.DeploymentScopeSet("Updating"))
	reg.Register(model.Descriptor(model.KindDeploymentScope, model.ActionDelete), w.genericDelete())

	reg.Register(model.Descriptor(model.KindProjectTemplate, model.ActionCreate), w.ProjectTemplateSet("Creating"))
	reg.Register(model.Descriptor(model.KindProjectTemplate, model.ActionUpdate), w.ProjectTemplateSet("Updating"))
	reg.Register(model.Descriptor(model.KindProjectTemplate, model.ActionDelete), w.genericDelete())

	reg.Register(model.Descriptor(model.KindProvider, model.ActionCreate), w.ProviderRegister())
	reg.Register(model.Descriptor(model.KindProvider, model.ActionUpdate), w.genericSet("Updating"))
	reg.Register(model.Descriptor(model.KindProvider, model.ActionDelete), w.genericDelete())

	reg.Register(model.Descriptor(model.KindComponent, model.ActionCreate), w.ComponentCreate())
	reg.Register(model.Descriptor(model.KindComponent, model.ActionUpdate), w.genericSet("Updating"))
	reg.Register(model.Descriptor(model.KindComponent, model.ActionDeploy), w.ComponentDeploy())
	reg.Register(model.Descriptor(model.KindComponent, model.ActionReset), w.ComponentReset())
	reg.Register(model.Descriptor(model.KindComponent, model.ActionDelete), w.ComponentDelete())

	reg.Register(model.Descriptor(model.KindComponentTask, model.ActionCreate), w.ComponentTaskRun())
	reg.Register(model.Descriptor(model.KindComponentTask, model.ActionCustom), w.ComponentTaskRun())
}

// --- 共享步骤 ---

func (w *Workflows) getStep(ctx context.Context, oc *Context, name string, kind model.DocumentKind, partition, id string) (model.IDocument, error) {
	return StepDocument(ctx, oc, name, kind, func(ctx context.Context) (model.IDocument, error) {
		return w.docs.Get(ctx, kind, partition, id)
	})
}

func (w *Workflows) setStep(ctx context.Context, oc *Context, name string, doc model.IDocument) (model.IDocument, error) {
	return StepDocument(ctx, oc, name, doc.Kind(), func(ctx context.Context) (model.IDocument, error) {
		return w.docs.Set(ctx, oc.Owner(), doc)
	})
}

func (w *Workflows) relayStep(ctx context.Context, oc *Context, cmd *model.Command, doc model.IDocument) error {
	if w.sender == nil {
		return nil
	}
	return StepDo(ctx, oc, "provider.relay", func(ctx context.Context) error {
		return w.sender.SendCommand(ctx, cmd, doc)
	})
}

// invalidateProviders Provider 注册文档变更后失效组织的解析缓存
//
// 缓存失效是幂等的进程内操作，不占步骤日志，重放时重复执行无害。
func (w *Workflows) invalidateProviders(doc model.IDocument) {
	if w.providers == nil || doc.Kind() != model.KindProvider {
		return
	}
	w.providers.Invalidate(model.OrganizationOf(doc))
}

// markFailed 失败路径：资源状态落盘 Failed，原始错误继续上浮
//
// 覆盖写，不经状态机校验：中继失败可把已标记成功的实体改写为 Failed。
// 落盘失败只记日志——首要职责是保留引发失败的原始错误。
func (w *Workflows) markFailed(ctx context.Context, oc *Context, doc model.IDocument, cause error) error {
	holder, ok := doc.(model.IResourceHolder)
	if !ok {
		return cause
	}
	holder.SetResourceState(model.ResourceStateFailed)
	name := fmt.Sprintf("%s.markFailed", doc.Kind())
	if _, err := w.setStep(ctx, oc, name, doc); err != nil {
		w.logger.Error(ctx, "failed to persist failed resource state",
			logging.String("id", doc.GetID()),
			logging.Error(err))
	}
	return cause
}

// transition 按状态机迁移已落库实体的资源状态，非法迁移按内部错误上报
func transition(holder model.IResourceHolder, to model.ResourceState) error {
	from := holder.GetResourceState()
	if !from.CanTransition(to) {
		return errors.NewError(errors.ErrCodeInternal,
			fmt.Sprintf("illegal resource state transition %s to %s", from, to)).
			WithContext("id", holder.GetID()).
			WithContext("kind", string(holder.Kind()))
	}
	holder.SetResourceState(to)
	return nil
}

// guardDependency 依赖护卫
//
// 依赖不存在 → NotFound；供给中 → continue-as-new 让路等待；
// 供给失败 → 命令失败（不等待永远不会到来的终态）。
func guardDependency(oc *Context, doc model.IDocument, kind model.DocumentKind) error {
	if doc == nil {
		return errors.NewError(errors.ErrCodeNotFound, fmt.Sprintf("%s not found", kind))
	}
	holder, ok := doc.(model.IResourceHolder)
	if !ok {
		return nil
	}
	state := holder.GetResourceState()
	if state == model.ResourceStateFailed {
		return errors.NewError(errors.ErrCodeValidation, fmt.Sprintf("%s %s provisioning failed", kind, doc.GetID()))
	}
	if !state.IsFinal() {
		return oc.ContinueAsNew()
	}
	return nil
}

// --- 通用 CRUD ---

// genericSet 无资源供给的 upsert 编排：锁内写入后中继 Provider
func (w *Workflows) genericSet(verb string) Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		doc := cmd.Payload
		if doc == nil {
			return nil, errors.NewError(errors.ErrCodeValidation, "command has no payload")
		}

		var saved model.IDocument
		err := oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, fmt.Sprintf("%s %s", verb, doc.Kind()))

			var err error
			saved, err = w.setStep(ctx, oc, fmt.Sprintf("%s.set", doc.Kind()), doc)
			if err != nil {
				return err
			}
			w.invalidateProviders(saved)
			return w.relayStep(ctx, oc, cmd, saved)
		}, locking.KeyFor(doc))
		return saved, err
	}
}

// genericDelete 删除编排：已不存在时视为已删除短路
func (w *Workflows) genericDelete() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		doc := cmd.Payload
		if doc == nil {
			return nil, errors.NewError(errors.ErrCodeValidation, "command has no payload")
		}

		err := oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, fmt.Sprintf("Deleting %s", doc.Kind()))

			current, err := w.getStep(ctx, oc, fmt.Sprintf("%s.get", doc.Kind()), doc.Kind(), doc.PartitionKey(), doc.GetID())
			if err != nil {
				return err
			}
			if current == nil {
				return nil
			}
			if err := StepDo(ctx, oc, fmt.Sprintf("%s.remove", doc.Kind()), func(ctx context.Context) error {
				return w.docs.Remove(ctx, oc.Owner(), current)
			}); err != nil {
				return err
			}
			w.invalidateProviders(current)
			return w.relayStep(ctx, oc, cmd, current)
		}, locking.KeyFor(doc))
		return nil, err
	}
}

// teardownDelete 带资源回收的删除编排（组织、项目）
func (w *Workflows) teardownDelete() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		doc := cmd.Payload
		if doc == nil {
			return nil, errors.NewError(errors.ErrCodeValidation, "command has no payload")
		}

		err := oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, fmt.Sprintf("Deleting %s", doc.Kind()))

			current, err := w.getStep(ctx, oc, fmt.Sprintf("%s.get", doc.Kind()), doc.Kind(), doc.PartitionKey(), doc.GetID())
			if err != nil {
				return err
			}
			if current == nil {
				return nil
			}

			resourceID := resourceIDOf(current)
			if resourceID != "" {
				if err := StepDo(ctx, oc, fmt.Sprintf("%s.teardown", doc.Kind()), func(ctx context.Context) error {
					return w.resources.TeardownResource(ctx, resourceID)
				}); err != nil {
					return err
				}
			}

			if err := StepDo(ctx, oc, fmt.Sprintf("%s.remove", doc.Kind()), func(ctx context.Context) error {
				return w.docs.Remove(ctx, oc.Owner(), current)
			}); err != nil {
				return err
			}
			return w.relayStep(ctx, oc, cmd, current)
		}, locking.KeyFor(doc))
		return nil, err
	}
}

func resourceIDOf(doc model.IDocument) string {
	switch d := doc.(type) {
	case *model.Organization:
		return d.ResourceID
	case *model.Project:
		return d.ResourceID
	case *model.Component:
		return d.ResourceID
	}
	return ""
}

// --- 组织 ---

// OrganizationCreate 创建组织：写入文档并供给组织级资源组
func (w *Workflows) OrganizationCreate() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		org, ok := cmd.Payload.(*model.Organization)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be an organization")
		}

		var final model.IDocument
		err := oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, "Creating organization")

			org.SetResourceState(model.ResourceStateProvisioning)
			saved, err := w.setStep(ctx, oc, "organization.provisioning", org)
			if err != nil {
				return err
			}
			current := saved.(*model.Organization)

			provisioned, err := Step(ctx, oc, "organization.ensureResource", func(ctx context.Context) (*model.Organization, error) {
				return w.resources.EnsureOrganizationResource(ctx, current)
			})
			if err != nil {
				return w.markFailed(ctx, oc, current, err)
			}

			if err := transition(provisioned, model.ResourceStateSucceeded); err != nil {
				return err
			}
			final, err = w.setStep(ctx, oc, "organization.succeeded", provisioned)
			if err != nil {
				return err
			}
			if err := w.relayStep(ctx, oc, cmd, final); err != nil {
				return w.markFailed(ctx, oc, final, err)
			}
			return nil
		}, locking.KeyFor(org))
		return final, err
	}
}

// --- 项目 ---

// ProjectCreate 创建项目：组织资源终态后写入并供给项目资源组，
// 命令发起者成为项目 Owner
func (w *Workflows) ProjectCreate() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		project, ok := cmd.Payload.(*model.Project)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be a project")
		}

		orgDoc, err := w.getStep(ctx, oc, "organization.get", model.KindOrganization, cmd.OrganizationID, cmd.OrganizationID)
		if err != nil {
			return nil, err
		}
		if err := guardDependency(oc, orgDoc, model.KindOrganization); err != nil {
			return nil, err
		}
		org := orgDoc.(*model.Organization)

		var final model.IDocument
		err = oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, "Creating project")

			project.SetResourceState(model.ResourceStateProvisioning)
			saved, err := w.setStep(ctx, oc, "project.provisioning", project)
			if err != nil {
				return err
			}
			current := saved.(*model.Project)

			provisioned, err := Step(ctx, oc, "project.ensureResource", func(ctx context.Context) (*model.Project, error) {
				return w.resources.EnsureProjectResource(ctx, current, org)
			})
			if err != nil {
				return w.markFailed(ctx, oc, current, err)
			}

			if cmd.User != nil && cmd.User.ID != "" && !provisioned.HasUser(cmd.User.ID) {
				provisioned.UserIDs = append(provisioned.UserIDs, cmd.User.ID)
			}

			if err := transition(provisioned, model.ResourceStateSucceeded); err != nil {
				return err
			}
			final, err = w.setStep(ctx, oc, "project.succeeded", provisioned)
			if err != nil {
				return err
			}
			if cmd.User != nil && cmd.User.ID != "" {
				if err := w.grantOwner(ctx, oc, cmd.User, final.(*model.Project)); err != nil {
					return err
				}
			}
			if err := w.relayStep(ctx, oc, cmd, final); err != nil {
				return w.markFailed(ctx, oc, final, err)
			}
			return nil
		}, locking.KeyFor(project))
		return final, err
	}
}

// grantOwner 发起者成为新项目的 Owner，成员关系幂等写入用户文档
//
// 用户锁序位于项目之后，嵌套获取安全。用户文档不存在时跳过
// （发起者未注册为组织用户）。
func (w *Workflows) grantOwner(ctx context.Context, oc *Context, user *model.User, project *model.Project) error {
	return oc.WithLock(ctx, func(ctx context.Context) error {
		doc, err := w.getStep(ctx, oc, "user.get", model.KindUser, project.Organization, user.ID)
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		member := doc.(*model.User)
		member.EnsureMembership(project.ID, model.UserRoleOwner)
		_, err = w.setStep(ctx, oc, "user.grantOwner", member)
		return err
	}, locking.KeyFor(user))
}

// --- 部署范围 ---

// DeploymentScopeSet 创建/更新部署范围
//
// 默认范围的不变量在组织锁内维护：显式指定默认时清除旧默认，
// 保证组织内至多一个默认范围。
func (w *Workflows) DeploymentScopeSet(verb string) Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		scope, ok := cmd.Payload.(*model.DeploymentScope)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be a deployment scope")
		}

		orgKey := locking.LockKey{EntityType: model.KindOrganization, EntityID: scope.Organization}

		var final model.IDocument
		err := oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, fmt.Sprintf("%s deployment scope", verb))

			if scope.IsDefault {
				existing, err := Step(ctx, oc, "deploymentscope.list", func(ctx context.Context) ([]*model.DeploymentScope, error) {
					docs, err := w.docs.List(ctx, model.KindDeploymentScope, scope.Organization)
					if err != nil {
						return nil, err
					}
					scopes := make([]*model.DeploymentScope, 0, len(docs))
					for _, doc := range docs {
						scopes = append(scopes, doc.(*model.DeploymentScope))
					}
					return scopes, nil
				})
				if err != nil {
					return err
				}

				// 旧默认各自持锁改写；组织锁已串行化默认重分配，嵌套获取无死锁
				for _, prev := range existing {
					if prev.ID == scope.ID || !prev.IsDefault {
						continue
					}
					demoted := prev
					demoted.IsDefault = false
					err := oc.WithLock(ctx, func(ctx context.Context) error {
						_, err := w.setStep(ctx, oc, fmt.Sprintf("deploymentscope.clearDefault.%s", demoted.ID), demoted)
						return err
					}, locking.KeyFor(demoted))
					if err != nil {
						return err
					}
				}
			}

			saved, err := w.setStep(ctx, oc, "deploymentscope.set", scope)
			if err != nil {
				return err
			}
			final = saved
			return w.relayStep(ctx, oc, cmd, final)
		}, orgKey, locking.KeyFor(scope))
		return final, err
	}
}

// --- 项目模板 ---

// ProjectTemplateSet 创建/更新项目模板并同步其组件模板
func (w *Workflows) ProjectTemplateSet(verb string) Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		tpl, ok := cmd.Payload.(*model.ProjectTemplate)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be a project template")
		}

		var final model.IDocument
		err := oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, fmt.Sprintf("%s project template", verb))

			var err error
			final, err = w.setStep(ctx, oc, "projecttemplate.set", tpl)
			if err != nil {
				return err
			}
			if w.templates == nil {
				return nil
			}

			resolved, err := Step(ctx, oc, "projecttemplate.resolve", func(ctx context.Context) ([]*model.ComponentTemplate, error) {
				var out []*model.ComponentTemplate
				for ct, err := range w.templates.ResolveComponentTemplates(ctx, tpl) {
					if err != nil {
						return nil, err
					}
					out = append(out, ct)
				}
				return out, nil
			})
			if err != nil {
				return err
			}

			// 组件模板各自持锁写入；模板锁序位于项目模板之后，嵌套获取安全
			for _, ct := range resolved {
				component := ct
				err := oc.WithLock(ctx, func(ctx context.Context) error {
					_, err := w.setStep(ctx, oc, fmt.Sprintf("componenttemplate.set.%s", component.ID), component)
					return err
				}, locking.KeyFor(component))
				if err != nil {
					return err
				}
			}
			return nil
		}, locking.KeyFor(tpl))
		return final, err
	}
}

// --- Provider ---

// ProviderRegister 注册 Provider，补记注册时间
func (w *Workflows) ProviderRegister() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		prov, ok := cmd.Payload.(*model.Provider)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be a provider")
		}

		var final model.IDocument
		err := oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, "Registering provider")

			var err error
			final, err = StepDocument(ctx, oc, "provider.set", model.KindProvider, func(ctx context.Context) (model.IDocument, error) {
				if prov.Registered.IsZero() {
					prov.Registered = time.Now().UTC()
				}
				return w.docs.Set(ctx, oc.Owner(), prov)
			})
			if err != nil {
				return err
			}
			w.invalidateProviders(final)
			return w.relayStep(ctx, oc, cmd, final)
		}, locking.KeyFor(prov))
		return final, err
	}
}

// --- 组件 ---

// ComponentCreate 创建组件：写入 Pending 文档后执行准备链
func (w *Workflows) ComponentCreate() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		input, ok := cmd.Payload.(*model.Component)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be a component")
		}

		project, err := w.guardComponentDependencies(ctx, oc, cmd)
		if err != nil {
			return nil, err
		}

		var final model.IDocument
		err = oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, "Creating component")

			input.SetResourceState(model.ResourceStatePending)
			saved, err := w.setStep(ctx, oc, "component.create", input)
			if err != nil {
				return err
			}

			prepared, err := w.prepareComponent(ctx, oc, saved.(*model.Component), project)
			if err != nil {
				return err
			}
			final = prepared
			if err := w.relayStep(ctx, oc, cmd, final); err != nil {
				return w.markFailed(ctx, oc, prepared, err)
			}
			return nil
		}, locking.KeyFor(input))
		return final, err
	}
}

// ComponentDeploy 部署既有组件：锁内重读后执行准备链
func (w *Workflows) ComponentDeploy() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		input, ok := cmd.Payload.(*model.Component)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be a component")
		}

		project, err := w.guardComponentDependencies(ctx, oc, cmd)
		if err != nil {
			return nil, err
		}

		var final model.IDocument
		err = oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, "Deploying component")

			// 锁内重读，避免基于锁外读到的陈旧数据行动
			current, err := w.getStep(ctx, oc, "component.get", model.KindComponent, cmd.ProjectID, input.ID)
			if err != nil {
				return err
			}
			if current == nil {
				return errors.NewError(errors.ErrCodeNotFound, "component not found").
					WithContext("id", input.ID)
			}
			if current.(*model.Component).IsDeleted() {
				return errors.NewError(errors.ErrCodeValidation, "component is deleted").
					WithContext("id", input.ID)
			}

			prepared, err := w.prepareComponent(ctx, oc, current.(*model.Component), project)
			if err != nil {
				return err
			}
			final = prepared
			if err := w.relayStep(ctx, oc, cmd, final); err != nil {
				return w.markFailed(ctx, oc, prepared, err)
			}
			return nil
		}, locking.KeyFor(input))
		return final, err
	}
}

// guardComponentDependencies 组件命令的依赖护卫：组织与项目资源须为终态
func (w *Workflows) guardComponentDependencies(ctx context.Context, oc *Context, cmd *model.Command) (*model.Project, error) {
	orgDoc, err := w.getStep(ctx, oc, "organization.get", model.KindOrganization, cmd.OrganizationID, cmd.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := guardDependency(oc, orgDoc, model.KindOrganization); err != nil {
		return nil, err
	}

	projDoc, err := w.getStep(ctx, oc, "project.get", model.KindProject, cmd.OrganizationID, cmd.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := guardDependency(oc, projDoc, model.KindProject); err != nil {
		return nil, err
	}
	return projDoc.(*model.Project), nil
}

// prepareComponent 共享的组件准备子编排
//
// 调用方已持组件锁且依赖护卫已通过。Provisioning → ensure 链 →
// Succeeded，每次状态迁移后落盘；任何失败把组件标记为 Failed 后上浮。
func (w *Workflows) prepareComponent(ctx context.Context, oc *Context, component *model.Component, project *model.Project) (*model.Component, error) {
	if err := transition(component, model.ResourceStateProvisioning); err != nil {
		return nil, err
	}
	saved, err := w.setStep(ctx, oc, "component.provisioning", component)
	if err != nil {
		return nil, err
	}
	current := saved.(*model.Component)

	ensures := []struct {
		name string
		op   func(ctx context.Context, c *model.Component) (*model.Component, error)
	}{
		{"component.ensureIdentity", func(ctx context.Context, c *model.Component) (*model.Component, error) {
			return w.resources.EnsureComponentIdentity(ctx, c, project)
		}},
		{"component.ensureResource", func(ctx context.Context, c *model.Component) (*model.Component, error) {
			return w.resources.EnsureComponentResource(ctx, c, project)
		}},
		{"component.ensureStorage", func(ctx context.Context, c *model.Component) (*model.Component, error) {
			return w.resources.EnsureComponentStorage(ctx, c, project)
		}},
		{"component.ensureVault", func(ctx context.Context, c *model.Component) (*model.Component, error) {
			return w.resources.EnsureComponentVault(ctx, c, project)
		}},
		{"component.ensurePermission", func(ctx context.Context, c *model.Component) (*model.Component, error) {
			return w.resources.EnsureComponentPermission(ctx, c)
		}},
	}

	for _, ensure := range ensures {
		step := ensure
		next, err := Step(ctx, oc, step.name, func(ctx context.Context) (*model.Component, error) {
			return step.op(ctx, current)
		})
		if err != nil {
			return nil, w.markFailed(ctx, oc, current, err)
		}
		current = next
	}

	if err := transition(current, model.ResourceStateSucceeded); err != nil {
		return nil, err
	}
	final, err := w.setStep(ctx, oc, "component.succeeded", current)
	if err != nil {
		return nil, err
	}
	return final.(*model.Component), nil
}

// ComponentReset 重置组件：回收资源、清空引用、状态回到 Pending
//
// 文档保留，可随后重新部署。
func (w *Workflows) ComponentReset() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		input, ok := cmd.Payload.(*model.Component)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be a component")
		}

		var final model.IDocument
		err := oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, "Resetting component")

			current, err := w.getStep(ctx, oc, "component.get", model.KindComponent, cmd.ProjectID, input.ID)
			if err != nil {
				return err
			}
			if current == nil {
				return errors.NewError(errors.ErrCodeNotFound, "component not found").
					WithContext("id", input.ID)
			}
			comp := current.(*model.Component)
			if comp.IsDeleted() {
				return errors.NewError(errors.ErrCodeValidation, "component is deleted").
					WithContext("id", input.ID)
			}

			if comp.ResourceID != "" {
				if err := StepDo(ctx, oc, "component.teardown", func(ctx context.Context) error {
					return w.resources.TeardownResource(ctx, comp.ResourceID)
				}); err != nil {
					return w.markFailed(ctx, oc, comp, err)
				}
			}

			comp.IdentityID = ""
			comp.ResourceID = ""
			comp.StorageID = ""
			comp.VaultID = ""
			if err := transition(comp, model.ResourceStatePending); err != nil {
				return err
			}

			final, err = w.setStep(ctx, oc, "component.reset", comp)
			return err
		}, locking.KeyFor(input))
		return final, err
	}
}

// ComponentDelete 删除组件
//
// 首次删除为软删除：回收资源、打删除时间戳、文档保留待清理；
// 对已软删除的组件再次删除执行硬删除（purge）。
func (w *Workflows) ComponentDelete() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		input, ok := cmd.Payload.(*model.Component)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be a component")
		}

		var final model.IDocument
		err := oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, "Deleting component")

			current, err := w.getStep(ctx, oc, "component.get", model.KindComponent, cmd.ProjectID, input.ID)
			if err != nil {
				return err
			}
			if current == nil {
				return nil
			}
			comp := current.(*model.Component)

			if comp.ResourceID != "" {
				if err := StepDo(ctx, oc, "component.teardown", func(ctx context.Context) error {
					return w.resources.TeardownResource(ctx, comp.ResourceID)
				}); err != nil {
					return err
				}
			}

			if comp.Deleted != nil {
				// 已软删除，执行清理
				if err := StepDo(ctx, oc, "component.purge", func(ctx context.Context) error {
					return w.docs.Remove(ctx, oc.Owner(), comp)
				}); err != nil {
					return err
				}
				return w.relayStep(ctx, oc, cmd, comp)
			}

			softDeleted, err := Step(ctx, oc, "component.softDelete", func(ctx context.Context) (*model.Component, error) {
				now := time.Now().UTC()
				comp.Deleted = &now
				comp.IdentityID = ""
				comp.ResourceID = ""
				comp.StorageID = ""
				comp.VaultID = ""
				saved, err := w.docs.Set(ctx, oc.Owner(), comp)
				if err != nil {
					return nil, err
				}
				return saved.(*model.Component), nil
			})
			if err != nil {
				return err
			}
			final = softDeleted
			return w.relayStep(ctx, oc, cmd, softDeleted)
		}, locking.KeyFor(input))
		return final, err
	}
}

// --- 组件任务 ---

// ComponentTaskRun 执行组件任务：组件资源终态后运行，按退出码定终态
func (w *Workflows) ComponentTaskRun() Definition {
	return func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error) {
		task, ok := cmd.Payload.(*model.ComponentTask)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation, "payload must be a component task")
		}

		compDoc, err := w.getStep(ctx, oc, "component.get", model.KindComponent, task.ProjectID, task.ComponentID)
		if err != nil {
			return nil, err
		}
		if err := guardDependency(oc, compDoc, model.KindComponent); err != nil {
			return nil, err
		}
		component := compDoc.(*model.Component)
		if component.IsDeleted() {
			return nil, errors.NewError(errors.ErrCodeValidation, "component is deleted").
				WithContext("id", component.ID)
		}

		var final model.IDocument
		err = oc.WithLock(ctx, func(ctx context.Context) error {
			oc.SetCustomStatus(ctx, "Running component task")

			task.SetResourceState(model.ResourceStateProvisioning)
			saved, err := w.setStep(ctx, oc, "componenttask.provisioning", task)
			if err != nil {
				return err
			}
			current := saved.(*model.ComponentTask)

			finished, err := Step(ctx, oc, "componenttask.run", func(ctx context.Context) (*model.ComponentTask, error) {
				return w.resources.RunComponentTask(ctx, component, current)
			})
			if err != nil {
				return w.markFailed(ctx, oc, current, err)
			}

			outcome := model.ResourceStateSucceeded
			if finished.ExitCode != nil && *finished.ExitCode != 0 {
				outcome = model.ResourceStateFailed
			}
			if err := transition(finished, outcome); err != nil {
				return err
			}
			final, err = w.setStep(ctx, oc, "componenttask.finished", finished)
			if err != nil {
				return err
			}
			if finished.GetResourceState() == model.ResourceStateFailed {
				return errors.NewError(errors.ErrCodeProvider, fmt.Sprintf("component task exited with code %d", *finished.ExitCode))
			}
			return nil
		}, locking.KeyFor(task))
		return final, err
	}
}
