// Package template 定义 git 模板解析服务的接口
//
// 核心把模板解析当作不透明的外部协作者：给定项目模板，产出其仓库中
// 定义的组件模板序列。序列是一次性的，重新遍历需要重新解析。
package template

import (
	"context"
	"iter"

	"stratus/model"
)

// IResolver 组件模板解析器
type IResolver interface {
	// ResolveComponentTemplates 解析项目模板仓库中的组件模板
	//
	// 返回单趟序列；解析错误通过序列的第二个值传出并终止遍历。
	ResolveComponentTemplates(ctx context.Context, projectTemplate *model.ProjectTemplate) iter.Seq2[*model.ComponentTemplate, error]
}

// StaticResolver 固定模板集解析器（测试与本地模式用）
type StaticResolver struct {
	Templates []*model.ComponentTemplate
	Err       error
}

// ResolveComponentTemplates 按固定顺序产出模板
func (r *StaticResolver) ResolveComponentTemplates(ctx context.Context, projectTemplate *model.ProjectTemplate) iter.Seq2[*model.ComponentTemplate, error] {
	return func(yield func(*model.ComponentTemplate, error) bool) {
		for _, tpl := range r.Templates {
			dup := *tpl
			dup.ParentID = projectTemplate.ID
			dup.Organization = projectTemplate.Organization
			if !yield(&dup, nil) {
				return
			}
		}
		if r.Err != nil {
			yield(nil, r.Err)
		}
	}
}

var _ IResolver = (*StaticResolver)(nil)
