package activity

import (
	"fmt"
	"strings"
)

// ResourceID 云资源标识符
//
// 形如 /subscriptions/{sub}/resourceGroups/{rg}/providers/{namespace}/{type}/{name}
type ResourceID struct {
	SubscriptionID string
	ResourceGroup  string
	Namespace      string
	Type           string
	Name           string
}

// TryParseResourceID 解析资源标识符，失败返回 false
//
// ensure 型活动用它判断目标字段是否已是有效资源引用：
// 已有有效引用时活动是 no-op，这是幂等性的基础。
func TryParseResourceID(s string) (ResourceID, bool) {
	if s == "" {
		return ResourceID{}, false
	}

	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 4 || !strings.EqualFold(parts[0], "subscriptions") || !strings.EqualFold(parts[2], "resourceGroups") {
		return ResourceID{}, false
	}

	id := ResourceID{SubscriptionID: parts[1], ResourceGroup: parts[3]}
	if len(parts) >= 8 && strings.EqualFold(parts[4], "providers") {
		id.Namespace = parts[5]
		id.Type = parts[6]
		id.Name = parts[7]
	}
	return id, true
}

// ResourceGroupID 资源组级标识符
func (r ResourceID) ResourceGroupID() string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s", r.SubscriptionID, r.ResourceGroup)
}

func (r ResourceID) String() string {
	if r.Namespace == "" {
		return r.ResourceGroupID()
	}
	return fmt.Sprintf("%s/providers/%s/%s/%s", r.ResourceGroupID(), r.Namespace, r.Type, r.Name)
}
