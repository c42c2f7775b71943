// Package access 统一的能力判定：所有页面和接口都通过 Allowed 判断可否执行操作。
package access

import (
	"net/http"
	"strings"

	"github.com/gonglijing/iotconsole/internal/auth"
	"github.com/gonglijing/iotconsole/internal/models"
)

// 能力代码
const (
	DevicesWrite         = "devices.write"
	SensorsWrite         = "sensors.write"
	ReadingsWrite        = "readings.write"
	ReadingsCreateManual = "readings.create_manual"
	MQTTWrite            = "mqtt.write"
	MQTTProbe            = "mqtt.probe"
	EMQXWrite            = "emqx.write"
	UsersView            = "users.view"
	UsersWrite           = "users.write"
	RolesWrite           = "roles.write"
	PermissionsWrite     = "permissions.write"
	ReportsExport        = "reports.export"
)

// All 全部能力，顺序即输出顺序
var All = []string{
	DevicesWrite,
	SensorsWrite,
	ReadingsWrite,
	ReadingsCreateManual,
	MQTTWrite,
	MQTTProbe,
	EMQXWrite,
	UsersView,
	UsersWrite,
	RolesWrite,
	PermissionsWrite,
	ReportsExport,
}

// superuserOnly 仅超级用户可用的能力，角色授权无效
var superuserOnly = map[string]bool{
	ReadingsCreateManual: true,
}

// Allowed 判断用户是否具备某能力
func Allowed(profile *models.Profile, capability string) bool {
	if profile == nil || !profile.IsActive {
		return false
	}
	if profile.IsSuperuser {
		return true
	}
	if superuserOnly[capability] {
		return false
	}
	for _, code := range profile.PermissionCodes() {
		if grants(code, capability) {
			return true
		}
	}
	return false
}

// grants 支持精确匹配、"*" 和 "prefix.*"
func grants(code, capability string) bool {
	switch {
	case code == capability, code == "*":
		return true
	case strings.HasSuffix(code, ".*"):
		return strings.HasPrefix(capability, strings.TrimSuffix(code, "*"))
	}
	return false
}

// Capabilities 返回能力集合，供前端隐藏按钮
func Capabilities(profile *models.Profile) map[string]bool {
	caps := make(map[string]bool, len(All))
	for _, capability := range All {
		caps[capability] = Allowed(profile, capability)
	}
	return caps
}

// Gate 能力校验中间件
type Gate struct {
	// Forbidden API 请求被拒绝时的响应；为空时返回纯文本 403
	Forbidden http.HandlerFunc
}

func profileOf(r *http.Request) *models.Profile {
	rec := auth.FromContext(r.Context())
	if rec == nil {
		return nil
	}
	return rec.Profile
}

// Require API 与页面通用：API 返回 403，页面跳转首页
func (g *Gate) Require(capability string) func(http.Handler) http.Handler {
	return g.RequirePage(capability, "/")
}

// RequirePage 页面被拒绝时跳转到 redirectTo
func (g *Gate) RequirePage(capability, redirectTo string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Allowed(profileOf(r), capability) {
				next.ServeHTTP(w, r)
				return
			}
			if auth.IsAPIRequest(r) {
				if g.Forbidden != nil {
					g.Forbidden(w, r)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			http.Redirect(w, r, redirectTo, http.StatusSeeOther)
		})
	}
}
