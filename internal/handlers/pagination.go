package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gonglijing/iotconsole/internal/catalog"
	"github.com/gonglijing/iotconsole/internal/listing"
)

// PaginationParams 分页参数
type PaginationParams struct {
	Page     int // 页码（从1开始）
	PageSize int // 每页数量，0 表示沿用控制器当前值
}

// GetPagination 从请求获取分页参数
func GetPagination(r *http.Request) PaginationParams {
	params := PaginationParams{Page: 1}
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			params.Page = parsed
		}
	}
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if parsed, err := strconv.Atoi(ps); err == nil && parsed > 0 {
			params.PageSize = parsed
		}
	}
	return params
}

// GetFilter 从查询字符串解析列表筛选条件。
// 只有 extras 中列出的参数作为附加条件透传给上游，其余参数（如缓存破坏参数）忽略。
func GetFilter(r *http.Request, extras ...string) listing.Filter {
	q := r.URL.Query()
	f := listing.Filter{
		Search:   q.Get("search"),
		Device:   q.Get("dispositivo"),
		Sensor:   q.Get("sensor"),
		Status:   q.Get("estado"),
		DateFrom: q.Get("fecha_desde"),
		DateTo:   q.Get("fecha_hasta"),
		Ordering: q.Get("ordering"),
	}
	for _, key := range extras {
		value := strings.TrimSpace(q.Get(key))
		if value == "" {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]string)
		}
		f.Extra[key] = value
	}
	return f
}

func listRequest(r *http.Request, sessionID string, extras ...string) catalog.ListRequest {
	params := GetPagination(r)
	return catalog.ListRequest{
		SessionID: sessionID,
		Filter:    GetFilter(r, extras...),
		Page:      params.Page,
		PageSize:  params.PageSize,
	}
}
