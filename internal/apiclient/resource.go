package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gonglijing/iotconsole/internal/models"
)

// Query 列表查询参数
type Query struct {
	Search      string
	Dispositivo string
	Sensor      string
	Estado      string
	Ordering    string
	FechaDesde  string
	FechaHasta  string
	Page        int
	PageSize    int
	Extra       map[string]string
}

// Values 转换为上游查询字符串，空值不发送
func (q Query) Values() url.Values {
	values := url.Values{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			values.Set(key, value)
		}
	}
	set("search", q.Search)
	set("dispositivo", q.Dispositivo)
	set("sensor", q.Sensor)
	set("estado", q.Estado)
	set("ordering", q.Ordering)
	set("fecha_desde", q.FechaDesde)
	set("fecha_hasta", q.FechaHasta)
	for key, value := range q.Extra {
		set(key, value)
	}
	if q.Page > 0 {
		values.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		values.Set("page_size", strconv.Itoa(q.PageSize))
	}
	return values
}

// Resource 上游实体集合
type Resource[T any] struct {
	Path string
}

// NewResource 创建实体集合，path 形如 /api/dispositivos/
func NewResource[T any](path string) Resource[T] {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return Resource[T]{Path: path}
}

// ItemPath 单个实体路径
func (r Resource[T]) ItemPath(id int64) string {
	return r.Path + strconv.FormatInt(id, 10) + "/"
}

// List GET 列表
func (r Resource[T]) List(ctx context.Context, d Doer, q Query) (models.Page[T], error) {
	var page models.Page[T]
	err := d.Do(ctx, http.MethodGet, r.Path, q.Values(), nil, &page)
	return page, err
}

// Get GET 单个实体
func (r Resource[T]) Get(ctx context.Context, d Doer, id int64) (*T, error) {
	var item T
	if err := d.Do(ctx, http.MethodGet, r.ItemPath(id), nil, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Create POST
func (r Resource[T]) Create(ctx context.Context, d Doer, payload any) (*T, error) {
	var item T
	if err := d.Do(ctx, http.MethodPost, r.Path, nil, payload, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Update PATCH
func (r Resource[T]) Update(ctx context.Context, d Doer, id int64, payload any) (*T, error) {
	var item T
	if err := d.Do(ctx, http.MethodPatch, r.ItemPath(id), nil, payload, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Delete DELETE
func (r Resource[T]) Delete(ctx context.Context, d Doer, id int64) error {
	return d.Do(ctx, http.MethodDelete, r.ItemPath(id), nil, nil, nil)
}
