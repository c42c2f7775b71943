// Package catalog 把每种实体的上游集合、校验规则、能力要求和列表/表单控制器组合在一起。
package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gonglijing/iotconsole/internal/access"
	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/forms"
	"github.com/gonglijing/iotconsole/internal/listing"
	"github.com/gonglijing/iotconsole/internal/models"
)

// MsgInvalidBody 请求体无法解析
const MsgInvalidBody = "Invalid request body."

// Caps 实体操作所需能力，空字符串表示登录即可
type Caps struct {
	View   string `json:"view,omitempty"`
	Create string `json:"create"`
	Update string `json:"update"`
	Delete string `json:"delete"`
}

// ListRequest 列表请求
type ListRequest struct {
	SessionID string
	Filter    listing.Filter
	Page      int
	PageSize  int
}

// Entity 类型擦除后的实体操作，供 HTTP 层统一注册路由
type Entity interface {
	Name() string
	Route() string
	PagePath() string
	Caps() Caps
	ExtraFilters() []string
	List(ctx context.Context, d apiclient.Doer, req ListRequest) (any, error)
	Get(ctx context.Context, d apiclient.Doer, id int64) (any, error)
	Create(ctx context.Context, d apiclient.Doer, body io.Reader) (any, error)
	Update(ctx context.Context, d apiclient.Doer, id int64, body io.Reader) (any, error)
	Delete(ctx context.Context, d apiclient.Doer, id int64) (any, error)
}

// Options 目录选项
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	EnrichReadings  Enricher
}

// Catalog 实体目录
type Catalog struct {
	registry *listing.Registry
	opts     Options
	entities []Entity
	byRoute  map[string]Entity
}

// Registry 列表控制器注册表
func (c *Catalog) Registry() *listing.Registry { return c.registry }

// Entities 全部实体，按注册顺序
func (c *Catalog) Entities() []Entity { return c.entities }

// Lookup 按路由查找实体，如 "mqtt/brokers"
func (c *Catalog) Lookup(route string) (Entity, bool) {
	e, ok := c.byRoute[route]
	return e, ok
}

func (c *Catalog) add(e Entity) {
	c.entities = append(c.entities, e)
	c.byRoute[e.Route()] = e
}

type entity[T any] struct {
	name      string
	route     string
	caps      Caps
	form      *forms.Controller[T]
	afterList func(ctx context.Context, d apiclient.Doer, items []T) []T
	filters   []string
	catalog   *Catalog
}

func register[T any](c *Catalog, name, route string, caps Caps, desc forms.Descriptor[T]) *entity[T] {
	desc.Entity = name
	e := &entity[T]{
		name:    name,
		route:   route,
		caps:    caps,
		form:    forms.New(desc),
		catalog: c,
	}
	c.add(e)
	return e
}

func (e *entity[T]) Name() string     { return e.name }
func (e *entity[T]) Route() string    { return e.route }
func (e *entity[T]) PagePath() string { return e.form.Descriptor().ListPath }
func (e *entity[T]) Caps() Caps       { return e.caps }

// ExtraFilters 除通用筛选外允许透传给上游的查询参数
func (e *entity[T]) ExtraFilters() []string { return e.filters }

func (e *entity[T]) withFilters(keys ...string) *entity[T] {
	e.filters = keys
	return e
}

func (e *entity[T]) resource() apiclient.Resource[T] {
	return e.form.Descriptor().Resource
}

// List 通过会话的列表控制器取数，过滤条件变化时回到第一页
func (e *entity[T]) List(ctx context.Context, d apiclient.Doer, req ListRequest) (any, error) {
	ctrl := listing.Get(e.catalog.registry, req.SessionID, e.route, func() *listing.Controller[T] {
		return listing.New(e.route, e.fetcher(d), e.catalog.opts.DefaultPageSize, e.catalog.opts.MaxPageSize)
	})
	ctrl.Apply(req.Filter, req.Page, req.PageSize)
	return ctrl.Reload(ctx)
}

func (e *entity[T]) fetcher(d apiclient.Doer) listing.FetchFunc[T] {
	return func(ctx context.Context, q apiclient.Query) (models.Page[T], error) {
		page, err := e.resource().List(ctx, d, q)
		if err != nil {
			return page, err
		}
		for i := range page.Results {
			models.Scrub(&page.Results[i])
		}
		if e.afterList != nil && len(page.Results) > 0 {
			page.Results = e.afterList(ctx, d, page.Results)
		}
		return page, nil
	}
}

// Get 取单个实体，去掉只写字段
func (e *entity[T]) Get(ctx context.Context, d apiclient.Doer, id int64) (any, error) {
	item, err := e.resource().Get(ctx, d, id)
	if err != nil {
		return nil, forms.Fail(err)
	}
	models.Scrub(item)
	return item, nil
}

// Create 创建
func (e *entity[T]) Create(ctx context.Context, d apiclient.Doer, body io.Reader) (any, error) {
	draft, err := decode[T](body)
	if err != nil {
		return nil, err
	}
	res, err := e.form.Create(ctx, d, draft)
	if err != nil {
		return nil, err
	}
	if res.Entity != nil {
		models.Scrub(res.Entity)
	}
	return res, nil
}

// Update 更新
func (e *entity[T]) Update(ctx context.Context, d apiclient.Doer, id int64, body io.Reader) (any, error) {
	draft, err := decode[T](body)
	if err != nil {
		return nil, err
	}
	res, err := e.form.Update(ctx, d, id, draft)
	if err != nil {
		return nil, err
	}
	if res.Entity != nil {
		models.Scrub(res.Entity)
	}
	return res, nil
}

// Delete 删除
func (e *entity[T]) Delete(ctx context.Context, d apiclient.Doer, id int64) (any, error) {
	res, err := e.form.Delete(ctx, d, id)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func decode[T any](body io.Reader) (*T, error) {
	var draft T
	if body == nil {
		return nil, &forms.Failure{Status: http.StatusBadRequest, Message: MsgInvalidBody}
	}
	if err := json.NewDecoder(body).Decode(&draft); err != nil {
		return nil, &forms.Failure{Status: http.StatusBadRequest, Message: MsgInvalidBody, Err: err}
	}
	return &draft, nil
}

// VisibleTo 用户可见的实体
func (c *Catalog) VisibleTo(profile *models.Profile) []Entity {
	out := make([]Entity, 0, len(c.entities))
	for _, e := range c.entities {
		if view := e.Caps().View; view == "" || access.Allowed(profile, view) {
			out = append(out, e)
		}
	}
	return out
}
