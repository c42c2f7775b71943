// Package listing 实现通用的"筛选-分页"列表控制器。
// 每次重新加载都会取消上一次尚未完成的请求，过期响应被丢弃，只有最后一次请求的结果会写入状态。
package listing

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/metrics"
	"github.com/gonglijing/iotconsole/internal/models"
)

// ErrStale 响应已被更新的请求取代
var ErrStale = errors.New("listing: superseded by a newer request")

// 分页默认值
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Filter 列表筛选条件
type Filter struct {
	Search   string            `json:"search,omitempty"`
	Device   string            `json:"dispositivo,omitempty"`
	Sensor   string            `json:"sensor,omitempty"`
	Status   string            `json:"estado,omitempty"`
	DateFrom string            `json:"fecha_desde,omitempty"`
	DateTo   string            `json:"fecha_hasta,omitempty"`
	Ordering string            `json:"ordering,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func (f Filter) normalized() Filter {
	out := Filter{
		Search:   strings.TrimSpace(f.Search),
		Device:   strings.TrimSpace(f.Device),
		Sensor:   strings.TrimSpace(f.Sensor),
		Status:   strings.TrimSpace(f.Status),
		DateFrom: strings.TrimSpace(f.DateFrom),
		DateTo:   strings.TrimSpace(f.DateTo),
		Ordering: strings.TrimSpace(f.Ordering),
	}
	for key, value := range f.Extra {
		if value = strings.TrimSpace(value); value != "" {
			if out.Extra == nil {
				out.Extra = make(map[string]string)
			}
			out.Extra[key] = value
		}
	}
	return out
}

// Equal 比较筛选条件（忽略首尾空白和空的扩展项）
func (f Filter) Equal(other Filter) bool {
	a, b := f.normalized(), other.normalized()
	return a.Search == b.Search &&
		a.Device == b.Device &&
		a.Sensor == b.Sensor &&
		a.Status == b.Status &&
		a.DateFrom == b.DateFrom &&
		a.DateTo == b.DateTo &&
		a.Ordering == b.Ordering &&
		maps.Equal(a.Extra, b.Extra)
}

// Query 转换为上游查询参数
func (f Filter) Query(page, pageSize int) apiclient.Query {
	n := f.normalized()
	return apiclient.Query{
		Search:      n.Search,
		Dispositivo: n.Device,
		Sensor:      n.Sensor,
		Estado:      n.Status,
		Ordering:    n.Ordering,
		FechaDesde:  n.DateFrom,
		FechaHasta:  n.DateTo,
		Page:        page,
		PageSize:    pageSize,
		Extra:       n.Extra,
	}
}

// FetchFunc 拉取一页数据
type FetchFunc[T any] func(ctx context.Context, q apiclient.Query) (models.Page[T], error)

// State 控制器状态快照
type State[T any] struct {
	Entity      string `json:"entity"`
	Filter      Filter `json:"filter"`
	Page        int    `json:"page"`
	PageSize    int    `json:"page_size"`
	Loading     bool   `json:"loading"`
	Items       []T    `json:"items"`
	Count       int    `json:"count"`
	TotalPages  int    `json:"total_pages"`
	HasNext     bool   `json:"has_next"`
	HasPrevious bool   `json:"has_previous"`
	Error       string `json:"error,omitempty"`
	Generation  uint64 `json:"generation"`
}

// Controller 单个实体列表的控制器
type Controller[T any] struct {
	entity      string
	fetch       FetchFunc[T]
	maxPageSize int

	mu     sync.Mutex
	state  State[T]
	gen    uint64
	cancel context.CancelFunc
}

// New 创建控制器
func New[T any](entity string, fetch FetchFunc[T], pageSize, maxPageSize int) *Controller[T] {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &Controller[T]{
		entity:      entity,
		fetch:       fetch,
		maxPageSize: maxPageSize,
		state: State[T]{
			Entity:   entity,
			Page:     1,
			PageSize: pageSize,
			Items:    []T{},
		},
	}
}

// Entity 实体名称
func (c *Controller[T]) Entity() string { return c.entity }

// SetFilter 设置筛选条件；条件变化时页码重置为 1。返回是否变化。
func (c *Controller[T]) SetFilter(f Filter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setFilterLocked(f)
}

func (c *Controller[T]) setFilterLocked(f Filter) bool {
	if c.state.Filter.Equal(f) {
		return false
	}
	c.state.Filter = f.normalized()
	c.state.Page = 1
	return true
}

// SetPage 切换页码
func (c *Controller[T]) SetPage(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page < 1 {
		page = 1
	}
	c.state.Page = page
}

// SetPageSize 修改每页条数；变化时页码重置为 1
func (c *Controller[T]) SetPageSize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPageSizeLocked(size)
}

func (c *Controller[T]) setPageSizeLocked(size int) {
	if size <= 0 {
		return
	}
	if size > c.maxPageSize {
		size = c.maxPageSize
	}
	if size != c.state.PageSize {
		c.state.PageSize = size
		c.state.Page = 1
	}
}

// Apply 一次性应用筛选、页码和每页条数。
// 筛选条件变化时忽略传入页码，从第 1 页开始。
func (c *Controller[T]) Apply(f Filter, page, pageSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	filterChanged := c.setFilterLocked(f)
	sizeBefore := c.state.PageSize
	c.setPageSizeLocked(pageSize)
	if filterChanged || sizeBefore != c.state.PageSize {
		return
	}
	if page < 1 {
		page = 1
	}
	c.state.Page = page
}

// State 当前状态快照
func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reload 发起一次列表请求。
// 新请求会取消尚未完成的旧请求；旧请求返回 ErrStale，且不会覆盖状态。
// 失败时保留上一次的列表数据，只记录错误。
func (c *Controller[T]) Reload(ctx context.Context) (State[T], error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state.Loading = true
	c.state.Generation = gen
	query := c.state.Filter.Query(c.state.Page, c.state.PageSize)
	c.mu.Unlock()

	page, err := c.fetch(reqCtx, query)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		cancel()
		metrics.StaleListResponses.WithLabelValues(c.entity).Inc()
		return c.state, ErrStale
	}
	cancel()
	c.cancel = nil
	c.state.Loading = false

	if err != nil {
		c.state.Error = errorText(err)
		return c.state, err
	}

	items := page.Results
	if items == nil {
		items = []T{}
	}
	c.state.Items = items
	c.state.Count = page.Count
	c.state.TotalPages = totalPages(page.Count, c.state.PageSize)
	c.state.HasNext = page.Next != "" || c.state.Page < c.state.TotalPages
	c.state.HasPrevious = page.Previous != "" || c.state.Page > 1
	c.state.Error = ""
	return c.state, nil
}

func totalPages(count, pageSize int) int {
	if count <= 0 || pageSize <= 0 {
		return 0
	}
	return (count + pageSize - 1) / pageSize
}

func errorText(err error) string {
	if apiErr, ok := apiclient.AsAPIError(err); ok {
		return apiErr.Message
	}
	return apiclient.GenericMessage
}
