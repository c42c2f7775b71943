// Package reports 提供仪表盘统计、读数名称补全和读数报表导出。
package reports

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/catalog"
	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/models"
)

// Options 报表参数
type Options struct {
	MaxPages    int
	PageSize    int
	Concurrency int
}

// Service 报表服务
type Service struct {
	opts Options
	log  *logger.StructuredLogger
}

// New 创建报表服务
func New(opts Options) *Service {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Service{opts: opts, log: logger.WithModule("reports")}
}

// Dashboard 首页统计
type Dashboard struct {
	Devices       map[string]int `json:"dispositivos"`
	DevicesTotal  int            `json:"dispositivos_total"`
	Sensors       map[string]int `json:"sensores"`
	SensorsTotal  int            `json:"sensores_total"`
	MQTTConfigs   map[string]int `json:"mqtt_configuraciones"`
	ReadingsTotal int            `json:"lecturas_total"`
}

type countFunc func(ctx context.Context, d apiclient.Doer, q apiclient.Query) (int, error)

func counter[T any](r apiclient.Resource[T]) countFunc {
	return func(ctx context.Context, d apiclient.Doer, q apiclient.Query) (int, error) {
		q.Page, q.PageSize = 1, 1
		page, err := r.List(ctx, d, q)
		if err != nil {
			return 0, err
		}
		return page.Count, nil
	}
}

// Dashboard 并发获取各项计数，任一失败则整体失败
func (s *Service) Dashboard(ctx context.Context, d apiclient.Doer) (*Dashboard, error) {
	out := &Dashboard{
		Devices:     make(map[string]int, len(models.Estados)),
		Sensors:     make(map[string]int, len(models.Estados)),
		MQTTConfigs: make(map[string]int, len(models.EstadosConexion)),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	count := func(fn countFunc, q apiclient.Query, store func(int)) {
		g.Go(func() error {
			n, err := fn(gctx, d, q)
			if err != nil {
				return err
			}
			mu.Lock()
			store(n)
			mu.Unlock()
			return nil
		})
	}

	devices, sensors := counter(catalog.Devices), counter(catalog.Sensors)
	for _, estado := range models.Estados {
		estado := estado
		count(devices, apiclient.Query{Estado: estado}, func(n int) {
			out.Devices[estado] = n
			out.DevicesTotal += n
		})
		count(sensors, apiclient.Query{Estado: estado}, func(n int) {
			out.Sensors[estado] = n
			out.SensorsTotal += n
		})
	}
	configs := counter(catalog.DeviceConfigs)
	for _, estado := range models.EstadosConexion {
		estado := estado
		q := apiclient.Query{Extra: map[string]string{"estado_conexion": estado}}
		count(configs, q, func(n int) { out.MQTTConfigs[estado] = n })
	}
	count(counter(catalog.Readings), apiclient.Query{}, func(n int) { out.ReadingsTotal = n })

	if err := g.Wait(); err != nil {
		s.log.Warn("dashboard failed", "error", err)
		return nil, err
	}
	return out, nil
}
