package reports

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/catalog"
	"github.com/gonglijing/iotconsole/internal/models"
)

// UnknownName 查询失败时的占位名称
const UnknownName = "Desconocido"

// lookupNames 去重后并发查询名称；单个查询失败使用占位名称
func lookupNames[T any](ctx context.Context, s *Service, d apiclient.Doer, r apiclient.Resource[T], ids []int64, name func(*T) string) map[int64]string {
	names := make(map[int64]string, len(ids))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)

	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		id := id
		g.Go(func() error {
			value := UnknownName
			item, err := r.Get(ctx, d, id)
			if err != nil {
				s.log.Debug("name lookup failed", "path", r.ItemPath(id), "error", err)
			} else if n := name(item); n != "" {
				value = n
			}
			mu.Lock()
			names[id] = value
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return names
}

func deviceName(d *models.Device) string { return d.Nombre }
func sensorName(s *models.Sensor) string { return s.Nombre }

// EnrichReadings 为每条读数补全设备和传感器名称，列表始终可以渲染
func (s *Service) EnrichReadings(ctx context.Context, d apiclient.Doer, items []models.Reading) []models.Reading {
	if len(items) == 0 {
		return items
	}
	deviceIDs := make([]int64, 0, len(items))
	sensorIDs := make([]int64, 0, len(items))
	for _, item := range items {
		deviceIDs = append(deviceIDs, item.Dispositivo)
		sensorIDs = append(sensorIDs, item.Sensor)
	}

	var devices, sensors map[int64]string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		devices = lookupNames(ctx, s, d, catalog.Devices, deviceIDs, deviceName)
	}()
	go func() {
		defer wg.Done()
		sensors = lookupNames(ctx, s, d, catalog.Sensors, sensorIDs, sensorName)
	}()
	wg.Wait()

	for i := range items {
		items[i].DispositivoNombre = nameOr(devices, items[i].Dispositivo)
		items[i].SensorNombre = nameOr(sensors, items[i].Sensor)
	}
	return items
}

func nameOr(names map[int64]string, id int64) string {
	if name, ok := names[id]; ok {
		return name
	}
	return UnknownName
}
