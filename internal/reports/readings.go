package reports

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/catalog"
	"github.com/gonglijing/iotconsole/internal/models"
)

// Filter 读数报表条件
type Filter struct {
	Device   string `json:"dispositivo,omitempty"`
	Sensor   string `json:"sensor,omitempty"`
	DateFrom string `json:"fecha_desde,omitempty"`
	DateTo   string `json:"fecha_hasta,omitempty"`
}

// SensorStats 单个传感器统计
type SensorStats struct {
	Sensor       int64      `json:"sensor"`
	SensorNombre string     `json:"sensor_nombre"`
	Unidad       string     `json:"unidad"`
	Count        int        `json:"count"`
	Min          float64    `json:"min"`
	Max          float64    `json:"max"`
	Avg          float64    `json:"avg"`
	First        *time.Time `json:"first,omitempty"`
	Last         *time.Time `json:"last,omitempty"`

	sum float64
}

// ReadingsReport 读数报表
type ReadingsReport struct {
	Filter      Filter        `json:"filter"`
	GeneratedAt time.Time     `json:"generated_at"`
	Total       int           `json:"total"`
	Scanned     int           `json:"scanned"`
	Truncated   bool          `json:"truncated"`
	Sensors     []SensorStats `json:"sensores"`
}

func (st *SensorStats) add(r models.Reading) {
	if r.Valor == nil {
		return
	}
	v := r.Valor.Float64()
	if st.Count == 0 {
		st.Min, st.Max = v, v
	} else {
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Count++
	st.sum += v
	if st.Unidad == "" {
		st.Unidad = r.Unidad
	}
	if r.FechaHora != nil {
		if st.First == nil || r.FechaHora.Before(*st.First) {
			t := *r.FechaHora
			st.First = &t
		}
		if st.Last == nil || r.FechaHora.After(*st.Last) {
			t := *r.FechaHora
			st.Last = &t
		}
	}
}

// Readings 按条件逐页读取读数并按传感器汇总，超过页数上限时标记截断
func (s *Service) Readings(ctx context.Context, d apiclient.Doer, f Filter) (*ReadingsReport, error) {
	report := &ReadingsReport{Filter: f, GeneratedAt: time.Now().UTC()}
	stats := make(map[int64]*SensorStats)

	q := apiclient.Query{
		Dispositivo: f.Device,
		Sensor:      f.Sensor,
		FechaDesde:  f.DateFrom,
		FechaHasta:  f.DateTo,
		Ordering:    "fecha_hora",
		PageSize:    s.opts.PageSize,
	}
	for page := 1; ; page++ {
		if page > s.opts.MaxPages {
			report.Truncated = true
			break
		}
		q.Page = page
		result, err := catalog.Readings.List(ctx, d, q)
		if err != nil {
			return nil, err
		}
		report.Total = result.Count
		for _, r := range result.Results {
			st, ok := stats[r.Sensor]
			if !ok {
				st = &SensorStats{Sensor: r.Sensor}
				stats[r.Sensor] = st
			}
			st.add(r)
			report.Scanned++
		}
		if len(result.Results) == 0 || (result.Next == "" && report.Scanned >= result.Count) {
			break
		}
	}
	if report.Total < report.Scanned {
		report.Total = report.Scanned
	}

	ids := make([]int64, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	names := lookupNames(ctx, s, d, catalog.Sensors, ids, sensorName)

	report.Sensors = make([]SensorStats, 0, len(ids))
	for _, id := range ids {
		st := stats[id]
		if st.Count > 0 {
			st.Avg = st.sum / float64(st.Count)
		}
		st.SensorNombre = nameOr(names, id)
		report.Sensors = append(report.Sensors, *st)
	}
	return report, nil
}
