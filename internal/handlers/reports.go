package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gonglijing/iotconsole/internal/reports"
)

// ==================== 仪表盘与报表 ====================

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Dashboard 首页统计
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	client, rec := h.client(r)
	if rec == nil {
		WriteUnauthorized(w, msgSessionExpired)
		return
	}
	dash, err := h.reports.Dashboard(r.Context(), client)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	WriteSuccess(w, dash)
}

func reportFilter(r *http.Request) reports.Filter {
	q := r.URL.Query()
	return reports.Filter{
		Device:   q.Get("dispositivo"),
		Sensor:   q.Get("sensor"),
		DateFrom: q.Get("fecha_desde"),
		DateTo:   q.Get("fecha_hasta"),
	}
}

// ReadingsReport 读数统计
func (h *Handler) ReadingsReport(w http.ResponseWriter, r *http.Request) {
	client, rec := h.client(r)
	if rec == nil {
		WriteUnauthorized(w, msgSessionExpired)
		return
	}
	report, err := h.reports.Readings(r.Context(), client, reportFilter(r))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	WriteSuccess(w, report)
}

// ReadingsReportXLSX 读数统计导出为 Excel
func (h *Handler) ReadingsReportXLSX(w http.ResponseWriter, r *http.Request) {
	client, rec := h.client(r)
	if rec == nil {
		WriteUnauthorized(w, msgSessionExpired)
		return
	}
	report, err := h.reports.Readings(r.Context(), client, reportFilter(r))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := reports.WriteXLSX(report, &buf); err != nil {
		writeServerErrorWithLog(w, apiErrExportFailed, err)
		return
	}
	filename := fmt.Sprintf("lecturas-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
