package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPagination(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  PaginationParams
	}{
		{name: "defaults", query: "", want: PaginationParams{Page: 1}},
		{name: "explicit", query: "page=3&page_size=25", want: PaginationParams{Page: 3, PageSize: 25}},
		{name: "invalid", query: "page=-1&page_size=abc", want: PaginationParams{Page: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/devices?"+tt.query, nil)
			assert.Equal(t, tt.want, GetPagination(req))
		})
	}
}

func TestGetFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/api/readings?search=temp&dispositivo=4&sensor=9&estado=activo&fecha_desde=2024-01-01&fecha_hasta=2024-01-31&ordering=-fecha&origen=manual&tipo=&page=2&_=1712345678", nil)

	f := GetFilter(req, "origen", "tipo")

	assert.Equal(t, "temp", f.Search)
	assert.Equal(t, "4", f.Device)
	assert.Equal(t, "9", f.Sensor)
	assert.Equal(t, "activo", f.Status)
	assert.Equal(t, "2024-01-01", f.DateFrom)
	assert.Equal(t, "2024-01-31", f.DateTo)
	assert.Equal(t, "-fecha", f.Ordering)
	assert.Equal(t, map[string]string{"origen": "manual"}, f.Extra)

	assert.Nil(t, GetFilter(req).Extra)
}

func TestGetFilter_UnlistedParamsKeepFilterStable(t *testing.T) {
	first := httptest.NewRequest(http.MethodGet, "/api/readings?origen=mqtt&_=1", nil)
	second := httptest.NewRequest(http.MethodGet, "/api/readings?origen=mqtt&_=2&utm_source=mail", nil)

	a := GetFilter(first, "origen")
	b := GetFilter(second, "origen")

	assert.True(t, a.Equal(b))
	assert.Equal(t, map[string]string{"origen": "mqtt"}, b.Extra)
}

func TestListRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/sensors?page=2&page_size=50&search=hum", nil)

	lr := listRequest(req, "session-1", "tipo")

	assert.Equal(t, "session-1", lr.SessionID)
	assert.Equal(t, 2, lr.Page)
	assert.Equal(t, 50, lr.PageSize)
	assert.Equal(t, "hum", lr.Filter.Search)
}
