package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gonglijing/iotconsole/internal/auth"
	"github.com/gonglijing/iotconsole/internal/models"
	"github.com/gonglijing/iotconsole/internal/session"
)

func operator(codes ...string) *models.Profile {
	return &models.Profile{
		Username: "op",
		IsActive: true,
		Rol:      &models.ProfileRole{Nombre: "operador", Permisos: codes},
	}
}

func TestAllowed(t *testing.T) {
	superuser := &models.Profile{Username: "root", IsActive: true, IsSuperuser: true}
	inactiveSuper := &models.Profile{Username: "old", IsActive: false, IsSuperuser: true}

	tests := []struct {
		name       string
		profile    *models.Profile
		capability string
		want       bool
	}{
		{"nil profile", nil, DevicesWrite, false},
		{"inactive superuser", inactiveSuper, DevicesWrite, false},
		{"superuser", superuser, UsersWrite, true},
		{"superuser manual reading", superuser, ReadingsCreateManual, true},
		{"exact code", operator(DevicesWrite), DevicesWrite, true},
		{"missing code", operator(DevicesWrite), SensorsWrite, false},
		{"prefix wildcard", operator("mqtt.*"), MQTTProbe, true},
		{"prefix wildcard other", operator("mqtt.*"), EMQXWrite, false},
		{"global wildcard", operator("*"), RolesWrite, true},
		{"manual reading is superuser only", operator("*", ReadingsCreateManual), ReadingsCreateManual, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(tt.profile, tt.capability))
		})
	}
}

func TestAllowed_DirectPermissions(t *testing.T) {
	p := &models.Profile{IsActive: true, Permisos: models.CodeList{ReportsExport}}
	assert.True(t, Allowed(p, ReportsExport))
	assert.False(t, Allowed(p, DevicesWrite))
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities(operator(SensorsWrite))
	assert.Len(t, caps, len(All))
	assert.True(t, caps[SensorsWrite])
	assert.False(t, caps[DevicesWrite])
	assert.False(t, caps[ReadingsCreateManual])
}

func withProfile(r *http.Request, p *models.Profile) *http.Request {
	return r.WithContext(auth.WithRecord(r.Context(), &session.Record{ID: "s", Profile: p}))
}

func TestGate_Require(t *testing.T) {
	gate := &Gate{Forbidden: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"success":false}`))
	}}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := gate.Require(DevicesWrite)(ok)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withProfile(httptest.NewRequest(http.MethodPost, "/api/devices", nil), operator(DevicesWrite)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withProfile(httptest.NewRequest(http.MethodPost, "/api/devices", nil), operator()))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"success":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withProfile(httptest.NewRequest(http.MethodGet, "/dispositivos/nuevo", nil), operator()))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestGate_ManualReadingPageRedirect(t *testing.T) {
	gate := &Gate{}
	handler := gate.RequirePage(ReadingsCreateManual, "/lecturas")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("non-superuser must not reach the manual reading page")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withProfile(httptest.NewRequest(http.MethodGet, "/lecturas/nueva", nil), operator("*")))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/lecturas", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/readings", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
