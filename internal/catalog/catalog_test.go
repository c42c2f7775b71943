package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonglijing/iotconsole/internal/access"
	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/forms"
	"github.com/gonglijing/iotconsole/internal/listing"
	"github.com/gonglijing/iotconsole/internal/models"
)

type upstreamCall struct {
	method string
	path   string
	query  url.Values
	body   map[string]any
}

type stubDoer struct {
	mu        sync.Mutex
	calls     []upstreamCall
	responses map[string]string
}

func (s *stubDoer) Do(_ context.Context, method, path string, query url.Values, body, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := upstreamCall{method: method, path: path, query: query}
	if body != nil {
		raw, _ := json.Marshal(body)
		_ = json.Unmarshal(raw, &call.body)
	}
	s.calls = append(s.calls, call)
	if resp, ok := s.responses[method+" "+path]; ok && out != nil {
		return json.Unmarshal([]byte(resp), out)
	}
	return nil
}

func newCatalog(opts Options) *Catalog {
	return New(listing.NewRegistry(time.Hour), opts)
}

func TestNew_RegistersAllCollections(t *testing.T) {
	c := newCatalog(Options{})
	routes := []string{
		"devices", "sensors", "readings",
		"mqtt/brokers", "mqtt/credentials", "mqtt/topics", "mqtt/device-configs",
		"emqx/users", "emqx/acl", "users", "roles", "permissions",
	}
	require.Len(t, c.Entities(), len(routes))
	for _, route := range routes {
		e, ok := c.Lookup(route)
		require.True(t, ok, route)
		assert.Equal(t, route, e.Route())
		assert.NotEmpty(t, e.PagePath())
	}

	readings, _ := c.Lookup("readings")
	assert.Equal(t, access.ReadingsCreateManual, readings.Caps().Create)
}

func TestList_FilterResetsPage(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"GET /api/dispositivos/": `{"count": 42, "results": [{"id": 1, "nombre": "Bomba"}]}`,
	}}
	e, _ := newCatalog(Options{}).Lookup("devices")

	state, err := e.List(context.Background(), doer, ListRequest{SessionID: "s1", Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 42, state.(listing.State[models.Device]).Count)
	assert.Equal(t, "3", doer.calls[0].query.Get("page"))

	_, err = e.List(context.Background(), doer, ListRequest{SessionID: "s1", Page: 3, Filter: listing.Filter{Search: "bom"}})
	require.NoError(t, err)
	assert.Equal(t, "1", doer.calls[1].query.Get("page"))
	assert.Equal(t, "bom", doer.calls[1].query.Get("search"))
}

func TestExtraFilters_PerEntity(t *testing.T) {
	c := newCatalog(Options{})

	readings, _ := c.Lookup("readings")
	assert.Equal(t, []string{"origen"}, readings.ExtraFilters())
	configs, _ := c.Lookup("mqtt/device-configs")
	assert.Contains(t, configs.ExtraFilters(), "estado_conexion")
	roles, _ := c.Lookup("roles")
	assert.Empty(t, roles.ExtraFilters())
}

func TestList_ScrubsAndEnriches(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"GET /api/lecturas/": `[{"id": 1, "dispositivo": 2, "sensor": 3, "valor": "21.5"}]`,
		"GET /api/usuarios/": `{"count": 1, "results": [{"id": 1, "username": "ana", "password": "hash"}]}`,
	}}
	enrich := func(_ context.Context, _ apiclient.Doer, items []models.Reading) []models.Reading {
		for i := range items {
			items[i].DispositivoNombre = "Bomba"
		}
		return items
	}
	c := newCatalog(Options{EnrichReadings: enrich})

	readings, _ := c.Lookup("readings")
	state, err := readings.List(context.Background(), doer, ListRequest{SessionID: "s1"})
	require.NoError(t, err)
	items := state.(listing.State[models.Reading]).Items
	require.Len(t, items, 1)
	assert.Equal(t, "Bomba", items[0].DispositivoNombre)

	users, _ := c.Lookup("users")
	state, err = users.List(context.Background(), doer, ListRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, state.(listing.State[models.User]).Items[0].Password)
}

func TestCreateReading_MarksManual(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"POST /api/lecturas/": `{"id": 10, "dispositivo": 1, "sensor": 2, "valor": 3, "origen": "manual"}`,
	}}
	e, _ := newCatalog(Options{}).Lookup("readings")

	body := `{"dispositivo": 1, "sensor": 2, "valor": 3, "origen": "mqtt", "metadata": "{\"k\": 1}", "dispositivo_nombre": "x"}`
	res, err := e.Create(context.Background(), doer, strings.NewReader(body))
	require.NoError(t, err)

	sent := doer.calls[0].body
	assert.Equal(t, models.OrigenManual, sent["origen"])
	assert.NotContains(t, sent, "dispositivo_nombre")
	assert.Equal(t, map[string]any{"k": float64(1)}, sent["metadata"])
	assert.Equal(t, "/lecturas", res.(*forms.Result[models.Reading]).Redirect)
}

func TestCreate_InvalidBody(t *testing.T) {
	e, _ := newCatalog(Options{}).Lookup("devices")
	_, err := e.Create(context.Background(), &stubDoer{}, strings.NewReader("{"))

	var failure *forms.Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, http.StatusBadRequest, failure.Status)
}

func TestGet_ScrubsSecrets(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"GET /api/mqtt/brokers/4/": `{"id": 4, "nombre": "local", "password": "secret"}`,
	}}
	e, _ := newCatalog(Options{}).Lookup("mqtt/brokers")

	item, err := e.Get(context.Background(), doer, 4)
	require.NoError(t, err)
	assert.Empty(t, item.(*models.MQTTBroker).Password)
}

func TestUpdateDeviceConfig_DropsReadOnly(t *testing.T) {
	doer := &stubDoer{}
	e, _ := newCatalog(Options{}).Lookup("mqtt/device-configs")

	body := `{"dispositivo": 1, "broker": 2, "topic_publicacion": "planta/1/datos", "topics_suscripcion": ["planta/1/cmd/#"], "qos": 1, "estado_conexion": "conectado"}`
	_, err := e.Update(context.Background(), doer, 8, strings.NewReader(body))
	require.NoError(t, err)

	sent := doer.calls[0].body
	assert.NotContains(t, sent, "estado_conexion")
	assert.NotContains(t, sent, "ultima_conexion")
	assert.Equal(t, "planta/1/datos", sent["topic_publicacion"])
}

func TestVisibleTo(t *testing.T) {
	c := newCatalog(Options{})
	operator := &models.Profile{IsActive: true}
	admin := &models.Profile{IsActive: true, IsSuperuser: true}

	assert.Len(t, c.VisibleTo(operator), 9)
	assert.Len(t, c.VisibleTo(admin), 12)
}
