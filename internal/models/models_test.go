package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber_AcceptsStringAndNumber(t *testing.T) {
	var s Sensor
	require.NoError(t, json.Unmarshal([]byte(`{"nombre":"temp","rango_min":"-10.50","rango_max":80}`), &s))

	require.NotNil(t, s.RangoMin)
	require.NotNil(t, s.RangoMax)
	assert.Equal(t, -10.5, s.RangoMin.Float64())
	assert.Equal(t, 80.0, s.RangoMax.Float64())
}

func TestNumber_NullStaysNil(t *testing.T) {
	var s Sensor
	require.NoError(t, json.Unmarshal([]byte(`{"rango_min":null}`), &s))
	assert.Nil(t, s.RangoMin)
}

func TestNumber_InvalidString(t *testing.T) {
	var n Number
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &n))
}

func TestPage_Envelope(t *testing.T) {
	var p Page[Device]
	data := `{"count":42,"next":"http://api/x?page=3","previous":null,"results":[{"id":1,"nombre":"d1"}]}`
	require.NoError(t, json.Unmarshal([]byte(data), &p))

	assert.Equal(t, 42, p.Count)
	assert.Equal(t, "http://api/x?page=3", p.Next)
	assert.Empty(t, p.Previous)
	require.Len(t, p.Results, 1)
	assert.Equal(t, "d1", p.Results[0].Nombre)
}

func TestPage_BareArray(t *testing.T) {
	var p Page[Sensor]
	require.NoError(t, json.Unmarshal([]byte(`[{"id":1},{"id":2},{"id":3}]`), &p))

	assert.Equal(t, 3, p.Count)
	assert.Len(t, p.Results, 3)
}

func TestPage_EmptyResultsNotNil(t *testing.T) {
	var p Page[Sensor]
	require.NoError(t, json.Unmarshal([]byte(`{"count":0}`), &p))
	assert.NotNil(t, p.Results)
}

func TestProfile_PermissionCodes(t *testing.T) {
	var p Profile
	data := `{"username":"ana","rol":{"nombre":"ops","permisos":[{"codigo":"devices.write"},"sensors.write"]},"permisos":["devices.write","reports.export"]}`
	require.NoError(t, json.Unmarshal([]byte(data), &p))

	assert.Equal(t, []string{"devices.write", "sensors.write", "reports.export"}, p.PermissionCodes())
}

func TestProfile_DisplayName(t *testing.T) {
	p := &Profile{Username: "ana"}
	assert.Equal(t, "ana", p.DisplayName())

	p.FirstName, p.LastName = "Ana", "Ruiz"
	assert.Equal(t, "Ana Ruiz", p.DisplayName())

	var nilProfile *Profile
	assert.Empty(t, nilProfile.DisplayName())
	assert.Nil(t, nilProfile.PermissionCodes())
}

func TestScrub(t *testing.T) {
	b := &MQTTBroker{Nombre: "main", Password: "secret"}
	Scrub(b)
	assert.Empty(t, b.Password)

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "password")

	// 无只写字段的实体不受影响
	d := &Device{Nombre: "x"}
	Scrub(d)
	assert.Equal(t, "x", d.Nombre)
}

func TestMetadata_Forms(t *testing.T) {
	var r Reading
	require.NoError(t, json.Unmarshal([]byte(`{"metadata":{"fw":"1.2"}}`), &r))
	assert.Equal(t, "1.2", r.Metadata.Values["fw"])
	assert.False(t, r.Metadata.Invalid)

	require.NoError(t, json.Unmarshal([]byte(`{"metadata":"{\"calibrado\":true}"}`), &r))
	assert.Equal(t, true, r.Metadata.Values["calibrado"])

	require.NoError(t, json.Unmarshal([]byte(`{"metadata":"{not json"}`), &r))
	assert.True(t, r.Metadata.Invalid)
	assert.Equal(t, "{not json", r.Metadata.Raw)

	require.NoError(t, json.Unmarshal([]byte(`{"metadata":[1,2]}`), &r))
	assert.True(t, r.Metadata.Invalid)

	out, err := json.Marshal(Reading{})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"metadata":{}`)
}
