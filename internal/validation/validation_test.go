package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonglijing/iotconsole/internal/models"
)

func TestErrors_FirstMessageWins(t *testing.T) {
	errs := Errors{}
	errs.Add("nombre", "first")
	errs.Add("nombre", "second")

	assert.Equal(t, "first", errs["nombre"])
	assert.True(t, errs.Has("nombre"))
	assert.False(t, errs.OK())
	assert.Equal(t, "validation failed: nombre: first", errs.Error())
}

func TestDevice_ShortName(t *testing.T) {
	errs := ValidateDevice(&models.Device{Nombre: "A", Tipo: "gateway", IdentificadorUnico: "GW-1", Estado: "activo"}, ModeCreate)

	assert.Equal(t, "must be at least 3 characters", errs["nombre"])
	assert.Len(t, errs, 1)
}

func TestDevice_RequiredFields(t *testing.T) {
	errs := ValidateDevice(&models.Device{}, ModeCreate)

	for _, field := range []string{"nombre", "tipo", "identificador_unico", "estado"} {
		assert.Equal(t, MsgRequired, errs[field], field)
	}
}

func TestDevice_EstadoOneOf(t *testing.T) {
	errs := ValidateDevice(&models.Device{Nombre: "abc", Tipo: "t", IdentificadorUnico: "u", Estado: "roto"}, ModeCreate)
	assert.Contains(t, errs["estado"], "must be one of")
}

func TestSensor_Range(t *testing.T) {
	tests := []struct {
		name     string
		min, max *models.Number
		wantErr  bool
	}{
		{"ordered", models.NumberPtr(0), models.NumberPtr(100), false},
		{"equal", models.NumberPtr(5), models.NumberPtr(5), true},
		{"inverted", models.NumberPtr(10), models.NumberPtr(-10), true},
		{"open upper", models.NumberPtr(10), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.Sensor{Nombre: "temp", Tipo: "t", UnidadMedida: "C", RangoMin: tt.min, RangoMax: tt.max}
			errs := ValidateSensor(s, ModeCreate)
			assert.Equal(t, tt.wantErr, errs.Has("rango_max"))
			assert.Equal(t, tt.wantErr, errs.Has("rango_min"))
		})
	}
}

func TestReading_Metadata(t *testing.T) {
	r := &models.Reading{Dispositivo: 1, Sensor: 2, Valor: models.NumberPtr(1.5)}
	assert.True(t, ValidateReading(r, ModeCreate).OK())

	r.Metadata = models.Metadata{Raw: "{bad", Invalid: true}
	errs := ValidateReading(r, ModeCreate)
	assert.Equal(t, MsgInvalidJSON, errs["metadata"])

	require.NoError(t, json.Unmarshal([]byte(`{"dispositivo":1,"sensor":2,"valor":3,"metadata":"[1,2]"}`), r))
	errs = ValidateReading(r, ModeCreate)
	assert.Equal(t, MsgInvalidJSON, errs["metadata"])

	require.NoError(t, json.Unmarshal([]byte(`{"dispositivo":1,"sensor":2,"valor":3,"metadata":"{\"lote\":7}"}`), r))
	assert.True(t, ValidateReading(r, ModeCreate).OK())

	errs = ValidateReading(&models.Reading{}, ModeCreate)
	assert.True(t, errs.Has("dispositivo"))
	assert.True(t, errs.Has("sensor"))
	assert.True(t, errs.Has("valor"))
}

func TestBroker(t *testing.T) {
	b := &models.MQTTBroker{Nombre: "main", Host: "emqx", Puerto: 1883, Protocolo: "mqtt"}
	assert.True(t, ValidateBroker(b, ModeCreate).OK())

	b.Puerto = 0
	b.Protocolo = "amqp"
	b.Keepalive = -1
	errs := ValidateBroker(b, ModeUpdate)
	assert.True(t, errs.Has("puerto"))
	assert.True(t, errs.Has("protocolo"))
	assert.True(t, errs.Has("keepalive"))
}

func TestPasswordByMode(t *testing.T) {
	c := &models.MQTTCredential{Broker: 1, ClientID: "c1", Usuario: "dev01"}
	assert.Equal(t, MsgRequired, ValidateCredential(c, ModeCreate)["password"])
	assert.True(t, ValidateCredential(c, ModeUpdate).OK())

	c.Password = "123"
	assert.True(t, ValidateCredential(c, ModeUpdate).Has("password"))

	u := &models.User{Username: "ana", Email: "ana@example.com", Rol: new(int64), Password: "1234567"}
	*u.Rol = 2
	assert.Equal(t, "must be at least 8 characters", ValidateUser(u, ModeCreate)["password"])
	u.Password = ""
	assert.True(t, ValidateUser(u, ModeUpdate).OK())
}

func TestUser_EmailAndRole(t *testing.T) {
	errs := ValidateUser(&models.User{Username: "ana", Email: "not-an-email", Password: "longenough"}, ModeCreate)
	assert.Equal(t, MsgInvalidEmail, errs["email"])
	assert.Equal(t, MsgRequired, errs["rol"])

	errs = ValidateUser(&models.User{Username: "ana", Email: "Ana <ana@example.com>"}, ModeUpdate)
	assert.True(t, errs.Has("email"))
}

func TestDeviceConfig_Topics(t *testing.T) {
	c := &models.MQTTDeviceConfig{
		Dispositivo:       1,
		Broker:            1,
		TopicPublicacion:  "devices/1/telemetry",
		TopicsSuscripcion: []string{"devices/1/cmd/#", "devices/+/ota"},
		QoS:               1,
	}
	assert.True(t, ValidateDeviceConfig(c, ModeCreate).OK())

	c.TopicPublicacion = "devices/+/telemetry"
	assert.True(t, ValidateDeviceConfig(c, ModeCreate).Has("topic_publicacion"))

	c.TopicPublicacion = "devices/1/telemetry"
	c.TopicsSuscripcion = []string{"a/b", "a/b"}
	errs := ValidateDeviceConfig(c, ModeCreate)
	assert.True(t, strings.Contains(errs["topics_suscripcion"], "duplicate"))

	c.TopicsSuscripcion = []string{"a/#/b"}
	c.QoS = 3
	errs = ValidateDeviceConfig(c, ModeCreate)
	assert.True(t, strings.HasPrefix(errs["topics_suscripcion"], "entry 1:"))
	assert.True(t, errs.Has("qos"))
}

func TestTopic_TipoDrivesSyntax(t *testing.T) {
	topic := &models.MQTTTopic{Broker: 1, Nombre: "telemetry", Topic: "devices/+/t", Tipo: "subscribe"}
	assert.True(t, ValidateTopic(topic, ModeCreate).OK())

	topic.Tipo = "publish"
	assert.True(t, ValidateTopic(topic, ModeCreate).Has("topic"))
}

func TestACLRule(t *testing.T) {
	r := &models.ACLRule{Username: "dev", Topic: "users/%u/#", Action: "publish", Permission: "allow"}
	assert.True(t, ValidateACLRule(r, ModeCreate).OK())

	r.Action, r.Permission = "read", "maybe"
	errs := ValidateACLRule(r, ModeCreate)
	assert.True(t, errs.Has("action"))
	assert.True(t, errs.Has("permission"))
}

func TestPermissionAndRole(t *testing.T) {
	errs := ValidatePermission(&models.Permission{Codigo: "devices write", Nombre: "x"}, ModeCreate)
	assert.Equal(t, MsgNoWhitespace, errs["codigo"])

	assert.True(t, ValidateRole(&models.Role{Nombre: "ab"}, ModeCreate).Has("nombre"))
	assert.True(t, ValidateRole(&models.Role{Nombre: "ops"}, ModeCreate).OK())
}

func TestJSONObjectHelper(t *testing.T) {
	errs := Errors{}
	assert.True(t, JSONObject(errs, "metadata", `{"a":1}`))
	assert.True(t, JSONObject(errs, "metadata", ""))
	assert.False(t, JSONObject(errs, "metadata", `[1]`))
	assert.Equal(t, MsgInvalidJSON, errs["metadata"])
}
