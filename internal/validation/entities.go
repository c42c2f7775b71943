package validation

import (
	"fmt"
	"strings"

	"github.com/gonglijing/iotconsole/internal/models"
	"github.com/gonglijing/iotconsole/internal/mqtt"
)

const (
	minNameLength         = 3
	minMQTTPasswordLength = 6
	minUserPasswordLength = 8
)

// ValidateDevice 设备表单
func ValidateDevice(d *models.Device, _ Mode) Errors {
	errs := Errors{}
	RequiredMin(errs, "nombre", d.Nombre, minNameLength)
	Required(errs, "tipo", d.Tipo)
	Required(errs, "identificador_unico", d.IdentificadorUnico)
	if Required(errs, "estado", d.Estado) {
		OneOf(errs, "estado", d.Estado, models.Estados)
	}
	return errs
}

// ValidateSensor 传感器表单
func ValidateSensor(s *models.Sensor, _ Mode) Errors {
	errs := Errors{}
	RequiredMin(errs, "nombre", s.Nombre, minNameLength)
	Required(errs, "tipo", s.Tipo)
	Required(errs, "unidad_medida", s.UnidadMedida)
	RangeOrdered(errs, "rango_min", "rango_max", s.RangoMin, s.RangoMax)
	if s.Estado != "" {
		OneOf(errs, "estado", s.Estado, models.Estados)
	}
	return errs
}

// ValidateReading 读数表单（手动录入）
func ValidateReading(r *models.Reading, _ Mode) Errors {
	errs := Errors{}
	RequiredID(errs, "dispositivo", r.Dispositivo)
	RequiredID(errs, "sensor", r.Sensor)
	if r.Valor == nil {
		errs.Add("valor", MsgRequired)
	}
	if r.Metadata.Invalid {
		JSONObject(errs, "metadata", r.Metadata.Raw)
	}
	if r.Origen != "" {
		OneOf(errs, "origen", r.Origen, []string{models.OrigenManual, models.OrigenMQTT})
	}
	return errs
}

// ValidateBroker MQTT 代理表单
func ValidateBroker(b *models.MQTTBroker, mode Mode) Errors {
	errs := Errors{}
	RequiredMin(errs, "nombre", b.Nombre, minNameLength)
	Required(errs, "host", b.Host)
	Port(errs, "puerto", b.Puerto)
	if Required(errs, "protocolo", b.Protocolo) {
		OneOf(errs, "protocolo", b.Protocolo, mqtt.Protocols)
	}
	NonNegative(errs, "keepalive", b.Keepalive)
	if b.Password != "" {
		Password(errs, "password", b.Password, minMQTTPasswordLength, mode)
	}
	return errs
}

// ValidateCredential MQTT 凭据表单
func ValidateCredential(c *models.MQTTCredential, mode Mode) Errors {
	errs := Errors{}
	RequiredID(errs, "broker", c.Broker)
	Required(errs, "client_id", c.ClientID)
	RequiredMin(errs, "usuario", c.Usuario, minNameLength)
	Password(errs, "password", c.Password, minMQTTPasswordLength, mode)
	return errs
}

// ValidateTopic MQTT 主题表单
func ValidateTopic(t *models.MQTTTopic, _ Mode) Errors {
	errs := Errors{}
	RequiredID(errs, "broker", t.Broker)
	Required(errs, "nombre", t.Nombre)
	tipoOK := Required(errs, "tipo", t.Tipo) && OneOf(errs, "tipo", t.Tipo, []string{"publish", "subscribe", "both"})
	if tipoOK && t.Tipo == "publish" {
		TopicName(errs, "topic", t.Topic)
	} else {
		TopicFilter(errs, "topic", t.Topic)
	}
	QoS(errs, "qos", t.QoS)
	return errs
}

// ValidateDeviceConfig 设备 MQTT 配置表单
func ValidateDeviceConfig(c *models.MQTTDeviceConfig, _ Mode) Errors {
	errs := Errors{}
	RequiredID(errs, "dispositivo", c.Dispositivo)
	RequiredID(errs, "broker", c.Broker)
	if Required(errs, "topic_publicacion", c.TopicPublicacion) {
		TopicName(errs, "topic_publicacion", c.TopicPublicacion)
	}

	seen := make(map[string]struct{}, len(c.TopicsSuscripcion))
	for i, topic := range c.TopicsSuscripcion {
		topic = strings.TrimSpace(topic)
		if err := mqtt.ValidateTopicFilter(topic); err != nil {
			errs.Add("topics_suscripcion", fmt.Sprintf("entry %d: %v", i+1, err))
			break
		}
		if _, dup := seen[topic]; dup {
			errs.Add("topics_suscripcion", fmt.Sprintf("entry %d: duplicate topic %q", i+1, topic))
			break
		}
		seen[topic] = struct{}{}
	}
	QoS(errs, "qos", c.QoS)
	return errs
}

// ValidateEMQXUser EMQX 用户表单
func ValidateEMQXUser(u *models.EMQXUser, mode Mode) Errors {
	errs := Errors{}
	RequiredMin(errs, "username", u.Username, minNameLength)
	Password(errs, "password", u.Password, minMQTTPasswordLength, mode)
	return errs
}

// ValidateACLRule ACL 规则表单
func ValidateACLRule(r *models.ACLRule, _ Mode) Errors {
	errs := Errors{}
	Required(errs, "username", r.Username)
	if Required(errs, "topic", r.Topic) {
		topic := strings.TrimPrefix(r.Topic, "eq ")
		topic = strings.NewReplacer("%u", "u", "${username}", "u").Replace(topic)
		TopicFilter(errs, "topic", topic)
	}
	if Required(errs, "action", r.Action) {
		OneOf(errs, "action", r.Action, mqtt.Actions)
	}
	if Required(errs, "permission", r.Permission) {
		OneOf(errs, "permission", r.Permission, mqtt.Permissions)
	}
	return errs
}

// ValidateUser 用户表单
func ValidateUser(u *models.User, mode Mode) Errors {
	errs := Errors{}
	RequiredMin(errs, "username", u.Username, minNameLength)
	if Required(errs, "email", u.Email) {
		Email(errs, "email", u.Email)
	}
	Password(errs, "password", u.Password, minUserPasswordLength, mode)
	if u.Rol == nil || *u.Rol <= 0 {
		errs.Add("rol", MsgRequired)
	}
	return errs
}

// ValidateRole 角色表单
func ValidateRole(r *models.Role, _ Mode) Errors {
	errs := Errors{}
	RequiredMin(errs, "nombre", r.Nombre, minNameLength)
	return errs
}

// ValidatePermission 权限表单
func ValidatePermission(p *models.Permission, _ Mode) Errors {
	errs := Errors{}
	if Required(errs, "codigo", p.Codigo) {
		NoWhitespace(errs, "codigo", p.Codigo)
	}
	Required(errs, "nombre", p.Nombre)
	return errs
}
