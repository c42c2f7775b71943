package catalog

import (
	"context"
	"strings"

	"github.com/gonglijing/iotconsole/internal/access"
	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/forms"
	"github.com/gonglijing/iotconsole/internal/listing"
	"github.com/gonglijing/iotconsole/internal/models"
	"github.com/gonglijing/iotconsole/internal/validation"
)

var secretKeys = []string{"password"}

// New 注册全部实体
func New(registry *listing.Registry, opts Options) *Catalog {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = listing.DefaultPageSize
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = listing.MaxPageSize
	}
	c := &Catalog{
		registry: registry,
		opts:     opts,
		byRoute:  make(map[string]Entity),
	}

	register(c, "Device", "devices", writeCaps("", access.DevicesWrite), forms.Descriptor[models.Device]{
		Resource: Devices,
		Validate: validation.ValidateDevice,
		Prepare:  trimDevice,
		ListPath: "/dispositivos",
		Notices:  forms.Notices{Created: "Dispositivo creado", Updated: "Dispositivo actualizado", Deleted: "Dispositivo eliminado"},
	}).withFilters("tipo", "propietario")

	register(c, "Sensor", "sensors", writeCaps("", access.SensorsWrite), forms.Descriptor[models.Sensor]{
		Resource:      Sensors,
		Validate:      validation.ValidateSensor,
		ListPath:      "/sensores",
		NoChangeGuard: true,
		Notices:       forms.Notices{Created: "Sensor creado", Updated: "Sensor actualizado", Deleted: "Sensor eliminado"},
	}).withFilters("tipo", "unidad_medida")

	readings := register(c, "Reading", "readings", Caps{
		Create: access.ReadingsCreateManual,
		Update: access.ReadingsWrite,
		Delete: access.ReadingsWrite,
	}, forms.Descriptor[models.Reading]{
		Resource:     Readings,
		Validate:     validation.ValidateReading,
		Prepare:      markManual,
		ReadOnlyKeys: []string{"dispositivo_nombre", "sensor_nombre"},
		ListPath:     "/lecturas",
		Notices:      forms.Notices{Created: "Lectura registrada", Updated: "Lectura actualizada", Deleted: "Lectura eliminada"},
	}).withFilters("origen")
	if opts.EnrichReadings != nil {
		readings.afterList = opts.EnrichReadings
	}

	register(c, "Broker", "mqtt/brokers", writeCaps("", access.MQTTWrite), forms.Descriptor[models.MQTTBroker]{
		Resource:   Brokers,
		Validate:   validation.ValidateBroker,
		SecretKeys: secretKeys,
		ListPath:   "/mqtt/brokers",
	}).withFilters("protocolo", "activo")

	register(c, "Credential", "mqtt/credentials", writeCaps("", access.MQTTWrite), forms.Descriptor[models.MQTTCredential]{
		Resource:   Credentials,
		Validate:   validation.ValidateCredential,
		SecretKeys: secretKeys,
		ListPath:   "/mqtt/credenciales",
	}).withFilters("broker", "activo")

	register(c, "Topic", "mqtt/topics", writeCaps("", access.MQTTWrite), forms.Descriptor[models.MQTTTopic]{
		Resource: Topics,
		Validate: validation.ValidateTopic,
		ListPath: "/mqtt/topics",
	}).withFilters("broker", "tipo", "qos", "activo")

	register(c, "Device config", "mqtt/device-configs", writeCaps("", access.MQTTWrite), forms.Descriptor[models.MQTTDeviceConfig]{
		Resource:     DeviceConfigs,
		Validate:     validation.ValidateDeviceConfig,
		ReadOnlyKeys: []string{"estado_conexion", "ultima_conexion"},
		ListPath:     "/mqtt/configuraciones",
	}).withFilters("broker", "estado_conexion")

	register(c, "EMQX user", "emqx/users", writeCaps("", access.EMQXWrite), forms.Descriptor[models.EMQXUser]{
		Resource:   EMQXUsers,
		Validate:   validation.ValidateEMQXUser,
		SecretKeys: secretKeys,
		ListPath:   "/emqx/usuarios",
	}).withFilters("is_superuser")

	register(c, "ACL rule", "emqx/acl", writeCaps("", access.EMQXWrite), forms.Descriptor[models.ACLRule]{
		Resource: ACLRules,
		Validate: validation.ValidateACLRule,
		ListPath: "/emqx/acl",
	}).withFilters("username", "action", "permission")

	register(c, "User", "users", writeCaps(access.UsersView, access.UsersWrite), forms.Descriptor[models.User]{
		Resource:   Users,
		Validate:   validation.ValidateUser,
		SecretKeys: secretKeys,
		ListPath:   "/usuarios",
	}).withFilters("is_active", "is_superuser", "rol")

	register(c, "Role", "roles", writeCaps(access.UsersView, access.RolesWrite), forms.Descriptor[models.Role]{
		Resource: Roles,
		Validate: validation.ValidateRole,
		ListPath: "/roles",
	})

	register(c, "Permission", "permissions", writeCaps(access.UsersView, access.PermissionsWrite), forms.Descriptor[models.Permission]{
		Resource: Permissions,
		Validate: validation.ValidatePermission,
		ListPath: "/permisos",
	})

	return c
}

func writeCaps(view, write string) Caps {
	return Caps{View: view, Create: write, Update: write, Delete: write}
}

func trimDevice(d *models.Device, _ validation.Mode) {
	d.Nombre = strings.TrimSpace(d.Nombre)
	d.IdentificadorUnico = strings.TrimSpace(d.IdentificadorUnico)
}

// markManual 控制台录入的读数总是手动来源
func markManual(r *models.Reading, mode validation.Mode) {
	if mode == validation.ModeCreate {
		r.Origen = models.OrigenManual
	}
}

// Enricher 读数补全函数签名
type Enricher = func(ctx context.Context, d apiclient.Doer, items []models.Reading) []models.Reading
