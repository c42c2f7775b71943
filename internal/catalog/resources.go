package catalog

import (
	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/models"
)

// 上游实体集合
var (
	Devices       = apiclient.NewResource[models.Device]("/api/dispositivos/")
	Sensors       = apiclient.NewResource[models.Sensor]("/api/sensores/")
	Readings      = apiclient.NewResource[models.Reading]("/api/lecturas/")
	Brokers       = apiclient.NewResource[models.MQTTBroker]("/api/mqtt/brokers/")
	Credentials   = apiclient.NewResource[models.MQTTCredential]("/api/mqtt/credenciales/")
	Topics        = apiclient.NewResource[models.MQTTTopic]("/api/mqtt/topics/")
	DeviceConfigs = apiclient.NewResource[models.MQTTDeviceConfig]("/api/mqtt/configuraciones/")
	EMQXUsers     = apiclient.NewResource[models.EMQXUser]("/api/emqx/usuarios/")
	ACLRules      = apiclient.NewResource[models.ACLRule]("/api/emqx/acl/")
	Users         = apiclient.NewResource[models.User]("/api/usuarios/")
	Roles         = apiclient.NewResource[models.Role]("/api/roles/")
	Permissions   = apiclient.NewResource[models.Permission]("/api/permisos/")
)
