package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 设备状态
const (
	EstadoActivo        = "activo"
	EstadoInactivo      = "inactivo"
	EstadoMantenimiento = "mantenimiento"
)

// MQTT 连接状态（只读，由后端维护）
const (
	ConexionConectado    = "conectado"
	ConexionDesconectado = "desconectado"
	ConexionError        = "error"
)

// 读数来源
const (
	OrigenManual = "manual"
	OrigenMQTT   = "mqtt"
)

// Estados 设备/传感器可选状态
var Estados = []string{EstadoActivo, EstadoInactivo, EstadoMantenimiento}

// EstadosConexion MQTT 设备配置连接状态
var EstadosConexion = []string{ConexionConectado, ConexionDesconectado, ConexionError}

// Number 兼容后端 DecimalField 以字符串返回的数值
type Number float64

// UnmarshalJSON 接受数字或数字字符串
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", s, err)
		}
		*n = Number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

// Float64 返回 float64 值
func (n Number) Float64() float64 { return float64(n) }

// NumberPtr 便于构造可选数值
func NumberPtr(v float64) *Number {
	n := Number(v)
	return &n
}

// Metadata 读数附加信息，接受 JSON 对象或对象文本
type Metadata struct {
	Values  map[string]any
	Raw     string
	Invalid bool
}

// ParseJSONObject 将文本解析为 JSON 对象
func ParseJSONObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		return nil, err
	}
	if values == nil {
		return nil, errors.New("metadata must be a JSON object")
	}
	return values, nil
}

// UnmarshalJSON 文本形式无法解析时标记为 Invalid，交由校验层报告
func (m *Metadata) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*m = Metadata{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		values, err := ParseJSONObject(text)
		if err != nil {
			m.Raw, m.Invalid = text, true
			return nil
		}
		m.Values = values
		return nil
	}
	if data[0] != '{' {
		m.Raw, m.Invalid = string(data), true
		return nil
	}
	return json.Unmarshal(data, &m.Values)
}

// MarshalJSON 总是输出 JSON 对象
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m.Values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.Values)
}

// Device 设备模型
type Device struct {
	ID                 int64   `json:"id,omitempty"`
	Nombre             string  `json:"nombre"`
	Tipo               string  `json:"tipo"`
	IdentificadorUnico string  `json:"identificador_unico"`
	Estado             string  `json:"estado"`
	Ubicacion          string  `json:"ubicacion"`
	Descripcion        string  `json:"descripcion"`
	Propietario        *int64  `json:"propietario,omitempty"`
	Sensores           []int64 `json:"sensores"`
}

// Sensor 传感器模型
type Sensor struct {
	ID           int64   `json:"id,omitempty"`
	Nombre       string  `json:"nombre"`
	Tipo         string  `json:"tipo"`
	UnidadMedida string  `json:"unidad_medida"`
	RangoMin     *Number `json:"rango_min"`
	RangoMax     *Number `json:"rango_max"`
	Estado       string  `json:"estado"`
	Dispositivos []int64 `json:"dispositivos"`
}

// Reading 读数模型
type Reading struct {
	ID          int64      `json:"id,omitempty"`
	Dispositivo int64      `json:"dispositivo"`
	Sensor      int64      `json:"sensor"`
	Valor       *Number    `json:"valor"`
	Unidad      string     `json:"unidad"`
	FechaHora   *time.Time `json:"fecha_hora,omitempty"`
	Metadata    Metadata   `json:"metadata"`
	Origen      string     `json:"origen,omitempty"`

	// 由控制台补全，不提交给后端
	DispositivoNombre string `json:"dispositivo_nombre,omitempty"`
	SensorNombre      string `json:"sensor_nombre,omitempty"`
}

// MQTTBroker MQTT 代理配置
type MQTTBroker struct {
	ID           int64  `json:"id,omitempty"`
	Nombre       string `json:"nombre"`
	Host         string `json:"host"`
	Puerto       int    `json:"puerto"`
	Protocolo    string `json:"protocolo"`
	Usuario      string `json:"usuario"`
	Password     string `json:"password,omitempty"`
	Keepalive    int    `json:"keepalive"`
	CleanSession bool   `json:"clean_session"`
	UseTLS       bool   `json:"use_tls"`
	Activo       bool   `json:"activo"`
}

// ClearSecrets 清除只写字段
func (b *MQTTBroker) ClearSecrets() { b.Password = "" }

// MQTTCredential MQTT 客户端凭据
type MQTTCredential struct {
	ID       int64  `json:"id,omitempty"`
	Broker   int64  `json:"broker"`
	ClientID string `json:"client_id"`
	Usuario  string `json:"usuario"`
	Password string `json:"password,omitempty"`
	Activo   bool   `json:"activo"`
}

// ClearSecrets 清除只写字段
func (c *MQTTCredential) ClearSecrets() { c.Password = "" }

// MQTTTopic MQTT 主题
type MQTTTopic struct {
	ID          int64  `json:"id,omitempty"`
	Broker      int64  `json:"broker"`
	Nombre      string `json:"nombre"`
	Topic       string `json:"topic"`
	Descripcion string `json:"descripcion"`
	QoS         int    `json:"qos"`
	Tipo        string `json:"tipo"` // publish, subscribe, both
	Activo      bool   `json:"activo"`
}

// MQTTDeviceConfig 设备与代理、主题的绑定
type MQTTDeviceConfig struct {
	ID                int64      `json:"id,omitempty"`
	Dispositivo       int64      `json:"dispositivo"`
	Broker            int64      `json:"broker"`
	TopicPublicacion  string     `json:"topic_publicacion"`
	TopicsSuscripcion []string   `json:"topics_suscripcion"`
	QoS               int        `json:"qos"`
	Retain            bool       `json:"retain"`
	EstadoConexion    string     `json:"estado_conexion,omitempty"`
	UltimaConexion    *time.Time `json:"ultima_conexion,omitempty"`
}

// EMQXUser EMQX 认证用户
type EMQXUser struct {
	ID          int64  `json:"id,omitempty"`
	Username    string `json:"username"`
	Password    string `json:"password,omitempty"`
	IsSuperuser bool   `json:"is_superuser"`
}

// ClearSecrets 清除只写字段
func (u *EMQXUser) ClearSecrets() { u.Password = "" }

// ACLRule EMQX 访问控制规则
type ACLRule struct {
	ID         int64  `json:"id,omitempty"`
	Username   string `json:"username"`
	Topic      string `json:"topic"`
	Action     string `json:"action"`     // publish, subscribe, all
	Permission string `json:"permission"` // allow, deny
}

// User 控制台用户
type User struct {
	ID          int64  `json:"id,omitempty"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Password    string `json:"password,omitempty"`
	IsActive    bool   `json:"is_active"`
	IsSuperuser bool   `json:"is_superuser"`
	Rol         *int64 `json:"rol"`
}

// ClearSecrets 清除只写字段
func (u *User) ClearSecrets() { u.Password = "" }

// Role 角色
type Role struct {
	ID          int64   `json:"id,omitempty"`
	Nombre      string  `json:"nombre"`
	Descripcion string  `json:"descripcion"`
	Permisos    []int64 `json:"permisos"`
}

// Permission 权限
type Permission struct {
	ID          int64  `json:"id,omitempty"`
	Codigo      string `json:"codigo"`
	Nombre      string `json:"nombre"`
	Descripcion string `json:"descripcion"`
}

// SecretHolder 含只写字段的实体
type SecretHolder interface {
	ClearSecrets()
}

// Scrub 输出前清除只写字段
func Scrub(v any) {
	if s, ok := v.(SecretHolder); ok {
		s.ClearSecrets()
	}
}

// CodeList 权限代码列表，兼容字符串数组或 {codigo} 对象数组
type CodeList []string

// UnmarshalJSON 解析权限代码
func (c *CodeList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	codes := make([]string, 0, len(raw))
	for _, item := range raw {
		var code string
		if err := json.Unmarshal(item, &code); err == nil {
			codes = append(codes, code)
			continue
		}
		var obj struct {
			Codigo string `json:"codigo"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("invalid permission entry: %w", err)
		}
		if obj.Codigo != "" {
			codes = append(codes, obj.Codigo)
		}
	}
	*c = codes
	return nil
}

// ProfileRole 当前用户的角色
type ProfileRole struct {
	ID       int64    `json:"id"`
	Nombre   string   `json:"nombre"`
	Permisos CodeList `json:"permisos"`
}

// Profile 当前登录用户（GET /api/usuarios/me/）
type Profile struct {
	ID          int64        `json:"id"`
	Username    string       `json:"username"`
	Email       string       `json:"email"`
	FirstName   string       `json:"first_name"`
	LastName    string       `json:"last_name"`
	IsActive    bool         `json:"is_active"`
	IsSuperuser bool         `json:"is_superuser"`
	Rol         *ProfileRole `json:"rol,omitempty"`
	Permisos    CodeList     `json:"permisos,omitempty"`
}

// PermissionCodes 汇总角色及直接授予的权限代码
func (p *Profile) PermissionCodes() []string {
	if p == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var codes []string
	add := func(list []string) {
		for _, code := range list {
			if _, ok := seen[code]; ok || code == "" {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	if p.Rol != nil {
		add(p.Rol.Permisos)
	}
	add(p.Permisos)
	return codes
}

// DisplayName 显示名称
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	full := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if full != "" {
		return full
	}
	return p.Username
}

// TokenPair 上游签发的 JWT 对
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Page 分页结果
type Page[T any] struct {
	Count    int    `json:"count"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
	Results  []T    `json:"results"`
}

// UnmarshalJSON 兼容 {count, results} 与裸数组两种格式
func (p *Page[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*p = Page[T]{Count: len(items), Results: items}
		return nil
	}

	var envelope struct {
		Count    int     `json:"count"`
		Next     *string `json:"next"`
		Previous *string `json:"previous"`
		Results  []T     `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	page := Page[T]{Count: envelope.Count, Results: envelope.Results}
	if envelope.Next != nil {
		page.Next = *envelope.Next
	}
	if envelope.Previous != nil {
		page.Previous = *envelope.Previous
	}
	if page.Results == nil {
		page.Results = []T{}
	}
	*p = page
	return nil
}
