// Package validation 提供表单字段级校验。
// Errors 中不存在的键表示该字段有效。
package validation

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gonglijing/iotconsole/internal/models"
	"github.com/gonglijing/iotconsole/internal/mqtt"
)

// Mode 校验模式
type Mode int

const (
	ModeCreate Mode = iota
	ModeUpdate
)

// 通用提示文本
const (
	MsgRequired     = "This field is required."
	MsgInvalidEmail = "Enter a valid email address."
	MsgInvalidJSON  = "must be a valid JSON object"
	MsgNoWhitespace = "must not contain whitespace"
)

// Errors 字段 -> 错误信息
type Errors map[string]string

// Add 记录字段错误，同一字段只保留第一条
func (e Errors) Add(field, message string) {
	if _, exists := e[field]; exists {
		return
	}
	e[field] = message
}

// Has 字段是否有错误
func (e Errors) Has(field string) bool {
	_, ok := e[field]
	return ok
}

// OK 是否全部通过
func (e Errors) OK() bool { return len(e) == 0 }

// Fields 按字母序返回出错字段
func (e Errors) Fields() []string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, field := range e.Fields() {
		parts = append(parts, field+": "+e[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Required 必填
func Required(errs Errors, field, value string) bool {
	if strings.TrimSpace(value) == "" {
		errs.Add(field, MsgRequired)
		return false
	}
	return true
}

// RequiredID 外键必选
func RequiredID(errs Errors, field string, id int64) bool {
	if id <= 0 {
		errs.Add(field, MsgRequired)
		return false
	}
	return true
}

// MinLength 最小长度（按字符计）
func MinLength(errs Errors, field, value string, min int) bool {
	if utf8.RuneCountInString(strings.TrimSpace(value)) < min {
		errs.Add(field, fmt.Sprintf("must be at least %d characters", min))
		return false
	}
	return true
}

// RequiredMin 必填且满足最小长度
func RequiredMin(errs Errors, field, value string, min int) bool {
	return Required(errs, field, value) && MinLength(errs, field, value, min)
}

// OneOf 枚举值
func OneOf(errs Errors, field, value string, allowed []string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	errs.Add(field, "must be one of: "+strings.Join(allowed, ", "))
	return false
}

// RangeOrdered 数值区间要求 min < max，两端都填写时才校验
func RangeOrdered(errs Errors, minField, maxField string, min, max *models.Number) bool {
	if min == nil || max == nil {
		return true
	}
	if *min < *max {
		return true
	}
	errs.Add(maxField, "must be greater than "+minField)
	errs.Add(minField, "must be less than "+maxField)
	return false
}

// Port 端口范围
func Port(errs Errors, field string, port int) bool {
	if port < 1 || port > 65535 {
		errs.Add(field, "must be between 1 and 65535")
		return false
	}
	return true
}

// QoS MQTT 服务质量 0..2
func QoS(errs Errors, field string, qos int) bool {
	if qos < 0 || qos > 2 {
		errs.Add(field, "must be 0, 1 or 2")
		return false
	}
	return true
}

// NonNegative 非负整数
func NonNegative(errs Errors, field string, value int) bool {
	if value < 0 {
		errs.Add(field, "must not be negative")
		return false
	}
	return true
}

// JSONObject 文本可解析为 JSON 对象
func JSONObject(errs Errors, field, text string) bool {
	if _, err := models.ParseJSONObject(text); err != nil {
		errs.Add(field, MsgInvalidJSON)
		return false
	}
	return true
}

// Email 邮箱格式
func Email(errs Errors, field, value string) bool {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != strings.TrimSpace(value) || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".") {
		errs.Add(field, MsgInvalidEmail)
		return false
	}
	return true
}

// NoWhitespace 不允许空白字符
func NoWhitespace(errs Errors, field, value string) bool {
	if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		errs.Add(field, MsgNoWhitespace)
		return false
	}
	return true
}

// TopicName 发布主题
func TopicName(errs Errors, field, topic string) bool {
	if err := mqtt.ValidateTopicName(topic); err != nil {
		errs.Add(field, err.Error())
		return false
	}
	return true
}

// TopicFilter 订阅主题过滤器
func TopicFilter(errs Errors, field, filter string) bool {
	if err := mqtt.ValidateTopicFilter(filter); err != nil {
		errs.Add(field, err.Error())
		return false
	}
	return true
}

// Password 创建时必填；更新时留空表示保持不变
func Password(errs Errors, field, value string, min int, mode Mode) bool {
	if value == "" {
		if mode == ModeCreate {
			errs.Add(field, MsgRequired)
			return false
		}
		return true
	}
	return MinLength(errs, field, value, min)
}
