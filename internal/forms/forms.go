// Package forms 实现通用的 "校验-提交" 表单控制器。
package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/logger"
	"github.com/gonglijing/iotconsole/internal/validation"
)

// 表单失败提示
const (
	MsgInvalid   = "Please correct the highlighted fields."
	MsgNoChanges = "No changes detected."
)

var (
	// ErrNoChanges 编辑时所有字段都与当前记录一致
	ErrNoChanges = errors.New("forms: no changes detected")
	// ErrInvalid 本地校验未通过
	ErrInvalid = errors.New("forms: validation failed")
)

// Validator 实体校验函数
type Validator[T any] func(*T, validation.Mode) validation.Errors

// Notices 成功提示
type Notices struct {
	Created string
	Updated string
	Deleted string
}

// Descriptor 描述一种实体的表单行为
type Descriptor[T any] struct {
	Entity        string
	Resource      apiclient.Resource[T]
	Validate      Validator[T]
	Prepare       func(*T, validation.Mode)
	SecretKeys    []string
	ReadOnlyKeys  []string
	ListPath      string
	NoChangeGuard bool
	Notices       Notices
}

// Result 提交成功
type Result[T any] struct {
	Entity   *T     `json:"entity,omitempty"`
	Notice   string `json:"notice"`
	Redirect string `json:"redirect"`
}

// Failure 提交失败，携带后端消息或通用提示
type Failure struct {
	Status  int               `json:"-"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Message, f.Err)
	}
	return f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

// Controller 表单控制器
type Controller[T any] struct {
	desc Descriptor[T]
	log  *logger.StructuredLogger
}

// New 创建表单控制器
func New[T any](desc Descriptor[T]) *Controller[T] {
	return &Controller[T]{desc: desc, log: logger.WithModule("forms")}
}

// Descriptor 实体描述
func (c *Controller[T]) Descriptor() Descriptor[T] { return c.desc }

// Create 校验后 POST；校验失败时不发出请求
func (c *Controller[T]) Create(ctx context.Context, d apiclient.Doer, draft *T) (*Result[T], error) {
	if errs := c.validate(draft, validation.ModeCreate); !errs.OK() {
		return nil, invalid(errs)
	}
	payload, err := c.payload(draft)
	if err != nil {
		return nil, c.fail(err)
	}
	created, err := c.desc.Resource.Create(ctx, d, payload)
	if err != nil {
		c.log.Warn("create failed", "entity", c.desc.Entity, "error", err)
		return nil, c.fail(err)
	}
	return c.result(created, c.desc.Notices.Created, "created"), nil
}

// Update 校验后 PATCH；空的密钥字段不发送
func (c *Controller[T]) Update(ctx context.Context, d apiclient.Doer, id int64, draft *T) (*Result[T], error) {
	if errs := c.validate(draft, validation.ModeUpdate); !errs.OK() {
		return nil, invalid(errs)
	}
	payload, err := c.payload(draft)
	if err != nil {
		return nil, c.fail(err)
	}

	if c.desc.NoChangeGuard {
		current, err := c.desc.Resource.Get(ctx, d, id)
		if err != nil {
			return nil, c.fail(err)
		}
		unchanged, err := sameAs(payload, current)
		if err != nil {
			return nil, c.fail(err)
		}
		if unchanged {
			return nil, c.fail(ErrNoChanges)
		}
	}

	updated, err := c.desc.Resource.Update(ctx, d, id, payload)
	if err != nil {
		c.log.Warn("update failed", "entity", c.desc.Entity, "id", id, "error", err)
		return nil, c.fail(err)
	}
	return c.result(updated, c.desc.Notices.Updated, "updated"), nil
}

// Delete DELETE
func (c *Controller[T]) Delete(ctx context.Context, d apiclient.Doer, id int64) (*Result[T], error) {
	if err := c.desc.Resource.Delete(ctx, d, id); err != nil {
		c.log.Warn("delete failed", "entity", c.desc.Entity, "id", id, "error", err)
		return nil, c.fail(err)
	}
	return c.result(nil, c.desc.Notices.Deleted, "deleted"), nil
}

func (c *Controller[T]) validate(draft *T, mode validation.Mode) validation.Errors {
	if draft == nil {
		return validation.Errors{"non_field_errors": validation.MsgRequired}
	}
	if c.desc.Prepare != nil {
		c.desc.Prepare(draft, mode)
	}
	if c.desc.Validate == nil {
		return validation.Errors{}
	}
	return c.desc.Validate(draft, mode)
}

// payload 将草稿转换为请求体
func (c *Controller[T]) payload(draft *T) (map[string]any, error) {
	data, err := toMap(draft)
	if err != nil {
		return nil, err
	}
	delete(data, "id")
	for _, key := range c.desc.ReadOnlyKeys {
		delete(data, key)
	}
	for _, key := range c.desc.SecretKeys {
		value, ok := data[key]
		if !ok {
			continue
		}
		if s, isString := value.(string); value == nil || (isString && s == "") {
			delete(data, key)
		}
	}
	return data, nil
}

func (c *Controller[T]) result(entity *T, notice, verb string) *Result[T] {
	if notice == "" {
		notice = fmt.Sprintf("%s %s successfully.", c.desc.Entity, verb)
	}
	return &Result[T]{Entity: entity, Notice: notice, Redirect: c.desc.ListPath}
}

func (c *Controller[T]) fail(err error) *Failure {
	return Fail(err)
}

func invalid(errs validation.Errors) *Failure {
	return &Failure{
		Status:  http.StatusUnprocessableEntity,
		Message: MsgInvalid,
		Fields:  map[string]string(errs),
		Err:     ErrInvalid,
	}
}

// Fail 将错误转换为表单失败结果
func Fail(err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	if errors.Is(err, ErrNoChanges) {
		return &Failure{Status: http.StatusConflict, Message: MsgNoChanges, Err: err}
	}
	if apiErr, ok := apiclient.AsAPIError(err); ok {
		return &Failure{Status: apiErr.Status, Message: apiErr.Message, Fields: apiErr.Fields, Err: err}
	}
	if errors.Is(err, apiclient.ErrUnauthorized) {
		return &Failure{Status: http.StatusUnauthorized, Message: apiclient.GenericMessage, Err: err}
	}
	if errors.Is(err, apiclient.ErrCircuitOpen) {
		return &Failure{Status: http.StatusServiceUnavailable, Message: apiclient.GenericMessage, Err: err}
	}
	return &Failure{Status: http.StatusBadGateway, Message: apiclient.GenericMessage, Err: err}
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// sameAs 请求体中每个字段是否都与当前记录一致
func sameAs(payload map[string]any, current any) (bool, error) {
	existing, err := toMap(current)
	if err != nil {
		return false, err
	}
	for key, value := range payload {
		if !reflect.DeepEqual(normalize(value), normalize(existing[key])) {
			return false, nil
		}
	}
	return true, nil
}

// normalize 把空切片/空对象与 nil 视为相同
func normalize(v any) any {
	switch val := v.(type) {
	case []any:
		if len(val) == 0 {
			return nil
		}
	case map[string]any:
		if len(val) == 0 {
			return nil
		}
	case string:
		if val == "" {
			return nil
		}
	}
	return v
}
