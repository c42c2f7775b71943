package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// GenericMessage 后端未给出可读信息时的兜底提示
const GenericMessage = "An unexpected error occurred. Please try again."

var (
	// ErrUnauthorized 上游返回 401，会话令牌已被清除
	ErrUnauthorized = errors.New("upstream: unauthorized")
	// ErrTransport 网络层失败（未收到 HTTP 响应）
	ErrTransport = errors.New("upstream: transport failure")
	// ErrCircuitOpen 熔断器打开，请求未发出
	ErrCircuitOpen = errors.New("upstream: circuit open")
	// ErrNoSession 会话中没有可用令牌
	ErrNoSession = fmt.Errorf("%w: no tokens in session", ErrUnauthorized)
)

// APIError 上游返回的非 2xx 响应
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.Status, e.Message)
}

// Unwrap 401 可用 errors.Is(err, ErrUnauthorized) 判断
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// AsAPIError 提取 APIError
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// parseErrorBody 解析 DRF 风格错误体：
// detail/message -> 提示；non_field_errors -> 提示；其它键 -> 字段错误
func parseErrorBody(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var payload any
	if err := json.Unmarshal(body, &payload); err == nil {
		switch v := payload.(type) {
		case map[string]any:
			apiErr.Message, apiErr.Fields = parseErrorObject(v)
		case []any:
			apiErr.Message = joinMessages(v)
		case string:
			apiErr.Message = v
		}
	}

	if apiErr.Message == "" && len(apiErr.Fields) == 0 {
		apiErr.Message = GenericMessage
	}
	if apiErr.Message == "" {
		apiErr.Message = firstFieldMessage(apiErr.Fields)
	}
	return apiErr
}

func parseErrorObject(obj map[string]any) (string, map[string]string) {
	var message string
	for _, key := range []string{"detail", "message", "error"} {
		if text := messageText(obj[key]); text != "" {
			message = text
			break
		}
	}
	if message == "" {
		message = messageText(obj["non_field_errors"])
	}

	fields := make(map[string]string)
	for key, value := range obj {
		switch key {
		case "detail", "message", "error", "non_field_errors", "code", "messages":
			continue
		}
		if text := messageText(value); text != "" {
			fields[key] = text
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	return message, fields
}

func messageText(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		return joinMessages(v)
	case map[string]any:
		// 嵌套序列化器错误
		nested, _ := parseErrorObject(v)
		if nested != "" {
			return nested
		}
		return firstFieldMessage(flattenStrings(v))
	}
	return ""
}

func joinMessages(items []any) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if text := messageText(item); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func flattenStrings(obj map[string]any) map[string]string {
	out := make(map[string]string, len(obj))
	for key, value := range obj {
		if text := messageText(value); text != "" {
			out[key] = text
		}
	}
	return out
}

func firstFieldMessage(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys[0] + ": " + fields[keys[0]]
}
