package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/auth"
	apperrors "github.com/gonglijing/iotconsole/internal/errors"
	"github.com/gonglijing/iotconsole/internal/forms"
	"github.com/gonglijing/iotconsole/internal/logger"
)

// APIResponse 统一 API 响应格式
type APIResponse struct {
	Success  bool              `json:"success"`
	Data     interface{}       `json:"data,omitempty"`
	Error    string            `json:"error,omitempty"`
	Code     string            `json:"code,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// APIErrorDef 错误码与默认提示
type APIErrorDef struct {
	Code    string
	Message string
}

// WriteJSON 统一 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("encode response failed", "error", err)
	}
}

// WriteSuccess 成功响应
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// WriteCreated 创建成功响应
func WriteCreated(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

// WriteError 错误响应
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, APIResponse{Success: false, Error: message})
}

// WriteErrorDef 按错误定义输出
func WriteErrorDef(w http.ResponseWriter, status int, def APIErrorDef) {
	WriteJSON(w, status, APIResponse{Success: false, Error: def.Message, Code: def.Code})
}

// WriteBadRequestDef 400 错误
func WriteBadRequestDef(w http.ResponseWriter, def APIErrorDef) {
	WriteErrorDef(w, http.StatusBadRequest, def)
}

// WriteServerErrorDef 500 错误
func WriteServerErrorDef(w http.ResponseWriter, def APIErrorDef) {
	WriteErrorDef(w, http.StatusInternalServerError, def)
}

// WriteUnauthorized 401，附带登录页跳转
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusUnauthorized, APIResponse{
		Success:  false,
		Error:    message,
		Code:     apiErrUnauthorized.Code,
		Redirect: auth.LoginPath,
	})
}

// WriteForbidden 403
func WriteForbidden(w http.ResponseWriter) {
	WriteErrorDef(w, http.StatusForbidden, apiErrForbidden)
}

// WriteAppError 输出 AppError
func WriteAppError(w http.ResponseWriter, appErr *apperrors.AppError) {
	code := apiErrUpstream.Code
	switch appErr.Code {
	case apperrors.ErrCodeValidation:
		code = apiErrValidation.Code
	case apperrors.ErrCodeConflict:
		code = apiErrNoChanges.Code
	case apperrors.ErrCodeUnauthorized:
		code = apiErrUnauthorized.Code
	case apperrors.ErrCodeForbidden:
		code = apiErrForbidden.Code
	case apperrors.ErrCodeNotFound:
		code = apiErrNotFound.Code
	case apperrors.ErrCodeBadRequest:
		code = apiErrInvalidRequestBody.Code
	case apperrors.ErrCodeRateLimited:
		code = apiErrRateLimited.Code
	case apperrors.ErrCodeUnavailable:
		code = apiErrUnavailable.Code
	}
	WriteJSON(w, appErr.HTTPStatus(), APIResponse{
		Success:  false,
		Error:    appErr.Message,
		Code:     code,
		Fields:   appErr.Fields,
		Redirect: appErr.Redirect,
	})
}

// toAppError 统一错误转换：校验 422，无变更 409，上游 401 跳转登录，其余沿用上游状态
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	failure := forms.Fail(err)
	if errors.Is(err, apiclient.ErrUnauthorized) || failure.Status == http.StatusUnauthorized {
		return &apperrors.AppError{
			Code:     apperrors.ErrCodeUnauthorized,
			Message:  msgSessionExpired,
			Redirect: auth.LoginPath,
			Err:      err,
		}
	}
	switch {
	case errors.Is(err, forms.ErrInvalid):
		return apperrors.NewValidationError(failure.Message, failure.Fields)
	case errors.Is(err, forms.ErrNoChanges):
		return apperrors.NewErrorWithErr(apperrors.ErrCodeConflict, failure.Message, err)
	}
	appErr = apperrors.NewErrorWithErr(apperrors.CodeForStatus(failure.Status), failure.Message, err)
	appErr.Fields = failure.Fields
	return appErr
}

// writeFailure 输出失败响应并记录日志
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus() >= http.StatusInternalServerError {
		logger.Error("request failed", err, "method", r.Method, "path", r.URL.Path)
	} else {
		logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	WriteAppError(w, appErr)
}

// ParseRequest 解析 JSON 请求体
func ParseRequest(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("empty request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func parseRequestOrWriteBadRequestDefault(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := ParseRequest(r, v); err != nil {
		WriteBadRequestDef(w, apiErrInvalidRequestBody)
		return false
	}
	return true
}

// ParseID 从 URL 参数解析 ID
func ParseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}

func parseIDOrWriteBadRequestDefault(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := ParseID(r)
	if err != nil {
		WriteBadRequestDef(w, apiErrInvalidID)
		return 0, false
	}
	return id, true
}
