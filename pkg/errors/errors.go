// Package errors 定义统一错误码
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 通用
	CodeOK               Code = "OK"
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidParam     Code = "INVALID_PARAM"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeInternal         Code = "INTERNAL"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"

	// 交易
	CodeInstrumentNotFound Code = "INSTRUMENT_NOT_FOUND"
	CodeInvalidSide        Code = "INVALID_SIDE"
	CodeInvalidOrderType   Code = "INVALID_ORDER_TYPE"
	CodeInvalidOrigin      Code = "INVALID_ORIGIN"
	CodeInvalidPrice       Code = "INVALID_PRICE"
	CodeInvalidQuantity    Code = "INVALID_QUANTITY"
	CodeOrderNotFound      Code = "ORDER_NOT_FOUND"
)

var defaultMessages = map[Code]string{
	CodeInvalidParam:       "invalid parameter",
	CodeInvalidRequest:     "invalid request",
	CodeNotFound:           "not found",
	CodeAlreadyExists:      "already exists",
	CodePermissionDenied:   "permission denied",
	CodeUnauthenticated:    "unauthenticated",
	CodeInternal:           "internal server error",
	CodeUnavailable:        "service unavailable",
	CodeTimeout:            "timeout",
	CodeInstrumentNotFound: "instrument not found",
	CodeInvalidSide:        "invalid direction",
	CodeInvalidOrderType:   "invalid order type",
	CodeInvalidOrigin:      "invalid order origin",
	CodeInvalidPrice:       "invalid price",
	CodeInvalidQuantity:    "invalid quantity",
	CodeOrderNotFound:      "order not found",
}

// Error 业务错误
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is 按错误码比较，errors.Is(err, ErrOrderNotFound) 可用
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// NewWithDefault message 为空时使用错误码默认文案
func NewWithDefault(code Code, message string) *Error {
	if message == "" {
		message = defaultMessages[code]
		if message == "" {
			message = string(code)
		}
	}
	return New(code, message)
}

// WithRequestID 添加请求 ID
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

// From 提取业务错误，非业务错误包装为 INTERNAL
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, err.Error())
}

// CodeOf 返回错误码，非业务错误为 UNKNOWN
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func isRetryable(code Code) bool {
	switch code {
	case CodeTimeout, CodeUnavailable:
		return true
	default:
		return false
	}
}

func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidRequest, CodeInvalidPrice, CodeInvalidQuantity,
		CodeInvalidSide, CodeInvalidOrderType, CodeInvalidOrigin:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound, CodeOrderNotFound, CodeInstrumentNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrUnauthenticated    = New(CodeUnauthenticated, "unauthenticated")
	ErrPermissionDenied   = New(CodePermissionDenied, "permission denied")
	ErrOrderNotFound      = New(CodeOrderNotFound, "order not found")
	ErrInstrumentNotFound = New(CodeInstrumentNotFound, "instrument not found")
	ErrAlreadyExists      = New(CodeAlreadyExists, "order already exists")
)
