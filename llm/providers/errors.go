package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/inferflow/llm"
)

// maxErrorBody 读取错误响应体的上限
const maxErrorBody = 64 * 1024

// MapHTTPError 将上游 HTTP 状态码映射为 llm.Error，并标记是否可在回退链上继续
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch status {
	case http.StatusUnauthorized:
		e.Code = llm.ErrAuthentication
	case http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case http.StatusNotFound:
		e.Code = llm.ErrModelNotFound
	case http.StatusTooManyRequests:
		e.Code, e.Retryable = llm.ErrRateLimited, true
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "quota"), strings.Contains(lower, "credit"):
			e.Code = llm.ErrQuotaExceeded
		case strings.Contains(lower, "context length"), strings.Contains(lower, "maximum context"):
			e.Code = llm.ErrContextTooLong
		default:
			e.Code = llm.ErrInvalidRequest
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Code, e.Retryable = llm.ErrUpstreamTimeout, true
	case http.StatusServiceUnavailable, http.StatusBadGateway, 529:
		e.Code, e.Retryable = llm.ErrProviderUnavailable, true
	default:
		e.Code, e.Retryable = llm.ErrUpstreamError, status >= 500
	}
	return e
}

// TransportError 网络层失败，总是可重试
func TransportError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
		Cause:      err,
	}
}

// ReadErrorMessage 解析 {"error":{"message":...}} 形式的错误体，失败时返回原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
