package network

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkFailure 匹配所有传输层失败（断网、超时、DNS、连接被拒等）。
	ErrNetworkFailure = errors.New("network failure")
	// ErrClientError 匹配上游 4xx。
	ErrClientError = errors.New("client error")
	// ErrServerError 匹配上游 5xx。
	ErrServerError = errors.New("server error")
	// ErrUnknownStatus 匹配 2xx/4xx/5xx 以外的状态码。
	ErrUnknownStatus = errors.New("unknown status")
	// ErrDecodeFailed 表示响应体无法解析为期望的 JSON 结构。
	ErrDecodeFailed = errors.New("decode failed")
	// ErrResponseTooLarge 表示响应体超过 MaxResponseBytes，包装在 NetworkError 中返回。
	ErrResponseTooLarge = errors.New("response body too large")
)

// 面向调用方的失败原因，和原有客户端提示保持一致。
const (
	ReasonNotConnected      = "No internet connection."
	ReasonTimedOut          = "The request timed out. Please try again later."
	ReasonCannotFindHost    = "Unable to find the host. Check the server URL."
	ReasonCannotConnect     = "Unable to connect to the server. Please try again later."
	ReasonBadServerResponse = "The server returned an invalid response."
	ReasonUnsupportedURL    = "The requested URL is not supported."
)

// NetworkError 将各类传输错误折叠为单一种类，Reason 提供可读描述。
type NetworkError struct {
	Reason string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetworkFailure }

// Timeout 报告失败是否由超时引起，HTTP 层据此返回 504。
func (e *NetworkError) Timeout() bool { return e.Reason == ReasonTimedOut }

// StatusKind 对 HTTP 状态码分档。
type StatusKind int

const (
	ClientError StatusKind = iota + 1
	ServerError
	UnknownStatus
)

func (k StatusKind) String() string {
	switch k {
	case ClientError:
		return "client_error"
	case ServerError:
		return "server_error"
	default:
		return "unknown_status"
	}
}

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	Kind StatusKind
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	switch e.Kind {
	case ClientError:
		return fmt.Sprintf("client error occurred with status code %d", e.Code)
	case ServerError:
		return fmt.Sprintf("server error occurred with status code %d", e.Code)
	default:
		return fmt.Sprintf("an unknown error occurred with status code %d", e.Code)
	}
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrClientError:
		return e.Kind == ClientError
	case ErrServerError:
		return e.Kind == ServerError
	case ErrUnknownStatus:
		return e.Kind == UnknownStatus
	}
	return false
}

// classifyStatus 返回 nil 表示 2xx。
func classifyStatus(code int, rawURL string) error {
	switch {
	case code >= 200 && code <= 299:
		return nil
	case code >= 400 && code <= 499:
		return &StatusError{Kind: ClientError, Code: code, URL: rawURL}
	case code >= 500 && code <= 599:
		return &StatusError{Kind: ServerError, Code: code, URL: rawURL}
	default:
		return &StatusError{Kind: UnknownStatus, Code: code, URL: rawURL}
	}
}
