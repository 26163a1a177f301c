package api

import "fmt"

// RequestError 客户端请求错误（4xx），不重试
// RequestError is a client-side failure (4xx). It is terminal: never retried.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed: status=%d", e.Status)
}

// TransientError 服务端或网络层失败（无响应 / 5xx），按退避策略重试
// TransientError is a server-side or network-level failure (no structured
// response, or status >= 500). Status is 0 when no response arrived at all
// (timeout, DNS failure); both forms are retryable.
type TransientError struct {
	Status  int
	Message string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server error: status=%d", e.Status)
}

// Retryable reports whether err should be retried with backoff.
func Retryable(err error) bool {
	switch err.(type) {
	case *TransientError:
		return true
	case *RequestError:
		return false
	}
	// No classification means no structured response reached us; the
	// fallback path treats that as retryable.
	return err != nil
}
