package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"intake/internal/config"
)

// TokenSource 提供请求所附带的 bearer 凭证；空串表示匿名
// TokenSource supplies the bearer credential attached to requests. An empty
// string means the request goes out anonymous.
type TokenSource interface {
	Token() string
}

// Client 出站 HTTP 的唯一入口：统一超时、凭证与重试策略
// Client is the single point of outbound HTTP calls, with uniform timeout,
// credential attachment, and retry policy.
type Client struct {
	baseURL       string
	retryAttempts int
	httpClient    *http.Client
	tokens        TokenSource

	// sleep 可注入以便测试退避序列 / injectable so tests can observe backoff
	sleep func(ctx context.Context, d time.Duration) error
}

// ChatResult is the shaped response of a chat message round trip.
type ChatResult struct {
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is one stored message returned by the history endpoint.
type HistoryEntry struct {
	Role      string `json:"role"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

type errorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

func NewClient(cfg config.APIConfig, tokens TokenSource) *Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		retryAttempts: cfg.RetryAttempts,
		tokens:        tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		sleep: sleepCtx,
	}
}

// SendChatMessage posts one freeform chat message. Transient failures are
// retried with exponential backoff (2^attempt seconds) up to the configured
// attempt count; a 4xx response is terminal. On exhaustion the last error is
// returned unchanged.
func (c *Client) SendChatMessage(ctx context.Context, text, sessionID string) (ChatResult, error) {
	payload := map[string]any{
		"message":    text,
		"session_id": sessionID,
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		var out struct {
			Response  string `json:"response"`
			SessionID string `json:"session_id"`
		}
		err := c.PostJSON(ctx, "/api/chat/message", payload, &out)
		if err == nil {
			return ChatResult{
				Message:   out.Response,
				SessionID: out.SessionID,
				Timestamp: time.Now().UTC(),
			}, nil
		}
		lastErr = err

		if !Retryable(err) {
			break
		}
		if attempt < c.retryAttempts-1 {
			backoff := time.Duration(1<<attempt) * time.Second
			if sleepErr := c.sleep(ctx, backoff); sleepErr != nil {
				return ChatResult{}, &TransientError{Message: sleepErr.Error()}
			}
		}
	}
	if lastErr == nil {
		lastErr = &TransientError{Message: "failed to send message"}
	}
	return ChatResult{}, lastErr
}

// ChatHistory fetches the stored transcript for a session.
func (c *Client) ChatHistory(ctx context.Context, sessionID string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.GetJSON(ctx, "/api/chat/history/"+sessionID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HealthCheck 活性探测，吞掉一切错误 / liveness probe; swallows every error.
func (c *Client) HealthCheck(ctx context.Context) bool {
	err := c.GetJSON(ctx, "/api/health", nil)
	return err == nil
}

// GetJSON issues a single GET and decodes the response into out (out may be
// nil to discard the body). Errors are normalized per the taxonomy above.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// PostJSON issues a single POST with a JSON body (body may be nil) and
// decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		if token := strings.TrimSpace(c.tokens.Token()); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 无任何响应（超时、DNS 等）→ 可重试
		// Nothing came back at all: classify as transient.
		return &TransientError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return normalizeStatus(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Message: fmt.Sprintf("read response: %v", err)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// normalizeStatus converts a non-2xx response into the error taxonomy,
// preferring the server-provided error message when the body carries one.
func normalizeStatus(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	message := ""
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && strings.TrimSpace(eb.Error) != "" {
		message = strings.TrimSpace(eb.Error)
	}

	if resp.StatusCode >= 500 {
		if message == "" {
			message = fmt.Sprintf("server error: status=%d", resp.StatusCode)
		}
		return &TransientError{Status: resp.StatusCode, Message: message}
	}
	// Everything else below 500 is terminal. That covers 4xx and the rare
	// 3xx that survives the transport's redirect following (e.g. 304):
	// retrying such a response would only repeat it.
	if message == "" {
		message = "An error occurred"
	}
	return &RequestError{Status: resp.StatusCode, Message: message}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
