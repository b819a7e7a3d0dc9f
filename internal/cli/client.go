package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trustfund/internal/handler"
	"trustfund/internal/httpserver"
	"trustfund/pkg/trace"
)

// APIError 服务端返回的非 2xx 响应
type APIError struct {
	Status int
	handler.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Number != 0 {
		return fmt.Sprintf("%d %s (%d): %s", e.Status, e.ErrorResponse.Error, e.Number, e.Message)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.ErrorResponse.Error, e.Message)
}

// Client 是 trustfund HTTP API 的最小客户端
type Client struct {
	baseURL        string
	token          string
	idempotencyKey string
	http           *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func clientFromFlags(cmd *cobra.Command) *Client {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	c := NewClient(server, token)
	if f := cmd.Flags().Lookup("idempotency-key"); f != nil {
		c.idempotencyKey = f.Value.String()
	}
	return c
}

// Do 发送 JSON 请求；out 为 nil 时丢弃响应体
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.idempotencyKey != "" {
		req.Header.Set(httpserver.IdempotencyHeader, c.idempotencyKey)
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName, traceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.ErrorResponse); err != nil {
			apiErr.ErrorResponse.Error = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
