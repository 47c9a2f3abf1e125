package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/models"
)

const (
	pathHealth       = "/api/health"
	pathValidate     = "/api/auth/validate"
	pathStreamStart  = "/api/stream/start"
	pathStreamStop   = "/api/stream/stop"
	pathStreamStatus = "/api/stream/status"
	pathStatusWS     = "/api/ws/stream"
)

var logger = log.NewLogger("api", log.Component)

// APIError is a non-2xx answer from the backend. Detail carries FastAPI's
// {"detail": ...} message when present.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client talks to the streaming backend. It never retries and keeps no
// state between calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	if err := c.do(ctx, http.MethodGet, pathHealth, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ValidateCredentials(ctx context.Context, creds models.Credentials) (*models.ValidateResponse, error) {
	var out models.ValidateResponse
	if err := c.do(ctx, http.MethodPost, pathValidate, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartStream(ctx context.Context, req models.StartStreamRequest) (*models.StreamResponse, error) {
	var out models.StreamResponse
	if err := c.do(ctx, http.MethodPost, pathStreamStart, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopStream asks the backend to stop every active stream. A non-2xx answer
// is returned as *APIError together with whatever body could be decoded.
func (c *Client) StopStream(ctx context.Context) (*models.StreamResponse, error) {
	var out models.StreamResponse
	err := c.do(ctx, http.MethodPost, pathStreamStop, nil, &out)
	return &out, err
}

func (c *Client) StreamStatus(ctx context.Context) (*models.BackendStatus, error) {
	var out models.BackendStatus
	if err := c.do(ctx, http.MethodGet, pathStreamStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	logger.Debugf("%s %s", method, path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: decodeDetail(raw)}
		if out != nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, out)
		}
		logger.Warnf("%s %s: %v", method, path, apiErr)
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeDetail pulls a message out of an error body. FastAPI uses a string
// detail for HTTPException and a list of objects for validation errors.
func decodeDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &list); err == nil && len(list) > 0 {
			msgs := make([]string, 0, len(list))
			for _, m := range list {
				msgs = append(msgs, m.Msg)
			}
			return strings.Join(msgs, "; ")
		}
	}
	return body.Error
}
