// Package remote is the HTTP client for the chat service's request/response
// surface: message create, delete, flush, and blob upload. Failures are
// surfaced as opaque errors and never retried here; retry policy belongs to
// the user, not the engine.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// RemoteError is an opaque request failure: a transport error has Status 0,
// an HTTP-level failure carries the status code and response body.
type RemoteError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s: status %d: %s", e.Op, e.Status, strings.TrimSpace(e.Body))
}

func (e *RemoteError) Unwrap() error { return e.Err }

// CreateResult is the minimum confirmation for a created message: the
// server-assigned id and sent timestamp (ms since epoch UTC).
type CreateResult struct {
	ID string `json:"id"`
	TS int64  `json:"ts"`
}

// UploadResult confirms a stored blob.
type UploadResult struct {
	BlobID string `json:"blob_id"`
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RateRPS/RateBurst throttle create/delete/flush calls client-side;
	// zero RPS disables throttling.
	RateRPS   float64
	RateBurst int
	// MaxUploadBytes rejects oversized uploads before any bytes move;
	// zero disables the check.
	MaxUploadBytes int64
}

// Client talks to the remote chat service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxUpload  int64
}

// New builds a Client from options.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	var lim *rate.Limiter
	if opts.RateRPS > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RateRPS), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    lim,
		maxUpload:  opts.MaxUploadBytes,
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &RemoteError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "apikey "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Warn("remote_request_failed", "op", op, "status", resp.StatusCode)
		return &RemoteError{Op: op, Status: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// CreateMessage submits a message for creation and returns the
// server-assigned identity.
func (c *Client) CreateMessage(ctx context.Context, m models.Message) (CreateResult, error) {
	const op = "create"
	if err := c.wait(ctx, op); err != nil {
		return CreateResult{}, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return CreateResult{}, &RemoteError{Op: op, Err: fmt.Errorf("marshal message: %w", err)}
	}
	var res CreateResult
	if err := c.do(ctx, op, http.MethodPost, "/v1/messages", bytes.NewReader(payload), &res); err != nil {
		return CreateResult{}, err
	}
	logger.Debug("remote_message_created", "local_id", m.ID, "server_id", res.ID, "ts", res.TS)
	return res, nil
}

// DeleteMessage requests remote deletion of a message by id.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	const op = "delete"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	return c.do(ctx, op, http.MethodDelete, "/v1/messages/"+url.PathEscape(id), nil, nil)
}

// Flush requests remote deletion of all messages.
func (c *Client) Flush(ctx context.Context) error {
	const op = "flush"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	return c.do(ctx, op, http.MethodPost, "/v1/messages/flush", nil, nil)
}

// UploadBlob stores raw bytes under a client-chosen id and returns the
// server blob id. onProgress, when non-nil, observes upload progress as
// (sent, total) byte counts.
func (c *Client) UploadBlob(ctx context.Context, id string, data []byte, onProgress func(sent, total int64)) (UploadResult, error) {
	const op = "upload"
	if c.maxUpload > 0 && int64(len(data)) > c.maxUpload {
		return UploadResult{}, &RemoteError{Op: op, Err: fmt.Errorf("blob of %d bytes exceeds limit %d", len(data), c.maxUpload)}
	}
	body := io.Reader(bytes.NewReader(data))
	if onProgress != nil {
		body = &progressReader{r: body, total: int64(len(data)), fn: onProgress}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/blobs?id="+url.QueryEscape(id), body)
	if err != nil {
		return UploadResult{}, &RemoteError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "apikey "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Warn("remote_upload_failed", "id", id, "status", resp.StatusCode)
		return UploadResult{}, &RemoteError{Op: op, Status: resp.StatusCode, Body: string(b)}
	}
	var res UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return UploadResult{}, &RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	logger.Debug("remote_blob_uploaded", "id", id, "blob_id", res.BlobID, "bytes", len(data))
	return res, nil
}

// progressReader reports cumulative read progress to fn.
type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
