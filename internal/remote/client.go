package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/pkg/logger"
)

const (
	defaultTimeout      = 10 * time.Second
	maxErrorBodyBytes   = 64 << 10
	idempotencyHeader   = "Idempotency-Key"
	defaultUserAgent    = "inspectsync-agent"
	contentTypeJSON     = "application/json"
	statusUpdatePathFmt = "/inspections/%s/status"
)

// Client is the subset of the marketplace API the sync core consumes.
type Client interface {
	UpdateStatus(ctx context.Context, id string, state models.InspectionStatus, idempotencyKey string) error
	ListAssignments(ctx context.Context) ([]models.Inspection, error)
	ListInspections(ctx context.Context) ([]models.Inspection, error)
	GetInspection(ctx context.Context, id string) (models.Inspection, error)
	DashboardStats(ctx context.Context) (map[string]any, error)
}

// Config configures HTTPClient.
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
	HTTP      *http.Client
}

// HTTPClient talks to the marketplace REST API using its JSON envelope.
type HTTPClient struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	log       *zap.Logger

	mu    sync.RWMutex
	token string
}

var _ Client = (*HTTPClient)(nil)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTPClient validates cfg and returns a ready client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("remote: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", base.Scheme)
	}

	httpClient := cfg.HTTP
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &HTTPClient{
		baseURL:   base,
		http:      httpClient,
		userAgent: userAgent,
		token:     strings.TrimSpace(cfg.Token),
		log:       logger.WithModule("remote"),
	}, nil
}

// Token returns the bearer token currently attached to requests.
func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// UpdateStatus requests a status change. The idempotency key lets the backend
// discard replays of an intent it already applied.
func (c *HTTPClient) UpdateStatus(ctx context.Context, id string, state models.InspectionStatus, idempotencyKey string) error {
	body := map[string]string{"status": state.String()}
	path := fmt.Sprintf(statusUpdatePathFmt, url.PathEscape(id))
	return c.do(ctx, http.MethodPatch, path, body, idempotencyKey, nil)
}

// ListAssignments returns the inspector's current assignments.
func (c *HTTPClient) ListAssignments(ctx context.Context) ([]models.Inspection, error) {
	var out []models.Inspection
	if err := c.do(ctx, http.MethodGet, "/inspector/assignments", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListInspections returns every inspection visible to the caller.
func (c *HTTPClient) ListInspections(ctx context.Context) ([]models.Inspection, error) {
	var out []models.Inspection
	if err := c.do(ctx, http.MethodGet, "/inspections", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInspection fetches one inspection.
func (c *HTTPClient) GetInspection(ctx context.Context, id string) (models.Inspection, error) {
	var out models.Inspection
	err := c.do(ctx, http.MethodGet, "/inspections/"+url.PathEscape(id), nil, "", &out)
	return out, err
}

// DashboardStats returns the raw dashboard aggregate.
func (c *HTTPClient) DashboardStats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL.String() + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("remote call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes(resp.StatusCode)))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{Op: "read " + path, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			if env.Error.Message != "" {
				apiErr.Message = env.Error.Message
			}
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if decodeErr != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: "INVALID_RESPONSE", Message: decodeErr.Error()}
	}
	if !env.Success && env.Error != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: "INVALID_RESPONSE", Message: err.Error()}
	}
	return nil
}

func maxResponseBytes(status int) int64 {
	if status >= 300 {
		return maxErrorBodyBytes
	}
	return 32 << 20
}
