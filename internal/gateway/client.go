// Package gateway is the HTTP client for the backend validate/upload API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/trinity/guided-upload/internal/models"
	"go.uber.org/zap"
)

// Backend endpoints consumed by the flow.
const (
	EndpointFileMetadata         = "/file-metadata"
	EndpointProcessSavedFrame    = "/process_saved_dataframe"
	EndpointApplyTransformations = "/apply-data-transformations"
	EndpointDetectDatetimeFormat = "/detect-datetime-format"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 2
	DefaultRetryInterval = 200 * time.Millisecond

	maxResponseBytes = 32 << 20
)

// ErrMalformedResponse is returned when a response lacks the fields the flow reads.
var ErrMalformedResponse = errors.New("malformed backend response")

// Client is the backend surface used by the wizard.
type Client interface {
	FileMetadata(ctx context.Context, req models.FileMetadataRequest) (*models.FileMetadata, error)
	ProcessSavedDataframe(ctx context.Context, req models.ProcessDataframeRequest) error
	ApplyDataTransformations(ctx context.Context, req models.ApplyTransformationsRequest) (*models.PreviewResult, error)
	DetectDatetimeFormat(ctx context.Context, req models.DetectFormatRequest) (*models.DetectFormatResult, error)
}

// Error describes a failed backend call.
type Error struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s: status %d: %s", e.Endpoint, e.Status, strings.TrimSpace(e.Body))
	}
	return fmt.Sprintf("backend %s: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures an HTTPClient.
type Options struct {
	BaseURL       string
	Timeout       time.Duration // per attempt
	MaxRetries    int
	RetryInterval time.Duration
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// HTTPClient implements Client over JSON/HTTP.
type HTTPClient struct {
	baseURL       string
	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration
	http          *http.Client
	logger        *zap.Logger
}

// NewHTTPClient creates a backend client.
func NewHTTPClient(opts Options) *HTTPClient {
	c := &HTTPClient{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		timeout:       opts.Timeout,
		maxRetries:    opts.MaxRetries,
		retryInterval: opts.RetryInterval,
		http:          opts.HTTPClient,
		logger:        opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.retryInterval <= 0 {
		c.retryInterval = DefaultRetryInterval
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("gateway")
	return c
}

// FileMetadata fetches column metadata for a file.
func (c *HTTPClient) FileMetadata(ctx context.Context, req models.FileMetadataRequest) (*models.FileMetadata, error) {
	var out models.FileMetadata
	if err := c.post(ctx, EndpointFileMetadata, req, &out); err != nil {
		return nil, err
	}
	if out.Columns == nil {
		return nil, &Error{Endpoint: EndpointFileMetadata, Err: fmt.Errorf("%w: no columns array", ErrMalformedResponse)}
	}
	return &out, nil
}

// ProcessSavedDataframe applies missing-value instructions to a saved dataframe in place.
func (c *HTTPClient) ProcessSavedDataframe(ctx context.Context, req models.ProcessDataframeRequest) error {
	return c.post(ctx, EndpointProcessSavedFrame, req, nil)
}

// ApplyDataTransformations applies renames, type changes and fills and returns a preview.
func (c *HTTPClient) ApplyDataTransformations(ctx context.Context, req models.ApplyTransformationsRequest) (*models.PreviewResult, error) {
	var out models.PreviewResult
	if err := c.post(ctx, EndpointApplyTransformations, req, &out); err != nil {
		return nil, err
	}
	if out.Columns == nil {
		return nil, &Error{Endpoint: EndpointApplyTransformations, Err: fmt.Errorf("%w: no columns array", ErrMalformedResponse)}
	}
	return &out, nil
}

// DetectDatetimeFormat asks the backend for the datetime format of a column.
func (c *HTTPClient) DetectDatetimeFormat(ctx context.Context, req models.DetectFormatRequest) (*models.DetectFormatResult, error) {
	var out models.DetectFormatResult
	if err := c.post(ctx, EndpointDetectDatetimeFormat, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends body as JSON and decodes the response into out. Transport errors
// and 5xx responses are retried up to maxRetries times; 4xx responses are not.
func (c *HTTPClient) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}

	attempt := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(&Error{Endpoint: endpoint, Err: err})
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(&Error{Endpoint: endpoint, Err: ctx.Err()})
			}
			return &Error{Endpoint: endpoint, Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return &Error{Endpoint: endpoint, Status: resp.StatusCode, Err: err}
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return &Error{Endpoint: endpoint, Status: resp.StatusCode, Body: string(data)}
		case resp.StatusCode >= http.StatusBadRequest:
			return backoff.Permanent(&Error{Endpoint: endpoint, Status: resp.StatusCode, Body: string(data)})
		}

		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			if out != nil {
				return backoff.Permanent(&Error{Endpoint: endpoint, Status: resp.StatusCode,
					Err: fmt.Errorf("%w: empty body", ErrMalformedResponse)})
			}
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(&Error{Endpoint: endpoint, Status: resp.StatusCode,
				Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)})
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("backend call failed, retrying",
			zap.String("endpoint", endpoint), zap.Duration("wait", wait), zap.Error(err))
	}
	return backoff.RetryNotify(attempt, retry, notify)
}
