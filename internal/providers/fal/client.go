// Package fal submits jobs to a queue-based image API and polls them.
package fal

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

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/providers/image"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("fal: api key is required")

// modelPaths maps catalog ids onto queue application paths.
var modelPaths = map[string]string{
	"flux-dev":     "fal-ai/flux/dev",
	"flux-dev-i2i": "fal-ai/flux/dev/image-to-image",
}

type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// SafetyTolerance is sent when the job does not set one.
	SafetyTolerance int
}

// Client submits queue jobs. Each Poll is a single status request.
type Client struct {
	apiKey          string
	baseURL         string
	httpClient      *http.Client
	safetyTolerance int
	logger          *infra.Logger
}

type submitRequest struct {
	Prompt              string   `json:"prompt"`
	ImageSize           string   `json:"image_size,omitempty"`
	ImageURL            string   `json:"image_url,omitempty"`
	Strength            *float64 `json:"strength,omitempty"`
	NumImages           int      `json:"num_images"`
	EnableSafetyChecker bool     `json:"enable_safety_checker"`
	SafetyTolerance     string   `json:"safety_tolerance,omitempty"`
}

func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://queue.fal.run"
	}
	tolerance := opts.SafetyTolerance
	if tolerance <= 0 {
		tolerance = 2
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:          strings.TrimSpace(opts.APIKey),
		baseURL:         baseURL,
		httpClient:      httpClient,
		safetyTolerance: tolerance,
		logger:          logger,
	}, nil
}

func (c *Client) Name() string { return image.ProviderFal }

func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// ImageSize maps an aspect ratio onto the provider's size enum.
func ImageSize(ratio string) string {
	switch ratio {
	case "3:4", "4:5", "2:3":
		return "portrait_4_3"
	case "9:16":
		return "portrait_16_9"
	case "4:3", "3:2":
		return "landscape_4_3"
	case "16:9":
		return "landscape_16_9"
	default:
		return "square_hd"
	}
}

// Submit enqueues the job and returns a handle polling its status.
func (c *Client) Submit(ctx context.Context, job image.Job) (image.Handle, error) {
	if !c.HasCredentials() {
		return nil, domain.ProviderFailure(0, "image provider is not configured", ErrMissingAPIKey)
	}
	path, ok := modelPaths[job.Model]
	if !ok {
		return nil, domain.Validation("model %q is not served by this provider", job.Model)
	}
	if len(job.Inputs) > 1 {
		return nil, domain.Validation("model %q accepts at most one input image", job.Model)
	}
	tolerance := job.SafetyTolerance
	if tolerance <= 0 {
		tolerance = c.safetyTolerance
	}
	payload := submitRequest{
		Prompt:              strings.TrimSpace(job.Prompt),
		ImageSize:           ImageSize(job.AspectRatio),
		NumImages:           1,
		EnableSafetyChecker: true,
		SafetyTolerance:     fmt.Sprint(tolerance),
	}
	if len(job.Inputs) == 1 {
		payload.ImageURL = strings.TrimSpace(job.Inputs[0].URL)
		if payload.ImageURL == "" {
			return nil, domain.ProviderFailure(0, "input image needs a reachable url", nil)
		}
		if job.Strength > 0 {
			s := job.Strength
			payload.Strength = &s
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("fal: encode request: %w", err)
	}

	raw, status, err := c.do(ctx, http.MethodPost, c.baseURL+"/"+path, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusTooManyRequests {
		return nil, domain.RateLimited(fmt.Errorf("fal: %s", errorMessage(raw, status)))
	}
	if status >= 300 {
		return nil, domain.ProviderFailure(status, errorMessage(raw, status), nil)
	}
	requestID := gjson.GetBytes(raw, "request_id").String()
	if requestID == "" {
		return nil, domain.ProviderFailure(0, "provider returned no request id", nil)
	}
	h := &handle{
		client:      c,
		id:          requestID,
		statusURL:   gjson.GetBytes(raw, "status_url").String(),
		responseURL: gjson.GetBytes(raw, "response_url").String(),
	}
	if h.statusURL == "" {
		h.statusURL = fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, path, requestID)
	}
	if h.responseURL == "" {
		h.responseURL = fmt.Sprintf("%s/%s/requests/%s", c.baseURL, path, requestID)
	}
	c.logger.Debug().Str("model", job.Model).Str("request_id", requestID).Msg("fal: job queued")
	return h, nil
}

type handle struct {
	client      *Client
	id          string
	statusURL   string
	responseURL string
}

func (h *handle) JobID() string { return h.id }

// Poll issues one status request. A status body that already carries the
// image is reported as completed.
func (h *handle) Poll(ctx context.Context) (image.Status, error) {
	raw, status, err := h.client.do(ctx, http.MethodGet, h.statusURL, nil)
	if err != nil {
		return image.Status{}, err
	}
	if status >= 300 {
		return image.Status{State: image.StateFailed, HTTPStatus: status, Message: errorMessage(raw, status)}, nil
	}
	if u := imageURL(raw); u != "" {
		return image.Status{State: image.StateCompleted, ResultURL: u}, nil
	}

	switch strings.ToUpper(gjson.GetBytes(raw, "status").String()) {
	case "IN_QUEUE":
		return image.Status{State: image.StatePending}, nil
	case "IN_PROGRESS":
		return image.Status{State: image.StateRunning}, nil
	case "COMPLETED":
		return h.result(ctx)
	case "FAILED", "ERROR", "CANCELLED":
		return image.Status{State: image.StateFailed, Message: errorMessage(raw, status)}, nil
	default:
		return image.Status{State: image.StateRunning}, nil
	}
}

func (h *handle) result(ctx context.Context) (image.Status, error) {
	raw, status, err := h.client.do(ctx, http.MethodGet, h.responseURL, nil)
	if err != nil {
		return image.Status{}, err
	}
	if status >= 300 {
		return image.Status{State: image.StateFailed, HTTPStatus: status, Message: errorMessage(raw, status)}, nil
	}
	u := imageURL(raw)
	if u == "" {
		return image.Status{State: image.StateFailed, Message: "provider returned no image"}, nil
	}
	if gjson.GetBytes(raw, "has_nsfw_concepts.0").Bool() {
		return image.Status{State: image.StateFailed, HTTPStatus: http.StatusUnprocessableEntity, Message: "result was blocked by the safety checker"}, nil
	}
	return image.Status{State: image.StateCompleted, ResultURL: u, MIME: gjson.GetBytes(raw, "images.0.content_type").String()}, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("fal: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, domain.ProviderFailure(0, "provider unreachable", fmt.Errorf("fal: http request: %w", err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, domain.ProviderFailure(resp.StatusCode, "provider response unreadable", fmt.Errorf("fal: read response: %w", err))
	}
	return raw, resp.StatusCode, nil
}

func imageURL(raw []byte) string {
	for _, path := range []string{"images.0.url", "image.url", "response.images.0.url"} {
		if v := strings.TrimSpace(gjson.GetBytes(raw, path).String()); v != "" {
			return v
		}
	}
	return ""
}

func errorMessage(raw []byte, status int) string {
	for _, path := range []string{"detail.0.msg", "detail", "error", "message"} {
		if v := gjson.GetBytes(raw, path); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return fmt.Sprintf("status %d", status)
}

var _ image.Provider = (*Client)(nil)
