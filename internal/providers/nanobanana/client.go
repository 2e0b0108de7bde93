// Package nanobanana talks to the synchronous flat-payload image API.
package nanobanana

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
var ErrMissingAPIKey = errors.New("nanobanana: api key is required")

// Options configures the client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	RetryDelay     time.Duration
}

// Client performs synchronous generation calls. A 429 is retried once after
// RetryDelay.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retryDelay time.Duration
	logger     *infra.Logger
}

type generationRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	NumImages   int      `json:"num_images"`
}

// resultPaths are tried in order; deployments differ in where the URL lives.
var resultPaths = []string{
	"images.0.url",
	"data.images.0.url",
	"data.image_url",
	"output.0",
	"image_url",
	"url",
}

var errorPaths = []string{"error.message", "error", "message", "detail"}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("nanobanana: base url is required")
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
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
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		retryDelay: retryDelay,
		logger:     logger,
	}, nil
}

// Name identifies the provider in the catalog.
func (c *Client) Name() string { return image.ProviderNanoBanana }

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit runs the job and returns an already resolved handle.
func (c *Client) Submit(ctx context.Context, job image.Job) (image.Handle, error) {
	if !c.HasCredentials() {
		return nil, domain.ProviderFailure(0, "image provider is not configured", ErrMissingAPIKey)
	}
	prompt := strings.TrimSpace(job.Prompt)
	if prompt == "" {
		return nil, domain.Validation("prompt is required")
	}
	payload := generationRequest{
		Model:       job.Model,
		Prompt:      prompt,
		AspectRatio: job.AspectRatio,
		NumImages:   1,
	}
	for _, in := range job.Inputs {
		if u := strings.TrimSpace(in.URL); u != "" {
			payload.ImageURLs = append(payload.ImageURLs, u)
		}
	}
	if len(payload.ImageURLs) != len(job.Inputs) {
		return nil, domain.ProviderFailure(0, "every input image needs a reachable url", nil)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("nanobanana: encode request: %w", err)
	}

	raw, status, err := c.post(ctx, body)
	if err == nil && status == http.StatusTooManyRequests {
		c.logger.Warn().Str("model", job.Model).Dur("retry_in", c.retryDelay).Msg("nanobanana: rate limited, retrying once")
		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		raw, status, err = c.post(ctx, body)
	}
	if err != nil {
		return nil, err
	}
	if status == http.StatusTooManyRequests {
		return nil, domain.RateLimited(fmt.Errorf("nanobanana: %s", errorMessage(raw, status)))
	}
	if status >= 300 {
		return nil, domain.ProviderFailure(status, errorMessage(raw, status), nil)
	}

	resultURL := firstResultURL(raw)
	if resultURL == "" {
		return nil, domain.ProviderFailure(0, "provider returned no image", nil)
	}
	c.logger.Debug().
		Str("model", job.Model).
		Int("inputs", len(payload.ImageURLs)).
		Str("url", resultURL).
		Msg("nanobanana: generated image")
	return image.Resolved(resultURL, nil, ""), nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("nanobanana: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, domain.ProviderFailure(0, "provider unreachable", fmt.Errorf("nanobanana: http request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, domain.ProviderFailure(resp.StatusCode, "provider response unreadable", fmt.Errorf("nanobanana: read response: %w", err))
	}
	return raw, resp.StatusCode, nil
}

func firstResultURL(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	for _, path := range resultPaths {
		if v := strings.TrimSpace(gjson.GetBytes(raw, path).String()); strings.HasPrefix(v, "http") {
			return v
		}
	}
	return ""
}

func errorMessage(raw []byte, status int) string {
	if gjson.ValidBytes(raw) {
		for _, path := range errorPaths {
			if v := gjson.GetBytes(raw, path); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
				return strings.TrimSpace(v.String())
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 300 {
		return fmt.Sprintf("status %d: %s", status, text)
	}
	return fmt.Sprintf("status %d", status)
}

var _ image.Provider = (*Client)(nil)
