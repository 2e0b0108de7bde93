// Package genai adapts Gemini image models to the image provider contract.
package genai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/providers/image"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("genai: api key is required")

// Generator is the slice of the Gemini SDK the provider depends on.
type Generator interface {
	GenerateContent(ctx context.Context, model string, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	Close() error
}

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey string
	Model  string
	Logger *infra.Logger
	// RetryDelay is the pause before the single retry of a rate limited call.
	RetryDelay time.Duration
	// Generator overrides the SDK client.
	Generator Generator
}

// Client generates images synchronously through Gemini.
type Client struct {
	model      string
	generator  Generator
	retryDelay time.Duration
	logger     *infra.Logger
}

type sdkGenerator struct {
	client *genai.Client
}

func (g sdkGenerator) GenerateContent(ctx context.Context, model string, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	m := g.client.GenerativeModel(model)
	m.SetCandidateCount(1)
	return m.GenerateContent(ctx, parts...)
}

func (g sdkGenerator) Close() error { return g.client.Close() }

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	gen := opts.Generator
	if gen == nil {
		key := strings.TrimSpace(opts.APIKey)
		if key == "" {
			return nil, ErrMissingAPIKey
		}
		sdk, err := genai.NewClient(ctx, option.WithAPIKey(key))
		if err != nil {
			return nil, fmt.Errorf("genai: create client: %w", err)
		}
		gen = sdkGenerator{client: sdk}
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &Client{model: model, generator: gen, retryDelay: retryDelay, logger: logger}, nil
}

func (c *Client) Name() string { return image.ProviderGemini }


func (c *Client) Close() error {
	if c == nil || c.generator == nil {
		return nil
	}
	return c.generator.Close()
}

// Submit calls Gemini and returns an already resolved handle.
func (c *Client) Submit(ctx context.Context, job image.Job) (image.Handle, error) {
	parts, err := Parts(job)
	if err != nil {
		return nil, err
	}
	model := c.model
	if strings.TrimSpace(job.Model) != "" {
		model = job.Model
	}
	resp, err := c.generate(ctx, model, parts)
	if err != nil {
		return nil, err
	}
	blob, err := firstImage(resp)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("model", model).Int("bytes", len(blob.Data)).Str("mime", blob.MIMEType).Msg("genai: image generated")
	return image.Resolved("", blob.Data, blob.MIMEType), nil
}

// generate calls the model, retrying a rate limited call once after
// retryDelay.
func (c *Client) generate(ctx context.Context, model string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	resp, err := c.call(ctx, model, parts)
	if err == nil || domain.KindOf(err) != domain.KindRateLimited {
		return resp, err
	}
	c.logger.Warn().Str("model", model).Dur("retry_in", c.retryDelay).Msg("genai: rate limited, retrying once")
	timer := time.NewTimer(c.retryDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}
	return c.call(ctx, model, parts)
}

func (c *Client) call(ctx context.Context, model string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	resp, err := c.generator.GenerateContent(ctx, model, parts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classify(err)
	}
	return resp, nil
}

// Parts builds the request parts: the prompt, a framing hint, then every
// input image inline.
func Parts(job image.Job) ([]genai.Part, error) {
	text := strings.TrimSpace(job.Prompt)
	if text == "" {
		return nil, domain.Validation("prompt is required")
	}
	if job.AspectRatio != "" {
		text += fmt.Sprintf("\nOutput a single image with a %s aspect ratio.", job.AspectRatio)
	}
	parts := []genai.Part{genai.Text(text)}
	for i, in := range job.Inputs {
		if len(in.Data) == 0 {
			return nil, domain.ProviderFailure(0, fmt.Sprintf("input image %d has no bytes", i+1), nil)
		}
		mime := strings.TrimSpace(in.MIME)
		if !strings.HasPrefix(mime, "image/") {
			mime = http.DetectContentType(in.Data)
		}
		parts = append(parts, genai.Blob{MIMEType: mime, Data: in.Data})
	}
	return parts, nil
}

func firstImage(resp *genai.GenerateContentResponse) (genai.Blob, error) {
	if resp == nil {
		return genai.Blob{}, domain.ProviderFailure(0, "provider returned no image", nil)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return genai.Blob{}, domain.ProviderFailure(http.StatusUnprocessableEntity, "prompt was blocked: "+resp.PromptFeedback.BlockReason.String(), nil)
	}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if cand.FinishReason == genai.FinishReasonSafety {
			return genai.Blob{}, domain.ProviderFailure(http.StatusUnprocessableEntity, "result was blocked by the safety filter", nil)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
				if blob.MIMEType == "" {
					blob.MIMEType = http.DetectContentType(blob.Data)
				}
				return blob, nil
			}
		}
	}
	return genai.Blob{}, domain.ProviderFailure(0, "provider returned no image", nil)
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return domain.RateLimited(err)
		}
		msg := strings.TrimSpace(gerr.Message)
		if msg == "" {
			msg = "provider request failed"
		}
		return domain.ProviderFailure(gerr.Code, msg, err)
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") || strings.Contains(err.Error(), "ResourceExhausted") {
		return domain.RateLimited(err)
	}
	return domain.ProviderFailure(0, "provider request failed", err)
}

var _ image.Provider = (*Client)(nil)
