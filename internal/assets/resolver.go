// Package assets turns request media references into provider-ready inputs.
package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"genstudio/internal/domain"
	"genstudio/internal/storage"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBytes     = 25 << 20
	defaultPresignTTL   = time.Hour
)

// Resolved is a reference ready to hand to a provider. URL is reachable by the
// provider (public or presigned); Data holds the bytes.
type Resolved struct {
	URL      string
	Data     []byte
	MIME     string
	Source   string
	Fallback bool
}

// Options configures a Resolver.
type Options struct {
	HTTPClient *http.Client
	MaxBytes   int64
	PresignTTL time.Duration
}

// Resolver fetches references publicly first and falls back to an
// authenticated object store read.
type Resolver struct {
	store      domain.ObjectStore
	httpClient *http.Client
	maxBytes   int64
	presignTTL time.Duration
	logger     zerolog.Logger
}

func NewResolver(store domain.ObjectStore, logger zerolog.Logger, opts Options) *Resolver {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &Resolver{
		store:      store,
		httpClient: client,
		maxBytes:   maxBytes,
		presignTTL: ttl,
		logger:     logger.With().Str("component", "asset_resolver").Logger(),
	}
}

// Resolve returns provider-ready media for ref. Inline bytes pass through
// untouched; URLs are fetched publicly and then from the store.
func (r *Resolver) Resolve(ctx context.Context, ref domain.MediaRef) (Resolved, error) {
	if ref.HasBytes() {
		return Resolved{Data: ref.Data, MIME: detectMIME(ref.MIME, ref.Data), Source: "upload"}, nil
	}
	rawURL := strings.TrimSpace(ref.URL)
	if rawURL == "" {
		return Resolved{}, domain.Validation("reference needs a url or uploaded file")
	}

	data, mime, pubErr := r.fetchPublic(ctx, rawURL)
	if pubErr == nil {
		return Resolved{URL: rawURL, Data: data, MIME: detectMIME(mime, data), Source: rawURL}, nil
	}
	if err := ctx.Err(); err != nil {
		return Resolved{}, err
	}
	r.logger.Debug().Err(pubErr).Str("url", rawURL).Msg("public fetch failed, trying storage")

	res, err := r.fetchStored(ctx, rawURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolved{}, ctxErr
		}
		r.logger.Warn().Err(err).Str("url", rawURL).Msg("asset unavailable")
		return Resolved{}, domain.AssetUnavailable(rawURL, fmt.Errorf("public fetch: %v; storage read: %w", pubErr, err))
	}
	return res, nil
}

// ResolveAll resolves refs concurrently, preserving order. Inline uploads are
// written to the store under uploads/<userID>/ so URL-only providers can
// reach them.
func (r *Resolver) ResolveAll(ctx context.Context, userID string, refs []domain.MediaRef) ([]Resolved, error) {
	out := make([]Resolved, len(refs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		eg.Go(func() error {
			res, err := r.Resolve(egCtx, ref)
			if err != nil {
				return err
			}
			if res.URL == "" && len(res.Data) > 0 {
				url, err := r.store.Upload(egCtx, storage.UploadKey(userID, res.MIME), res.Data, res.MIME)
				if err != nil {
					return fmt.Errorf("upload reference %d: %w", i, err)
				}
				res.URL = url
			}
			out[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) fetchPublic(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("public fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("asset exceeds %d bytes", r.maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (r *Resolver) fetchStored(ctx context.Context, rawURL string) (Resolved, error) {
	if r.store == nil {
		return Resolved{}, fmt.Errorf("no object store configured")
	}
	key, ok := r.store.KeyFromURL(rawURL)
	if !ok {
		return Resolved{}, fmt.Errorf("url is not a storage object")
	}
	data, err := r.store.Download(ctx, key)
	if err != nil {
		return Resolved{}, fmt.Errorf("download %s: %w", key, err)
	}
	signed, err := r.store.PresignGet(ctx, key, r.presignTTL)
	if err != nil {
		return Resolved{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return Resolved{URL: signed, Data: data, MIME: detectMIME("", data), Source: rawURL, Fallback: true}, nil
}

func detectMIME(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}
