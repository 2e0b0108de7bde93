package generation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"genstudio/internal/assets"
	"genstudio/internal/domain"
	"genstudio/internal/providers/image"
	"genstudio/internal/storage"
)

// persistResult stores the original result and an optimized JPEG copy
// concurrently and returns their public URLs. Provider-hosted results are
// fetched first. When storing the original fails the provider URL is kept.
func (s *Service) persistResult(ctx context.Context, a *attempt, res image.Result, log zerolog.Logger) (string, string, error) {
	data, mime := res.Data, res.MIME
	if len(data) == 0 {
		fetched, err := s.Resolver.Resolve(ctx, domain.MediaRef{URL: res.URL})
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			log.Warn().Err(err).Str("url", res.URL).Msg("result fetch failed, keeping provider url")
			return res.URL, "", nil
		}
		data, mime = fetched.Data, fetched.MIME
	}
	if mime == "" {
		mime = "image/png"
	}

	var originalURL, optimizedURL string
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		url, err := s.Store.Upload(egCtx, storage.ResultKey(a.req.UserID, a.id, "original", mime), data, mime)
		if err != nil {
			return fmt.Errorf("store original: %w", err)
		}
		originalURL = url
		return nil
	})
	eg.Go(func() error {
		optimized, err := assets.Optimize(data)
		if err != nil {
			log.Warn().Err(err).Msg("optimize result failed")
			return nil
		}
		url, err := s.Store.Upload(egCtx, storage.ResultKey(a.req.UserID, a.id, "optimized", "image/jpeg"), optimized, "image/jpeg")
		if err != nil {
			log.Warn().Err(err).Msg("store optimized copy failed")
			return nil
		}
		optimizedURL = url
		return nil
	})
	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		if res.URL == "" {
			return "", "", domain.ProviderFailure(0, "result could not be stored", err)
		}
		log.Warn().Err(err).Msg("result storage failed, keeping provider url")
		return res.URL, optimizedURL, nil
	}
	return originalURL, optimizedURL, nil
}
