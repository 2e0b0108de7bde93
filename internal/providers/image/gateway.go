package image

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

const (
	DefaultPollInterval = time.Second
	DefaultPollBudget   = 290 * time.Second
)

// Observer receives one call per finished attempt.
type Observer interface {
	ObserveProvider(provider, model, outcome string, elapsed time.Duration)
}

// GatewayOptions configures polling.
type GatewayOptions struct {
	PollInterval time.Duration
	PollBudget   time.Duration
	Logger       zerolog.Logger
	Observer     Observer
}

// Gateway routes jobs to providers and normalizes their outcomes.
type Gateway struct {
	catalog      *Catalog
	providers    map[string]Provider
	pollInterval time.Duration
	pollBudget   time.Duration
	logger       zerolog.Logger
	observer     Observer
}

func NewGateway(catalog *Catalog, opts GatewayOptions, providers ...Provider) *Gateway {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	budget := opts.PollBudget
	if budget <= 0 {
		budget = DefaultPollBudget
	}
	g := &Gateway{
		catalog:      catalog,
		providers:    make(map[string]Provider, len(providers)),
		pollInterval: interval,
		pollBudget:   budget,
		logger:       opts.Logger.With().Str("component", "provider_gateway").Logger(),
		observer:     opts.Observer,
	}
	for _, p := range providers {
		if p != nil {
			g.providers[p.Name()] = p
		}
	}
	return g
}

// Catalog returns the routing catalog.
func (g *Gateway) Catalog() *Catalog { return g.catalog }

// Run submits job and waits for its result. The returned job carries the
// provider job id for queue models.
func (g *Gateway) Run(ctx context.Context, job Job) (Result, Job, error) {
	m, ok := g.catalog.Lookup(job.Model)
	if !ok {
		return Result{}, job, domain.Validation("unknown model %q", job.Model)
	}
	p, ok := g.providers[m.Provider]
	if !ok {
		return Result{}, job, domain.ProviderFailure(0, fmt.Sprintf("provider %s is not configured", m.Provider), nil)
	}
	job.Kind = m.Kind
	job.JobID = ""
	if len(job.Inputs) > m.MaxInputs {
		job.Inputs = job.Inputs[:m.MaxInputs]
	}
	if !m.UsesStrength || len(job.Inputs) == 0 {
		job.Strength = 0
	}

	start := time.Now()
	res, job, err := g.run(ctx, p, m, job)
	outcome := "success"
	if err != nil {
		outcome = string(domain.KindOf(err))
		if errors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
	}
	if g.observer != nil {
		g.observer.ObserveProvider(m.Provider, m.ID, outcome, time.Since(start))
	}
	return res, job, err
}

func (g *Gateway) run(ctx context.Context, p Provider, m Model, job Job) (Result, Job, error) {
	log := g.logger.With().Str("provider", m.Provider).Str("model", m.ID).Logger()

	h, err := p.Submit(ctx, job)
	if err != nil {
		return Result{}, job, g.normalizeErr(ctx, err)
	}
	switch m.Kind {
	case KindQueue:
		job.JobID = h.JobID()
		if job.JobID == "" {
			return Result{}, job, domain.ProviderFailure(0, "queue provider returned no job id", nil)
		}
		log.Info().Str("job_id", job.JobID).Msg("job submitted")
	default:
		job.JobID = ""
	}

	st, err := g.wait(ctx, h, log)
	if err != nil {
		return Result{}, job, err
	}
	if st.State == StateFailed {
		msg := st.Message
		if msg == "" {
			msg = "provider reported failure"
		}
		return Result{}, job, domain.ProviderFailure(st.HTTPStatus, msg, nil)
	}
	if !st.HasAsset() {
		return Result{}, job, domain.ProviderFailure(0, "provider returned no image", nil)
	}
	return Result{
		URL:      st.ResultURL,
		Data:     st.Data,
		MIME:     st.MIME,
		Provider: m.Provider,
		Model:    m.ID,
		JobID:    job.JobID,
	}, job, nil
}

// wait polls h every interval until a terminal state, the poll budget, or
// caller cancellation. A status carrying the asset counts as completion.
func (g *Gateway) wait(ctx context.Context, h Handle, log zerolog.Logger) (Status, error) {
	pollCtx, cancel := context.WithTimeout(ctx, g.pollBudget)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		st, err := h.Poll(pollCtx)
		polls++
		if err != nil {
			if ctx.Err() != nil {
				return Status{}, g.ctxErr(ctx)
			}
			if pollCtx.Err() != nil {
				return Status{}, g.timeout()
			}
			return Status{}, g.normalizeErr(ctx, err)
		}
		if st.State != StateFailed && st.HasAsset() {
			st.State = StateCompleted
		}
		if st.Done() {
			if polls > 1 {
				log.Debug().Int("polls", polls).Str("state", string(st.State)).Msg("job finished")
			}
			return st, nil
		}

		select {
		case <-ctx.Done():
			return Status{}, g.ctxErr(ctx)
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return Status{}, g.ctxErr(ctx)
			}
			log.Warn().Int("polls", polls).Dur("budget", g.pollBudget).Msg("poll budget exhausted")
			return Status{}, g.timeout()
		case <-ticker.C:
		}
	}
}

func (g *Gateway) timeout() error {
	return domain.Timeout(fmt.Sprintf("provider did not finish within %s", g.pollBudget))
}

// ctxErr maps an ended caller context. A deadline is a timeout like an
// exhausted poll budget; cancellation stays raw.
func (g *Gateway) ctxErr(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return g.timeout()
	}
	return err
}

func (g *Gateway) normalizeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return g.ctxErr(ctx)
	}
	if _, ok := domain.AsError(err); ok {
		return err
	}
	return domain.ProviderFailure(0, "provider request failed", err)
}
