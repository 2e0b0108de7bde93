// Package generation orchestrates one generation attempt: pause gate,
// admission, asset resolution, prompt composition, provider execution,
// persistence and settlement.
package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/assets"
	"genstudio/internal/domain"
	"genstudio/internal/prompt"
	"genstudio/internal/providers/image"
)

// AssetResolver resolves request media and fetches provider results.
type AssetResolver interface {
	Resolve(ctx context.Context, ref domain.MediaRef) (assets.Resolved, error)
	ResolveAll(ctx context.Context, userID string, refs []domain.MediaRef) ([]assets.Resolved, error)
}

// Gateway executes provider jobs.
type Gateway interface {
	Catalog() *image.Catalog
	Run(ctx context.Context, job image.Job) (image.Result, image.Job, error)
}

// Admission is the credit policy.
type Admission interface {
	CheckAndReserve(p *domain.Profile, cost int) error
	Settle(ctx context.Context, p *domain.Profile, cost int) (int, error)
}

// PauseGate reports whether a role is currently blocked.
type PauseGate interface {
	IsPaused(ctx context.Context, role domain.UserRole) bool
}

// Observer receives one call per attempt.
type Observer interface {
	ObserveGeneration(outcome string, elapsed time.Duration)
	ObserveCredits(amount int)
}

// Config holds the per-deployment knobs of the orchestrator.
type Config struct {
	Cost            int
	Selection       image.Selection
	SafetyTolerance int
}

// Deps bundles the collaborators of Service.
type Deps struct {
	Profiles  domain.ProfileStore
	Records   domain.RecordStore
	Config    domain.ConfigStore
	Store     domain.ObjectStore
	Resolver  AssetResolver
	Gateway   Gateway
	Admission Admission
	Pause     PauseGate
	Library   *prompt.Library
	Observer  Observer
	Logger    zerolog.Logger
}

// Service runs generation attempts. It holds no per-request state.
type Service struct {
	Deps
	cfg    Config
	logger zerolog.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Library == nil {
		deps.Library = prompt.MustDefault()
	}
	return &Service{
		Deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With().Str("component", "generation").Logger(),
	}
}

// Result is returned to the caller on success.
type Result struct {
	ImageURL         string `json:"image_url"`
	GenerationID     string `json:"generation_id"`
	RemainingCredits int    `json:"remaining_credits"`
	Model            string `json:"model"`
	ModelOverridden  bool   `json:"model_overridden,omitempty"`
}

// attempt carries what is known about the current attempt for the record.
type attempt struct {
	id       string
	req      domain.GenerationRequest
	profile  *domain.Profile
	prompt   string
	source   string
	settings domain.GenerationSettings
}

// Generate runs one attempt end to end. Credits are only deducted after the
// provider confirmed a result.
func (s *Service) Generate(ctx context.Context, req domain.GenerationRequest) (Result, error) {
	start := time.Now()
	res, err := s.generate(ctx, req)
	if s.Observer != nil {
		outcome := "success"
		if err != nil {
			outcome = string(domain.KindOf(err))
			if errors.Is(err, context.Canceled) {
				outcome = "canceled"
			}
		}
		s.Observer.ObserveGeneration(outcome, time.Since(start))
	}
	return res, err
}

func (s *Service) generate(ctx context.Context, req domain.GenerationRequest) (Result, error) {
	if err := normalizeRequest(&req); err != nil {
		return Result{}, err
	}
	log := s.logger.With().Str("user_id", req.UserID).Logger()

	profile, err := s.Profiles.GetProfile(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, domain.NotFound("profile")
		}
		return Result{}, err
	}
	if s.Pause.IsPaused(ctx, profile.Role) {
		log.Info().Msg("generation rejected, system paused")
		return Result{}, domain.SystemPaused()
	}
	if err := s.Admission.CheckAndReserve(profile, s.cfg.Cost); err != nil {
		return Result{}, err
	}

	a := &attempt{
		id:      uuid.NewString(),
		req:     req,
		profile: profile,
		settings: domain.GenerationSettings{
			AspectRatio: req.AspectRatio,
			Country:     req.Country,
			Locale:      req.Locale,
		},
	}
	log = log.With().Str("generation_id", a.id).Logger()

	result, err := s.execute(ctx, a, log)
	if err != nil {
		a.settings.Status = domain.GenerationFailed
		a.settings.ErrorKind = domain.KindOf(err)
		s.record(ctx, a, "", log)
		log.Warn().Err(err).Str("model", a.settings.Model).Msg("generation failed")
		return Result{}, err
	}
	return result, nil
}

func (s *Service) execute(ctx context.Context, a *attempt, log zerolog.Logger) (Result, error) {
	req := a.req
	flags := prompt.FlagsFromRequest(req, s.templateRules(ctx, req, log))

	refs := orderedInputs(req)
	resolved, err := s.Resolver.ResolveAll(ctx, req.UserID, refs)
	if err != nil {
		return Result{}, err
	}
	inputs := make([]image.Input, 0, len(resolved))
	for _, r := range resolved {
		inputs = append(inputs, image.Input{URL: r.URL, Data: r.Data, MIME: r.MIME})
	}
	if i := subjectIndex(req); i >= 0 && i < len(resolved) {
		a.source = resolved[i].URL
	}

	choice, err := s.Gateway.Catalog().Select(s.cfg.Selection, image.SelectRequest{
		Requested:       req.Model,
		Inputs:          len(inputs),
		DistinctSubject: flags.DistinctSubject(),
	})
	if err != nil {
		return Result{}, err
	}
	a.prompt = prompt.Compose(s.Library, flags)
	a.settings.Provider = choice.Model.Provider
	a.settings.Model = choice.Model.ID
	a.settings.ModelOverride = choice.Overridden
	if choice.Overridden || choice.Reason != "" {
		log.Info().Str("requested", req.Model).Str("model", choice.Model.ID).Str("reason", choice.Reason).Msg("model reselected")
	}

	width, height := image.Dimensions(req.AspectRatio)
	job := image.Job{
		Model:           choice.Model.ID,
		Prompt:          a.prompt,
		Inputs:          inputs,
		AspectRatio:     req.AspectRatio,
		Width:           width,
		Height:          height,
		Strength:        image.Strength(flags),
		SafetyTolerance: s.cfg.SafetyTolerance,
		UserID:          req.UserID,
	}
	res, job, err := s.Gateway.Run(ctx, job)
	a.settings.InputImages = len(job.Inputs)
	a.settings.Strength = job.Strength
	a.settings.JobID = job.JobID
	if err != nil {
		return Result{}, err
	}

	imageURL, optimizedURL, err := s.persistResult(ctx, a, res, log)
	if err != nil {
		return Result{}, err
	}
	// Settle before recording: a lost race must not leave an uncharged
	// success in the user's history.
	balance, err := s.Admission.Settle(ctx, a.profile, s.cfg.Cost)
	if err != nil {
		log.Error().Err(err).Msg("credit settlement failed after success")
		return Result{}, err
	}
	a.settings.Status = domain.GenerationSucceeded
	a.settings.OptimizedURL = optimizedURL
	s.record(ctx, a, imageURL, log)
	if s.Observer != nil && !a.profile.Role.IsPrivileged() {
		s.Observer.ObserveCredits(s.cfg.Cost)
	}

	log.Info().
		Str("model", choice.Model.ID).
		Int("input_images", a.settings.InputImages).
		Int("remaining_credits", balance).
		Msg("generation succeeded")
	return Result{
		ImageURL:         imageURL,
		GenerationID:     a.id,
		RemainingCredits: balance,
		Model:            choice.Model.ID,
		ModelOverridden:  choice.Overridden,
	}, nil
}

// templateRules loads the rules of a referenced template. Unknown templates
// and read failures yield no rules.
func (s *Service) templateRules(ctx context.Context, req domain.GenerationRequest, log zerolog.Logger) *domain.TemplateRules {
	if req.Template == nil || req.Template.ID == "" || s.Config == nil {
		return nil
	}
	tpl, err := s.Config.GetTemplateRules(ctx, req.Template.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("template_id", req.Template.ID).Msg("template rules unavailable")
		}
		return nil
	}
	return tpl
}

// record writes the attempt. It is detached from request cancellation so a
// disconnecting caller still leaves a record behind.
func (s *Service) record(ctx context.Context, a *attempt, resultURL string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	rec := &domain.GenerationRecord{
		ID:       a.id,
		UserID:   a.req.UserID,
		Prompt:   a.prompt,
		Settings: a.settings,
	}
	if a.req.Template != nil && a.req.Template.ID != "" {
		id := a.req.Template.ID
		rec.TemplateID = &id
	}
	if a.source != "" {
		src := a.source
		rec.SourceURL = &src
	}
	if resultURL != "" {
		rec.ResultURL = &resultURL
	}
	if _, err := s.Records.Insert(ctx, rec); err != nil {
		log.Error().Err(err).Str("status", string(a.settings.Status)).Msg("generation record insert failed")
	}
}

// orderedInputs lists the media sent to the provider: the template image,
// then references that are not the template, then the logo.
func orderedInputs(req domain.GenerationRequest) []domain.MediaRef {
	var refs []domain.MediaRef
	if req.HasTemplateImage() {
		refs = append(refs, req.Template.Image)
	}
	for _, ref := range req.References {
		if ref.IsZero() {
			continue
		}
		if req.Template != nil && ref.SameAs(req.Template.Image) {
			continue
		}
		refs = append(refs, ref)
	}
	if req.Logo != nil && !req.Logo.IsZero() {
		refs = append(refs, *req.Logo)
	}
	return refs
}

// subjectIndex is the position of the subject within orderedInputs, or -1.
func subjectIndex(req domain.GenerationRequest) int {
	if _, ok := req.Subject(); !ok {
		return -1
	}
	if req.HasTemplateImage() {
		return 1
	}
	return 0
}

func normalizeRequest(req *domain.GenerationRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return domain.ErrUnauthorized
	}
	if req.MediaKind == "" {
		req.MediaKind = domain.MediaKindImage
	}
	if req.MediaKind != domain.MediaKindImage {
		return domain.Validation("media kind %q is not supported", req.MediaKind)
	}
	if strings.TrimSpace(req.AspectRatio) == "" {
		req.AspectRatio = "1:1"
	}
	return nil
}
