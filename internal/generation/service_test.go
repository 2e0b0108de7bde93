package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"genstudio/internal/assets"
	"genstudio/internal/credits"
	"genstudio/internal/domain"
	"genstudio/internal/pause"
	"genstudio/internal/providers/image"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type memProfiles struct {
	mu         sync.Mutex
	profiles   map[string]domain.Profile
	decrements int
}

func (m *memProfiles) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *memProfiles) DecrementCredits(ctx context.Context, userID string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrements++
	p := m.profiles[userID]
	if p.Credits < amount {
		return 0, domain.ErrInsufficientCredit
	}
	p.Credits -= amount
	m.profiles[userID] = p
	return p.Credits, nil
}

type memRecords struct {
	mu      sync.Mutex
	records []domain.GenerationRecord
}

func (m *memRecords) Insert(ctx context.Context, rec *domain.GenerationRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return rec.ID, nil
}

type memConfig struct {
	paused    bool
	templates map[string]domain.TemplateRules
}

func (m *memConfig) GetFlag(ctx context.Context, name string) (bool, error) {
	return m.paused && name == pause.FlagName, nil
}

func (m *memConfig) GetTemplateRules(ctx context.Context, id string) (*domain.TemplateRules, error) {
	tpl, ok := m.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &tpl, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func (m *memStore) Download(ctx context.Context, key string) ([]byte, error) {
	return nil, domain.ErrNotFound
}

func (m *memStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://cdn.test/" + key + "?sig=1", nil
}

func (m *memStore) KeyFromURL(raw string) (string, bool) {
	return strings.CutPrefix(raw, "https://cdn.test/")
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

type fakeResolver struct {
	result    []byte
	resolved  int
	failAll   error
	failFetch error
}

func (f *fakeResolver) Resolve(ctx context.Context, ref domain.MediaRef) (assets.Resolved, error) {
	if f.failFetch != nil {
		return assets.Resolved{}, f.failFetch
	}
	return assets.Resolved{URL: ref.URL, Data: f.result, MIME: "image/png"}, nil
}

func (f *fakeResolver) ResolveAll(ctx context.Context, userID string, refs []domain.MediaRef) ([]assets.Resolved, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	out := make([]assets.Resolved, len(refs))
	for i, ref := range refs {
		f.resolved++
		url := ref.URL
		if url == "" {
			url = fmt.Sprintf("https://cdn.test/uploads/%s/%d.png", userID, i)
		}
		out[i] = assets.Resolved{URL: url, Data: []byte("ref"), MIME: "image/png"}
	}
	return out, nil
}

type fakeProvider struct {
	name  string
	mu    sync.Mutex
	jobs  []image.Job
	data  []byte
	url   string
	jobID string
	err   error

	// onSubmit runs before the job is answered.
	onSubmit func()
	// pending keeps queue jobs running forever.
	pending bool
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Submit(ctx context.Context, job image.Job) (image.Handle, error) {
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
	if p.onSubmit != nil {
		p.onSubmit()
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.jobID != "" {
		return queuedHandle{id: p.jobID, url: p.url, pending: p.pending}, nil
	}
	return image.Resolved(p.url, p.data, "image/png"), nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

type queuedHandle struct {
	id      string
	url     string
	pending bool
}

func (h queuedHandle) JobID() string { return h.id }

func (h queuedHandle) Poll(ctx context.Context) (image.Status, error) {
	if h.pending {
		return image.Status{State: image.StateRunning}, nil
	}
	return image.Status{State: image.StateCompleted, ResultURL: h.url}, nil
}

type harness struct {
	svc      *Service
	profiles *memProfiles
	records  *memRecords
	config   *memConfig
	store    *memStore
	resolver *fakeResolver
	nano     *fakeProvider
	fal      *fakeProvider
}

func newHarness(t *testing.T, profiles ...domain.Profile) *harness {
	t.Helper()
	result := pngBytes(t)
	h := &harness{
		profiles: &memProfiles{profiles: map[string]domain.Profile{}},
		records:  &memRecords{},
		config:   &memConfig{templates: map[string]domain.TemplateRules{}},
		store:    &memStore{objects: map[string][]byte{}},
		resolver: &fakeResolver{result: result},
		nano:     &fakeProvider{name: image.ProviderNanoBanana, data: result},
		fal:      &fakeProvider{name: image.ProviderFal, url: "https://fal.test/out.png", jobID: "req-1"},
	}
	for _, p := range profiles {
		h.profiles.profiles[p.ID] = p
	}
	logger := zerolog.Nop()
	gw := image.NewGateway(image.DefaultCatalog(""), image.GatewayOptions{PollInterval: time.Millisecond, PollBudget: time.Second, Logger: logger}, h.nano, h.fal)
	h.svc = NewService(Deps{
		Profiles:  h.profiles,
		Records:   h.records,
		Config:    h.config,
		Store:     h.store,
		Resolver:  h.resolver,
		Gateway:   gw,
		Admission: credits.NewController(h.profiles, nil, logger),
		Pause:     pause.NewGate(h.config, logger),
		Logger:    logger,
	}, Config{
		Cost: 3,
		Selection: image.Selection{
			Default:     "nano-banana-edit",
			MultiImage:  "nano-banana-edit",
			TextToImage: "nano-banana",
		},
	})
	return h
}

func (h *harness) providerCalls() int { return h.nano.calls() + h.fal.calls() }

func TestTextOnlyRequestUsesTextToImageAndDeducts(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser, Plan: domain.UserPlanFree})

	res, err := h.svc.Generate(context.Background(), domain.GenerationRequest{UserID: "u1", Instructions: "a red bicycle"})
	require.NoError(t, err)
	require.Equal(t, 7, res.RemainingCredits)
	require.Equal(t, "nano-banana", res.Model)
	require.NotEmpty(t, res.GenerationID)
	require.True(t, strings.HasPrefix(res.ImageURL, "https://cdn.test/generations/"))

	require.Equal(t, 1, h.nano.calls())
	require.Equal(t, "nano-banana", h.nano.jobs[0].Model)
	require.Zero(t, h.nano.jobs[0].Strength)
	require.Contains(t, h.nano.jobs[0].Prompt, "a red bicycle")

	require.Len(t, h.records.records, 1)
	rec := h.records.records[0]
	require.Equal(t, res.GenerationID, rec.ID)
	require.Equal(t, 0, rec.Settings.InputImages)
	require.Equal(t, domain.GenerationSucceeded, rec.Settings.Status)
	require.Equal(t, "nano-banana", rec.Settings.Model)
	require.Equal(t, "nanobanana", rec.Settings.Provider)
	require.NotNil(t, rec.ResultURL)
	require.Equal(t, res.ImageURL, *rec.ResultURL)
	require.Nil(t, rec.SourceURL)
	require.NotEmpty(t, rec.Settings.OptimizedURL)
	require.Len(t, h.store.keys(), 2)
}

func TestInsufficientCreditsSkipsProviderAndRecord(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u2", Credits: 2, Role: domain.UserRoleUser, Plan: domain.UserPlanFree})

	_, err := h.svc.Generate(context.Background(), domain.GenerationRequest{UserID: "u2", Instructions: "a red bicycle"})
	e, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusPaymentRequired, e.HTTPStatus())
	require.Equal(t, 3, e.Details["required"])
	require.Equal(t, 2, e.Details["available"])
	require.Zero(t, h.providerCalls())
	require.Empty(t, h.records.records)
	require.Zero(t, h.profiles.decrements)
}

func TestAdminBypassesCredits(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "admin", Credits: 0, Role: domain.UserRoleAdmin})

	res, err := h.svc.Generate(context.Background(), domain.GenerationRequest{UserID: "admin", Instructions: "a red bicycle"})
	require.NoError(t, err)
	require.Equal(t, 0, res.RemainingCredits)
	require.Zero(t, h.profiles.decrements)
	require.Len(t, h.records.records, 1)
}

func TestPausedRejectsNonPrivileged(t *testing.T) {
	h := newHarness(t,
		domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser},
		domain.Profile{ID: "staff", Credits: 0, Role: domain.UserRoleStaff},
	)
	h.config.paused = true

	_, err := h.svc.Generate(context.Background(), domain.GenerationRequest{UserID: "u1", Instructions: "x"})
	require.Equal(t, domain.KindSystemPaused, domain.KindOf(err))
	require.Zero(t, h.providerCalls())
	require.Empty(t, h.records.records)

	_, err = h.svc.Generate(context.Background(), domain.GenerationRequest{UserID: "staff", Instructions: "x"})
	require.NoError(t, err)
}

func TestUnknownProfile(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Generate(context.Background(), domain.GenerationRequest{UserID: "ghost", Instructions: "x"})
	e, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, e.HTTPStatus())
}

func TestTwoCallsDeductTwice(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser})
	req := domain.GenerationRequest{UserID: "u1", Instructions: "a red bicycle"}

	first, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	second, err := h.svc.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 7, first.RemainingCredits)
	require.Equal(t, 4, second.RemainingCredits)
	require.NotEqual(t, first.GenerationID, second.GenerationID)
	require.Len(t, h.records.records, 2)
}

func TestTemplateWithSubjectForcesMultiImageModel(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser})
	h.config.templates["tpl-1"] = domain.TemplateRules{Rules: []string{"Keep the blue gradient backdrop."}, SubjectMode: domain.SubjectHuman}

	res, err := h.svc.Generate(context.Background(), domain.GenerationRequest{
		UserID:      "u1",
		Model:       "flux-dev-i2i",
		AspectRatio: "4:5",
		SubjectLock: true,
		Template:    &domain.TemplateRef{ID: "tpl-1", Image: domain.MediaRef{URL: "https://cdn.test/tpl.png"}},
		References: []domain.MediaRef{
			{URL: "https://cdn.test/tpl.png"},
			{Data: []byte("me"), MIME: "image/png"},
		},
		Logo: &domain.MediaRef{URL: "https://cdn.test/logo.png"},
	})
	require.NoError(t, err)
	require.Equal(t, "nano-banana-edit", res.Model)
	require.True(t, res.ModelOverridden)
	require.Zero(t, h.fal.calls())

	job := h.nano.jobs[0]
	require.Len(t, job.Inputs, 3)
	require.Equal(t, "https://cdn.test/tpl.png", job.Inputs[0].URL)
	require.Equal(t, "https://cdn.test/logo.png", job.Inputs[2].URL)
	require.Contains(t, job.Prompt, "Keep the blue gradient backdrop.")
	require.Equal(t, 819, job.Width)

	rec := h.records.records[0]
	require.NotNil(t, rec.TemplateID)
	require.Equal(t, "tpl-1", *rec.TemplateID)
	require.NotNil(t, rec.SourceURL)
	require.Equal(t, job.Inputs[1].URL, *rec.SourceURL)
	require.True(t, rec.Settings.ModelOverride)
	require.Equal(t, 3, rec.Settings.InputImages)
}

func TestQueueProviderRecordsJobID(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser})

	res, err := h.svc.Generate(context.Background(), domain.GenerationRequest{
		UserID:         "u1",
		Model:          "flux-dev-i2i",
		IndustryIntent: "bakery",
		References:     []domain.MediaRef{{URL: "https://cdn.test/me.png"}},
	})
	require.NoError(t, err)
	require.Equal(t, "flux-dev-i2i", res.Model)
	require.Equal(t, 1, h.fal.calls())
	require.Equal(t, 1.0, h.fal.jobs[0].Strength)

	rec := h.records.records[0]
	require.Equal(t, "req-1", rec.Settings.JobID)
	require.Equal(t, 1.0, rec.Settings.Strength)
	require.Equal(t, 1, h.resolver.resolved)
}

func TestProviderFailureRecordsWithoutCharge(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser})
	h.nano.err = domain.ProviderFailure(http.StatusBadRequest, "prompt rejected", nil)

	_, err := h.svc.Generate(context.Background(), domain.GenerationRequest{UserID: "u1", Instructions: "x"})
	e, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, e.HTTPStatus())
	require.Zero(t, h.profiles.decrements)
	require.Equal(t, 10, h.profiles.profiles["u1"].Credits)

	require.Len(t, h.records.records, 1)
	rec := h.records.records[0]
	require.Nil(t, rec.ResultURL)
	require.Equal(t, domain.GenerationFailed, rec.Settings.Status)
	require.Equal(t, domain.KindProviderFailure, rec.Settings.ErrorKind)
	require.NotEmpty(t, rec.Prompt)
}

func TestBalanceDrainedMidAttemptFailsSettlement(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 3, Role: domain.UserRoleUser, Plan: domain.UserPlanFree})
	h.nano.onSubmit = func() {
		h.profiles.mu.Lock()
		p := h.profiles.profiles["u1"]
		p.Credits = 1
		h.profiles.profiles["u1"] = p
		h.profiles.mu.Unlock()
	}

	_, err := h.svc.Generate(context.Background(), domain.GenerationRequest{UserID: "u1", Instructions: "x"})
	e, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusPaymentRequired, e.HTTPStatus())
	require.Equal(t, 1, h.profiles.decrements)
	require.Equal(t, 1, h.profiles.profiles["u1"].Credits)

	require.Len(t, h.records.records, 1)
	rec := h.records.records[0]
	require.Equal(t, domain.GenerationFailed, rec.Settings.Status)
	require.Equal(t, domain.KindInsufficientCredits, rec.Settings.ErrorKind)
	require.Nil(t, rec.ResultURL)
	require.Empty(t, rec.Settings.OptimizedURL)
}

func TestAssetFailureIsNotCharged(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser})
	h.resolver.failAll = domain.AssetUnavailable("https://gone.test/a.png", errors.New("404"))

	_, err := h.svc.Generate(context.Background(), domain.GenerationRequest{
		UserID:     "u1",
		References: []domain.MediaRef{{URL: "https://gone.test/a.png"}},
	})
	require.Equal(t, domain.KindAssetUnavailable, domain.KindOf(err))
	require.Zero(t, h.providerCalls())
	require.Zero(t, h.profiles.decrements)
	require.Equal(t, domain.KindAssetUnavailable, h.records.records[0].Settings.ErrorKind)
}

func TestResultFetchFailureKeepsProviderURL(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser})
	h.resolver.failFetch = errors.New("expired")

	res, err := h.svc.Generate(context.Background(), domain.GenerationRequest{
		UserID:     "u1",
		Model:      "flux-dev-i2i",
		References: []domain.MediaRef{{URL: "https://cdn.test/me.png"}},
	})
	require.NoError(t, err)
	require.Equal(t, "https://fal.test/out.png", res.ImageURL)
	require.Equal(t, 7, res.RemainingCredits)
}

func TestRejectsVideo(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10})
	_, err := h.svc.Generate(context.Background(), domain.GenerationRequest{UserID: "u1", MediaKind: domain.MediaKindVideo})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCallerDeadlineRecordsTimeout(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser})
	h.fal.pending = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.svc.Generate(ctx, domain.GenerationRequest{
		UserID:     "u1",
		Model:      "flux-dev-i2i",
		References: []domain.MediaRef{{URL: "https://cdn.test/me.png"}},
	})
	e, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusGatewayTimeout, e.HTTPStatus())
	require.Zero(t, h.profiles.decrements)

	require.Len(t, h.records.records, 1)
	rec := h.records.records[0]
	require.Equal(t, domain.GenerationFailed, rec.Settings.Status)
	require.Equal(t, domain.KindTimeout, rec.Settings.ErrorKind)
	require.Equal(t, "req-1", rec.Settings.JobID)
}

func TestCallerCancellationIsNotCharged(t *testing.T) {
	h := newHarness(t, domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser})
	h.nano.err = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Generate(ctx, domain.GenerationRequest{UserID: "u1", Instructions: "x"})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, h.profiles.decrements)
}
