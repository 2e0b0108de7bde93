package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/generation"
)

// Generator runs one generation attempt.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (generation.Result, error)
}

// Limits bounds what a single POST /generate may carry.
type Limits struct {
	MaxReferences  int
	MaxFileBytes   int64
	MaxTotalBytes  int64
	RequestTimeout time.Duration
}

type App struct {
	Generator Generator
	Limits    Limits
	Ready     func(context.Context) error
	Logger    zerolog.Logger
}

func NewApp(gen Generator, limits Limits, logger zerolog.Logger) *App {
	if limits.MaxReferences <= 0 {
		limits.MaxReferences = 4
	}
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = 10 << 20
	}
	if limits.MaxTotalBytes <= 0 {
		limits.MaxTotalBytes = 25 << 20
	}
	return &App{Generator: gen, Limits: limits, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, map[string]any{"error": kind, "message": msg})
}
