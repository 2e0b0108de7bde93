package domain

import (
	"context"
	"time"
)

// ProfileStore reads account state and mutates the credit balance.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	// DecrementCredits atomically subtracts amount and returns the new
	// balance. It returns ErrInsufficientCredit instead of going negative.
	DecrementCredits(ctx context.Context, userID string, amount int) (int, error)
}

// RecordStore persists generation provenance.
type RecordStore interface {
	Insert(ctx context.Context, rec *GenerationRecord) (string, error)
}

// TemplateRules is the per-template instruction set kept in the config store.
type TemplateRules struct {
	Rules       []string
	SubjectMode SubjectMode
}

// ConfigStore exposes process-wide flags and template rules.
type ConfigStore interface {
	GetFlag(ctx context.Context, name string) (bool, error)
	GetTemplateRules(ctx context.Context, templateID string) (*TemplateRules, error)
}

// ObjectStore is the blob storage used for uploads and generated assets.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	KeyFromURL(rawURL string) (string, bool)
}

// RechargeTrigger asks the billing side to top up an account.
type RechargeTrigger struct {
	UserID     string `json:"user_id"`
	NewBalance int    `json:"new_balance"`
	PackID     string `json:"pack_id"`
	Threshold  int    `json:"threshold"`
}

// Recharger performs the top-up call.
type Recharger interface {
	Trigger(ctx context.Context, t RechargeTrigger) error
}
