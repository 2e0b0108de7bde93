// Package pause exposes the process-wide switch that stops non-privileged
// generations.
package pause

import (
	"context"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

// FlagName is the config key read on every request.
const FlagName = "generations_paused"

// FlagReader reads boolean flags from the config store.
type FlagReader interface {
	GetFlag(ctx context.Context, name string) (bool, error)
}

// Gate reads the pause flag on every call. It keeps no cache so operator
// changes apply to the next request.
type Gate struct {
	flags  FlagReader
	logger zerolog.Logger
}

func NewGate(flags FlagReader, logger zerolog.Logger) *Gate {
	return &Gate{flags: flags, logger: logger.With().Str("component", "pause_gate").Logger()}
}

// IsPaused reports whether requests from role must be rejected. Privileged
// roles are never paused and a failed read counts as not paused.
func (g *Gate) IsPaused(ctx context.Context, role domain.UserRole) bool {
	if role.IsPrivileged() || g == nil || g.flags == nil {
		return false
	}
	paused, err := g.flags.GetFlag(ctx, FlagName)
	if err != nil {
		g.logger.Warn().Err(err).Msg("pause flag read failed, continuing")
		return false
	}
	return paused
}
