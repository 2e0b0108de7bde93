// Package credits enforces the per-generation credit policy and fires the
// auto-recharge side effect after settlement.
package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

// Controller admits requests against the caller's balance and settles
// successful attempts.
type Controller struct {
	profiles   domain.ProfileStore
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewController(profiles domain.ProfileStore, dispatcher Dispatcher, logger zerolog.Logger) *Controller {
	return &Controller{
		profiles:   profiles,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "admission").Logger(),
	}
}

// CheckAndReserve is the pre-check run before any provider call. Privileged
// roles are always admitted.
func (c *Controller) CheckAndReserve(p *domain.Profile, cost int) error {
	if p == nil {
		return domain.ErrNotFound
	}
	if p.Role.IsPrivileged() {
		return nil
	}
	if p.Credits < cost {
		return domain.InsufficientCredits(cost, p.Credits, p.Plan)
	}
	return nil
}

// Settle deducts cost once after a confirmed success and returns the new
// balance. Privileged roles are not charged. A balance that went short since
// the pre-check surfaces as insufficient credits.
func (c *Controller) Settle(ctx context.Context, p *domain.Profile, cost int) (int, error) {
	if p.Role.IsPrivileged() || cost <= 0 {
		return p.Credits, nil
	}
	balance, err := c.profiles.DecrementCredits(ctx, p.ID, cost)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredit) {
			return 0, domain.InsufficientCredits(cost, p.Credits, p.Plan)
		}
		return 0, fmt.Errorf("settle credits: %w", err)
	}
	c.maybeRecharge(p, balance)
	return balance, nil
}

func (c *Controller) maybeRecharge(p *domain.Profile, balance int) {
	ar := p.AutoRecharge
	if !ar.Enabled || balance > ar.Threshold || c.dispatcher == nil {
		return
	}
	c.logger.Info().
		Str("user_id", p.ID).
		Int("balance", balance).
		Int("threshold", ar.Threshold).
		Msg("auto-recharge triggered")
	c.dispatcher.Dispatch(domain.RechargeTrigger{
		UserID:     p.ID,
		NewBalance: balance,
		PackID:     ar.PackID,
		Threshold:  ar.Threshold,
	})
}
