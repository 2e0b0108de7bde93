package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// ProfileRepositoryPG implements domain.ProfileStore backed by PostgreSQL.
type ProfileRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewProfileRepository creates a new ProfileRepositoryPG.
func NewProfileRepository(sql infra.SQLExecutor) *ProfileRepositoryPG {
	return &ProfileRepositoryPG{sql: sql}
}

// GetProfile fetches the account state of userID. Ids that are not UUIDs
// cannot exist and report domain.ErrNotFound without a query.
func (r *ProfileRepositoryPG) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, domain.ErrNotFound
	}
	return scanProfile(r.sql.QueryRow(ctx, sqlinline.QSelectProfile, userID))
}

// DecrementCredits subtracts amount through decrement_credits and falls back
// to a guarded update on databases where the function is not installed.
func (r *ProfileRepositoryPG) DecrementCredits(ctx context.Context, userID string, amount int) (int, error) {
	var balance *int
	err := r.sql.QueryRow(ctx, sqlinline.QDecrementCredits, userID, amount).Scan(&balance)
	switch {
	case err == nil:
		if balance == nil {
			return 0, domain.ErrInsufficientCredit
		}
		return *balance, nil
	case infra.IsUndefinedFunction(err):
		return r.decrementGuarded(ctx, userID, amount)
	default:
		return 0, fmt.Errorf("decrement credits: %w", err)
	}
}

func (r *ProfileRepositoryPG) decrementGuarded(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	if err := r.sql.QueryRow(ctx, sqlinline.QDecrementCreditsGuarded, userID, amount).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrInsufficientCredit
		}
		return 0, fmt.Errorf("decrement credits: %w", err)
	}
	return balance, nil
}

// ProfileUpdate carries operator edits. Nil and empty fields keep the stored value.
type ProfileUpdate struct {
	Credits      *int
	Role         domain.UserRole
	Plan         domain.UserPlan
	AutoRecharge *bool
	Threshold    *int
	PackID       string
}

// UpdateProfile applies an operator edit and returns the stored profile.
func (r *ProfileRepositoryPG) UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) (*domain.Profile, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QUpdateProfileAdmin,
		userID,
		u.Credits,
		string(u.Role),
		string(u.Plan),
		u.AutoRecharge,
		u.Threshold,
		u.PackID,
	)
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		p    domain.Profile
		role string
		plan string
	)
	if err := row.Scan(&p.ID, &p.Credits, &role, &plan, &p.AutoRecharge.Enabled, &p.AutoRecharge.Threshold, &p.AutoRecharge.PackID); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	p.Role = domain.UserRole(role)
	p.Plan = domain.UserPlan(plan)
	return &p, nil
}

var _ domain.ProfileStore = (*ProfileRepositoryPG)(nil)
