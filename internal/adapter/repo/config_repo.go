package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// ConfigRepositoryPG reads runtime flags and template rules.
type ConfigRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewConfigRepository(sql infra.SQLExecutor) *ConfigRepositoryPG {
	return &ConfigRepositoryPG{sql: sql}
}

// GetFlag returns false for flags that were never set.
func (r *ConfigRepositoryPG) GetFlag(ctx context.Context, name string) (bool, error) {
	var v bool
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectFlag, name).Scan(&v); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return v, nil
}

// SetFlag persists a boolean flag.
func (r *ConfigRepositoryPG) SetFlag(ctx context.Context, name string, value bool) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpsertFlag, name, value)
	return err
}

// GetTemplateRules returns domain.ErrNotFound for unknown templates.
func (r *ConfigRepositoryPG) GetTemplateRules(ctx context.Context, templateID string) (*domain.TemplateRules, error) {
	var (
		raw  []byte
		mode string
	)
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectTemplateRules, templateID).Scan(&raw, &mode); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	out := &domain.TemplateRules{SubjectMode: domain.NormalizeSubjectMode(mode)}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out.Rules); err != nil {
			return nil, fmt.Errorf("decode template rules: %w", err)
		}
	}
	return out, nil
}

var _ domain.ConfigStore = (*ConfigRepositoryPG)(nil)
