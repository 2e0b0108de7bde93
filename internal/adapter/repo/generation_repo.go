package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.RecordStore. Records are only ever inserted.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql}
}

// Insert stores rec, assigning an id when it has none, and returns the id.
func (r *GenerationRepositoryPG) Insert(ctx context.Context, rec *domain.GenerationRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("record is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertGeneration,
		rec.ID,
		rec.UserID,
		rec.TemplateID,
		rec.SourceURL,
		rec.ResultURL,
		rec.Prompt,
		settings,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return "", fmt.Errorf("insert generation: %w", err)
	}
	return rec.ID, nil
}

var _ domain.RecordStore = (*GenerationRepositoryPG)(nil)
