package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/google/uuid"
)

// AudienceRepository implements persistence.AudienceRepository for PostgreSQL.
type AudienceRepository struct {
	db *sql.DB
}

func (r *AudienceRepository) Save(ctx context.Context, audience *models.Audience) error {
	if audience.ID == "" {
		audience.ID = uuid.New().String()
	}

	if audience.CreatedAt.IsZero() {
		audience.CreatedAt = time.Now().UTC()
	}

	recipients, err := json.Marshal(audience.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients of audience %s: %w", audience.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audiences (id, name, recipients, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, recipients = EXCLUDED.recipients`,
		audience.ID, audience.Name, recipients, audience.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save audience %s: %w", audience.ID, err)
	}

	return nil
}

func (r *AudienceRepository) GetByID(ctx context.Context, id string) (*models.Audience, error) {
	var (
		audience      models.Audience
		recipientsRaw []byte
	)

	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, recipients, created_at FROM audiences WHERE id = $1", id).
		Scan(&audience.ID, &audience.Name, &recipientsRaw, &audience.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrAudienceNotFound
		}

		return nil, fmt.Errorf("failed to scan audience %s: %w", id, err)
	}

	err = json.Unmarshal(recipientsRaw, &audience.Recipients)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients of audience %s: %w", id, err)
	}

	return &audience, nil
}

func (r *AudienceRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM audiences WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete audience %s: %w", id, err)
	}

	return nil
}

// TemplateRepository implements persistence.TemplateRepository for PostgreSQL.
type TemplateRepository struct {
	db *sql.DB
}

func (r *TemplateRepository) Save(ctx context.Context, tpl *models.EmailTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}

	tpl.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_templates (id, name, subject, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, subject = EXCLUDED.subject,
			body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		tpl.ID, tpl.Name, tpl.Subject, tpl.Body, tpl.CreatedAt, tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save template %s: %w", tpl.ID, err)
	}

	return nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.EmailTemplate, error) {
	var tpl models.EmailTemplate

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, subject, body, created_at, updated_at
		FROM email_templates WHERE id = $1`, id).
		Scan(&tpl.ID, &tpl.Name, &tpl.Subject, &tpl.Body, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTemplateNotFound
		}

		return nil, fmt.Errorf("failed to scan template %s: %w", id, err)
	}

	return &tpl, nil
}

func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM email_templates WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}

	return nil
}
