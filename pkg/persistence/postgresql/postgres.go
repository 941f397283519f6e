// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/dukex/mailflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	campaignRepo *CampaignRepository
	flowRepo     *FlowRepository
	stateRepo    *RecipientStateRepository
	eventRepo    *EmailEventRepository
	audienceRepo *AudienceRepository
	templateRepo *TemplateRepository
}

// NewPersistence connects to PostgreSQL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		campaignRepo: &CampaignRepository{db: database},
		flowRepo:     &FlowRepository{db: database},
		stateRepo:    &RecipientStateRepository{db: database},
		eventRepo:    &EmailEventRepository{db: database},
		audienceRepo: &AudienceRepository{db: database},
		templateRepo: &TemplateRepository{db: database},
	}, nil
}

var _ persistence.Persistence = (*Persistence)(nil)

func (p *Persistence) Campaigns() persistence.CampaignRepository { return p.campaignRepo }

func (p *Persistence) Flows() persistence.FlowRepository { return p.flowRepo }

func (p *Persistence) RecipientStates() persistence.RecipientStateRepository { return p.stateRepo }

func (p *Persistence) EmailEvents() persistence.EmailEventRepository { return p.eventRepo }

func (p *Persistence) Audiences() persistence.AudienceRepository { return p.audienceRepo }

func (p *Persistence) Templates() persistence.TemplateRepository { return p.templateRepo }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
