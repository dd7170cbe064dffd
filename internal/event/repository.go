package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wuchinator/beacon-analytics/pkg/postgres"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Repository is the write side of the storage layer used by the ingestion buffer.
type Repository interface {
	InsertEvent(ctx context.Context, event *Event) (int64, error)
	UpsertActiveVisitor(ctx context.Context, fingerprint, page string, country *string, seenAt time.Time) error
}

type repository struct {
	db     *postgres.DB
	logger *zap.Logger
}

func NewRepository(db *postgres.DB, logger *zap.Logger) Repository {
	return &repository{
		db:     db,
		logger: logger,
	}
}

func (r *repository) InsertEvent(ctx context.Context, event *Event) (int64, error) {
	query := `
		INSERT INTO events (
			id, ts, page_path, referrer, fingerprint, country, screen_size, timezone,
			event_name, event_props, utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		event.ID,
		event.Timestamp,
		event.PagePath,
		event.Referrer,
		event.Fingerprint,
		event.Country,
		event.ScreenSize,
		event.Timezone,
		event.EventName,
		event.propsArg(),
		event.CampaignSource,
		event.CampaignMedium,
		event.CampaignName,
		event.CampaignTerm,
		event.CampaignContent,
		event.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			r.logger.Warn("Duplicate event ignored",
				zap.String("event_id", event.ID.String()),
			)
			return 0, ErrDuplicateEvent
		}
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("Event inserted",
		zap.String("event_id", event.ID.String()),
		zap.String("event_name", event.EventName),
	)

	return affected, nil
}

func (r *repository) UpsertActiveVisitor(ctx context.Context, fingerprint, page string, country *string, seenAt time.Time) error {
	query := `
		INSERT INTO active_visitors (fingerprint, last_page, country, last_seen, page_count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (fingerprint) DO UPDATE SET
			last_page = EXCLUDED.last_page,
			country = EXCLUDED.country,
			last_seen = EXCLUDED.last_seen,
			page_count = active_visitors.page_count + 1
	`

	if _, err := r.db.ExecContext(ctx, query, fingerprint, page, country, seenAt.Unix()); err != nil {
		return fmt.Errorf("failed to upsert active visitor: %w", err)
	}
	return nil
}
