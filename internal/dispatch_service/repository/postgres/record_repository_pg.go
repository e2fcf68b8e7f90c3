// Package postgres persists delivery records. The dispatch core treats this
// store as best-effort; a database outage degrades record-keeping, never
// message sending.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

// DBTX is the subset of pgxpool.Pool the repository uses; satisfied by both
// the real pool and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordRepository implements domain.RecordStore on PostgreSQL.
type RecordRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewRecordRepository(db DBTX, logger *slog.Logger) *RecordRepository {
	return &RecordRepository{
		db:     db,
		logger: logger.With("component", "record_repository"),
	}
}

const upsertRecordSQL = `
INSERT INTO sms_records (
    id, direction, recipient, sender, message, provider, provider_message_id,
    status, error_message, template_id, cost, currency, sub_channel, session_id,
    created_at, sent_at, delivered_at, failed_at, received_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (id) DO UPDATE SET
    provider = EXCLUDED.provider,
    provider_message_id = EXCLUDED.provider_message_id,
    status = EXCLUDED.status,
    error_message = EXCLUDED.error_message,
    cost = EXCLUDED.cost,
    currency = EXCLUDED.currency,
    sent_at = EXCLUDED.sent_at,
    delivered_at = EXCLUDED.delivered_at,
    failed_at = EXCLUDED.failed_at,
    updated_at = EXCLUDED.updated_at`

// Save inserts or refreshes a delivery record. Status updates overwrite in
// place, matching the record model's no-history semantics.
func (r *RecordRepository) Save(ctx context.Context, record *domain.DeliveryRecord) error {
	_, err := r.db.Exec(ctx, upsertRecordSQL,
		record.ID, record.Direction, record.Recipient, record.Sender,
		record.Message, record.Provider, record.ProviderMessageID,
		record.Status, record.ErrorMessage, record.TemplateID,
		record.Cost, record.Currency, record.SubChannel, record.SessionID,
		record.CreatedAt, record.SentAt, record.DeliveredAt,
		record.FailedAt, record.ReceivedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving delivery record %s: %w", record.ID, err)
	}
	return nil
}

const loadBySessionSQL = `
SELECT id, direction, recipient, sender, message, provider, provider_message_id,
       status, error_message, template_id, cost, currency, sub_channel, session_id,
       created_at, sent_at, delivered_at, failed_at, received_at, updated_at
FROM sms_records
WHERE session_id = $1 AND direction = 'outbound'
ORDER BY created_at DESC
LIMIT 1`

// LoadBySession returns the most recent outbound record for a gateway
// session id, or nil when none exists. Session ids can repeat; most recent
// wins.
func (r *RecordRepository) LoadBySession(ctx context.Context, sessionID int) (*domain.DeliveryRecord, error) {
	var record domain.DeliveryRecord
	err := r.db.QueryRow(ctx, loadBySessionSQL, sessionID).Scan(
		&record.ID, &record.Direction, &record.Recipient, &record.Sender,
		&record.Message, &record.Provider, &record.ProviderMessageID,
		&record.Status, &record.ErrorMessage, &record.TemplateID,
		&record.Cost, &record.Currency, &record.SubChannel, &record.SessionID,
		&record.CreatedAt, &record.SentAt, &record.DeliveredAt,
		&record.FailedAt, &record.ReceivedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading record for session %d: %w", sessionID, err)
	}
	return &record, nil
}

var _ domain.RecordStore = (*RecordRepository)(nil)
