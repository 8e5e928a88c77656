package repositories

import (
	"context"
	"errors"

	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepo stores outbound messages. The provider message id is the
// association key from delivery-status webhooks back to the campaign.
type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, m *models.OutboundMessage) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO outbound_messages (campaign_id, batch_number, customer_id, provider_message_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, m.CampaignID, m.BatchNumber, m.CustomerID, m.ProviderMessageID, m.Status,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// CampaignForProviderMessage resolves the campaign a provider message id
// belongs to. A nil result with nil error means the message is not a
// broadcast message: delivery events for it are a no-op.
func (r *MessageRepo) CampaignForProviderMessage(ctx context.Context, providerMessageID string) (*uuid.UUID, error) {
	var campaignID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT campaign_id FROM outbound_messages WHERE provider_message_id = $1
	`, providerMessageID).Scan(&campaignID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &campaignID, nil
}

func (r *MessageRepo) UpdateStatus(ctx context.Context, providerMessageID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbound_messages SET status = $1, updated_at = now()
		WHERE provider_message_id = $2
	`, status, providerMessageID)
	return err
}

// CountByStatus rolls up a campaign's outbound messages per status.
func (r *MessageRepo) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM outbound_messages
		WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
