package mysql

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"timebid/internal/domain"
)

type activityRow struct {
	ID        string    `db:"id"`
	AuctionID string    `db:"auction_id"`
	ActorID   string    `db:"actor_id"`
	Action    string    `db:"action"`
	Details   jsonMap   `db:"details"`
	CreatedAt time.Time `db:"created_at"`
}

type activityRepository struct {
	q sqlx.ExtContext
}

func (r *activityRepository) LogActivity(ctx context.Context, entry *domain.ActivityLog) error {
	query := `
        INSERT INTO activity_logs (id, auction_id, actor_id, action, details, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err := r.q.ExecContext(ctx, query,
		entry.ID, entry.AuctionID, entry.ActorID, string(entry.Action), jsonMap(entry.Details), entry.CreatedAt)
	return mapError(err, "activity log")
}

func (r *activityRepository) ListActivity(ctx context.Context, auctionID string) ([]*domain.ActivityLog, error) {
	query := `
        SELECT id, auction_id, actor_id, action, details, created_at
        FROM activity_logs
        WHERE auction_id = ?
        ORDER BY created_at ASC, id ASC
    `
	var rows []activityRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, auctionID); err != nil {
		return nil, mapError(err, "activity logs")
	}

	entries := make([]*domain.ActivityLog, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, &domain.ActivityLog{
			ID:        row.ID,
			AuctionID: row.AuctionID,
			ActorID:   row.ActorID,
			Action:    domain.ActivityAction(row.Action),
			Details:   row.Details,
			CreatedAt: row.CreatedAt,
		})
	}
	return entries, nil
}
