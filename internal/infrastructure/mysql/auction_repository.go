package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"timebid/internal/domain"
)

const auctionColumns = `id, owner_id, title, description, starting_price, current_highest_bid, bid_count,
	status, start_time, end_time, winner_id, final_price, created_at, updated_at`

type auctionRow struct {
	ID                string              `db:"id"`
	OwnerID           string              `db:"owner_id"`
	Title             string              `db:"title"`
	Description       string              `db:"description"`
	StartingPrice     decimal.Decimal     `db:"starting_price"`
	CurrentHighestBid decimal.Decimal     `db:"current_highest_bid"`
	BidCount          int                 `db:"bid_count"`
	Status            int                 `db:"status"`
	StartTime         time.Time           `db:"start_time"`
	EndTime           time.Time           `db:"end_time"`
	WinnerID          sql.NullString      `db:"winner_id"`
	FinalPrice        decimal.NullDecimal `db:"final_price"`
	CreatedAt         time.Time           `db:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at"`
}

func (r auctionRow) toDomain() *domain.Auction {
	return &domain.Auction{
		ID:                r.ID,
		OwnerID:           r.OwnerID,
		Title:             r.Title,
		Description:       r.Description,
		StartingPrice:     r.StartingPrice,
		CurrentHighestBid: r.CurrentHighestBid,
		BidCount:          r.BidCount,
		Status:            domain.AuctionStatus(r.Status),
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		WinnerID:          r.WinnerID.String,
		FinalPrice:        r.FinalPrice,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type auctionRepository struct {
	q sqlx.ExtContext
}

func (r *auctionRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (` + auctionColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.q.ExecContext(ctx, query,
		auction.ID, auction.OwnerID, auction.Title, auction.Description,
		auction.StartingPrice, auction.CurrentHighestBid, auction.BidCount,
		int(auction.Status), auction.StartTime, auction.EndTime,
		nullString(auction.WinnerID), auction.FinalPrice, auction.CreatedAt, auction.UpdatedAt)
	return mapError(err, "auction")
}

func (r *auctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return r.get(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, auctionID)
}

func (r *auctionRepository) GetAuctionForUpdate(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return r.get(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = ? FOR UPDATE`, auctionID)
}

func (r *auctionRepository) get(ctx context.Context, query, auctionID string) (*domain.Auction, error) {
	var row auctionRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, auctionID); err != nil {
		return nil, mapError(err, "auction")
	}
	return row.toDomain(), nil
}

func (r *auctionRepository) UpdateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        UPDATE auctions
        SET current_highest_bid = ?, bid_count = ?, status = ?, winner_id = ?, final_price = ?, updated_at = ?
        WHERE id = ?
    `
	// Callers update rows they already locked, so no affected-rows check;
	// MySQL reports 0 for an unchanged row.
	_, err := r.q.ExecContext(ctx, query,
		auction.CurrentHighestBid, auction.BidCount, int(auction.Status),
		nullString(auction.WinnerID), auction.FinalPrice, auction.UpdatedAt, auction.ID)
	return mapError(err, "auction")
}

func (r *auctionRepository) DeleteAuction(ctx context.Context, auctionID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM auctions WHERE id = ?`, auctionID)
	if err != nil {
		return mapError(err, "auction")
	}
	return expectOneRow(res, "auction")
}

func (r *auctionRepository) ListDueForActivation(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions
        WHERE status = ? AND start_time <= ?
        ORDER BY start_time ASC
        LIMIT ?
    `
	return r.list(ctx, query, int(domain.AuctionPending), now, limit)
}

func (r *auctionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions
        WHERE status = ? AND end_time < ?
        ORDER BY end_time ASC
        LIMIT ?
    `
	return r.list(ctx, query, int(domain.AuctionActive), now, limit)
}

func (r *auctionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Auction, error) {
	var rows []auctionRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, mapError(err, "auctions")
	}

	auctions := make([]*domain.Auction, 0, len(rows))
	for _, row := range rows {
		auctions = append(auctions, row.toDomain())
	}
	return auctions, nil
}
