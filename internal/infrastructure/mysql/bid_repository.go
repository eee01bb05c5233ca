package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"timebid/internal/domain"
)

const bidColumns = `id, auction_id, bidder_id, amount, payment_ref, payment_status, created_at, updated_at`

type bidRow struct {
	ID            string          `db:"id"`
	AuctionID     string          `db:"auction_id"`
	BidderID      string          `db:"bidder_id"`
	Amount        decimal.Decimal `db:"amount"`
	PaymentRef    string          `db:"payment_ref"`
	PaymentStatus string          `db:"payment_status"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r bidRow) toDomain() *domain.Bid {
	return &domain.Bid{
		ID:            r.ID,
		AuctionID:     r.AuctionID,
		BidderID:      r.BidderID,
		Amount:        r.Amount,
		PaymentRef:    r.PaymentRef,
		PaymentStatus: domain.PaymentStatus(r.PaymentStatus),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type bidRepository struct {
	q sqlx.ExtContext
}

func (r *bidRepository) CreateBid(ctx context.Context, bid *domain.Bid) error {
	query := `
        INSERT INTO bids (` + bidColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.q.ExecContext(ctx, query,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount,
		bid.PaymentRef, string(bid.PaymentStatus), bid.CreatedAt, bid.UpdatedAt)
	return mapError(err, "bid")
}

func (r *bidRepository) GetBidByPaymentRef(ctx context.Context, paymentRef string) (*domain.Bid, error) {
	return r.get(ctx, `SELECT `+bidColumns+` FROM bids WHERE payment_ref = ?`, paymentRef)
}

func (r *bidRepository) GetBidByPaymentRefForUpdate(ctx context.Context, paymentRef string) (*domain.Bid, error) {
	return r.get(ctx, `SELECT `+bidColumns+` FROM bids WHERE payment_ref = ? FOR UPDATE`, paymentRef)
}

func (r *bidRepository) get(ctx context.Context, query string, args ...interface{}) (*domain.Bid, error) {
	var row bidRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, args...); err != nil {
		return nil, mapError(err, "bid")
	}
	return row.toDomain(), nil
}

func (r *bidRepository) ListBidsByAuction(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + `
        FROM bids
        WHERE auction_id = ?
        ORDER BY amount DESC, created_at ASC
    `
	var rows []bidRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, auctionID); err != nil {
		return nil, mapError(err, "bids")
	}

	bids := make([]*domain.Bid, 0, len(rows))
	for _, row := range rows {
		bids = append(bids, row.toDomain())
	}
	return bids, nil
}

func (r *bidRepository) HighestPendingBid(ctx context.Context, auctionID string) (*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + `
        FROM bids
        WHERE auction_id = ? AND payment_status = ?
        ORDER BY amount DESC, created_at ASC
        LIMIT 1
    `
	bid, err := r.get(ctx, query, auctionID, string(domain.PaymentPending))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return bid, err
}

func (r *bidRepository) UpdateBidPaymentStatus(ctx context.Context, bidID string, status domain.PaymentStatus) error {
	query := `UPDATE bids SET payment_status = ?, updated_at = ? WHERE id = ?`
	_, err := r.q.ExecContext(ctx, query, string(status), time.Now().UTC(), bidID)
	return mapError(err, "bid")
}
