package mysql

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"timebid/internal/domain"
)

type orderRow struct {
	ID           string          `db:"id"`
	AuctionID    string          `db:"auction_id"`
	BuyerID      string          `db:"buyer_id"`
	SellerID     string          `db:"seller_id"`
	Amount       decimal.Decimal `db:"amount"`
	PlatformFee  decimal.Decimal `db:"platform_fee"`
	SellerAmount decimal.Decimal `db:"seller_amount"`
	PaymentRef   string          `db:"payment_ref"`
	Status       string          `db:"status"`
	Metadata     jsonMap         `db:"metadata"`
	CreatedAt    time.Time       `db:"created_at"`
}

type orderRepository struct {
	q sqlx.ExtContext
}

// CreateOrder relies on the unique key on auction_id; a second order for
// the same auction surfaces as ErrConflict.
func (r *orderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
        INSERT INTO orders (id, auction_id, buyer_id, seller_id, amount, platform_fee, seller_amount,
            payment_ref, status, metadata, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.q.ExecContext(ctx, query,
		order.ID, order.AuctionID, order.BuyerID, order.SellerID,
		order.Amount, order.PlatformFee, order.SellerAmount,
		order.PaymentRef, string(order.Status), jsonMap(order.Metadata), order.CreatedAt)
	return mapError(err, "order")
}

func (r *orderRepository) GetOrderByAuction(ctx context.Context, auctionID string) (*domain.Order, error) {
	query := `
        SELECT id, auction_id, buyer_id, seller_id, amount, platform_fee, seller_amount,
            payment_ref, status, metadata, created_at
        FROM orders WHERE auction_id = ?
    `
	var row orderRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, auctionID); err != nil {
		return nil, mapError(err, "order")
	}
	return &domain.Order{
		ID:           row.ID,
		AuctionID:    row.AuctionID,
		BuyerID:      row.BuyerID,
		SellerID:     row.SellerID,
		Amount:       row.Amount,
		PlatformFee:  row.PlatformFee,
		SellerAmount: row.SellerAmount,
		PaymentRef:   row.PaymentRef,
		Status:       domain.OrderStatus(row.Status),
		Metadata:     row.Metadata,
		CreatedAt:    row.CreatedAt,
	}, nil
}
