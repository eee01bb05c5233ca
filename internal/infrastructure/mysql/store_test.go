package mysql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebid/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "mysql")), mock
}

var auctionCols = []string{
	"id", "owner_id", "title", "description", "starting_price", "current_highest_bid", "bid_count",
	"status", "start_time", "end_time", "winner_id", "final_price", "created_at", "updated_at",
}

func TestGetAuction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM auctions WHERE id = ?")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(auctionCols).AddRow(
			"a1", "seller", "Mentoring", "", "5000.00", "5500.00", 1,
			int(domain.AuctionActive), now, now.Add(time.Hour), nil, nil, now, now,
		))

	a, err := store.Auctions().GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionActive, a.Status)
	assert.True(t, a.CurrentHighestBid.Equal(decimal.NewFromInt(5500)))
	assert.False(t, a.HasWinner())
	assert.False(t, a.FinalPrice.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAuctionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM auctions WHERE id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(auctionCols))

	_, err := store.Auctions().GetAuction(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunInTxCommits(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM auctions WHERE id = ? FOR UPDATE")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(auctionCols).AddRow(
			"a1", "seller", "Mentoring", "", "100.00", "100.00", 0,
			int(domain.AuctionActive), now, now.Add(time.Hour), nil, nil, now, now,
		))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE auctions")).
		WithArgs(sqlmock.AnyArg(), 1, int(domain.AuctionActive), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx domain.Repositories) error {
		a, err := tx.Auctions().GetAuctionForUpdate(ctx, "a1")
		if err != nil {
			return err
		}
		a.BidCount++
		a.CurrentHighestBid = decimal.NewFromInt(150)
		return tx.Auctions().UpdateAuction(ctx, a)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx domain.Repositories) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxCommitFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx domain.Repositories) error {
		return nil
	})
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestCreateOrderDuplicateIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'a1' for key 'uq_orders_auction'"})

	err := store.Orders().CreateOrder(context.Background(), &domain.Order{
		ID:        "o1",
		AuctionID: "a1",
		Amount:    decimal.NewFromInt(100),
		Status:    domain.OrderPendingMeeting,
	})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestHighestPendingBidNone(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE auction_id = ? AND payment_status = ?")).
		WithArgs("a1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	bid, err := store.Bids().HighestPendingBid(context.Background(), "a1")
	require.NoError(t, err)
	assert.Nil(t, bid)
}

func TestListActivityDecodesDetails(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM activity_logs")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "auction_id", "actor_id", "action", "details", "created_at"}).
			AddRow("l1", "a1", "buyer", "bid_placed", []byte(`{"amount":"150.00"}`), now).
			AddRow("l2", "a1", "", "auction_closed", nil, now))

	entries, err := store.Activity().ListActivity(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActivityBidPlaced, entries[0].Action)
	assert.Equal(t, "150.00", entries[0].Details["amount"])
	assert.Nil(t, entries[1].Details)
}

func TestPersistenceErrorsAreWrapped(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reconciliation_tasks")).
		WillReturnError(errors.New("too many connections"))

	err := store.Reconciliation().CreateTask(context.Background(), &domain.ReconciliationTask{ID: "t1", Kind: domain.TaskCancelHold})
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestJSONMapValue(t *testing.T) {
	v, err := jsonMap(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = jsonMap{"k": "v"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, v)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}
