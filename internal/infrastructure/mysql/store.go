package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"timebid/internal/domain"
)

const errDuplicateEntry = 1062

// Store is the MySQL-backed domain.Store. Repositories obtained outside
// RunInTx run each statement on its own connection.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, err, "could not begin transaction")
	}

	if err := fn(ctx, repositories{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrPersistence, err, "could not commit transaction")
	}
	return nil
}

func (s *Store) Auctions() domain.AuctionRepository { return &auctionRepository{q: s.db} }
func (s *Store) Bids() domain.BidRepository         { return &bidRepository{q: s.db} }
func (s *Store) Orders() domain.OrderRepository     { return &orderRepository{q: s.db} }
func (s *Store) Activity() domain.ActivityRepository {
	return &activityRepository{q: s.db}
}
func (s *Store) Reconciliation() domain.ReconciliationRepository {
	return &reconciliationRepository{q: s.db}
}

type repositories struct {
	q sqlx.ExtContext
}

func (r repositories) Auctions() domain.AuctionRepository  { return &auctionRepository{q: r.q} }
func (r repositories) Bids() domain.BidRepository          { return &bidRepository{q: r.q} }
func (r repositories) Orders() domain.OrderRepository      { return &orderRepository{q: r.q} }
func (r repositories) Activity() domain.ActivityRepository { return &activityRepository{q: r.q} }
func (r repositories) Reconciliation() domain.ReconciliationRepository {
	return &reconciliationRepository{q: r.q}
}

// mapError classifies driver errors into domain kinds.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewError(domain.ErrNotFound, "%s not found", what)
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
		return domain.WrapError(domain.ErrConflict, err, "%s already exists", what)
	}
	return domain.WrapError(domain.ErrPersistence, err, "%s query failed", what)
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, what)
	}
	if n == 0 {
		return domain.NewError(domain.ErrNotFound, "%s not found", what)
	}
	return nil
}

// jsonMap stores a string map in a JSON column.
type jsonMap map[string]string

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *jsonMap) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}
