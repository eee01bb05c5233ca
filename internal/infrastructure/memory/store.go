// Package memory is an in-process implementation of domain.Store used for
// tests and local runs. Writers are serialized; a failed transaction is
// rolled back to the snapshot taken when it began.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"timebid/internal/domain"
)

type dataset struct {
	auctions map[string]domain.Auction
	bids     map[string]domain.Bid
	orders   map[string]domain.Order
	activity []domain.ActivityLog
	tasks    map[string]domain.ReconciliationTask
}

func newDataset() *dataset {
	return &dataset{
		auctions: make(map[string]domain.Auction),
		bids:     make(map[string]domain.Bid),
		orders:   make(map[string]domain.Order),
		tasks:    make(map[string]domain.ReconciliationTask),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.auctions {
		c.auctions[k] = v
	}
	for k, v := range d.bids {
		c.bids[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.tasks {
		c.tasks[k] = v
	}
	c.activity = append([]domain.ActivityLog(nil), d.activity...)
	return c
}

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *dataset

	faultMu sync.Mutex
	faults  map[string]error
}

func NewStore() *Store {
	return &Store{
		data:   newDataset(),
		faults: make(map[string]error),
	}
}

// InjectFault makes the next call to the named repository method fail with err.
func (s *Store) InjectFault(method string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[method] = err
}

func (s *Store) fault(method string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	err, ok := s.faults[method]
	if ok {
		delete(s.faults, method)
	}
	return err
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &repos{store: s, inTx: true}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	if err := s.fault("Commit"); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return domain.WrapError(domain.ErrPersistence, err, "could not commit transaction")
	}
	return nil
}

func (s *Store) Auctions() domain.AuctionRepository { return &repos{store: s} }
func (s *Store) Bids() domain.BidRepository         { return &repos{store: s} }
func (s *Store) Orders() domain.OrderRepository     { return &repos{store: s} }
func (s *Store) Activity() domain.ActivityRepository {
	return &repos{store: s}
}
func (s *Store) Reconciliation() domain.ReconciliationRepository {
	return &repos{store: s}
}

// repos implements every repository interface over the shared dataset.
type repos struct {
	store *Store
	inTx  bool
}

func (r *repos) Auctions() domain.AuctionRepository               { return r }
func (r *repos) Bids() domain.BidRepository                       { return r }
func (r *repos) Orders() domain.OrderRepository                   { return r }
func (r *repos) Activity() domain.ActivityRepository              { return r }
func (r *repos) Reconciliation() domain.ReconciliationRepository { return r }

func (r *repos) read(method string, fn func(d *dataset) error) error {
	if err := r.store.fault(method); err != nil {
		return domain.WrapError(domain.ErrPersistence, err, "%s failed", method)
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return fn(r.store.data)
}

func (r *repos) write(method string, fn func(d *dataset) error) error {
	if err := r.store.fault(method); err != nil {
		return domain.WrapError(domain.ErrPersistence, err, "%s failed", method)
	}
	if !r.inTx {
		r.store.txMu.Lock()
		defer r.store.txMu.Unlock()
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.data)
}

// Auctions

func (r *repos) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	return r.write("CreateAuction", func(d *dataset) error {
		if _, exists := d.auctions[auction.ID]; exists {
			return domain.NewError(domain.ErrConflict, "auction %s already exists", auction.ID)
		}
		d.auctions[auction.ID] = *auction
		return nil
	})
}

func (r *repos) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	var out *domain.Auction
	err := r.read("GetAuction", func(d *dataset) error {
		a, ok := d.auctions[auctionID]
		if !ok {
			return domain.NewError(domain.ErrNotFound, "auction not found")
		}
		out = &a
		return nil
	})
	return out, err
}

// GetAuctionForUpdate needs no extra locking here: transactions already hold txMu.
func (r *repos) GetAuctionForUpdate(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return r.GetAuction(ctx, auctionID)
}

func (r *repos) UpdateAuction(ctx context.Context, auction *domain.Auction) error {
	return r.write("UpdateAuction", func(d *dataset) error {
		if _, ok := d.auctions[auction.ID]; !ok {
			return domain.NewError(domain.ErrNotFound, "auction not found")
		}
		d.auctions[auction.ID] = *auction
		return nil
	})
}

func (r *repos) DeleteAuction(ctx context.Context, auctionID string) error {
	return r.write("DeleteAuction", func(d *dataset) error {
		if _, ok := d.auctions[auctionID]; !ok {
			return domain.NewError(domain.ErrNotFound, "auction not found")
		}
		delete(d.auctions, auctionID)
		return nil
	})
}

func (r *repos) ListDueForActivation(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	return r.listAuctions("ListDueForActivation", limit, func(a domain.Auction) bool {
		return a.Status == domain.AuctionPending && !a.StartTime.After(now) && a.EndTime.After(now)
	})
}

func (r *repos) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	return r.listAuctions("ListExpired", limit, func(a domain.Auction) bool {
		return a.Status == domain.AuctionActive && now.After(a.EndTime)
	})
}

func (r *repos) listAuctions(method string, limit int, match func(domain.Auction) bool) ([]*domain.Auction, error) {
	var out []*domain.Auction
	err := r.read(method, func(d *dataset) error {
		for _, a := range d.auctions {
			if match(a) {
				a := a
				out = append(out, &a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// Bids

func (r *repos) CreateBid(ctx context.Context, bid *domain.Bid) error {
	return r.write("CreateBid", func(d *dataset) error {
		if _, exists := d.bids[bid.ID]; exists {
			return domain.NewError(domain.ErrConflict, "bid %s already exists", bid.ID)
		}
		d.bids[bid.ID] = *bid
		return nil
	})
}

func (r *repos) GetBidByPaymentRef(ctx context.Context, paymentRef string) (*domain.Bid, error) {
	var out *domain.Bid
	err := r.read("GetBidByPaymentRef", func(d *dataset) error {
		for _, b := range d.bids {
			if paymentRef != "" && b.PaymentRef == paymentRef {
				b := b
				out = &b
				return nil
			}
		}
		return domain.NewError(domain.ErrNotFound, "bid not found")
	})
	return out, err
}

func (r *repos) GetBidByPaymentRefForUpdate(ctx context.Context, paymentRef string) (*domain.Bid, error) {
	return r.GetBidByPaymentRef(ctx, paymentRef)
}

func (r *repos) ListBidsByAuction(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	var out []*domain.Bid
	err := r.read("ListBidsByAuction", func(d *dataset) error {
		for _, b := range d.bids {
			if b.AuctionID == auctionID {
				b := b
				out = append(out, &b)
			}
		}
		return nil
	})
	sortBids(out)
	return out, err
}

func (r *repos) HighestPendingBid(ctx context.Context, auctionID string) (*domain.Bid, error) {
	bids, err := r.ListBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	for _, b := range bids {
		if b.PaymentStatus == domain.PaymentPending {
			return b, nil
		}
	}
	return nil, nil
}

func (r *repos) UpdateBidPaymentStatus(ctx context.Context, bidID string, status domain.PaymentStatus) error {
	return r.write("UpdateBidPaymentStatus", func(d *dataset) error {
		b, ok := d.bids[bidID]
		if !ok {
			return domain.NewError(domain.ErrNotFound, "bid not found")
		}
		b.PaymentStatus = status
		b.UpdatedAt = time.Now().UTC()
		d.bids[bidID] = b
		return nil
	})
}

// sortBids orders by amount descending, earliest first on ties.
func sortBids(bids []*domain.Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		if c := bids[i].Amount.Cmp(bids[j].Amount); c != 0 {
			return c > 0
		}
		return bids[i].CreatedAt.Before(bids[j].CreatedAt)
	})
}

// Orders

func (r *repos) CreateOrder(ctx context.Context, order *domain.Order) error {
	return r.write("CreateOrder", func(d *dataset) error {
		if _, exists := d.orders[order.AuctionID]; exists {
			return domain.NewError(domain.ErrConflict, "order already exists for auction")
		}
		d.orders[order.AuctionID] = *order
		return nil
	})
}

func (r *repos) GetOrderByAuction(ctx context.Context, auctionID string) (*domain.Order, error) {
	var out *domain.Order
	err := r.read("GetOrderByAuction", func(d *dataset) error {
		o, ok := d.orders[auctionID]
		if !ok {
			return domain.NewError(domain.ErrNotFound, "order not found")
		}
		out = &o
		return nil
	})
	return out, err
}

// Activity

func (r *repos) LogActivity(ctx context.Context, entry *domain.ActivityLog) error {
	return r.write("LogActivity", func(d *dataset) error {
		d.activity = append(d.activity, *entry)
		return nil
	})
}

func (r *repos) ListActivity(ctx context.Context, auctionID string) ([]*domain.ActivityLog, error) {
	var out []*domain.ActivityLog
	err := r.read("ListActivity", func(d *dataset) error {
		for _, e := range d.activity {
			if e.AuctionID == auctionID {
				e := e
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

// Reconciliation tasks

func (r *repos) CreateTask(ctx context.Context, task *domain.ReconciliationTask) error {
	return r.write("CreateTask", func(d *dataset) error {
		d.tasks[task.ID] = *task
		return nil
	})
}

func (r *repos) GetPendingTasks(ctx context.Context, before time.Time, limit int) ([]*domain.ReconciliationTask, error) {
	var out []*domain.ReconciliationTask
	err := r.read("GetPendingTasks", func(d *dataset) error {
		for _, t := range d.tasks {
			if t.Status == domain.TaskPending && !t.RunAt.After(before) {
				t := t
				out = append(out, &t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *repos) UpdateTask(ctx context.Context, task *domain.ReconciliationTask) error {
	return r.write("UpdateTask", func(d *dataset) error {
		if _, ok := d.tasks[task.ID]; !ok {
			return domain.NewError(domain.ErrNotFound, "task not found")
		}
		d.tasks[task.ID] = *task
		return nil
	})
}
