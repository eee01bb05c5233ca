package services

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"timebid/internal/domain"
	"timebid/pkg/logger"
)

// CronAuctionScheduler drives the periodic sweeps: activating due
// auctions, closing expired ones, and retrying queued compensations.
type CronAuctionScheduler struct {
	cron          *cron.Cron
	auctionMgr    *AuctionManager
	reconciler    *Reconciler
	sweepSpec     string
	reconcileSpec string
	log           logger.Logger

	// one sweep of each kind at a time per instance
	sweepMu     sync.Mutex
	reconcileMu sync.Mutex
}

var _ domain.AuctionScheduler = (*CronAuctionScheduler)(nil)

func NewCronAuctionScheduler(auctionMgr *AuctionManager, reconciler *Reconciler, sweepSpec, reconcileSpec string,
	log logger.Logger) *CronAuctionScheduler {
	return &CronAuctionScheduler{
		cron:          cron.New(cron.WithSeconds()),
		auctionMgr:    auctionMgr,
		reconciler:    reconciler,
		sweepSpec:     sweepSpec,
		reconcileSpec: reconcileSpec,
		log:           log,
	}
}

func (s *CronAuctionScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting auction scheduler", "sweep", s.sweepSpec, "reconcile", s.reconcileSpec)

	if _, err := s.cron.AddFunc(s.sweepSpec, func() {
		s.Sweep(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.reconcileSpec, func() {
		s.Reconcile(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronAuctionScheduler) Stop() error {
	s.log.Info("Stopping auction scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// Sweep activates due auctions and closes expired ones.
func (s *CronAuctionScheduler) Sweep(ctx context.Context) {
	if !s.sweepMu.TryLock() {
		s.log.Debug("Previous sweep still running")
		return
	}
	defer s.sweepMu.Unlock()

	activated, err := s.auctionMgr.ActivateDueAuctions(ctx)
	if err != nil {
		s.log.Error("Failed to activate auctions", "error", err)
	}
	closed, err := s.auctionMgr.CloseExpiredAuctions(ctx)
	if err != nil {
		s.log.Error("Failed to close auctions", "error", err)
	}
	if activated > 0 || closed > 0 {
		s.log.Info("Sweep finished", "activated", activated, "closed", closed)
	}
}

func (s *CronAuctionScheduler) Reconcile(ctx context.Context) {
	if !s.reconcileMu.TryLock() {
		return
	}
	defer s.reconcileMu.Unlock()

	if !s.auctionMgr.isLeader(ctx) {
		return
	}
	done, err := s.reconciler.RunOnce(ctx)
	if err != nil {
		s.log.Error("Reconciliation run failed", "error", err)
		return
	}
	if done > 0 {
		s.log.Info("Reconciliation finished", "completed", done)
	}
}
