package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/store"
)

// HousekeepingService periodically purges revocation records whose tokens
// have expired on their own.
type HousekeepingService struct {
	Revocations store.Revocations
	Logger      *slog.Logger
	Interval    time.Duration
	Now         func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates the worker. If interval is 0 or negative,
// defaults to 1 hour.
func NewHousekeepingService(revs store.Revocations, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Revocations: revs,
		Logger:      logger,
		Interval:    interval,
		Now:         time.Now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the worker in the background. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup deletes expired revocation records once and returns how many
// were removed.
func (s *HousekeepingService) Cleanup(ctx context.Context) int64 {
	n, err := s.Revocations.DeleteExpired(ctx, s.Now())
	if err != nil {
		s.Logger.Error("failed to delete expired revocations", "error", err)
		return 0
	}
	s.Logger.Info("housekeeping cleanup completed", "revocations_deleted", n)
	return n
}
