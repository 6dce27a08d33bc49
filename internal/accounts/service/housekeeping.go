package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

// DefaultHousekeepingInterval is used when no positive interval is given.
const DefaultHousekeepingInterval = time.Hour

// HousekeepingService periodically deletes expired or revoked sessions and
// stale action tokens so those tables do not grow without bound.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Metrics  metrics.Recorder
	Interval time.Duration
	Now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A nil recorder
// disables metrics.
func NewHousekeepingService(s store.Store, logger *slog.Logger, rec metrics.Recorder, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &HousekeepingService{
		Store:    s,
		Logger:   logger,
		Metrics:  rec,
		Interval: interval,
		Now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then every Interval until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", slog.Duration("interval", s.Interval))
}

// Stop ends the worker and waits for an in-progress cleanup to finish.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

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

// Cleanup performs one pass. Each table is cleaned independently; a failure
// in one does not stop the other.
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	now := s.Now().UTC()

	if n, err := s.Store.Sessions().DeleteExpiredSessions(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired sessions", slog.Any("error", err))
	} else {
		s.Metrics.RecordHousekeeping("sessions", n)
		s.Logger.Debug("deleted expired sessions", slog.Int("count", n))
	}

	if n, err := s.Store.ActionTokens().DeleteStaleActionTokens(ctx, now); err != nil {
		s.Logger.Error("failed to delete stale action tokens", slog.Any("error", err))
	} else {
		s.Metrics.RecordHousekeeping("action_tokens", n)
		s.Logger.Debug("deleted stale action tokens", slog.Int("count", n))
	}
}
