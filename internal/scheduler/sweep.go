package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/ashgrovepsych/practice-sync/internal/store"
	syncsvc "github.com/ashgrovepsych/practice-sync/internal/sync"
	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

// SyncRunner runs a full sync for one practitioner.
type SyncRunner interface {
	FullSync(ctx context.Context, practitionerRemoteID string) (*syncsvc.SyncResult, error)
}

// PractitionerLister lists locally known practitioners.
type PractitionerLister interface {
	ListActivePractitioners(ctx context.Context) ([]store.Practitioner, error)
}

// FailureAlerter notifies the practice admin about failed sweeps.
type FailureAlerter interface {
	SyncFailed(ctx context.Context, practitionerRemoteID, displayName string, cause error)
}

// Sweep runs periodic full syncs across all active practitioners,
// sequentially to keep pressure on the PM system predictable.
type Sweep struct {
	runner      SyncRunner
	store       PractitionerLister
	alerter     FailureAlerter
	logger      *logging.Logger
	bootstrapID string

	tick <-chan time.Time
	stop func()
}

// SweepConfig configures a sweep. Tick and Stop override the interval for
// tests.
type SweepConfig struct {
	Runner  SyncRunner
	Store   PractitionerLister
	Alerter FailureAlerter
	Logger  *logging.Logger

	// BootstrapRemoteID seeds an empty deployment: when the local store
	// knows no practitioners yet, this remote id is synced first.
	BootstrapRemoteID string

	Interval time.Duration

	Tick <-chan time.Time
	Stop func()
}

func NewSweep(cfg SweepConfig) (*Sweep, error) {
	if cfg.Runner == nil {
		return nil, errors.New("scheduler: sweep requires a sync runner")
	}
	if cfg.Store == nil {
		return nil, errors.New("scheduler: sweep requires a practitioner store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	tick := cfg.Tick
	stop := cfg.Stop
	if tick == nil {
		interval := cfg.Interval
		if interval <= 0 {
			interval = 30 * time.Minute
		}
		ticker := time.NewTicker(interval)
		tick = ticker.C
		stop = ticker.Stop
	}

	return &Sweep{
		runner:      cfg.Runner,
		store:       cfg.Store,
		alerter:     cfg.Alerter,
		logger:      logger,
		bootstrapID: cfg.BootstrapRemoteID,
		tick:        tick,
		stop:        stop,
	}, nil
}

// Start runs an immediate sweep, then one per tick until ctx is cancelled.
func (s *Sweep) Start(ctx context.Context) {
	if s == nil {
		return
	}
	defer func() {
		if s.stop != nil {
			s.stop()
		}
	}()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.tick:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps every active practitioner. One practitioner's failure is
// alerted and logged, then the sweep moves on.
func (s *Sweep) RunOnce(ctx context.Context) {
	practitioners, err := s.store.ListActivePractitioners(ctx)
	if err != nil {
		s.logger.Error("sweep cannot list practitioners", "error", err)
		return
	}
	if len(practitioners) == 0 {
		if s.bootstrapID == "" {
			s.logger.Info("sweep found no practitioners to sync")
			return
		}
		s.logger.Info("seeding empty store from bootstrap practitioner", "practitioner", s.bootstrapID)
		if _, err := s.runner.FullSync(ctx, s.bootstrapID); err != nil {
			s.logger.Error("bootstrap sync failed", "practitioner", s.bootstrapID, "error", err)
			if s.alerter != nil {
				s.alerter.SyncFailed(ctx, s.bootstrapID, "", err)
			}
		}
		return
	}

	for _, p := range practitioners {
		if ctx.Err() != nil {
			return
		}
		result, err := s.runner.FullSync(ctx, p.RemoteID)
		if err != nil {
			s.logger.Error("sweep sync failed", "practitioner", p.RemoteID, "error", err)
			if s.alerter != nil {
				s.alerter.SyncFailed(ctx, p.RemoteID, p.DisplayName, err)
			}
			continue
		}
		s.logger.Info("sweep sync complete",
			"practitioner", p.RemoteID,
			"processed", result.RecordsProcessed,
			"soft_errors", len(result.Errors))
	}
}
