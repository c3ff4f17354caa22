package sweeper

import (
	"context"
	"time"

	"github.com/nkiryanov/shopguard/internal/logger"
)

const defaultInterval = time.Minute

// Anything holding records with expiry: replay guard, revocation ledger
type Sweepable interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type Target struct {
	Name  string
	Store Sweepable
}

// Periodically deletes expired security records
// Correctness never depends on it: expired records are ignored by lookups anyway
type Sweeper struct {
	interval time.Duration
	targets  []Target
	logger   logger.Logger
}

func New(interval time.Duration, logger logger.Logger, targets ...Target) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		interval: interval,
		targets:  targets,
		logger:   logger,
	}
}

// Start sweeping every interval until ctx is done
// Returned channel is closed when sweeper stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval, "targets", len(s.targets))

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()

	return idleStopped
}

// Sweep every target once. Failed target does not stop the others
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	var total int64

	for _, t := range s.targets {
		if ctx.Err() != nil {
			return total
		}

		n, err := t.Store.SweepExpired(ctx)
		if err != nil {
			s.logger.Error("Failed to sweep expired records", "target", t.Name, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Debug("Expired records deleted", "target", t.Name, "count", n)
		}
		total += n
	}

	return total
}
