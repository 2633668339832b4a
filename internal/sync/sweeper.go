package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/database"
)

// StalledStore lists records stuck in a non-terminal status.
type StalledStore interface {
	ListStalledRecords(ctx context.Context, cutoff time.Time, maxAttempts int) ([]database.Record, error)
	PurgeExpiredOAuthStates(ctx context.Context) (int64, error)
}

// Enqueuer re-triggers pipeline processing for a record.
type Enqueuer interface {
	Enqueue(recordID string) bool
}

// Sweeper periodically re-enqueues records left in a non-terminal status
// with attempts headroom. The cursor advances independently of per-file
// outcomes, so without this sweep a failed intake or a crash mid-attempt
// would wait for the next provider webhook that may never come.
type Sweeper struct {
	store       StalledStore
	pipeline    Enqueuer
	interval    time.Duration
	grace       time.Duration
	maxAttempts int
	log         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(store StalledStore, pipeline Enqueuer, interval time.Duration, maxAttempts int, log zerolog.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:       store,
		pipeline:    pipeline,
		interval:    interval,
		grace:       interval, // a record gets one full interval to finish on its own
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "sweeper").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go s.loop()
	s.log.Info().Dur("interval", s.interval).Msg("reconciliation sweeper started")
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.done
	s.log.Info().Msg("reconciliation sweeper stopped")
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	if n, err := s.store.PurgeExpiredOAuthStates(ctx); err != nil {
		s.log.Warn().Err(err).Msg("oauth state purge failed")
	} else if n > 0 {
		s.log.Debug().Int64("purged", n).Msg("expired oauth states purged")
	}

	stalled, err := s.store.ListStalledRecords(ctx, time.Now().Add(-s.grace), s.maxAttempts)
	if err != nil {
		s.log.Error().Err(err).Msg("stalled record scan failed")
		return
	}
	if len(stalled) == 0 {
		return
	}

	requeued := 0
	for _, rec := range stalled {
		if s.pipeline.Enqueue(rec.ID) {
			requeued++
		}
	}
	s.log.Info().Int("stalled", len(stalled)).Int("requeued", requeued).Msg("stalled records re-enqueued")
}
