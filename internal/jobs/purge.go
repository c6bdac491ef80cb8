// Package jobs runs background maintenance on a cron schedule.
//
// The only job today purges idempotency records past their expiry so replay
// lookups stay cheap and the SQLite file does not grow without bound.
package jobs

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-registration-backend/internal/repo"
)

// DefaultPurgeSchedule runs the purge every ten minutes.
const DefaultPurgeSchedule = "@every 10m"

var purgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "idempotency_records_purged_total",
	Help: "Total number of expired idempotency records deleted.",
})

func init() {
	prometheus.MustRegister(purgedTotal)
}

// PurgeFunc deletes records expired at now and returns how many were removed.
type PurgeFunc func(ctx context.Context, now time.Time) (int64, error)

// Purger schedules a PurgeFunc with robfig/cron. Overlapping runs are skipped.
type Purger struct {
	cron    *cron.Cron
	purge   PurgeFunc
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPurger builds a Purger for db on schedule (standard 5-field cron spec or
// a descriptor such as "@every 10m"). An empty schedule uses
// DefaultPurgeSchedule.
func NewPurger(db *gorm.DB, schedule string) (*Purger, error) {
	return newPurger(func(ctx context.Context, now time.Time) (int64, error) {
		return repo.PurgeExpiredIdempotency(ctx, db, now)
	}, schedule)
}

func newPurger(fn PurgeFunc, schedule string) (*Purger, error) {
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}

	l := log.With().Str("component", "cron").Str("job", "idempotency_purge").Logger()
	cl := cronLogger{l: l}

	p := &Purger{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		purge:   fn,
		timeout: 30 * time.Second,
		logger:  l,
	}

	if _, err := p.cron.AddFunc(schedule, func() { _, _ = p.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return p, nil
}

// Start begins running the schedule in its own goroutine.
func (p *Purger) Start() {
	p.cron.Start()
	p.logger.Info().Msg("purge scheduler started")
}

// Stop halts the schedule and waits for a running purge to finish, or for
// ctx to expire.
func (p *Purger) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		p.logger.Info().Msg("purge scheduler stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn().Msg("purge scheduler stop deadline exceeded")
		return ctx.Err()
	}
}

// RunOnce purges immediately, bounded by the job timeout.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	n, err := p.purge(ctx, start.UTC())
	if err != nil {
		p.logger.Error().Err(err).Msg("purge failed")
		return 0, err
	}

	purgedTotal.Add(float64(n))
	p.logger.Debug().Int64("purged", n).Dur("took", time.Since(start)).Msg("purge done")
	return n, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
