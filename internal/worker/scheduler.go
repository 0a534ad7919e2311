// Package worker runs the periodic background jobs: the midnight daily-bonus
// reset and redelivery of queued admin notifications.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"checkin-bot/internal/metrics"
)

// OutboxBatch caps how many queued notifications one retry run delivers.
const OutboxBatch = 100

type DailyResetter interface {
	ResetDailyFlags(ctx context.Context) (int64, error)
}

type OutboxRetrier interface {
	Retry(ctx context.Context, max int) (int, error)
}

type job struct {
	name      string
	immediate bool
	run       func(ctx context.Context) error
}

type Scheduler struct {
	cron    *cron.Cron
	log     *logrus.Entry
	metrics *metrics.Collector
	jobs    []job
	ctx     context.Context
}

func NewScheduler(loc *time.Location, log *logrus.Entry, m *metrics.Collector) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		metrics: m,
		ctx:     context.Background(),
	}
}

// Add registers fn under a standard five-field cron spec or a descriptor such
// as "@every 1m". Immediate jobs also run once when the scheduler starts.
func (s *Scheduler) Add(name, spec string, immediate bool, fn func(ctx context.Context) error) error {
	j := job{name: name, immediate: immediate, run: fn}
	if _, err := s.cron.AddFunc(spec, func() { s.runJob(j) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start runs the scheduler until ctx is cancelled, then waits for running
// jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.log.WithField("jobs", len(s.jobs)).Info("background scheduler started")

	for _, j := range s.jobs {
		if j.immediate {
			s.runJob(j)
		}
	}

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("background scheduler stopped")
}

func (s *Scheduler) runJob(j job) {
	start := time.Now()
	err := j.run(s.ctx)
	s.metrics.RecordOperation("job_"+j.name, err)
	entry := s.log.WithFields(logrus.Fields{
		"job":      j.name,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Error("job failed")
		return
	}
	entry.Debug("job finished")
}

// DailyReset clears every account's daily-bonus flag.
func DailyReset(r DailyResetter) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := r.ResetDailyFlags(ctx)
		return err
	}
}

// OutboxRetry redelivers notifications that failed on their first attempt.
func OutboxRetry(r OutboxRetrier, log *logrus.Entry) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := r.Retry(ctx, OutboxBatch)
		if n > 0 {
			log.WithField("delivered", n).Info("queued notifications delivered")
		}
		return err
	}
}

type cronLogger struct {
	log *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
