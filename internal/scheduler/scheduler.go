// Package scheduler runs the periodic sweep that evaluates every checker
// with an active schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"wellness-service/internal/logging"
)

// Sweeper queues one evaluation per scheduled checker.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	sweeper Sweeper
	logger  *logging.Logger
	loc     *time.Location
	runs    atomic.Int64
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 15m") in the named timezone.
func New(spec, timezone string, sweeper Sweeper, logger *logging.Logger) (*Scheduler, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep timezone %q: %w", timezone, err)
		}
		loc = l
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(
			cron.Recover(cron.PrintfLogger(logger)),
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		),
	)
	s := &Scheduler{cron: c, sweeper: sweeper, logger: logger, loc: loc}
	id, err := c.AddFunc(spec, func() { s.RunOnce(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Infof("Sweep scheduler started, next run at %s", s.Next().Format(time.RFC3339))
}

// Stop waits for a running sweep to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Next is the next scheduled sweep, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Runs counts completed sweeps.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// RunOnce sweeps immediately.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	n, err := s.sweeper.Sweep(ctx)
	s.runs.Add(1)
	if err != nil {
		s.logger.Errorf("Sweep failed after queuing %d evaluations: %v", n, err)
		return
	}
	s.logger.Debugf("Sweep queued %d evaluations in %s", n, time.Since(start))
}
