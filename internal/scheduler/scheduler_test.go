package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellness-service/internal/logging"
)

type countingSweeper struct {
	calls atomic.Int64
	err   error
}

func (c *countingSweeper) Sweep(context.Context) (int, error) {
	c.calls.Add(1)
	return 3, c.err
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("not a cron", "UTC", &countingSweeper{}, logging.NewNop())
	assert.Error(t, err)

	_, err = New("*/15 * * * *", "Mars/Olympus", &countingSweeper{}, logging.NewNop())
	assert.Error(t, err)
}

func TestSchedulerRunsSweep(t *testing.T) {
	sw := &countingSweeper{}
	s, err := New("@every 20ms", "Europe/Berlin", sw, logging.NewNop())
	require.NoError(t, err)
	s.Start()
	require.Eventually(t, func() bool { return sw.calls.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	s.Stop()
	assert.GreaterOrEqual(t, s.Runs(), int64(2))
}

func TestNextUsesTimezone(t *testing.T) {
	s, err := New("0 9 * * *", "America/New_York", &countingSweeper{}, logging.NewNop())
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	next := s.Next().In(s.loc)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestRunOnceCountsFailures(t *testing.T) {
	sw := &countingSweeper{err: errors.New("queue full")}
	s, err := New("*/15 * * * *", "", sw, logging.NewNop())
	require.NoError(t, err)
	s.RunOnce(context.Background())
	assert.Equal(t, int64(1), sw.calls.Load())
	assert.Equal(t, int64(1), s.Runs())
}
