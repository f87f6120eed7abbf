package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvery(t *testing.T) {
	d, err := parseEvery("@every 5m")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	d, err = parseEvery("  @every 30s  ")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = parseEvery("*/5 * * * *")
	assert.Error(t, err)

	_, err = parseEvery("@every nope")
	assert.Error(t, err)

	_, err = parseEvery("@every -1s")
	assert.Error(t, err)
}

func TestAddValidation(t *testing.T) {
	s := New(nil)
	err := s.Add(&Job{Schedule: "@every 1s", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)

	err = s.Add(&Job{Name: "a", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)

	err = s.Add(&Job{Name: "a", Schedule: "@every 1s"})
	assert.Error(t, err)

	err = s.Add(&Job{Name: "a", Schedule: "@every 1s", Run: func(context.Context) error { return nil }})
	require.NoError(t, err)

	err = s.Add(&Job{Name: "a", Schedule: "@every 1s", Run: func(context.Context) error { return nil }})
	assert.Error(t, err, "duplicate names rejected")
}

func TestSchedulerRunsJob(t *testing.T) {
	s := New(nil)
	var count atomic.Int32
	require.NoError(t, s.Add(&Job{
		Name:     "tick",
		Schedule: "@every 50ms",
		Run: func(context.Context) error {
			count.Add(1)
			return nil
		},
	}))
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return count.Load() >= 2 }, 2*time.Second, 20*time.Millisecond)
}

func TestSingletonSkipsOverlap(t *testing.T) {
	s := New(nil)
	var active atomic.Int32
	var maxActive atomic.Int32
	require.NoError(t, s.Add(&Job{
		Name:      "slow",
		Schedule:  "@every 30ms",
		Singleton: true,
		Run: func(context.Context) error {
			cur := active.Add(1)
			for {
				prev := maxActive.Load()
				if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(150 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	}))
	require.NoError(t, s.Start())
	time.Sleep(400 * time.Millisecond)
	s.Stop()

	assert.LessOrEqual(t, maxActive.Load(), int32(1), "singleton job must never overlap")
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(&Job{
		Name:     "noop",
		Schedule: "@every 1h",
		Run:      func(context.Context) error { return nil },
	}))
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Error(t, s.Start())
}
