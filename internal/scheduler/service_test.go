package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_RunsJobsUntilStopped(t *testing.T) {
	s := NewScheduler(nil)

	var ok, failing atomic.Int32
	s.Schedule(Job{Name: "sweep", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		ok.Add(1)
		return nil
	}})
	s.Schedule(Job{Name: "broken", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}})

	s.Start()
	assert.Eventually(t, func() bool {
		return ok.Load() >= 2 && failing.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	after := ok.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ok.Load())

	// Stop is idempotent.
	s.Stop()
}
