package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/cashflow/internal/domain"
)

type stubRunner struct {
	mu    sync.Mutex
	dates []time.Time
	err   error
	ran   chan struct{}
}

func (r *stubRunner) RunMaterialization(ctx context.Context, date time.Time) (*domain.ProcessingRun, error) {
	r.mu.Lock()
	r.dates = append(r.dates, date)
	r.mu.Unlock()
	if r.ran != nil {
		r.ran <- struct{}{}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &domain.ProcessingRun{ID: "run-1", RunDate: date, Status: domain.RunCompleted}, nil
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(&stubRunner{}, Config{Spec: "every day", Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestTriggerNow_UsesTodayInUTC(t *testing.T) {
	runner := &stubRunner{}
	s, err := New(runner, Config{Spec: "5 0 * * *", Logger: zerolog.Nop()})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 3, 20, 23, 59, 0, 0, time.UTC) }

	run, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	require.Len(t, runner.dates, 1)
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), runner.dates[0])
}

func TestTriggerNow_PropagatesError(t *testing.T) {
	runner := &stubRunner{err: domain.ErrRunInProgress}
	s, err := New(runner, Config{Spec: "@daily", Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = s.TriggerNow(context.Background())
	assert.True(t, errors.Is(err, domain.ErrRunInProgress))
}

func TestStart_RunOnStartup(t *testing.T) {
	runner := &stubRunner{ran: make(chan struct{}, 1)}
	s, err := New(runner, Config{Spec: "@daily", RunOnStartup: true, RunTimeout: time.Second, Logger: zerolog.Nop()})
	require.NoError(t, err)

	s.Start()
	defer s.Shutdown(time.Second)

	select {
	case <-runner.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a run on startup")
	}
}
