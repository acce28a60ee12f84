package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

type testService struct {
	BaseService
	stops int
	err   error
}

func (ts *testService) OnStart(context.Context) error { return ts.err }
func (ts *testService) OnStop()                       { ts.stops++ }

func newTestService() *testService {
	ts := &testService{}
	ts.BaseService = *NewBaseService(nil, "TestService", ts)
	return ts
}

func TestBaseServiceWait(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))
	require.True(t, ts.IsRunning())

	waitFinished := make(chan struct{})
	go func() {
		ts.Wait()
		close(waitFinished)
	}()

	go ts.Stop()

	select {
	case <-waitFinished:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected Wait() to finish within 100 ms.")
	}
	require.False(t, ts.IsRunning())
	require.Equal(t, 1, ts.stops)
}

func TestBaseServiceStopsOnContextCancel(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	ts := newTestService()
	require.NoError(t, ts.Start(ctx))

	cancel()
	select {
	case <-ts.Done():
	case <-time.After(time.Second):
		t.Fatal("service did not stop after context cancellation")
	}

	ts.Stop()
	require.Equal(t, 1, ts.stops)
	require.ErrorIs(t, ts.Start(context.Background()), ErrAlreadyStopped)
}

func TestBaseServiceStartTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))
	require.ErrorIs(t, ts.Start(ctx), ErrAlreadyStarted)
	ts.Stop()
}

func TestBaseServiceStartError(t *testing.T) {
	ts := newTestService()
	ts.err = errors.New("boom")
	require.Error(t, ts.Start(context.Background()))
	require.False(t, ts.IsRunning())
}
