package worker

import (
	contextPkg "VehicleCollector/pkg/context"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_RunsTask(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := New(logger, 2)

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "req-1")

	got := make(chan any, 1)
	require.NoError(t, d.Dispatch(Task{ID: "t1", Ctx: ctx, Run: func(ctx context.Context) error {
		got <- ctx.Value(key{})
		return nil
	}}))

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, "req-1", <-got)
}

func TestDispatch_SlowTasksDoNotDelayOthers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := New(logger, 0)

	release := make(chan struct{})
	for i := 0; i < 8; i++ {
		require.NoError(t, d.Dispatch(Task{ID: "slow", Run: func(context.Context) error {
			<-release
			return nil
		}}))
	}

	started := make(chan struct{})
	require.NoError(t, d.Dispatch(Task{ID: "other", Run: func(context.Context) error {
		close(started)
		return nil
	}}))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task waited for unrelated slow tasks")
	}

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatch_CarriesTaskAndRequestID(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := New(logger, 0)

	ctx := contextPkg.WithRequestID(context.Background(), "req-9")
	got := make(chan string, 1)
	require.NoError(t, d.Dispatch(Task{ID: "task-9", Ctx: ctx, Run: func(ctx context.Context) error {
		got <- contextPkg.GetTaskID(ctx)
		return errors.New("camera offline")
	}}))

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, "task-9", <-got)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Task failed", entry.Message)
	assert.Equal(t, "req-9", entry.Data["request_id"])
	assert.Equal(t, "task-9", entry.Data["task_id"])
}

func TestDispatch_BoundsConcurrency(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := New(logger, 2)

	var running, peak int32
	var once sync.Once
	release := make(chan struct{})

	for i := 0; i < 6; i++ {
		require.NoError(t, d.Dispatch(Task{ID: "t", Run: func(context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		}}))
	}

	time.Sleep(50 * time.Millisecond)
	once.Do(func() { close(release) })

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestDispatch_LogsFailureAndPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := New(logger, 1)

	require.NoError(t, d.Dispatch(Task{ID: "failing", Run: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, d.Dispatch(Task{ID: "panicking", Run: func(context.Context) error {
		panic("unexpected")
	}}))

	require.NoError(t, d.Shutdown(context.Background()))

	var messages []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			messages = append(messages, e.Message)
		}
	}
	assert.ElementsMatch(t, []string{"Task failed", "Task panicked"}, messages)
}

func TestDispatch_AfterShutdown(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := New(logger, 1)

	require.NoError(t, d.Shutdown(context.Background()))

	err := d.Dispatch(Task{ID: "late", Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrStopped)
}

func TestShutdown_Timeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := New(logger, 1)

	release := make(chan struct{})
	defer close(release)

	require.NoError(t, d.Dispatch(Task{ID: "slow", Run: func(context.Context) error {
		<-release
		return nil
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
}
