package worker

import (
	contextPkg "VehicleCollector/pkg/context"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var ErrStopped = errors.New("dispatcher is shut down")

// Task is one fire-and-forget unit of work. Its context is detached from
// the request that created it.
type Task struct {
	ID  string
	Ctx context.Context
	Run func(ctx context.Context) error
}

type IDispatcher interface {
	Dispatch(task Task) error
	Shutdown(ctx context.Context) error
}

type dispatcher struct {
	log *logrus.Logger
	// nil when tasks are not bounded
	sem *semaphore.Weighted

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	stop context.CancelFunc
	base context.Context
}

// New returns a dispatcher that starts every task on its own goroutine.
// A positive limit caps how many tasks run at once; tasks over the limit
// wait for a slot, so their camera snapshot is taken late.
func New(log *logrus.Logger, limit int) IDispatcher {
	base, stop := context.WithCancel(context.Background())
	d := &dispatcher{
		log:  log,
		base: base,
		stop: stop,
	}
	if limit > 0 {
		d.sem = semaphore.NewWeighted(int64(limit))
	}
	return d
}

// Dispatch never blocks. With a limit, the spawned goroutine waits for a
// slot instead of the caller.
func (d *dispatcher) Dispatch(task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}

	ctx := task.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = contextPkg.WithTaskID(ctx, task.ID)

	d.wg.Add(1)
	go d.run(ctx, task)

	return nil
}

func (d *dispatcher) run(ctx context.Context, task Task) {
	defer d.wg.Done()

	fields := logrus.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"task_id":    contextPkg.GetTaskID(ctx),
	}

	if d.sem != nil {
		if err := d.sem.Acquire(d.base, 1); err != nil {
			d.log.WithFields(fields).Warn("Task dropped before start")
			return
		}
		defer d.sem.Release(1)
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(fields).WithFields(logrus.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Task panicked")
		}
	}()

	if err := task.Run(ctx); err != nil {
		d.log.WithFields(fields).WithField("error", err.Error()).Error("Task failed")
		return
	}

	d.log.WithFields(fields).Debug("Task finished")
}

// Shutdown stops accepting tasks and waits for running ones. Tasks still
// waiting for a slot when ctx expires are dropped.
func (d *dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		return ctx.Err()
	}
}
