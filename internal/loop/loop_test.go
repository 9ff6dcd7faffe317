package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-jsbridge/internal/testutil"
)

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	r, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestLifecycle(t *testing.T) {
	r, err := New(context.Background())
	require.NoError(t, err)
	require.True(t, r.IsRunning())
	require.False(t, r.OnLoop())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.False(t, r.IsRunning())

	select {
	case <-r.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	assert.False(t, r.RunOnLoop(func(*goja.Runtime) {}))
	assert.ErrorIs(t, r.RunOnLoopSync(func(*goja.Runtime) error { return nil }), ErrNotRunning)
	assert.ErrorIs(t, r.TryRunOnLoopSync(func(*goja.Runtime) error { return nil }), ErrNotRunning)
	_, err = r.Schedule(time.Millisecond, func(*goja.Runtime) {})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestParentContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, err := New(ctx)
	require.NoError(t, err)
	cancel()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after parent cancel")
	}
	assert.False(t, r.IsRunning())
}

func TestInitRunsOnLoop(t *testing.T) {
	r := newRuntime(t, WithInit(func(vm *goja.Runtime) error {
		return vm.Set("answer", 42)
	}))
	var got int64
	require.NoError(t, r.RunOnLoopSync(func(vm *goja.Runtime) error {
		got = vm.Get("answer").ToInteger()
		return nil
	}))
	assert.Equal(t, int64(42), got)
}

func TestInitError(t *testing.T) {
	_, err := New(context.Background(), WithInit(func(*goja.Runtime) error {
		return errors.New("boom")
	}))
	require.ErrorContains(t, err, "boom")
}

func TestTryRunOnLoopSyncIsReentrant(t *testing.T) {
	r := newRuntime(t)
	var depth int
	err := r.RunOnLoopSync(func(vm *goja.Runtime) error {
		assert.True(t, r.OnLoop())
		return r.TryRunOnLoopSync(func(vm2 *goja.Runtime) error {
			assert.Same(t, vm, vm2)
			depth++
			return r.TryRunOnLoopSync(func(*goja.Runtime) error {
				depth++
				return nil
			})
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestRunOnLoopSyncTimeout(t *testing.T) {
	r := newRuntime(t, WithSyncTimeout(20*time.Millisecond))
	release := make(chan struct{})
	defer close(release)
	err := r.RunOnLoopSync(func(*goja.Runtime) error {
		<-release
		return nil
	})
	require.ErrorContains(t, err, "timed out")
}

func TestPanicBecomesError(t *testing.T) {
	r := newRuntime(t)
	err := r.RunOnLoopSync(func(*goja.Runtime) error { panic("kaboom") })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	// the loop survives
	require.NoError(t, r.RunOnLoopSync(func(*goja.Runtime) error { return nil }))
}

func TestJobHooks(t *testing.T) {
	r := newRuntime(t)
	var hooks atomic.Int32
	r.AddJobHook(func(*goja.Runtime) { hooks.Add(1) })

	require.NoError(t, r.RunOnLoopSync(func(vm *goja.Runtime) error {
		// inline calls are part of the outer job
		return r.TryRunOnLoopSync(func(*goja.Runtime) error { return nil })
	}))
	assert.Equal(t, int32(1), hooks.Load())

	done := make(chan struct{})
	require.True(t, r.RunOnLoop(func(*goja.Runtime) { close(done) }))
	<-done
	require.NoError(t, r.RunOnLoopSync(func(*goja.Runtime) error { return nil }))
	assert.Equal(t, int32(3), hooks.Load())
}

func TestScheduleAndCancel(t *testing.T) {
	r := newRuntime(t)
	fired := make(chan struct{}, 2)
	_, err := r.Schedule(-time.Second, func(*goja.Runtime) { fired <- struct{}{} })
	require.NoError(t, err)
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer with negative delay never fired")
	}

	tm, err := r.Schedule(50*time.Millisecond, func(*goja.Runtime) { fired <- struct{}{} })
	require.NoError(t, err)
	r.Cancel(tm)
	r.Cancel(tm)
	r.Cancel(nil)
	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRefWait(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.Wait(context.Background()))

	r.Ref()
	r.Ref()
	assert.Equal(t, 2, r.Refs())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Unref()
		r.Unref()
		// extra unrefs are ignored
		r.Unref()
	}()
	require.NoError(t, r.Wait(context.Background()))
	assert.Equal(t, 0, r.Refs())
}

func TestWaitStopsWithLoop(t *testing.T) {
	r, err := New(context.Background())
	require.NoError(t, err)
	r.Ref()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = r.Close()
	}()
	assert.ErrorIs(t, r.Wait(context.Background()), ErrStopped)
}

func TestWaitOnLoopIsRejected(t *testing.T) {
	r := newRuntime(t)
	err := r.RunOnLoopSync(func(*goja.Runtime) error {
		return r.Wait(context.Background())
	})
	require.Error(t, err)
}

func TestCloseFromLoop(t *testing.T) {
	r, err := New(context.Background())
	require.NoError(t, err)
	done := make(chan struct{})
	require.True(t, r.RunOnLoop(func(*goja.Runtime) {
		_ = r.Close()
		close(done)
	}))
	<-done
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("close from loop did not stop runtime")
	}
}

func TestRunOnLoopFromManyGoroutines(t *testing.T) {
	r := newRuntime(t)
	var n atomic.Int32
	for range 50 {
		go func() {
			assert.True(t, r.RunOnLoop(func(*goja.Runtime) {
				n.Add(1)
			}))
		}()
	}
	got, err := testutil.WaitForState(context.Background(), n.Load,
		func(n int32) bool { return n == 50 },
		testutil.DefaultTimeout, testutil.DefaultInterval)
	require.NoError(t, err)
	assert.Equal(t, int32(50), got)
}

func TestOnAnyLoop(t *testing.T) {
	a := newRuntime(t)
	b := newRuntime(t)
	assert.False(t, OnAnyLoop())

	var onA, onB, aOnB bool
	require.NoError(t, a.RunOnLoopSync(func(*goja.Runtime) error {
		onA = OnAnyLoop()
		return nil
	}))
	require.NoError(t, b.RunOnLoopSync(func(*goja.Runtime) error {
		onB = OnAnyLoop()
		aOnB = a.OnLoop()
		return nil
	}))
	assert.True(t, onA)
	assert.True(t, onB)
	assert.False(t, aOnB)
}
