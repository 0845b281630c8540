package jsloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCallRunsOnLoop(t *testing.T) {
	l := New()
	defer l.Stop()

	var got int64
	err := l.Call(context.Background(), func(rt *goja.Runtime) error {
		v, err := rt.RunString("6 * 7")
		if err != nil {
			return err
		}
		got = v.ToInteger()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestCallReturnsErrorsAndPanics(t *testing.T) {
	l := New()
	defer l.Stop()

	boom := errors.New("boom")
	err := l.Call(context.Background(), func(*goja.Runtime) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = l.Call(context.Background(), func(*goja.Runtime) error { panic("bad") })
	assert.ErrorContains(t, err, "panic on loop")
}

func TestAsyncContinuationRunsOnLoop(t *testing.T) {
	l := New()
	defer l.Stop()

	require.NoError(t, l.Call(context.Background(), func(rt *goja.Runtime) error {
		return rt.Set("result", 0)
	}))

	l.Async(func(ctx context.Context) func(*goja.Runtime) {
		time.Sleep(10 * time.Millisecond)
		return func(rt *goja.Runtime) {
			_ = rt.Set("result", 7)
		}
	})
	assert.Equal(t, 1, l.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitIdle(ctx))
	assert.Zero(t, l.Pending())

	var got int64
	require.NoError(t, l.Call(ctx, func(rt *goja.Runtime) error {
		got = rt.Get("result").ToInteger()
		return nil
	}))
	assert.Equal(t, int64(7), got)
}

func TestSetTimeoutIsTracked(t *testing.T) {
	l := New()
	defer l.Stop()

	fired := make(chan struct{})
	require.NoError(t, l.Call(context.Background(), func(*goja.Runtime) error {
		l.SetTimeout(5*time.Millisecond, func(*goja.Runtime) { close(fired) })
		return nil
	}))
	assert.Equal(t, 1, l.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitIdle(ctx))

	select {
	case <-fired:
	default:
		t.Fatal("timer did not fire before idle")
	}
}

func TestClearTimeoutReleasesPending(t *testing.T) {
	l := New()
	defer l.Stop()

	require.NoError(t, l.Call(context.Background(), func(*goja.Runtime) error {
		timer := l.SetTimeout(time.Hour, func(*goja.Runtime) { t.Error("cleared timer fired") })
		l.ClearTimeout(timer)
		l.ClearTimeout(timer)
		l.ClearTimeout(nil)
		return nil
	}))
	assert.Zero(t, l.Pending())
}

func TestWaitIdleHonoursContext(t *testing.T) {
	l := New()
	defer l.Stop()

	done := l.Track()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestScheduleCountsUntilRun(t *testing.T) {
	l := New()
	defer l.Stop()

	ran := make(chan struct{})
	l.Schedule(func(*goja.Runtime) { close(ran) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitIdle(ctx))
	<-ran
	assert.Zero(t, l.Pending())
}

func TestStop(t *testing.T) {
	l := New()
	l.Stop()
	l.Stop()

	assert.ErrorIs(t, l.Call(context.Background(), func(*goja.Runtime) error { return nil }), ErrStopped)
	assert.Error(t, l.Context().Err())
	assert.NoError(t, l.WaitIdle(context.Background()))

	l.Post(func(*goja.Runtime) { t.Error("posted after stop") })
	l.Schedule(func(*goja.Runtime) { t.Error("scheduled after stop") })
}

func TestInterruptAbortsRunningScript(t *testing.T) {
	l := New()
	defer l.Stop()

	started := make(chan struct{})
	go func() {
		<-started
		time.Sleep(10 * time.Millisecond)
		l.Interrupt("too slow")
	}()

	err := l.Call(context.Background(), func(rt *goja.Runtime) error {
		close(started)
		_, err := rt.RunString("for (;;) {}")
		return err
	})
	var interrupted *goja.InterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.Equal(t, "too slow", interrupted.Value())

	require.NoError(t, l.Call(context.Background(), func(rt *goja.Runtime) error {
		l.ClearInterrupt()
		_, err := rt.RunString("1 + 1")
		return err
	}))
}
