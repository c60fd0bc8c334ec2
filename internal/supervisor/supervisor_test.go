package supervisor

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_StartsComponentsInOrderAndStopsInReverse(t *testing.T) {
	var order []string
	s := New(Config{CheckInterval: time.Hour}, nil, nil, nil, nil, zerolog.Nop())
	s.Register(Component{
		Name:  "a",
		Start: func(ctx context.Context) error { order = append(order, "start-a"); return nil },
		Stop:  func(ctx context.Context) error { order = append(order, "stop-a"); return nil },
	})
	s.Register(Component{
		Name:  "b",
		Start: func(ctx context.Context) error { order = append(order, "start-b"); return nil },
		Stop:  func(ctx context.Context) error { order = append(order, "stop-b"); return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	code := <-done
	assert.Equal(t, 2, code)
	assert.Equal(t, []string{"start-a", "start-b", "stop-b", "stop-a"}, order)
}

func TestRun_StartupFailureStopsStartedComponentsAndReturnsOne(t *testing.T) {
	var stopped int32
	s := New(Config{CheckInterval: time.Hour}, nil, nil, nil, nil, zerolog.Nop())
	s.Register(Component{
		Name:  "ok",
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { atomic.AddInt32(&stopped, 1); return nil },
	})
	s.Register(Component{
		Name:  "fails",
		Start: func(ctx context.Context) error { return assert.AnError },
		Stop:  func(ctx context.Context) error { return nil },
	})

	code := s.Run(context.Background())
	require.Equal(t, 1, code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stopped))
}

func TestCheck_UnhealthyWhenNoHealthyReadEndpoints(t *testing.T) {
	s := New(Config{MinHealthyReads: 1}, func() int { return 0 }, nil, nil, nil, zerolog.Nop())
	s.check()

	status := s.Status()
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Reasons, "no healthy read endpoints")
}

func TestCheck_HealthyWhenGaugesNotWired(t *testing.T) {
	s := New(Config{}, nil, nil, nil, nil, zerolog.Nop())
	s.check()

	status := s.Status()
	assert.True(t, status.Healthy)
}

func TestRun_SignalTriggersGracefulShutdown(t *testing.T) {
	s := New(Config{CheckInterval: time.Hour, ShutdownGrace: time.Second}, nil, nil, nil, nil, zerolog.Nop())
	var stopped bool
	s.Register(Component{
		Name:  "svc",
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { stopped = true; return nil },
	})

	done := make(chan int, 1)
	go func() { done <- s.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	code := <-done
	assert.Equal(t, 2, code)
	assert.True(t, stopped)
}
