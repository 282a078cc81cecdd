package engine

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestNewPool(t *testing.T) {
	pool := NewPool("test", 4)
	defer pool.Shutdown()

	if pool == nil {
		t.Fatal("NewPool returned nil")
	}

	stats := pool.GetStats()
	if stats.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", stats.Workers)
	}
	if stats.Name != "test" {
		t.Errorf("Expected name 'test', got %s", stats.Name)
	}
}

func TestNewPoolClampsWorkers(t *testing.T) {
	pool := NewPool("test", 0)
	defer pool.Shutdown()

	if pool.Workers() != 1 {
		t.Errorf("Expected 1 worker, got %d", pool.Workers())
	}
}

func TestPoolRun(t *testing.T) {
	pool := NewPool("test", 4)
	defer pool.Shutdown()

	var processed int64
	tasks := make([]*Task, 10)
	for i := range tasks {
		tasks[i] = &Task{ID: i, Lo: i * 10, Hi: i*10 + 10, Fn: func(lo, hi int) error {
			atomic.AddInt64(&processed, int64(hi-lo))
			return nil
		}}
	}

	if err := pool.Run(tasks); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := atomic.LoadInt64(&processed); got != 100 {
		t.Errorf("Expected 100 rows processed, got %d", got)
	}

	stats := pool.GetStats()
	if stats.Completed != 10 {
		t.Errorf("Expected 10 completed, got %d", stats.Completed)
	}
	if stats.SuccessRate != 100 {
		t.Errorf("Expected success rate 100, got %f", stats.SuccessRate)
	}
}

func TestPoolRunReportsLowestFailingTask(t *testing.T) {
	pool := NewPool("test", 4)
	defer pool.Shutdown()

	errLow := errors.New("low")
	errHigh := errors.New("high")

	tasks := []*Task{
		{ID: 0, Fn: func(lo, hi int) error { return nil }},
		{ID: 1, Fn: func(lo, hi int) error { return errLow }},
		{ID: 2, Fn: func(lo, hi int) error { return nil }},
		{ID: 3, Fn: func(lo, hi int) error { return errHigh }},
	}

	err := pool.Run(tasks)
	if !errors.Is(err, errLow) {
		t.Errorf("Expected error from task 1, got %v", err)
	}

	stats := pool.GetStats()
	if stats.Failed != 2 {
		t.Errorf("Expected 2 failed, got %d", stats.Failed)
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	pool := NewPool("test", 2)
	defer pool.Shutdown()

	tasks := []*Task{{ID: 0, Lo: 0, Hi: 1, Fn: func(lo, hi int) error {
		panic("boom")
	}}}

	err := pool.Run(tasks)
	if err == nil {
		t.Fatal("Expected error from panicking task")
	}

	// The pool keeps working after a panic.
	ok := []*Task{{ID: 0, Fn: func(lo, hi int) error { return nil }}}
	if err := pool.Run(ok); err != nil {
		t.Errorf("Pool should still run tasks after a panic: %v", err)
	}
}

func TestPoolMissingFunction(t *testing.T) {
	pool := NewPool("test", 1)
	defer pool.Shutdown()

	if err := pool.Run([]*Task{{ID: 0}}); err == nil {
		t.Error("Expected error for task without function")
	}
}

func TestPoolShutdown(t *testing.T) {
	pool := NewPool("test", 2)

	if !pool.IsRunning() {
		t.Error("Pool should be running")
	}

	pool.Shutdown()

	if pool.IsRunning() {
		t.Error("Pool should not be running after shutdown")
	}

	err := pool.Run([]*Task{{ID: 0, Fn: func(lo, hi int) error { return nil }}})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}

	// Second shutdown is a no-op.
	pool.Shutdown()
}

func BenchmarkPoolRun(b *testing.B) {
	pool := NewPool("bench", 8)
	defer pool.Shutdown()

	tasks := make([]*Task, 64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range tasks {
			tasks[j] = &Task{ID: j, Fn: func(lo, hi int) error { return nil }}
		}
		_ = pool.Run(tasks)
	}
}
