package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned when work is submitted to a pool that was shut down.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is one contiguous chunk [Lo, Hi) of a kernel input.
type Task struct {
	ID int
	Lo int
	Hi int
	Fn func(lo, hi int) error

	done chan<- *Result
}

// Result is the outcome of one Task.
type Result struct {
	TaskID   int
	Success  bool
	Error    error
	Duration time.Duration
	WorkerID int
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// Pool is a fixed set of goroutines executing chunk tasks.
//
// Chunk functions run on pool goroutines and must not submit work to the
// same pool, otherwise a full pool can wait on itself.
type Pool struct {
	name     string
	workers  int
	taskChan chan *Task
	wg       sync.WaitGroup

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64

	running bool
	mu      sync.RWMutex
}

// NewPool creates a pool with the given number of workers and starts them.
func NewPool(name string, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	pool := &Pool{
		name:     name,
		workers:  workers,
		taskChan: make(chan *Task, workers*4),
		running:  true,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	return pool
}

// worker drains the task channel until it is closed.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.taskChan {
		p.processTask(id, task)
	}
}

// processTask executes a single task and reports its result.
func (p *Pool) processTask(workerID int, task *Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()

	result := &Result{
		TaskID:   task.ID,
		WorkerID: workerID,
	}

	// A panicking kernel must not take the pool down with it.
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Errorf("panic in chunk [%d, %d): %s", task.Lo, task.Hi, panicToString(r))
		}
		result.Duration = time.Since(start)
		if result.Success {
			atomic.AddInt64(&p.completed, 1)
		} else {
			atomic.AddInt64(&p.failed, 1)
		}
		if task.done != nil {
			task.done <- result
		}
	}()

	if task.Fn == nil {
		result.Error = errors.New("no chunk function defined")
		return
	}

	result.Error = task.Fn(task.Lo, task.Hi)
	result.Success = result.Error == nil
}

// callChunk runs fn over [lo, hi) and turns a panic into an error.
func callChunk(fn func(lo, hi int) error, lo, hi int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in chunk [%d, %d): %s", lo, hi, panicToString(r))
		}
	}()
	return fn(lo, hi)
}

// panicToString converts a recovered panic value to a string.
func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Run executes all tasks and blocks until every one has finished.
// The returned error is the failure of the lowest task ID, so the reported
// error does not depend on scheduling.
func (p *Pool) Run(tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}

	done := make(chan *Result, len(tasks))
	submitted := 0

	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	for _, task := range tasks {
		task.done = done
		p.taskChan <- task
		submitted++
	}
	p.mu.RUnlock()

	errs := make(map[int]error)
	for i := 0; i < submitted; i++ {
		result := <-done
		if !result.Success {
			errs[result.TaskID] = result.Error
		}
	}

	if len(errs) == 0 {
		return nil
	}
	first := -1
	for id := range errs {
		if first < 0 || id < first {
			first = id
		}
	}
	return errs[first]
}

// GetStats returns current worker pool statistics.
func (p *Pool) GetStats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Shutdown stops accepting work, lets queued tasks finish and waits for the workers.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.taskChan)
	p.mu.Unlock()

	p.wg.Wait()
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
