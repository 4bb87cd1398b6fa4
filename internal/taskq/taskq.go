// Package taskq implements the bounded worker pool that executes queued
// device I/O off the submission thread.
package taskq

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is one unit of asynchronous work.
type Task func()

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of pre-populated worker goroutines.
	// Zero means one worker per CPU.
	Workers int

	// Backlog is the bounded task backlog. Zero selects the default.
	// Submission blocks while the backlog is full; tasks are never
	// rejected or dropped.
	Backlog int
}

// Queue is a fixed-size worker pool with a bounded, blocking backlog.
// It is created once by the process-wide orchestrator and passed into each
// device instance; it is independent of any single device's lifetime.
type Queue struct {
	tasks   chan Task
	workers int
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// DefaultBacklog is the backlog used when Config.Backlog is zero.
const DefaultBacklog = 128

// New creates a queue. Workers are not started until Start is called.
func New(config Config) *Queue {
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	backlog := config.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	return &Queue{
		tasks:   make(chan Task, backlog),
		workers: workers,
	}
}

// Start pre-populates the worker set. Starting twice is a programming error.
func (q *Queue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		panic("taskq: queue started twice")
	}

	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go q.run()
	}
}

// Submit enqueues a task for asynchronous execution on a worker. If no
// backlog slot is free, Submit blocks until capacity exists; the task is
// guaranteed to be enqueued. Execution order relative to other tasks is not
// guaranteed.
//
// Submitting before Start or after Stop is a programming error.
func (q *Queue) Submit(t Task) {
	if !q.started.Load() || q.stopped.Load() {
		panic("taskq: submit on inactive queue")
	}
	q.tasks <- t
}

// Stop stops accepting new tasks and waits for in-flight and backlogged
// tasks to finish. Safe to call exactly once at subsystem teardown.
func (q *Queue) Stop() {
	if !q.stopped.CompareAndSwap(false, true) {
		panic("taskq: queue stopped twice")
	}
	close(q.tasks)
	q.wg.Wait()
}

// Workers returns the size of the worker set.
func (q *Queue) Workers() int {
	return q.workers
}

// Backlog returns the number of tasks currently waiting for a worker.
func (q *Queue) Backlog() int {
	return len(q.tasks)
}

func (q *Queue) run() {
	defer q.wg.Done()
	for t := range q.tasks {
		t()
	}
}
