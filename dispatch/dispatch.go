// Package dispatch implements a bounded worker pool with a job queue and a
// completion barrier, grounded on original_source/freenet.py's class
// Dispatcher. Unlike the original's Queue.Queue+threading.Semaphore, this
// version uses a job channel, a buffered semaphore channel, and an atomic
// in-flight counter with a completion channel instead of shared mutable
// counters guarded by a lock.
package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/freenetgo/fcp/fcplog"
)

// Func is invoked once per job by a worker goroutine. d gives the function
// access to fields the caller attached to the Dispatcher (mirroring the
// original's "func(dispObj, *args)" convention); job is whatever value was
// passed to Add.
type Func func(d *Dispatcher, job interface{})

// Dispatcher is a bounded worker pool. Create with New, feed with Add, launch
// with Start, and block for completion with Wait.
type Dispatcher struct {
	// Shared is available for callers to attach dispatcher-global state that
	// every job's Func can read, mirroring the original's practice of
	// setting arbitrary attributes on the dispatcher object itself.
	Shared interface{}

	fn     Func
	log    fcplog.Logger
	jobs   chan interface{}
	sem    chan struct{}
	done   chan struct{}
	quit   chan struct{}
	running int64

	quitOnce sync.Once
	doneOnce sync.Once
}

// New builds a Dispatcher that runs fn in up to maxWorkers concurrent
// goroutines. log may be nil (defaults to a discard logger).
func New(fn Func, maxWorkers int, log fcplog.Logger) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if log == nil {
		log = fcplog.Discard()
	}
	return &Dispatcher{
		fn:   fn,
		log:  log,
		jobs: make(chan interface{}, 1024),
		sem:  make(chan struct{}, maxWorkers),
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
}

// Add enqueues a job. Safe to call before or after Start.
func (d *Dispatcher) Add(job interface{}) {
	d.jobs <- job
}

// Start launches the engine goroutine that pulls jobs and spawns workers.
func (d *Dispatcher) Start() {
	go d.engine()
}

func (d *Dispatcher) engine() {
	var wg sync.WaitGroup
	for {
		select {
		case job, ok := <-d.jobs:
			if !ok {
				wg.Wait()
				d.finish()
				return
			}
			select {
			case d.sem <- struct{}{}:
			case <-d.quit:
				d.finish()
				return
			}
			atomic.AddInt64(&d.running, 1)
			wg.Add(1)
			go d.worker(&wg, job)
		case <-d.quit:
			d.finish()
			return
		}
	}
}

func (d *Dispatcher) worker(wg *sync.WaitGroup, job interface{}) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("dispatcher worker panicked: %v", r)
		}
		<-d.sem
		atomic.AddInt64(&d.running, -1)
	}()
	d.fn(d, job)
}

func (d *Dispatcher) finish() {
	d.doneOnce.Do(func() { close(d.done) })
}

// Wait enqueues the sentinel close of the job channel and blocks until every
// dispatched job has completed.
func (d *Dispatcher) Wait() {
	close(d.jobs)
	<-d.done
}

// Quit forces any blocked Wait to return immediately without waiting for
// in-flight jobs, used when a terminal condition makes further work moot.
func (d *Dispatcher) Quit() {
	d.quitOnce.Do(func() { close(d.quit) })
	<-d.done
}

// Running returns the current number of in-flight workers.
func (d *Dispatcher) Running() int {
	return int(atomic.LoadInt64(&d.running))
}
