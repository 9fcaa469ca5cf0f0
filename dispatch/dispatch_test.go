package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherRunsAllJobs(t *testing.T) {
	var count int64
	d := New(func(d *Dispatcher, job interface{}) {
		atomic.AddInt64(&count, job.(int64))
	}, 4, nil)
	d.Start()
	for i := int64(1); i <= 10; i++ {
		d.Add(i)
	}
	d.Wait()
	assert.Equal(t, int64(55), atomic.LoadInt64(&count))
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	current := 0
	maxSeen := 0
	d := New(func(d *Dispatcher, job interface{}) {
		mu.Lock()
		current++
		if current > maxSeen {
			maxSeen = current
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
	}, 2, nil)
	d.Start()
	for i := 0; i < 8; i++ {
		d.Add(i)
	}
	d.Wait()
	assert.LessOrEqual(t, maxSeen, 2)
}

func TestDispatcherRecoversPanics(t *testing.T) {
	var completed int64
	d := New(func(d *Dispatcher, job interface{}) {
		defer atomic.AddInt64(&completed, 1)
		if job.(int) == 0 {
			panic("boom")
		}
	}, 2, nil)
	d.Start()
	d.Add(0)
	d.Add(1)
	d.Wait()
	assert.Equal(t, int64(2), atomic.LoadInt64(&completed))
}

func TestDispatcherQuit(t *testing.T) {
	d := New(func(d *Dispatcher, job interface{}) {
		time.Sleep(50 * time.Millisecond)
	}, 1, nil)
	d.Start()
	d.Add(1)
	d.Add(2)
	d.Add(3)
	time.Sleep(5 * time.Millisecond)
	d.Quit()
}
