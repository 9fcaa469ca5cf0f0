// Package pacer implements a backoff/rate-limit helper for retried network
// calls, reconstructed from the shape asserted by lib/pacer/pacer_test.go and
// tokens_test.go and the call-site idiom seen in backend/b2/upload.go
// (up.f.pacer.Call(func() (bool, error) { ... })).
package pacer

import (
	"sync"
	"time"
)

// State is the mutable backoff state a Calculator adjusts on every call.
type State struct {
	SleepTime          time.Duration
	ConsecutiveRetries int
}

// Calculator computes the next sleep duration given the current state.
type Calculator interface {
	Calculate(state State) time.Duration
}

// Default is the exponential decay/attack calculator used unless the caller
// supplies another Calculator.
type Default struct {
	minSleep       time.Duration
	maxSleep       time.Duration
	decayConstant  uint
	attackConstant uint
}

// Option configures a Pacer or a Default calculator.
type Option func(*options)

type options struct {
	minSleep       time.Duration
	maxSleep       time.Duration
	decayConstant  uint
	attackConstant uint
	retries        int
	maxConnections int
}

func defaultOptions() options {
	return options{
		minSleep:       10 * time.Millisecond,
		maxSleep:       2 * time.Second,
		decayConstant:  2,
		attackConstant: 1,
		retries:        3,
		maxConnections: 0,
	}
}

// MinSleep sets the floor sleep duration.
func MinSleep(d time.Duration) Option { return func(o *options) { o.minSleep = d } }

// MaxSleep sets the ceiling sleep duration.
func MaxSleep(d time.Duration) Option { return func(o *options) { o.maxSleep = d } }

// DecayConstant sets the divisor used to relax sleep time after a success.
func DecayConstant(c uint) Option { return func(o *options) { o.decayConstant = c } }

// AttackConstant sets the multiplier used to grow sleep time after a retry.
func AttackConstant(c uint) Option { return func(o *options) { o.attackConstant = c } }

// RetriesOption sets how many times Call retries a failing function.
func RetriesOption(n int) Option { return func(o *options) { o.retries = n } }

// MaxConnectionsOption bounds concurrent in-flight calls through this Pacer;
// 0 (the default) means unbounded.
func MaxConnectionsOption(n int) Option { return func(o *options) { o.maxConnections = n } }

// NewDefault builds a *Default calculator from the given options.
func NewDefault(opts ...Option) *Default {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Default{
		minSleep:       o.minSleep,
		maxSleep:       o.maxSleep,
		decayConstant:  o.decayConstant,
		attackConstant: o.attackConstant,
	}
}

// Calculate implements Calculator: on a run with no consecutive retries the
// sleep time decays toward minSleep; otherwise it grows toward maxSleep.
func (d *Default) Calculate(state State) time.Duration {
	sleepTime := state.SleepTime
	if state.ConsecutiveRetries == 0 {
		if d.decayConstant == 0 {
			sleepTime = d.minSleep
		} else {
			sleepTime = sleepTime - sleepTime/time.Duration(d.decayConstant)
		}
	} else {
		if d.attackConstant == 0 {
			sleepTime = d.maxSleep
		} else {
			sleepTime = sleepTime + sleepTime/time.Duration(d.attackConstant)
		}
	}
	if sleepTime < d.minSleep {
		sleepTime = d.minSleep
	}
	if sleepTime > d.maxSleep {
		sleepTime = d.maxSleep
	}
	return sleepTime
}

// Pacer gates retried calls behind a single-flight token and an optional
// connection-count token bucket, growing/shrinking its sleep interval via a
// Calculator.
type Pacer struct {
	mu             sync.Mutex
	calculator     Calculator
	retries        int
	pacer          chan struct{}
	maxConnections int
	connTokens     chan struct{}
	state          State
}

// New builds a Pacer with the Default calculator unless overridden.
func New(opts ...Option) *Pacer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Default{
		minSleep:       o.minSleep,
		maxSleep:       o.maxSleep,
		decayConstant:  o.decayConstant,
		attackConstant: o.attackConstant,
	}
	p := &Pacer{
		calculator:     d,
		retries:        o.retries,
		pacer:          make(chan struct{}, 1),
		maxConnections: o.maxConnections,
		state:          State{SleepTime: d.minSleep},
	}
	p.pacer <- struct{}{}
	if o.maxConnections > 0 {
		p.connTokens = make(chan struct{}, o.maxConnections)
		for i := 0; i < o.maxConnections; i++ {
			p.connTokens <- struct{}{}
		}
	}
	return p
}

// SetMaxConnections changes the connection token bucket size; 0 disables it.
func (p *Pacer) SetMaxConnections(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxConnections = n
	if n <= 0 {
		p.connTokens = nil
		return
	}
	p.connTokens = make(chan struct{}, n)
	for i := 0; i < n; i++ {
		p.connTokens <- struct{}{}
	}
}

// SetRetries changes how many times Call retries before giving up.
func (p *Pacer) SetRetries(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = n
}

// beginCall acquires the single-flight pacer token and, if configured, a
// connection token, sleeping first if the previous call asked for backoff.
func (p *Pacer) beginCall() {
	<-p.pacer
	p.mu.Lock()
	sleep := p.state.SleepTime
	backoff := p.state.ConsecutiveRetries > 0
	p.mu.Unlock()
	if backoff && sleep > 0 {
		time.Sleep(sleep)
	}
	if p.connTokens != nil {
		<-p.connTokens
	}
}

func (p *Pacer) endCall(retry bool) {
	p.mu.Lock()
	if retry {
		p.state.ConsecutiveRetries++
	} else {
		p.state.ConsecutiveRetries = 0
	}
	p.state.SleepTime = p.calculator.Calculate(p.state)
	p.mu.Unlock()
	if p.connTokens != nil {
		p.connTokens <- struct{}{}
	}
	p.pacer <- struct{}{}
}

// Call invokes fn, retrying while fn reports retry=true, up to p.retries
// attempts (0 means retry forever -- used by the site file-insert retry
// loop). The pacer's sleep interval is applied before
// every attempt after the first.
func (p *Pacer) Call(fn func() (bool, error)) error {
	var err error
	for attempt := 0; p.retries == 0 || attempt < p.retries; attempt++ {
		p.beginCall()
		var retry bool
		retry, err = fn()
		p.endCall(retry)
		if !retry {
			return err
		}
	}
	return err
}

// CallNoRetry runs fn exactly once through the pacer's throttling, without
// the retry loop -- useful for calls whose retry policy is driven externally
// (e.g. the resolver's numtries loop).
func (p *Pacer) CallNoRetry(fn func() error) error {
	p.beginCall()
	err := fn()
	p.endCall(err != nil)
	return err
}
