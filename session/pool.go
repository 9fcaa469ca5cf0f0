package session

import (
	"context"
	"sync"
	"time"

	"github.com/freenetgo/fcp/fcplog"
)

// Pool is a bounded idle-connection cache keyed by host:port, grounded on
// backend/sftp/sftp.go's pool []*conn / poolMu sync.Mutex idiom: Get pops a
// cached Session if one is idle, otherwise dials fresh; Put pushes a
// still-usable Session back unless the cache is already at maxIdle.
type Pool struct {
	mu      sync.Mutex
	idle    map[string][]*Session
	maxIdle int
	timeout time.Duration
	log     fcplog.Logger
}

// NewPool builds a Pool that dials with the given timeout and retains up to
// maxIdle idle connections per address.
func NewPool(maxIdle int, timeout time.Duration, log fcplog.Logger) *Pool {
	if log == nil {
		log = fcplog.Discard()
	}
	return &Pool{
		idle:    map[string][]*Session{},
		maxIdle: maxIdle,
		timeout: timeout,
		log:     log,
	}
}

// Get returns an idle Session for addr if one is cached, otherwise dials a
// new one. Operations that complete cleanly hand their Session back via Put,
// so later Gets reuse those connections.
func (p *Pool) Get(ctx context.Context, addr string) (*Session, error) {
	p.mu.Lock()
	if list := p.idle[addr]; len(list) > 0 {
		s := list[len(list)-1]
		p.idle[addr] = list[:len(list)-1]
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()
	return Dial(ctx, addr, p.timeout, p.log)
}

// Put returns s to the idle cache for addr, closing it instead if the cache
// is already full.
func (p *Pool) Put(addr string, s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle[addr]) >= p.maxIdle {
		_ = s.Close()
		return
	}
	p.idle[addr] = append(p.idle[addr], s)
}

// Discard closes s without returning it to the cache, used after a
// protocol-level error where the connection's state is no longer trustworthy.
func (p *Pool) Discard(s *Session) {
	_ = s.Close()
}

// CloseIdle closes every cached idle connection, used at shutdown.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, list := range p.idle {
		for _, s := range list {
			_ = s.Close()
		}
		delete(p.idle, addr)
	}
}
