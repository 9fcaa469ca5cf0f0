// Package client implements the node-facing operations: raw get/put, the
// CHK-redirect transform for oversized non-CHK inserts, and the
// sequenced-key helpers, grounded on
// original_source/freenet.py's class node.
package client

import (
	"github.com/freenetgo/fcp/fcpconfig"
	"github.com/freenetgo/fcp/fcplog"
	"github.com/freenetgo/fcp/pacer"
	"github.com/freenetgo/fcp/session"
)

// Client is a configured handle to one FCP node. Safe for concurrent use;
// every operation borrows a Session from the pool for its own duration.
type Client struct {
	cfg   *fcpconfig.Config
	log   fcplog.Logger
	pool  *session.Pool
	pacer *pacer.Pacer

	// sskSuffix is copied from cfg.SSKSuffix at construction; it depends on
	// whether the node identifies as an "entropy" flavor.
	sskSuffix string
}

// New builds a Client from cfg. If cfg is nil, fcpconfig.New()'s defaults are
// used. log may be nil.
func New(cfg *fcpconfig.Config, log fcplog.Logger) *Client {
	if cfg == nil {
		cfg = fcpconfig.New()
	}
	if log == nil {
		log = fcplog.Discard()
	}
	return &Client{
		cfg:       cfg,
		log:       log,
		pool:      session.NewPool(cfg.MaxIdleConns, cfg.DialTimeout, log),
		pacer:     pacer.New(pacer.RetriesOption(3)),
		sskSuffix: cfg.SSKSuffix,
	}
}

// Addr returns the node's dial target.
func (c *Client) Addr() string {
	return session.Addr(c.cfg.Host, c.cfg.Port)
}

// AllowSplitfiles reports whether this client's configuration permits FEC
// splitfile encoding for large payloads (fcpconfig.Config.AllowSplitfiles).
func (c *Client) AllowSplitfiles() bool {
	return c.cfg.AllowSplitfiles
}

// Close releases pooled idle connections.
func (c *Client) Close() error {
	c.pool.CloseIdle()
	return nil
}

// htlOrDefault substitutes the configured default hops-to-live when htl<0.
func (c *Client) htlOrDefault(htl int) int {
	if htl < 0 {
		return c.cfg.HTL
	}
	return htl
}
