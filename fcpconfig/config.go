// Package fcpconfig holds the typed configuration this client needs, in
// place of the process-global defaults original_source/freenet.py carries
// (defaultHost, defaultPort, defaultHtl, ...).
package fcpconfig

import "time"

// Defaults mirror original_source/freenet.py's module-level constants.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8481
	DefaultHTL             = 15
	DefaultMaxSiteThreads  = 8
	DefaultAllowSplitfiles = true
	DefaultDialTimeout     = 30 * time.Second
	DefaultMaxIdleConns    = 4
	DefaultSSKSuffix       = "PAgM"
	EntropySSKSuffix       = "BCMA"
)

// Config is constructed once by the caller and threaded through Client, Site
// and the FEC engine; struct tags follow backend/sftp.go's Options
// convention even though this module has no multi-backend registry to read
// them reflectively -- they document the on-the-wire/CLI-facing name a host
// application would expose for each knob.
type Config struct {
	Host string `config:"host"`
	Port int    `config:"port"`

	// HTL is the default hops-to-live for operations that don't specify one.
	HTL int `config:"htl"`

	// MaxSiteThreads bounds parallel file inserts in the site composer.
	MaxSiteThreads int `config:"max_site_threads"`

	// AllowSplitfiles enables FEC splitfile encoding for large payloads.
	AllowSplitfiles bool `config:"allow_splitfiles"`

	// DialTimeout bounds the TCP connect phase of a new pooled connection.
	DialTimeout time.Duration `config:"dial_timeout"`

	// MaxIdleConns bounds how many idle connections the pool retains per
	// host:port.
	MaxIdleConns int `config:"max_idle_conns"`

	// SSKSuffix is the pub_suffix attached to freshly-generated SSK keys;
	// normally left at DefaultSSKSuffix unless talking to an "entropy"-flavor
	// node.
	SSKSuffix string `config:"ssk_suffix"`
}

// New returns a Config populated with the documented defaults.
func New() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		HTL:             DefaultHTL,
		MaxSiteThreads:  DefaultMaxSiteThreads,
		AllowSplitfiles: DefaultAllowSplitfiles,
		DialTimeout:     DefaultDialTimeout,
		MaxIdleConns:    DefaultMaxIdleConns,
		SSKSuffix:       DefaultSSKSuffix,
	}
}
