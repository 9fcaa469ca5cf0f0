// Package fcpkey defines the immutable result of a get/put operation: the
// payload bytes, the parsed metadata (if any), the key's own URI and an
// effective mimetype, grounded on original_source/freenet.py's class key.
package fcpkey

import (
	"github.com/freenetgo/fcp/metadata"
	"github.com/freenetgo/fcp/uri"
)

// Key is the value produced by every get/put in this module. Payload may be
// empty for pure redirect keys; Metadata may be nil for a raw data blob.
type Key struct {
	Payload  []byte
	Metadata *metadata.Metadata
	URI      uri.URI
	MimeType string

	// Pub and Priv are populated for SSK inserts where the node reports the
	// generated or used keypair.
	Pub  string
	Priv string
}

// New builds a Key, defaulting MimeType to "text/plain" when unset.
func New(payload []byte, meta *metadata.Metadata, u uri.URI, mimetype string) *Key {
	if mimetype == "" {
		mimetype = "text/plain"
	}
	return &Key{Payload: payload, Metadata: meta, URI: u, MimeType: mimetype}
}

// HasMetadata reports whether this key carries a non-empty metadata map,
// i.e. whether the resolver should chase further redirects.
func (k *Key) HasMetadata() bool {
	return !k.Metadata.IsEmpty()
}
