package client

import (
	"context"

	"github.com/freenetgo/fcp/fcpkey"
	"github.com/freenetgo/fcp/metadata"
	"github.com/freenetgo/fcp/uri"
)

// chkRedirectThreshold is the payload size at or above which Put inserts the data
// under a CHK and instead writes a small Redirect metadata document at the
// caller's requested uri, since KSK/SSK inserts of arbitrarily large data are
// expensive to route directly. Grounded on original_source/freenet.py's
// node._put, which applies the same transform once metadata+data exceeds a
// few tens of kilobytes.
const chkRedirectThreshold = 32 * 1024

// Put inserts payload at u. For a CHK uri this is a direct PutRaw. For a
// KSK/SSK uri with a payload at or above chkRedirectThreshold, the payload is
// first inserted under its own CHK and a Redirect document pointing at that
// CHK is written to u instead.
func (c *Client) Put(ctx context.Context, u uri.URI, payload []byte, mimetype string, htl int) (*fcpkey.Key, error) {
	if u.Type != uri.CHK && len(payload) >= chkRedirectThreshold {
		chkURI, err := c.GenCHK(ctx, payload, nil)
		if err != nil {
			return nil, err
		}
		if _, err := c.PutRaw(ctx, chkURI, payload, nil, htl); err != nil {
			return nil, err
		}
		m := metadata.New()
		m.AddRedirect("", chkURI, mimetype)
		return c.PutRaw(ctx, u, nil, m, htl)
	}
	return c.PutRaw(ctx, u, payload, nil, htl)
}
