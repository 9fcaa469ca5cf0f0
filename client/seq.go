package client

import (
	"context"
	"errors"
	"strconv"

	"github.com/freenetgo/fcp/errs"
	"github.com/freenetgo/fcp/fcpkey"
	"github.com/freenetgo/fcp/metadata"
	"github.com/freenetgo/fcp/uri"
)

// withSeq returns a copy of base with seq appended, in decimal, as a plain
// string suffix onto the raw key prefix, mirroring
// original_source/freenet.py's node.getseq (keyprefix+str(startnum+trynum)):
// a KSK's prefix is its keyword hash itself, so "q-"+"17" -> "q-17"; an
// SSK/SVK's prefix is its subspace path, joined with "/" the way a site name
// and edition number compose a path, so "name"+"/"+"15" -> "name/15".
func withSeq(base uri.URI, seq int64) uri.URI {
	u := base
	suffix := strconv.FormatInt(seq, 10)
	switch u.Type {
	case uri.SSK, uri.SVK:
		if u.SSKPath != "" {
			u.SSKPath = u.SSKPath + "/" + suffix
		} else {
			u.SSKPath = suffix
		}
	default:
		u.Hash = u.Hash + suffix
	}
	return u
}

// GetSeq attempts base's sequence numbers startSeq, startSeq+1, ...,
// startSeq+maxTries-1 in order and returns the first one that succeeds,
// swallowing ErrDataNotFound/ErrRouteNotFound at any gap along the way so a
// later, present slot is still reachable even when earlier ones are empty
// (e.g. only KSK@q-17 present, GetSeq(KSK@q-, 15, 5) must still find it).
//
// Grounded on original_source/freenet.py's node.getseq.
func (c *Client) GetSeq(ctx context.Context, base uri.URI, startSeq int64, maxTries int, htl int) (*fcpkey.Key, int64, error) {
	for i := 0; i < maxTries; i++ {
		seq := startSeq + int64(i)
		key, err := c.GetRaw(ctx, withSeq(base, seq), htl)
		if err != nil {
			if errors.Is(err, errs.ErrDataNotFound) || errors.Is(err, errs.ErrRouteNotFound) {
				continue
			}
			return nil, 0, err
		}
		return key, seq, nil
	}
	return nil, 0, errs.Wrapf(errs.ErrSequenceExhausted, "no data found in %d slots from sequence %d", maxTries, startSeq)
}

// PutSeq walks base's sequence numbers upward from startSeq, inserting
// payload/meta at the first slot that succeeds, swallowing KeyCollision and
// ErrRouteNotFound at any occupied/unroutable slot along the way. Returns the
// inserted Key and the sequence number used.
//
// Grounded on the same edition-walking logic in class site.put(), which
// retries PutRaw at successive editions while the node reports
// FreenetKeyCollision and gives up after editionMaxTries attempts
// (ErrEditionsExhausted here caps what was an unbounded retry loop at a
// fixed maximum).
func (c *Client) PutSeq(ctx context.Context, base uri.URI, startSeq int64, maxTries int, payload []byte, meta *metadata.Metadata, htl int) (*fcpkey.Key, int64, error) {
	for i := 0; i < maxTries; i++ {
		seq := startSeq + int64(i)
		key, err := c.PutRaw(ctx, withSeq(base, seq), payload, meta, htl)
		if err == nil {
			return key, seq, nil
		}
		var collision *errs.KeyCollision
		if errors.As(err, &collision) || errors.Is(err, errs.ErrRouteNotFound) {
			continue
		}
		return nil, 0, err
	}
	return nil, 0, errs.Wrapf(errs.ErrEditionsExhausted, "exhausted %d sequence slots from %d", maxTries, startSeq)
}
