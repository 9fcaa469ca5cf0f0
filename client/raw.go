package client

import (
	"bytes"
	"context"
	"errors"
	"strconv"

	"github.com/freenetgo/fcp/errs"
	"github.com/freenetgo/fcp/fcpkey"
	"github.com/freenetgo/fcp/metadata"
	"github.com/freenetgo/fcp/session"
	"github.com/freenetgo/fcp/uri"
)

// GetRaw fetches exactly the key named by u with no redirect-chasing, per
//   htl<0 uses the client's configured default.
//
// Grounded on original_source/freenet.py's node._getraw: ClientGet is sent,
// the response header is read field-by-field up to EndMessage, and the
// payload is split into a leading Metadata.Length-byte metadata blob
// followed by the remaining DataLength-Metadata.Length bytes of raw data.
// A Restarted reply, before or during the payload, discards the connection
// and sends ClientGet again on a fresh one; reading does not continue on the
// restarted connection.
func (c *Client) GetRaw(ctx context.Context, u uri.URI, htl int) (*fcpkey.Key, error) {
	htl = c.htlOrDefault(htl)
	addr := c.Addr()

	for {
		s, err := c.pool.Get(ctx, addr)
		if err != nil {
			return nil, err
		}
		s.SetDeadline(ctx)

		key, restart, err := c.getRawOnce(s, u, htl)
		if err != nil {
			c.pool.Discard(s)
			return nil, err
		}
		if restart {
			c.pool.Discard(s)
			continue
		}
		c.pool.Put(addr, s)
		return key, nil
	}
}

func (c *Client) getRawOnce(s *session.Session, u uri.URI, htl int) (key *fcpkey.Key, restart bool, err error) {
	if err := s.SendLine("ClientGet"); err != nil {
		return nil, false, err
	}
	if err := s.SendField("URI", u.String()); err != nil {
		return nil, false, err
	}
	if err := s.SendField("HopsToLive", strconv.FormatInt(int64(htl), 16)); err != nil {
		return nil, false, err
	}
	if err := s.SendField("RemoveLocalKey", "false"); err != nil {
		return nil, false, err
	}
	if err := s.SendLine("EndMessage"); err != nil {
		return nil, false, err
	}

	line, err := s.RecvLine()
	if err != nil {
		return nil, false, err
	}
	switch line {
	case "URIError":
		_ = s.RecvUntilEndMessage()
		return nil, false, errs.Wrapf(errs.ErrURI, "node rejected uri %q", u.String())
	case "FormatError":
		_ = s.RecvUntilEndMessage()
		return nil, false, errs.Wrapf(errs.ErrFormat, "node rejected get of %q", u.String())
	case "RouteNotFound":
		_ = s.RecvUntilEndMessage()
		return nil, false, errs.Wrapf(errs.ErrRouteNotFound, "no route to %q", u.String())
	case "DataNotFound":
		_ = s.RecvUntilEndMessage()
		return nil, false, errs.Wrapf(errs.ErrDataNotFound, "data not found for %q", u.String())
	case "Restarted":
		_ = s.RecvUntilEndMessage()
		return nil, true, nil
	case "DataFound":
		// fall through to header field parsing below
	default:
		return nil, false, errs.Wrapf(errs.ErrProtocol, "unexpected ClientGet response %q", line)
	}

	var metaLen, dataLen int64
	returnedURI := u
	for {
		field, val, end, err := s.RecvFieldOrEnd()
		if err != nil {
			return nil, false, err
		}
		if end {
			break
		}
		switch field {
		case "Metadata.Length":
			metaLen, err = strconv.ParseInt(val, 16, 64)
			if err != nil {
				return nil, false, errs.Wrapf(errs.ErrProtocol, "bad Metadata.Length %q: %v", val, err)
			}
		case "DataLength":
			dataLen, err = strconv.ParseInt(val, 16, 64)
			if err != nil {
				return nil, false, errs.Wrapf(errs.ErrProtocol, "bad DataLength %q: %v", val, err)
			}
		case "URI":
			if parsed, perr := uri.Parse(val); perr == nil {
				returnedURI = parsed
			}
		}
	}

	if dataLen < metaLen {
		return nil, false, errs.Wrapf(errs.ErrProtocol, "DataLength %d < Metadata.Length %d", dataLen, metaLen)
	}

	raw, restarted, err := s.RecvKeyData(dataLen)
	if err != nil {
		return nil, false, err
	}
	if restarted {
		return nil, true, nil
	}

	var meta *metadata.Metadata
	payload := raw
	if metaLen > 0 {
		meta, err = metadata.Parse(string(raw[:metaLen]), false)
		if err != nil {
			return nil, false, err
		}
		payload = raw[metaLen:]
	}

	return fcpkey.New(payload, meta, returnedURI, ""), false, nil
}

// PutRaw inserts payload (and, if non-empty, a rendered metadata header
// ahead of it) at u, which must be a CHK, KSK, or SSK uri. Returns the Key
// as accepted by the node, with URI/Pub/Priv populated from the response.
//
// Grounded on original_source/freenet.py's node._put: ClientPut is sent with
// Metadata.Length/DataLength header fields followed by the raw bytes with no
// chunk framing (only GET responses are chunked), then the response is read
// until a terminal Success/KeyCollision/RouteNotFound/SizeError line,
// silently absorbing any number of intervening Pending lines.
func (c *Client) PutRaw(ctx context.Context, u uri.URI, payload []byte, meta *metadata.Metadata, htl int) (*fcpkey.Key, error) {
	htl = c.htlOrDefault(htl)
	addr := c.Addr()

	var metaBytes []byte
	if meta != nil && !meta.IsEmpty() {
		metaBytes = []byte(meta.Render())
	}
	total := int64(len(metaBytes)) + int64(len(payload))

	for {
		s, err := c.pool.Get(ctx, addr)
		if err != nil {
			return nil, err
		}
		s.SetDeadline(ctx)

		key, retry, err := c.putRawOnce(ctx, s, u, metaBytes, payload, total, htl)
		if err != nil {
			c.pool.Discard(s)
			return nil, err
		}
		if retry {
			c.pool.Discard(s)
			continue
		}
		c.pool.Put(addr, s)
		return key, nil
	}
}

func (c *Client) putRawOnce(ctx context.Context, s *session.Session, u uri.URI, metaBytes, payload []byte, total int64, htl int) (key *fcpkey.Key, retry bool, err error) {
	if err := s.SendLine("ClientPut"); err != nil {
		return nil, false, err
	}
	if err := s.SendField("URI", u.String()); err != nil {
		return nil, false, err
	}
	if err := s.SendField("HopsToLive", strconv.FormatInt(int64(htl), 16)); err != nil {
		return nil, false, err
	}
	if err := s.SendField("RemoveLocalKey", "false"); err != nil {
		return nil, false, err
	}
	if err := s.SendField("Metadata.Length", strconv.FormatInt(int64(len(metaBytes)), 16)); err != nil {
		return nil, false, err
	}
	if err := s.SendField("DataLength", strconv.FormatInt(total, 16)); err != nil {
		return nil, false, err
	}
	if err := s.SendLine("Data"); err != nil {
		return nil, false, err
	}
	if len(metaBytes) > 0 {
		if err := s.SendBytes(metaBytes); err != nil {
			return nil, false, err
		}
	}
	if len(payload) > 0 {
		if err := s.SendBytes(payload); err != nil {
			return nil, false, err
		}
	}

	for {
		line, err := s.RecvLine()
		if err != nil {
			return nil, false, err
		}
		switch line {
		case "Pending":
			if err := s.RecvUntilEndMessage(); err != nil {
				return nil, false, err
			}
			continue
		case "RouteNotFound":
			_ = s.RecvUntilEndMessage()
			return nil, false, errs.Wrapf(errs.ErrRouteNotFound, "no route to insert %q", u.String())
		case "SizeError":
			_ = s.RecvUntilEndMessage()
			return nil, false, errs.Wrapf(errs.ErrSize, "node rejected size for %q", u.String())
		case "URIError":
			_ = s.RecvUntilEndMessage()
			return nil, false, errs.Wrapf(errs.ErrURI, "node rejected uri %q", u.String())
		case "FormatError":
			_ = s.RecvUntilEndMessage()
			return nil, false, errs.Wrapf(errs.ErrFormat, "node rejected put of %q", u.String())
		case "KeyCollision":
			collURI := u.String()
			for {
				field, val, end, err := s.RecvFieldOrEnd()
				if err != nil {
					return nil, false, err
				}
				if end {
					break
				}
				if field == "URI" {
					collURI = val
				}
			}
			return c.resolveKeyCollision(ctx, u, collURI, metaBytes, payload)
		case "Success":
			out := u
			pub, priv := "", ""
			for {
				field, val, end, err := s.RecvFieldOrEnd()
				if err != nil {
					return nil, false, err
				}
				if end {
					break
				}
				switch field {
				case "URI":
					if parsed, perr := uri.Parse(val); perr == nil {
						out = parsed
					}
				case "PublicKey":
					pub = val
				case "PrivateKey":
					priv = val
				}
			}
			k := fcpkey.New(payload, nil, out, "")
			k.Pub, k.Priv = pub, priv
			return k, false, nil
		default:
			return nil, false, errs.Wrapf(errs.ErrProtocol, "unexpected ClientPut response %q", line)
		}
	}
}

// resolveKeyCollision reads back the key the node reports a collision
// against and byte-compares its metadata and payload to what this call was
// trying to insert, treating identical content as a successful no-op rather
// than an error -- republishing an unchanged freesite edition must be safe
// to retry. Grounded on original_source/freenet.py's node._put, which
// re-fetches on KeyCollision and only raises if the content actually
// differs.
func (c *Client) resolveKeyCollision(ctx context.Context, u uri.URI, collURI string, metaBytes, payload []byte) (*fcpkey.Key, bool, error) {
	parsed, perr := uri.Parse(collURI)
	if perr != nil {
		return nil, false, &errs.KeyCollision{URI: collURI}
	}

	existing, gerr := c.GetRaw(ctx, parsed, 0)
	if gerr != nil {
		return nil, false, &errs.KeyCollision{URI: collURI}
	}

	var existingMeta []byte
	if existing.Metadata != nil && !existing.Metadata.IsEmpty() {
		existingMeta = []byte(existing.Metadata.Render())
	}
	if !bytes.Equal(existingMeta, metaBytes) || !bytes.Equal(existing.Payload, payload) {
		return nil, false, &errs.KeyCollision{URI: collURI}
	}

	k := fcpkey.New(payload, nil, parsed, "")
	return k, false, nil
}

// GenCHK computes the CHK uri metaBytes+payload would resolve to, without
// inserting anything into the network. Grounded on
// original_source/freenet.py's node._genchk (GenerateCHK message).
func (c *Client) GenCHK(ctx context.Context, payload []byte, meta *metadata.Metadata) (uri.URI, error) {
	addr := c.Addr()
	s, err := c.pool.Get(ctx, addr)
	if err != nil {
		return uri.URI{}, err
	}
	defer c.pool.Put(addr, s)
	s.SetDeadline(ctx)

	var metaBytes []byte
	if meta != nil && !meta.IsEmpty() {
		metaBytes = []byte(meta.Render())
	}
	total := int64(len(metaBytes)) + int64(len(payload))

	if err := s.SendLine("GenerateCHK"); err != nil {
		return uri.URI{}, err
	}
	if err := s.SendField("Metadata.Length", strconv.FormatInt(int64(len(metaBytes)), 16)); err != nil {
		return uri.URI{}, err
	}
	if err := s.SendField("DataLength", strconv.FormatInt(total, 16)); err != nil {
		return uri.URI{}, err
	}
	if err := s.SendLine("Data"); err != nil {
		return uri.URI{}, err
	}
	if len(metaBytes) > 0 {
		if err := s.SendBytes(metaBytes); err != nil {
			return uri.URI{}, err
		}
	}
	if len(payload) > 0 {
		if err := s.SendBytes(payload); err != nil {
			return uri.URI{}, err
		}
	}

	line, err := s.RecvLine()
	if err != nil {
		return uri.URI{}, err
	}
	if line != "KeyGenerated" {
		_ = s.RecvUntilEndMessage()
		return uri.URI{}, errs.Wrapf(errs.ErrProtocol, "unexpected GenerateCHK response %q", line)
	}
	var out uri.URI
	for {
		field, val, end, err := s.RecvFieldOrEnd()
		if err != nil {
			return uri.URI{}, err
		}
		if end {
			break
		}
		if field == "URI" {
			out, err = uri.Parse(val)
			if err != nil {
				return uri.URI{}, err
			}
		}
	}
	return out, nil
}

// GenSVKPair asks the node to mint a fresh SSK keypair. Grounded on
// original_source/freenet.py's node.genkeypair (GenerateSVKPair message).
func (c *Client) GenSVKPair(ctx context.Context) (pub, priv string, err error) {
	addr := c.Addr()
	s, err := c.pool.Get(ctx, addr)
	if err != nil {
		return "", "", err
	}
	defer c.pool.Put(addr, s)
	s.SetDeadline(ctx)

	if err := s.SendLine("GenerateSVKPair"); err != nil {
		return "", "", err
	}
	if err := s.SendLine("EndMessage"); err != nil {
		return "", "", err
	}

	line, err := s.RecvLine()
	if err != nil {
		return "", "", err
	}
	if line != "SVKKeypair" {
		_ = s.RecvUntilEndMessage()
		return "", "", errs.Wrapf(errs.ErrProtocol, "unexpected GenerateSVKPair response %q", line)
	}
	for {
		field, val, end, err := s.RecvFieldOrEnd()
		if err != nil {
			return "", "", err
		}
		if end {
			break
		}
		switch field {
		case "PublicKey":
			pub = val
		case "PrivateKey":
			priv = val
		}
	}
	return pub, priv, nil
}

// KeyExists reports whether u currently resolves to content on the network,
// distinguishing ErrDataNotFound (false, nil) from any other error.
func (c *Client) KeyExists(ctx context.Context, u uri.URI) (bool, error) {
	_, err := c.GetRaw(ctx, u, 0)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errs.ErrDataNotFound) {
		return false, nil
	}
	return false, err
}
