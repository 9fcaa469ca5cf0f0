package client

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freenetgo/fcp/errs"
	"github.com/freenetgo/fcp/fcpconfig"
	"github.com/freenetgo/fcp/internal/fcptest"
	"github.com/freenetgo/fcp/metadata"
	"github.com/freenetgo/fcp/uri"
)

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := fcpconfig.New()
	cfg.Host = host
	cfg.Port = port
	c := New(cfg, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutRawThenGetRawRoundTrip(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	insertTemplate := uri.URI{Type: uri.CHK}
	payload := []byte("hello freenet")

	putKey, err := c.PutRaw(ctx, insertTemplate, payload, nil, 10)
	require.NoError(t, err)
	require.Equal(t, uri.CHK, putKey.URI.Type)
	require.NotEmpty(t, putKey.URI.Hash)

	gotKey, err := c.GetRaw(ctx, putKey.URI, 10)
	require.NoError(t, err)
	require.Equal(t, payload, gotKey.Payload)
	require.False(t, gotKey.HasMetadata())
}

func TestGetRawDataNotFound(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	missing, err := uri.Parse("CHK@doesnotexist")
	require.NoError(t, err)

	_, err = c.GetRaw(ctx, missing, 10)
	require.ErrorIs(t, err, errs.ErrDataNotFound)
}

func TestPutRawThenGetRawWithMetadata(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	target, err := uri.Parse("CHK@target123")
	require.NoError(t, err)

	m := metadata.New()
	m.AddRedirect("", target, "text/html")

	ksk, err := uri.Parse("KSK@greeting")
	require.NoError(t, err)

	_, err = c.PutRaw(ctx, ksk, nil, m, 10)
	require.NoError(t, err)

	gotKey, err := c.GetRaw(ctx, ksk, 10)
	require.NoError(t, err)
	require.True(t, gotKey.HasMetadata())

	resolvedTarget, chunks, err := gotKey.Metadata.TargetURI("", 0)
	require.NoError(t, err)
	require.Nil(t, chunks)
	require.Equal(t, target.String(), resolvedTarget.String())
}

func TestPutRawIdempotentRepublishIsNotAnError(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	ksk, err := uri.Parse("KSK@site")
	require.NoError(t, err)
	payload := []byte("unchanged content")

	_, err = c.PutRaw(ctx, ksk, payload, nil, 10)
	require.NoError(t, err)

	key, err := c.PutRaw(ctx, ksk, payload, nil, 10)
	require.NoError(t, err)
	require.Equal(t, "KSK@site", key.URI.String())
}

func TestPutRawChangedRepublishIsKeyCollision(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	ksk, err := uri.Parse("KSK@site")
	require.NoError(t, err)

	_, err = c.PutRaw(ctx, ksk, []byte("v1"), nil, 10)
	require.NoError(t, err)

	_, err = c.PutRaw(ctx, ksk, []byte("v2"), nil, 10)
	var collision *errs.KeyCollision
	require.ErrorAs(t, err, &collision)
}

func TestKeyExists(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	insertTemplate := uri.URI{Type: uri.CHK}
	putKey, err := c.PutRaw(ctx, insertTemplate, []byte("x"), nil, 10)
	require.NoError(t, err)

	exists, err := c.KeyExists(ctx, putKey.URI)
	require.NoError(t, err)
	require.True(t, exists)

	missing, err := uri.Parse("CHK@nope")
	require.NoError(t, err)
	exists, err = c.KeyExists(ctx, missing)
	require.NoError(t, err)
	require.False(t, exists)
}
