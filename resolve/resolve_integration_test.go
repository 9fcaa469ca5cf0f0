package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freenetgo/fcp/client"
	"github.com/freenetgo/fcp/fcpconfig"
	"github.com/freenetgo/fcp/internal/fcptest"
	"github.com/freenetgo/fcp/metadata"
	"github.com/freenetgo/fcp/uri"
)

func newTestClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	host, port := fcptest.DialAddr(addr)
	cfg := fcpconfig.New()
	cfg.Host = host
	cfg.Port = port
	c := client.New(cfg, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGetSmartFollowsRedirectChain(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	chkTemplate := uri.URI{Type: uri.CHK}
	payload := []byte("the actual content")
	leaf, err := c.PutRaw(ctx, chkTemplate, payload, nil, 10)
	require.NoError(t, err)

	m := metadata.New()
	m.AddRedirect("", leaf.URI, "text/plain")
	ksk, err := uri.Parse("KSK@greeting")
	require.NoError(t, err)
	_, err = c.PutRaw(ctx, ksk, nil, m, 10)
	require.NoError(t, err)

	resolved, err := GetSmart(ctx, c, ksk, 10, 0, 1)
	require.NoError(t, err)
	require.Equal(t, payload, resolved.Payload)
}

func TestGetSmartResolvesMSKPathSegment(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	chkTemplate := uri.URI{Type: uri.CHK}
	docPayload := []byte("nested document body")
	docLeaf, err := c.PutRaw(ctx, chkTemplate, docPayload, nil, 10)
	require.NoError(t, err)

	m := metadata.New()
	m.AddRedirect("docs", docLeaf.URI, "text/plain")
	ksk, err := uri.Parse("KSK@site")
	require.NoError(t, err)
	_, err = c.PutRaw(ctx, ksk, nil, m, 10)
	require.NoError(t, err)

	target, err := uri.Parse("KSK@site//docs")
	require.NoError(t, err)

	resolved, err := GetSmart(ctx, c, target, 10, 0, 1)
	require.NoError(t, err)
	require.Equal(t, docPayload, resolved.Payload)
}

func TestPutSmartSmallPayloadUsesPlainPut(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	ksk, err := uri.Parse("KSK@small")
	require.NoError(t, err)

	key, err := PutSmart(ctx, c, ksk, []byte("tiny"), "text/plain", 10, 4, nil, nil)
	require.NoError(t, err)
	require.Equal(t, ksk.String(), key.URI.String())

	resolved, err := GetSmart(ctx, c, ksk, 10, 0, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("tiny"), resolved.Payload)
}
