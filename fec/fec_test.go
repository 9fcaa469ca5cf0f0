package fec

import (
	"context"
	"math/rand"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freenetgo/fcp/client"
	"github.com/freenetgo/fcp/fcpconfig"
	"github.com/freenetgo/fcp/fcplog"
	"github.com/freenetgo/fcp/internal/fcptest"
	"github.com/freenetgo/fcp/pacer"
)

func newTestClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := fcpconfig.New()
	cfg.Host = host
	cfg.Port = port
	c := client.New(cfg, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPickFetchPlanNoReplacement(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	plan := PickFetchPlan(10, 4, rng)
	assert.Len(t, plan, 4)
	seen := map[int64]bool{}
	for _, i := range plan {
		assert.False(t, seen[i])
		seen[i] = true
	}
}

func TestMissingIndicesFindsGaps(t *testing.T) {
	got := missingIndices(5, []int64{0, 2, 4})
	assert.Equal(t, []int64{1, 3}, got)
}

const testBlockSize = 32 * 1024
const testMaxDataBlocksPerSegment = 128

func TestEncodeFileThenFetchRoundTrip(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	payload := make([]byte, testBlockSize*3+500)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	p := pacer.New()
	log := fcplog.New()

	meta, err := EncodeFile(ctx, c, payload, "", "application/octet-stream", DefaultScheme, 4, p, log)
	require.NoError(t, err)
	require.NotNil(t, meta)

	doc := meta.Docs[""]
	require.NotNil(t, doc)
	assert.Equal(t, len(payload), doc.SplitSize)

	rng := rand.New(rand.NewSource(42))
	got, err := Fetch(ctx, c, doc.Chunks, doc.SplitSize, 10, rng)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEncodeFileSpansMultipleSegments(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	payload := make([]byte, testBlockSize*(testMaxDataBlocksPerSegment+2))
	for i := range payload {
		payload[i] = byte(i % 197)
	}

	p := pacer.New()
	log := fcplog.New()

	meta, err := EncodeFile(ctx, c, payload, "", "application/octet-stream", DefaultScheme, 8, p, log)
	require.NoError(t, err)

	doc := meta.Docs[""]
	require.NotNil(t, doc)

	rng := rand.New(rand.NewSource(7))
	got, err := Fetch(ctx, c, doc.Chunks, doc.SplitSize, 10, rng)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
