package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freenetgo/fcp/errs"
	"github.com/freenetgo/fcp/internal/fcptest"
	"github.com/freenetgo/fcp/uri"
)

func TestWithSeqKSKDecimalPlainConcat(t *testing.T) {
	base, err := uri.Parse("KSK@q-")
	require.NoError(t, err)
	got := withSeq(base, 17)
	require.Equal(t, "KSK@q-17", got.String())
}

func TestWithSeqSSKJoinsPathWithSlash(t *testing.T) {
	base := uri.URI{Type: uri.SSK, Hash: "priv", SSKPath: "name"}
	got := withSeq(base, 15)
	require.Equal(t, "SSK@priv/name/15", got.String())
}

func TestGetSeqFindsLaterSlotOverEmptyGaps(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	base, err := uri.Parse("KSK@q-")
	require.NoError(t, err)

	_, err = c.PutRaw(ctx, withSeq(base, 17), []byte("seventeen"), nil, 10)
	require.NoError(t, err)

	key, seq, err := c.GetSeq(ctx, base, 15, 5, 10)
	require.NoError(t, err)
	require.Equal(t, int64(17), seq)
	require.Equal(t, []byte("seventeen"), key.Payload)
}

func TestGetSeqExhaustedWhenNothingPresent(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	base, err := uri.Parse("KSK@empty-")
	require.NoError(t, err)

	_, _, err = c.GetSeq(ctx, base, 0, 3, 10)
	require.ErrorIs(t, err, errs.ErrSequenceExhausted)
}

func TestPutSeqAdvancesPastOccupiedEditions(t *testing.T) {
	node := fcptest.New()
	addr := node.Listen(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	base := uri.URI{Type: uri.SSK, Hash: "priv", SSKPath: "site"}

	first, seq, err := c.PutSeq(ctx, base, 0, 5, []byte("v0"), nil, 10)
	require.NoError(t, err)
	require.Equal(t, int64(0), seq)
	require.Equal(t, "SSK@priv/site/0", first.URI.String())

	second, seq, err := c.PutSeq(ctx, base, 0, 5, []byte("v1"), nil, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)
	require.Equal(t, "SSK@priv/site/1", second.URI.String())
}
