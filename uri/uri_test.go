package uri

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRenderRoundTrip(t *testing.T) {
	for _, s := range []string{
		"CHK@abcdef",
		"KSK@hello",
		"SSK@abcdefPAgM/site",
		"SSK@abcdefBCMA/site//docs/index.html",
		"SVK@abcdef//msk",
	} {
		u, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, u.String(), s)
	}
}

func TestParseStripsScheme(t *testing.T) {
	u, err := Parse("freenet:SSK@abcdefPAgM/site//docs/index.html")
	require.NoError(t, err)
	assert.Equal(t, SSK, u.Type)
	assert.Equal(t, "abcdef", u.Hash)
	assert.Equal(t, "PAgM", u.PubSuffix)
	assert.Equal(t, "site", u.SSKPath)
	assert.Equal(t, "docs/index.html", u.MSKPath)
	assert.Equal(t, "SSK@abcdefPAgM/site//docs/index.html", u.String())
}

func TestParseDefaultsToKSKWithoutAt(t *testing.T) {
	u, err := Parse("hello")
	require.NoError(t, err)
	assert.Equal(t, KSK, u.Type)
	assert.Equal(t, "hello", u.Hash)
}

func TestParseRejectsMultipleAt(t *testing.T) {
	_, err := Parse("CHK@a@b")
	assert.Error(t, err)
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse("FOO@bar")
	assert.Error(t, err)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
}

func TestDBRFailsOnCHK(t *testing.T) {
	u, err := Parse("CHK@abc")
	require.NoError(t, err)
	_, err = u.DBR(0, 86400, 0)
	assert.Error(t, err)
}

func TestDBRPrefixMonotonic(t *testing.T) {
	now := time.Unix(0x60000000, 0)
	d0 := DBRPrefix(0, 0x15180, 0, now)
	d1 := DBRPrefix(1, 0x15180, 0, now)
	v0, err := strconv.ParseInt(d0, 16, 64)
	require.NoError(t, err)
	v1, err := strconv.ParseInt(d1, 16, 64)
	require.NoError(t, err)
	assert.Equal(t, int64(0x15180), v1-v0)
	assert.LessOrEqual(t, v0, now.Unix())
}

func TestDBRPrefixIsLowercaseHex(t *testing.T) {
	s := DBRPrefix(0, 86400, 0, time.Unix(1700000000, 0))
	for _, r := range s {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}
}
