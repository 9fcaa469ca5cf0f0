package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/freenetgo/fcp/uri"
)

func TestWithSeqNoExistingPath(t *testing.T) {
	base, _ := uri.Parse("SSK@abcdefPAgM")
	got := withSeq(base, 5)
	assert.Equal(t, "5", got.SSKPath)
}

func TestWithSeqExistingPath(t *testing.T) {
	base, _ := uri.Parse("SSK@abcdefPAgM/site")
	got := withSeq(base, 16)
	assert.Equal(t, "site/16", got.SSKPath)
}

func TestNewDefaultsConfig(t *testing.T) {
	c := New(nil, nil)
	defer c.Close()
	assert.Equal(t, "127.0.0.1:8481", c.Addr())
}
