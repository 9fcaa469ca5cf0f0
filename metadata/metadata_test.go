package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freenetgo/fcp/uri"
)

func TestParseSimpleRedirect(t *testing.T) {
	raw := "Version\nRevision=1\nEndPart\nDocument\nRedirect.Target=CHK@xyz\nEnd\n"
	m, err := Parse(raw, true)
	require.NoError(t, err)
	doc, ok := m.Docs[""]
	require.True(t, ok)
	assert.Equal(t, ActionRedirect, doc.Action)
	assert.Equal(t, uri.CHK, doc.Target.Type)
	assert.Equal(t, "xyz", doc.Target.Hash)
}

func TestParseStrictRejectsMissingHeader(t *testing.T) {
	_, err := Parse("Revision=1\nEnd\n", true)
	assert.Error(t, err)
}

func TestParseStrictRejectsMissingFooter(t *testing.T) {
	_, err := Parse("Version\nRevision=1\n", true)
	assert.Error(t, err)
}

func TestRenderParseRoundTrip(t *testing.T) {
	m := New()
	target, err := uri.Parse("CHK@abc123")
	require.NoError(t, err)
	m.AddRedirect("", target, "text/html")
	m.AddRedirect("fred.txt", target, "")

	text := m.Render()
	got, err := Parse(text, true)
	require.NoError(t, err)

	assert.Equal(t, m.Docs[""].Action, got.Docs[""].Action)
	assert.Equal(t, m.Docs[""].Target.String(), got.Docs[""].Target.String())
	assert.Equal(t, m.Docs[""].MimeType, got.Docs[""].MimeType)
	_, ok := got.Docs["fred.txt"]
	assert.True(t, ok)
}

func TestSplitFileRoundTrip(t *testing.T) {
	m := New()
	chunk1, _ := uri.Parse("CHK@aaa")
	chunk2, _ := uri.Parse("CHK@bbb")
	m.AddSplitFile("", 262144, []uri.URI{chunk1, chunk2}, "application/octet-stream")

	text := m.Render()
	got, err := Parse(text, true)
	require.NoError(t, err)

	doc := got.Docs[""]
	require.Equal(t, ActionSplitFile, doc.Action)
	require.Len(t, doc.Chunks, 2)
	assert.Equal(t, "aaa", doc.Chunks[0].Hash)
	assert.Equal(t, "bbb", doc.Chunks[1].Hash)
}

func TestTargetURIDefaultOverridesMSKPath(t *testing.T) {
	m := New()
	target, _ := uri.Parse("SSK@keyPAgM/site")
	m.AddRedirect("", target, "")

	u, chunks, err := m.TargetURI("docs/index.html", 0)
	require.NoError(t, err)
	assert.Nil(t, chunks)
	require.NotNil(t, u)
	assert.Equal(t, "docs/index.html", u.MSKPath)
}

func TestDescriptionAndMimetypeStayDistinct(t *testing.T) {
	raw := "Version\nRevision=1\nEndPart\nDocument\nInfo.Format=text/html\nInfo.Description=hello world\nEnd\n"
	m, err := Parse(raw, true)
	require.NoError(t, err)
	doc := m.Docs[""]
	assert.Equal(t, "text/html", doc.MimeType)
	assert.Equal(t, "hello world", doc.Description)
}
