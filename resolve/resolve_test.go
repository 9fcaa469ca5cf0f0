package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/freenetgo/fcp/metadata"
	"github.com/freenetgo/fcp/uri"
)

func TestSplitMSKPath(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		wantDoc  string
		wantRest string
	}{
		{"empty", "", "", ""},
		{"single segment", "docs", "docs", ""},
		{"two segments", "docs/index.html", "docs", "index.html"},
		{"many segments", "a/b/c", "a", "b/c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, rest := splitMSKPath(tc.in)
			assert.Equal(t, tc.wantDoc, doc)
			assert.Equal(t, tc.wantRest, rest)
		})
	}
}

func TestLookupMimeTypeFallsBackToDefault(t *testing.T) {
	m := metadata.New()
	m.AddDefault("text/html")
	assert.Equal(t, "text/html", lookupMimeType(m, "missing"))
	assert.Equal(t, "text/html", lookupMimeType(m, ""))
}

func TestSplitFileLengthReadsNamedDocument(t *testing.T) {
	m := metadata.New()
	target, _ := uri.Parse("CHK@x")
	m.AddSplitFile("big", 12345, []uri.URI{target}, "application/octet-stream")
	assert.Equal(t, 12345, splitFileLength(m, "big"))
	assert.Equal(t, 0, splitFileLength(m, "missing"))
}
