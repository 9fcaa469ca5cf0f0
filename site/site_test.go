package site

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freenetgo/fcp/client"
	"github.com/freenetgo/fcp/fcpconfig"
	"github.com/freenetgo/fcp/internal/fcptest"
)

func newTestSite(t *testing.T) (*Site, *client.Client) {
	t.Helper()
	node := fcptest.New()
	addr := node.Listen(t)
	host, port := fcptest.DialAddr(addr)
	cfg := fcpconfig.New()
	cfg.Host = host
	cfg.Port = port
	c := client.New(cfg, nil)
	t.Cleanup(func() { _ = c.Close() })
	return New(c, nil), c
}

func TestPutOneshotBuildsManifestAndPersistsRecord(t *testing.T) {
	s, _ := newTestSite(t)
	ctx := context.Background()
	dir := t.TempDir()

	files := []File{
		{Path: "index.html", Raw: []byte("<html></html>"), MimeType: "text/html"},
		{Path: "style.css", Raw: []byte("body{}"), MimeType: "text/css"},
	}

	resultURI, err := s.Put(ctx, dir, files, "", "", Options{
		Name:       "mysite",
		Discipline: Oneshot,
		MaxThreads: 2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resultURI.Hash)

	rec, err := LoadRecord(dir)
	require.NoError(t, err)
	require.Equal(t, "mysite", rec.Name)
	require.NotEmpty(t, rec.Pub)
	require.NotEmpty(t, rec.Priv)
	require.Equal(t, "oneshot", rec.SiteType)

	require.FileExists(t, filepath.Join(dir, ".freesiterc.json"))
}

func TestPutRecoversKeysFromPersistedRecord(t *testing.T) {
	s, _ := newTestSite(t)
	ctx := context.Background()
	dir := t.TempDir()

	files := []File{
		{Path: "index.html", Raw: []byte("v1"), MimeType: "text/html"},
	}
	_, err := s.Put(ctx, dir, files, "", "", Options{Name: "recover", Discipline: Oneshot})
	require.NoError(t, err)

	before, err := LoadRecord(dir)
	require.NoError(t, err)

	files2 := []File{
		{Path: "index.html", Raw: []byte("v2"), MimeType: "text/html"},
	}
	_, err = s.Put(ctx, dir, files2, "", "", Options{Discipline: Oneshot})
	require.NoError(t, err)

	after, err := LoadRecord(dir)
	require.NoError(t, err)
	require.Equal(t, before.Pub, after.Pub)
	require.Equal(t, before.Priv, after.Priv)
	require.Equal(t, before.Name, after.Name)
}

func TestPutEditionAdvancesRecordedEdition(t *testing.T) {
	s, _ := newTestSite(t)
	ctx := context.Background()
	dir := t.TempDir()

	files := []File{{Path: "index.html", Raw: []byte("content"), MimeType: "text/html"}}

	_, err := s.Put(ctx, dir, files, "", "", Options{Name: "ed", Discipline: Edition, Edition: 0})
	require.NoError(t, err)
	rec, err := LoadRecord(dir)
	require.NoError(t, err)
	require.Equal(t, int64(0), rec.Edition)

	_, err = s.Put(ctx, dir, files, "", "", Options{Discipline: Edition})
	require.NoError(t, err)
	rec2, err := LoadRecord(dir)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec2.Edition)
}

func TestLoadRecordMissingFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	rec, err := LoadRecord(dir)
	require.NoError(t, err)
	require.Equal(t, Record{}, rec)
}

func TestReadDirSkipsRecordFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".freesiterc.json"), []byte("{}"), 0o644))

	files, err := ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "index.html", files[0].Path)
}
