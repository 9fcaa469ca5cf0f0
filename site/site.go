// Package site implements the freesite composer: scanning a directory of
// files, inserting each one as its own CHK, assembling a manifest that
// redirects every relative path to its file, and publishing that manifest
// under one of three disciplines (oneshot, dbr, edition).
//
// Grounded on original_source/freenet.py's class site (__init__, put, get,
// readdir, __get, opendocfile).
package site

import (
	"context"
	"errors"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/freenetgo/fcp/client"
	"github.com/freenetgo/fcp/dispatch"
	"github.com/freenetgo/fcp/errs"
	"github.com/freenetgo/fcp/fcplog"
	"github.com/freenetgo/fcp/metadata"
	"github.com/freenetgo/fcp/pacer"
	"github.com/freenetgo/fcp/uri"
)

// Discipline selects how the site manifest is published (the siteType
// keyword in a persisted site record).
type Discipline string

const (
	// Oneshot inserts the manifest directly at the site's SSK, no
	// versioning.
	Oneshot Discipline = "oneshot"
	// DBR inserts a DateRedirect pointer at the site's SSK, targeting a
	// dated manifest key that gets re-inserted on every publish.
	DBR Discipline = "dbr"
	// Edition walks increasing numeric suffixes of the site's SSK path
	// until an unoccupied slot is found, for append-only versioning.
	Edition Discipline = "edition"
)

// File is one entry to insert into a site, either raw in-memory content or a
// path to read from disk.
type File struct {
	Path     string // relative path within the site, e.g. "docs/index.html"
	FullPath string // absolute filesystem path, mutually exclusive with Raw
	Raw      []byte
	MimeType string
}

// Options configures one Put call. Zero values fall back to the
// defaults documented in original_source/freenet.py's site.put.
type Options struct {
	Name            string
	Default         string
	HTL             int
	Discipline      Discipline
	MaxThreads      int
	Future          int
	Offset          int64
	Increment       int64
	Edition         int64
	EditionMaxTries int
	SSKSuffix       string
	AllowSplitfiles bool
	SplitSize       int
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "site"
	}
	if o.Default == "" {
		o.Default = "index.html"
	}
	if o.HTL <= 0 {
		o.HTL = 20
	}
	if o.Discipline == "" {
		o.Discipline = DBR
	}
	if o.MaxThreads <= 0 {
		o.MaxThreads = 8
	}
	if o.Increment == 0 {
		o.Increment = 86400
	}
	if o.SSKSuffix == "" {
		o.SSKSuffix = "PAgM"
	}
	return o
}

// Site composes and publishes a freesite manifest over a Client.
type Site struct {
	c     *client.Client
	pacer *pacer.Pacer
	log   fcplog.Logger
}

// New builds a Site bound to c.
func New(c *client.Client, log fcplog.Logger) *Site {
	if log == nil {
		log = fcplog.Discard()
	}
	return &Site{
		c:     c,
		pacer: pacer.New(pacer.RetriesOption(0), pacer.MinSleep(3*time.Second), pacer.MaxSleep(24*time.Hour), pacer.AttackConstant(4)),
		log:   log,
	}
}

// ReadDir walks root recursively and returns one File per regular file
// found, skipping the site's own .freesiterc.json config. Grounded on
// site.readdir, which does the equivalent os.walk skipping the same file.
func ReadDir(root string) ([]File, error) {
	var out []File
	err := walkDir(root, root, func(relPath, fullPath string) {
		if relPath == ".freesiterc.json" {
			return
		}
		out = append(out, File{
			Path:     filepath.ToSlash(relPath),
			FullPath: fullPath,
			MimeType: GuessMimetype(relPath),
		})
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errs.Wrapf(errs.ErrProtocol, "site: no files found under %s", root)
	}
	return out, nil
}

func walkDir(root, dir string, visit func(relPath, fullPath string)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errs.Wrapf(errs.ErrProtocol, "readdir %s: %v", dir, err)
	}
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := walkDir(root, full, visit); err != nil {
				return err
			}
			continue
		}
		rel, err := filepath.Rel(root, full)
		if err != nil {
			return err
		}
		visit(rel, full)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrProtocol, "read %s: %v", path, err)
	}
	return b, nil
}

func isRouteNotFound(err error) bool {
	return errors.Is(err, errs.ErrRouteNotFound)
}

// GuessMimetype maps a filename's extension to a mimetype, defaulting to
// "text/plain" when unknown. Grounded on the original's guessMimetype,
// backed here by the standard library's mime type table.
func GuessMimetype(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return "text/plain"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "text/plain"
}

// Put inserts every file in files as its own CHK (dispatched to up to
// opts.MaxThreads workers and retried on RouteNotFound with growing backoff
// via the Site's pacer; the pacer holds its single-flight token for the whole
// of each insert, so the inserts run one at a time), builds a manifest redirecting every relative path to its
// CHK plus a default-document redirect, and publishes the manifest per
// opts.Discipline. Returns the manifest's resulting URI.
//
// sourceDir, if non-empty, is the site's source directory: a persisted
// record there is loaded first to recover (pub, priv, name, default,
// siteType, edition, ...) for any field opts/pub/priv leave at the zero
// value, and the advanced record is written back on success. Pass "" to
// opt out of persistence entirely.
func (s *Site) Put(ctx context.Context, sourceDir string, files []File, pub, priv string, opts Options) (uri.URI, error) {
	if sourceDir != "" {
		rec, err := LoadRecord(sourceDir)
		if err != nil {
			return uri.URI{}, err
		}
		opts, pub, priv = rec.applyTo(opts, pub, priv)
	}
	opts = opts.withDefaults()
	if len(files) == 0 {
		return uri.URI{}, errs.Wrap(errs.ErrProtocol, "site: no files to insert")
	}

	if pub == "" || priv == "" {
		var err error
		pub, priv, err = s.c.GenSVKPair(ctx)
		if err != nil {
			return uri.URI{}, err
		}
	}

	inserted, err := s.insertFiles(ctx, files, opts)
	if err != nil {
		return uri.URI{}, err
	}

	manifest := metadata.New()
	var defaultTarget *uri.URI
	for _, f := range files {
		u := inserted[f.Path]
		if f.Path == opts.Default {
			t := u
			defaultTarget = &t
		}
		manifest.AddRedirect(f.Path, u, f.MimeType)
	}
	if defaultTarget == nil {
		return uri.URI{}, errs.Wrapf(errs.ErrProtocol, "site: default document %q not among inserted files", opts.Default)
	}
	manifest.AddRedirect("", *defaultTarget, GuessMimetype(opts.Default))

	pubURI := uri.URI{Type: uri.SSK, Hash: pub, PubSuffix: opts.SSKSuffix, SSKPath: opts.Name}
	privURI := uri.URI{Type: uri.SSK, Hash: priv, SSKPath: opts.Name}

	var resultURI uri.URI
	publishedEdition := opts.Edition

	switch opts.Discipline {
	case Oneshot:
		key, err := s.c.PutRaw(ctx, privURI, nil, manifest, opts.HTL)
		if err != nil {
			return uri.URI{}, err
		}
		resultURI = key.URI

	case DBR:
		dbrPub, err := pubURI.DBR(opts.Future, opts.Increment, opts.Offset)
		if err != nil {
			return uri.URI{}, err
		}
		dated := uri.URI{Type: uri.SSK, Hash: priv, SSKPath: dbrPub.SSKPath}

		pointer := metadata.New()
		pointer.AddDateRedirect("", pubURI, opts.Increment, opts.Offset)
		if _, err := s.c.PutRaw(ctx, privURI, nil, pointer, opts.HTL); err != nil {
			return uri.URI{}, err
		}
		key, err := s.c.PutRaw(ctx, dated, nil, manifest, opts.HTL)
		if err != nil {
			return uri.URI{}, err
		}
		resultURI = key.URI

	case Edition:
		key, seq, err := s.c.PutSeq(ctx, privURI, opts.Edition, editionMaxTries(opts), nil, manifest, opts.HTL)
		if err != nil {
			return uri.URI{}, err
		}
		resultURI = key.URI
		publishedEdition = seq

	default:
		return uri.URI{}, errs.Wrapf(errs.ErrProtocol, "site: unknown discipline %q", opts.Discipline)
	}

	if sourceDir != "" {
		rec := recordFrom(opts, pub, priv, publishedEdition)
		if err := rec.Save(sourceDir); err != nil {
			return uri.URI{}, err
		}
	}

	return resultURI, nil
}

func editionMaxTries(opts Options) int {
	if opts.EditionMaxTries > 0 {
		return opts.EditionMaxTries
	}
	// Unbounded in the original; capped here
	// resolution to bound worst-case runtime in a library context.
	return 1000000
}

func (s *Site) insertFiles(ctx context.Context, files []File, opts Options) (map[string]uri.URI, error) {
	out := make(map[string]uri.URI, len(files))
	errsOut := make([]error, len(files))

	type job struct {
		idx int
		f   File
	}

	d := dispatch.New(func(d *dispatch.Dispatcher, j interface{}) {
		jb := j.(job)
		data := jb.f.Raw
		if jb.f.FullPath != "" {
			b, err := readFile(jb.f.FullPath)
			if err != nil {
				errsOut[jb.idx] = err
				return
			}
			data = b
		}
		err := s.pacer.Call(func() (bool, error) {
			key, err := s.c.Put(ctx, uri.URI{Type: uri.CHK}, data, jb.f.MimeType, opts.HTL)
			if err != nil {
				if isRouteNotFound(err) {
					return true, err
				}
				return false, err
			}
			out[jb.f.Path] = key.URI
			return false, nil
		})
		errsOut[jb.idx] = err
	}, opts.MaxThreads, s.log)

	d.Start()
	for i, f := range files {
		d.Add(job{idx: i, f: f})
	}
	d.Wait()

	for _, err := range errsOut {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
