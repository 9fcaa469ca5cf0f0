package site

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/freenetgo/fcp/errs"
)

// recordFileName is the config file ReadDir skips and Put loads/saves next to
// the site's source directory, recovering keys/options before a publish and
// persisting the advanced state after one succeeds.
const recordFileName = ".freesiterc.json"

// Record is a site's persisted configuration: its keypair, publishing
// options, and edition watermark, recovered before a Put and advanced after
// one succeeds. Grounded on original_source/freenet.py's class site,
// which keeps the same fields in a pickled/json sidecar next to the source
// tree.
type Record struct {
	Name            string `json:"name"`
	Pub             string `json:"pub"`
	Priv            string `json:"priv"`
	Default         string `json:"default"`
	HTL             int    `json:"htl"`
	Offset          int64  `json:"offset"`
	Increment       int64  `json:"increment"`
	SplitSize       int    `json:"splitsize"`
	AllowSplitfiles bool   `json:"allowSplitfiles"`
	SiteType        string `json:"siteType"`
	Edition         int64  `json:"edition"`
	EditionMaxTries int    `json:"editionMaxTries"`
	SSKSuffix       string `json:"sskSuffix"`
}

// LoadRecord reads the site record from dir, returning a zero Record (no
// error) if the file does not exist yet -- a brand-new site has no prior
// state to recover.
func LoadRecord(dir string) (Record, error) {
	b, err := os.ReadFile(filepath.Join(dir, recordFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, errs.Wrapf(errs.ErrProtocol, "site: read %s: %v", recordFileName, err)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, errs.Wrapf(errs.ErrProtocol, "site: parse %s: %v", recordFileName, err)
	}
	return r, nil
}

// Save writes r to dir as the site record, overwriting any prior file.
func (r Record) Save(dir string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errs.Wrapf(errs.ErrProtocol, "site: marshal record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, recordFileName), b, 0o644); err != nil {
		return errs.Wrapf(errs.ErrProtocol, "site: write %s: %v", recordFileName, err)
	}
	return nil
}

// applyTo overlays the record's recovered fields onto opts/pub/priv wherever
// the caller left them at the zero value, so an explicit Options field always
// wins over a persisted one.
func (r Record) applyTo(opts Options, pub, priv string) (Options, string, string) {
	if pub == "" {
		pub = r.Pub
	}
	if priv == "" {
		priv = r.Priv
	}
	if opts.Name == "" {
		opts.Name = r.Name
	}
	if opts.Default == "" {
		opts.Default = r.Default
	}
	if opts.HTL <= 0 {
		opts.HTL = r.HTL
	}
	if opts.Discipline == "" && r.SiteType != "" {
		opts.Discipline = Discipline(r.SiteType)
	}
	if opts.Offset == 0 {
		opts.Offset = r.Offset
	}
	if opts.Increment == 0 {
		opts.Increment = r.Increment
	}
	if opts.Edition == 0 {
		opts.Edition = r.Edition
	}
	if opts.EditionMaxTries == 0 {
		opts.EditionMaxTries = r.EditionMaxTries
	}
	if opts.SSKSuffix == "" {
		opts.SSKSuffix = r.SSKSuffix
	}
	if opts.SplitSize == 0 {
		opts.SplitSize = r.SplitSize
	}
	if !opts.AllowSplitfiles {
		opts.AllowSplitfiles = r.AllowSplitfiles
	}
	return opts, pub, priv
}

// recordFrom captures the post-publish state of a Put call into a Record
// ready to persist, with edition advanced to the slot that actually succeeded
// (meaningful only for the Edition discipline; otherwise it echoes
// opts.Edition unchanged).
func recordFrom(opts Options, pub, priv string, publishedEdition int64) Record {
	return Record{
		Name:            opts.Name,
		Pub:             pub,
		Priv:            priv,
		Default:         opts.Default,
		HTL:             opts.HTL,
		Offset:          opts.Offset,
		Increment:       opts.Increment,
		SplitSize:       opts.SplitSize,
		AllowSplitfiles: opts.AllowSplitfiles,
		SiteType:        string(opts.Discipline),
		Edition:         publishedEdition,
		EditionMaxTries: opts.EditionMaxTries,
		SSKSuffix:       opts.SSKSuffix,
	}
}
