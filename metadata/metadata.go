// Package metadata implements the text-based, multi-document Freenet
// metadata format: parsing, rendering, and resolving a document name to its
// redirect/splitfile target.
//
// Grounded on original_source/freenet.py's class metadata (parseRaw, render,
// targeturi, add).
package metadata

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/freenetgo/fcp/errs"
	"github.com/freenetgo/fcp/uri"
)

// Action identifies how a document resolves.
type Action string

const (
	ActionNone         Action = ""
	ActionRedirect     Action = "Redirect"
	ActionDateRedirect Action = "DateRedirect"
	ActionSplitFile    Action = "SplitFile"
)

const defaultIncrement = 0x15180 // 86400 seconds, one day

// Document is one entry in a Metadata map.
type Document struct {
	Action Action

	// Redirect / DateRedirect
	Target *uri.URI

	// DateRedirect
	Increment int64
	Offset    int64

	// SplitFile
	SplitSize int
	Chunks    []uri.URI

	MimeType    string
	Description string

	// Extras holds unrecognized Field=Value lines verbatim, preserved across
	// a parse/render round trip.
	Extras map[string]string
}

// Metadata is a mutable builder over an insertion-order-insignificant map of
// document name ("" = default) to Document. Build with Add/Set, consume with
// Render, or obtain one from Parse.
type Metadata struct {
	Revision string
	Docs     map[string]*Document
}

// New returns an empty metadata builder at revision 1.
func New() *Metadata {
	return &Metadata{Revision: "1", Docs: map[string]*Document{}}
}

// AddDefault adds the default ("") document with action none, terminal data.
func (m *Metadata) AddDefault(mimetype string) {
	if mimetype == "" {
		mimetype = "text/plain"
	}
	m.Docs[""] = &Document{Action: ActionNone, MimeType: mimetype, Extras: map[string]string{}}
}

// AddRedirect adds a Redirect document targeting target.
func (m *Metadata) AddRedirect(name string, target uri.URI, mimetype string) {
	d := &Document{Action: ActionRedirect, Target: &target, Extras: map[string]string{}}
	if mimetype != "" {
		d.MimeType = mimetype
	}
	m.Docs[name] = d
}

// AddDateRedirect adds a DateRedirect document; increment/offset of 0 fall
// back to the wire defaults (86400/0) when rendered.
func (m *Metadata) AddDateRedirect(name string, target uri.URI, increment, offset int64) {
	m.Docs[name] = &Document{
		Action:    ActionDateRedirect,
		Target:    &target,
		Increment: increment,
		Offset:    offset,
		Extras:    map[string]string{},
	}
}

// AddSplitFile adds a SplitFile document describing a reconstructable file.
func (m *Metadata) AddSplitFile(name string, splitSize int, chunks []uri.URI, mimetype string) {
	if mimetype == "" {
		mimetype = "text/plain"
	}
	m.Docs[name] = &Document{
		Action:    ActionSplitFile,
		SplitSize: splitSize,
		Chunks:    chunks,
		MimeType:  mimetype,
		Extras:    map[string]string{},
	}
}

// TargetURI resolves doc to: (nil, nil, nil) for terminal data, (*URI, nil,
// nil) for a plain/date redirect, or (nil, []URI, nil) for a splitfile.
// If doc is absent but a default document exists, the default's target is
// returned with its MSKPath overridden to doc.
func (m *Metadata) TargetURI(doc string, future int) (*uri.URI, []uri.URI, error) {
	d, ok := m.Docs[doc]
	if !ok {
		if doc == "" {
			return nil, nil, nil
		}
		u, chunks, err := m.TargetURI("", future)
		if err != nil {
			return nil, nil, err
		}
		if u == nil {
			return nil, chunks, nil
		}
		withPath := u.WithMSKPath(doc)
		return &withPath, nil, nil
	}

	switch d.Action {
	case ActionNone:
		return nil, nil, nil
	case ActionRedirect:
		return d.Target, nil, nil
	case ActionDateRedirect:
		increment := d.Increment
		if increment == 0 {
			increment = defaultIncrement
		}
		resolved, err := d.Target.DBR(future, increment, d.Offset)
		if err != nil {
			return nil, nil, err
		}
		return &resolved, nil, nil
	case ActionSplitFile:
		return nil, d.Chunks, nil
	default:
		return nil, nil, errs.Wrapf(errs.ErrMetadata, "document %q: no such document", doc)
	}
}

var (
	reDocHeader = regexp.MustCompile(`^\s*Version[\r\n]+\s*`)
	reDocFooter = regexp.MustCompile(`\s*End[ \t]*[\r\n]+\s*$`)
	rePartSep   = regexp.MustCompile(`\s*EndPart[\r\n]+\s*Document[\r\n]+\s*`)
	reLineSep   = regexp.MustCompile(`\s*[\r\n]+\s*`)

	// reMetaKeywords matches every recognized Field name; anything else in a
	// document's Field=Value lines is preserved verbatim in Extras.
	reMetaKeywords = regexp.MustCompile(`^(Name|Info\.Format|Info\.Description|Redirect\.Target|DateRedirect\.Target|DateRedirect\.Offset|DateRedirect\.Increment|SplitFile\.Size|SplitFile\.BlockCount|SplitFile\.Block\.[0-9a-fA-F]+)$`)
)

// Parse decodes the text metadata wire format. In strict mode, a missing
// header/footer or a malformed (no "=") line is an error; non-strict mode
// defaults Revision to "1" and tolerates junk before the header.
func Parse(raw string, strict bool) (*Metadata, error) {
	m := &Metadata{Revision: "1", Docs: map[string]*Document{}}
	if raw == "" {
		return m, nil
	}

	loc := reDocHeader.FindStringIndex(raw)
	if loc == nil {
		if strict {
			return nil, errs.Wrap(errs.ErrMetadata, "missing Version header")
		}
		return m, nil
	}
	if strict && raw[:loc[0]] != "" {
		return nil, errs.Wrap(errs.ErrMetadata, "junk before Version header")
	}
	body := raw[loc[1]:]

	footerLoc := reDocFooter.FindStringIndex(body)
	if footerLoc == nil {
		if strict {
			return nil, errs.Wrap(errs.ErrMetadata, "missing End footer")
		}
		return m, nil
	}
	body = body[:footerLoc[0]]

	parts := rePartSep.Split(body, -1)
	if len(parts) == 0 {
		return m, nil
	}

	partLines := make([][][2]string, 0, len(parts))
	for _, part := range parts {
		var lines [][2]string
		for _, line := range reLineSep.Split(part, -1) {
			if line == "" {
				continue
			}
			kv, err := parseLine(line)
			if err != nil {
				if strict {
					return nil, err
				}
				continue
			}
			lines = append(lines, kv)
		}
		partLines = append(partLines, lines)
	}

	head := partLines[0]
	if len(head) != 1 || head[0][0] != "Revision" {
		if strict {
			return nil, errs.Wrap(errs.ErrMetadata, "bad revision header")
		}
		m.Revision = "1"
	} else {
		m.Revision = head[0][1]
	}

	for _, lines := range partLines[1:] {
		fields := map[string]string{}
		for _, kv := range lines {
			fields[kv[0]] = kv[1]
		}
		name := fields["Name"]

		d := &Document{Extras: map[string]string{}}
		if v, ok := fields["Info.Format"]; ok {
			d.MimeType = v
		}
		if v, ok := fields["Info.Description"]; ok {
			d.Description = v
		}

		switch {
		case fields["Redirect.Target"] != "":
			target, err := uri.Parse(fields["Redirect.Target"])
			if err != nil {
				return nil, errs.Wrapf(errs.ErrMetadata, "document %q: %v", name, err)
			}
			d.Action = ActionRedirect
			d.Target = &target

		case fields["DateRedirect.Target"] != "":
			target, err := uri.Parse(fields["DateRedirect.Target"])
			if err != nil {
				return nil, errs.Wrapf(errs.ErrMetadata, "document %q: %v", name, err)
			}
			d.Action = ActionDateRedirect
			d.Target = &target
			d.Increment = hexOr(fields["DateRedirect.Increment"], defaultIncrement)
			d.Offset = hexOr(fields["DateRedirect.Offset"], 0)

		case fields["SplitFile.BlockCount"] != "":
			nblocks, err := strconv.ParseInt(fields["SplitFile.BlockCount"], 16, 64)
			if err != nil {
				return nil, errs.Wrapf(errs.ErrMetadata, "document %q: bad SplitFile.BlockCount: %v", name, err)
			}
			d.Action = ActionSplitFile
			d.SplitSize = int(hexOr(fields["SplitFile.Size"], 0))
			d.Chunks = make([]uri.URI, 0, nblocks)
			for i := int64(1); i <= nblocks; i++ {
				key := fmt.Sprintf("SplitFile.Block.%x", i)
				chunkURI, err := uri.Parse(fields[key])
				if err != nil {
					return nil, errs.Wrapf(errs.ErrMetadata, "document %q: block %d: %v", name, i, err)
				}
				d.Chunks = append(d.Chunks, chunkURI)
			}

		default:
			d.Action = ActionNone
			if d.MimeType == "" {
				d.MimeType = "text/plain"
			}
		}

		for k, v := range fields {
			if k == "Name" {
				continue
			}
			if !reMetaKeywords.MatchString(k) {
				d.Extras[k] = v
			}
		}

		m.Docs[name] = d
	}

	return m, nil
}

func parseLine(line string) ([2]string, error) {
	idx := strings.Index(line, "=")
	if idx <= 0 {
		return [2]string{}, errs.Wrapf(errs.ErrMetadata, "malformed line %q", line)
	}
	return [2]string{strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:])}, nil
}

func hexOr(s string, def int64) int64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return def
	}
	return v
}

// Render assembles the text metadata wire format. Documents are emitted
// sorted by name with the default document ("") first, for deterministic
// output; numeric fields are lowercase hex.
func (m *Metadata) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Version\nRevision=%s\n", m.Revision)

	names := make([]string, 0, len(m.Docs))
	for name := range m.Docs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "" {
			return true
		}
		if names[j] == "" {
			return false
		}
		return names[i] < names[j]
	})

	parts := make([]string, 0, len(names))
	for _, name := range names {
		d := m.Docs[name]
		var p strings.Builder
		if name != "" {
			fmt.Fprintf(&p, "Name=%s\n", name)
		}
		switch d.Action {
		case ActionRedirect:
			fmt.Fprintf(&p, "Redirect.Target=%s\n", d.Target.String())
		case ActionDateRedirect:
			fmt.Fprintf(&p, "DateRedirect.Target=%s\n", d.Target.String())
			if d.Offset != 0 {
				fmt.Fprintf(&p, "DateRedirect.Offset=%x\n", d.Offset)
			}
			if d.Increment != 0 && d.Increment != defaultIncrement {
				fmt.Fprintf(&p, "DateRedirect.Increment=%x\n", d.Increment)
			}
		case ActionSplitFile:
			fmt.Fprintf(&p, "SplitFile.Size=%x\n", d.SplitSize)
			fmt.Fprintf(&p, "SplitFile.BlockCount=%x\n", len(d.Chunks))
			for i, chunk := range d.Chunks {
				fmt.Fprintf(&p, "SplitFile.Block.%x=%s\n", i+1, chunk.String())
			}
		}
		if d.MimeType != "" {
			fmt.Fprintf(&p, "Info.Format=%s\n", d.MimeType)
		}
		if d.Description != "" {
			fmt.Fprintf(&p, "Info.Description=%s\n", d.Description)
		}
		extraKeys := make([]string, 0, len(d.Extras))
		for k := range d.Extras {
			extraKeys = append(extraKeys, k)
		}
		sort.Strings(extraKeys)
		for _, k := range extraKeys {
			fmt.Fprintf(&p, "%s=%s\n", k, d.Extras[k])
		}
		parts = append(parts, p.String())
	}

	for _, p := range parts {
		b.WriteString("EndPart\nDocument\n")
		b.WriteString(p)
	}
	b.WriteString("End\n")
	return b.String()
}

// IsEmpty reports whether m has no documents, i.e. is a raw data blob with no
// redirect/splitfile structure.
func (m *Metadata) IsEmpty() bool {
	return m == nil || len(m.Docs) == 0
}
