// Package uri implements the Freenet key URI algebra: parsing and rendering
// of CHK/KSK/SSK/SVK/MSK key strings and date-based-redirect prefixing.
//
// Grounded on original_source/freenet.py's class uri (parse/render/dbr).
package uri

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/freenetgo/fcp/errs"
)

// Type identifies one of the four key kinds plus the pseudo-type MSK, which
// only ever appears as the trailing path component of another key.
type Type string

const (
	CHK Type = "CHK"
	KSK Type = "KSK"
	SSK Type = "SSK"
	SVK Type = "SVK"
	MSK Type = "MSK"
)

var validTypes = map[Type]bool{CHK: true, KSK: true, SSK: true, SVK: true, MSK: true}

// URI is an immutable parsed key. Construct new values via Parse or a struct
// literal; render with String.
type URI struct {
	Type Type
	// Hash is the opaque key hash, excluding any SSK pub_suffix.
	Hash string
	// PubSuffix is the 4-character SSK flavor tag ("PAgM"/"BCMA"), empty for
	// private-key SSKs and non-SSK types.
	PubSuffix string
	// SSKPath is the subspace path component of an SSK, before the "//".
	SSKPath string
	// MSKPath is the in-metadata document lookup path, after "//".
	MSKPath string
}

// Parse decodes a key URI string. PubSuffix is derived from the trailing 4
// characters of an SSK hash when they are "PAgM" or "BCMA".
func Parse(raw string) (URI, error) {
	if raw == "" {
		return URI{}, errs.Wrap(errs.ErrURIParse, "empty uri")
	}
	if strings.HasPrefix(raw, "freenet:") {
		raw = raw[len("freenet:"):]
	} else if strings.HasPrefix(raw, "entropy:") {
		raw = raw[len("entropy:"):]
	}
	if raw == "" {
		return URI{}, errs.Wrap(errs.ErrURIParse, "empty uri after scheme strip")
	}

	parts := strings.Split(raw, "@")
	var typ Type
	var rest string
	switch len(parts) {
	case 1:
		typ = KSK
		rest = parts[0]
	case 2:
		typ = Type(parts[0])
		rest = parts[1]
	default:
		return URI{}, errs.Wrapf(errs.ErrURIParse, "more than one '@' in %q", raw)
	}
	if !validTypes[typ] {
		return URI{}, errs.Wrapf(errs.ErrURIParse, "unknown key type %q", typ)
	}

	mskParts := strings.SplitN(rest, "//", 2)
	preMsk := mskParts[0]
	mskPath := ""
	if len(mskParts) == 2 {
		mskPath = mskParts[1]
	}

	u := URI{Type: typ, MSKPath: mskPath}

	if typ == SSK {
		sskParts := strings.SplitN(preMsk, "/", 2)
		hash := sskParts[0]
		sskPath := ""
		if len(sskParts) == 2 {
			sskPath = sskParts[1]
		}
		switch {
		case strings.HasSuffix(hash, "PAgM"):
			u.PubSuffix = "PAgM"
			u.Hash = hash[:len(hash)-4]
		case strings.HasSuffix(hash, "BCMA"):
			u.PubSuffix = "BCMA"
			u.Hash = hash[:len(hash)-4]
		default:
			// No recognized suffix: treat as a private-key SSK (no pub
			// suffix to strip), matching the original's "issskpriv" path.
			u.Hash = hash
		}
		u.SSKPath = sskPath
	} else {
		u.Hash = preMsk
	}

	return u, nil
}

// String renders the URI back to its wire/text form.
func (u URI) String() string {
	var sskBits, mskBits string
	if u.Type == SSK && u.SSKPath != "" {
		sskBits = "/" + u.SSKPath
	}
	if u.MSKPath != "" {
		mskBits = "//" + u.MSKPath
	}
	if u.Type == SSK || u.Type == SVK {
		return fmt.Sprintf("%s@%s%s%s%s", u.Type, u.Hash, u.PubSuffix, sskBits, mskBits)
	}
	return fmt.Sprintf("%s@%s%s", u.Type, u.Hash, mskBits)
}

// WithMSKPath returns a copy of u with MSKPath replaced, used by the resolver
// when a document lookup has no explicit target and the caller's remaining
// path must be appended.
func (u URI) WithMSKPath(path string) URI {
	u2 := u
	u2.MSKPath = path
	return u2
}

// DBR returns a copy of u with a date-based-redirect hex prefix prepended to
// SSKPath. Only legal for KSK and SSK; anything else is ErrDbrNotAllowed.
func (u URI) DBR(future int, increment, offset int64) (URI, error) {
	if u.Type != KSK && u.Type != SSK {
		return URI{}, errs.Wrapf(errs.ErrDbrNotAllowed, "uri %q is not KSK/SSK", u.String())
	}
	prefix := DBRPrefix(future, increment, offset, time.Now())
	u2 := u
	if u2.SSKPath != "" {
		u2.SSKPath = prefix + "-" + u2.SSKPath
	} else {
		u2.SSKPath = prefix
	}
	return u2, nil
}

// DBRPrefix computes the date-based-redirect hex prefix, grounded on
// original_source/freenet.py's global dbr() function:
//
//	secsSinceFirstHit = now - offset
//	lastHitTime = floor(secsSinceFirstHit/increment)*increment + offset
//	wantedHitTime = lastHitTime + future*increment
//	return hex(wantedHitTime)
func DBRPrefix(future int, increment, offset int64, now time.Time) string {
	nowSecs := now.Unix()
	secsSinceFirstHit := nowSecs - offset
	lastHitTime := (secsSinceFirstHit/increment)*increment + offset
	wantedHitTime := lastHitTime + int64(future)*increment
	return strconv.FormatInt(wantedHitTime, 16)
}
