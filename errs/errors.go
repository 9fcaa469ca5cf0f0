// Package errs defines the error taxonomy shared by every package in this
// module. Errors are sentinel values wrapped with github.com/pkg/errors so
// callers can both errors.Is against a kind and read a human context chain.
package errs

import "github.com/pkg/errors"

// Sentinel kinds. Use errors.Is(err, errs.ErrRouteNotFound) etc. to classify an
// error returned from any operation in this module.
var (
	ErrConnect            = errors.New("fcp: connect failed")
	ErrProtocol           = errors.New("fcp: protocol error")
	ErrDataNotFound       = errors.New("fcp: data not found")
	ErrRouteNotFound      = errors.New("fcp: route not found")
	ErrURI                = errors.New("fcp: node rejected uri")
	ErrFormat             = errors.New("fcp: node rejected message format")
	ErrSize               = errors.New("fcp: payload too large for non-chk insert")
	ErrKeyCollision       = errors.New("fcp: key collision")
	ErrMetadata           = errors.New("fcp: metadata parse/format error")
	ErrURIParse           = errors.New("fcp: invalid uri")
	ErrSequenceExhausted  = errors.New("fcp: sequence walker exhausted")
	ErrEditionsExhausted  = errors.New("fcp: edition publish exhausted")
	ErrDbrNotAllowed      = errors.New("fcp: dbr not allowed on this uri type")
	ErrTooManyRedirects   = errors.New("fcp: too many redirects")
)

// KeyCollision carries the URI the node reports already holding content, so a
// caller (or the internal compare-and-accept path in client.PutRaw) can fetch it
// and decide whether the collision is benign.
type KeyCollision struct {
	URI string
}

func (e *KeyCollision) Error() string {
	return "fcp: key collision at " + e.URI
}

// Unwrap lets errors.Is(err, errs.ErrKeyCollision) succeed for a *KeyCollision.
func (e *KeyCollision) Unwrap() error {
	return ErrKeyCollision
}

// IsRetryable reports whether err is one of the two kinds the resolver (and
// only the resolver) is allowed to retry on its own numtries budget:
// ErrDataNotFound and ErrRouteNotFound. Every other error surfaces
// immediately.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDataNotFound) || errors.Is(err, ErrRouteNotFound)
}

// Wrap annotates err with msg, preserving errors.Is/As chains. No-op on nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with Printf-style formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}
