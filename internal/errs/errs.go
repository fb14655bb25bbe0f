// Package errs defines the pipeline's failure taxonomy. Each kind maps to a
// handling policy in the orchestrator: AuthError aborts the run, FetchError
// skips a handle, the rest skip or degrade a single post.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure.
type Kind string

const (
	KindAuth            Kind = "auth"
	KindFetch           Kind = "fetch"
	KindNormalization   Kind = "normalization"
	KindPersistence     Kind = "persistence"
	KindClassification  Kind = "classification"
	KindAssetResolution Kind = "asset_resolution"
)

// Sentinels for errors.Is matching.
var (
	ErrAuth            = &Error{Kind: KindAuth}
	ErrFetch           = &Error{Kind: KindFetch}
	ErrNormalization   = &Error{Kind: KindNormalization}
	ErrPersistence     = &Error{Kind: KindPersistence}
	ErrClassification  = &Error{Kind: KindClassification}
	ErrAssetResolution = &Error{Kind: KindAssetResolution}
)

// Error is a classified failure with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Auth reports that the source session could not be acquired.
func Auth(op string, err error) error { return newError(KindAuth, op, err) }

// Fetch reports that a handle's stream could not be opened or iterated.
func Fetch(op string, err error) error { return newError(KindFetch, op, err) }

// Normalization reports a raw post that cannot be mapped.
func Normalization(op string, err error) error { return newError(KindNormalization, op, err) }

// Persistence reports a rolled back upsert.
func Persistence(op string, err error) error { return newError(KindPersistence, op, err) }

// Classification reports a classifier transport or format failure.
func Classification(op string, err error) error { return newError(KindClassification, op, err) }

// AssetResolution reports a failure resolving or linking an asset.
func AssetResolution(op string, err error) error { return newError(KindAssetResolution, op, err) }

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
