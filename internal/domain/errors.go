package domain

import (
	"errors"
	"fmt"
)

// Sentinels wrapped by store adapters.
var (
	// ErrNotFound indicates the requested rating does not exist in a store.
	ErrNotFound = errors.New("rating not found")
	// ErrInvalidKey indicates a key that cannot exist in a store's key space.
	ErrInvalidKey = errors.New("key not valid for store")
	// ErrUnavailable indicates the store could not be reached or timed out.
	ErrUnavailable = errors.New("store unavailable")
	// ErrRejected indicates the store refused the record, e.g. a constraint.
	ErrRejected = errors.New("store rejected record")
)

// Kind classifies failures surfaced by the rating core.
type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindEnvironment Kind = "ENVIRONMENT"
	KindNotFound    Kind = "NOT_FOUND"
	KindInternal    Kind = "INTERNAL"
)

// Failure is the structured error returned by the rating core. Origin is
// empty when no store was involved.
type Failure struct {
	Kind    Kind
	Origin  Origin
	Op      string
	Message string
	Fields  map[string]string
	Cause   error
}

// NewFailure creates a failure of the given kind.
func NewFailure(kind Kind, op, message string) *Failure {
	return &Failure{Kind: kind, Op: op, Message: message}
}

func (f *Failure) Error() string {
	prefix := string(f.Kind)
	if f.Origin != "" {
		prefix += "/" + string(f.Origin)
	}
	if f.Op != "" {
		prefix += " " + f.Op
	}
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, f.Message)
}

// WithOrigin tags the failure with the store it came from.
func (f *Failure) WithOrigin(origin Origin) *Failure {
	f.Origin = origin
	return f
}

// WithCause attaches the underlying error.
func (f *Failure) WithCause(cause error) *Failure {
	f.Cause = cause
	return f
}

// WithField records a per-field validation message.
func (f *Failure) WithField(field, message string) *Failure {
	if f.Fields == nil {
		f.Fields = make(map[string]string)
	}
	f.Fields[field] = message
	return f
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Is matches another *Failure by kind, and by origin when the target sets one.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	if t.Kind != f.Kind {
		return false
	}
	return t.Origin == "" || t.Origin == f.Origin
}

// KindOf returns the kind of the first Failure in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}
