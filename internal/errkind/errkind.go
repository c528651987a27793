// Package errkind classifies errors raised anywhere in the mirroring
// pipeline into the handful of categories the processor reacts to
// differently: Transient errors are retried, Integrity errors trigger a
// recovery sweep, Invariant errors disable the offending job, and
// Programmer errors are logged and dropped.
package errkind

import "fmt"

// Kind is a coarse classification of a pipeline error.
type Kind int

const (
	// Unknown is the zero value; treated the same as Programmer.
	Unknown Kind = iota

	// Transient covers busy targets, sharing violations, and other
	// conditions expected to resolve on their own (push to retry lane).
	Transient

	// Integrity covers broken rename pairs, buffer overflows, and
	// missing destination parents (trigger a recovery sweep).
	Integrity

	// Invariant covers a nil job list or an unreachable destination
	// root (disable the affected job, keep the others running).
	Invariant

	// Programmer covers states the dispatch matrix believes impossible.
	Programmer
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Integrity:
		return "integrity"
	case Invariant:
		return "invariant"
	case Programmer:
		return "programmer"
	default:
		return "unknown"
	}
}

// kindError attaches a Kind to a wrapped error without losing the
// original error chain for errors.Is / errors.As callers.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("[%s] %v", e.kind, e.err)
}

func (e *kindError) Unwrap() error {
	return e.err
}

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &kindError{kind: kind, err: err}
}

// Of reports the Kind attached to err via Wrap, or Unknown if none.
func Of(err error) Kind {
	for err != nil {
		if k, ok := err.(*kindError); ok { //nolint:errorlint
			return k.kind
		}
		u, ok := err.(interface{ Unwrap() error }) //nolint:errorlint
		if !ok {
			break
		}
		err = u.Unwrap()
	}

	return Unknown
}
