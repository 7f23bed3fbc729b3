// Package ferrors classifies the error kinds the pipeline distinguishes
// between when deciding whether to advance a checkpoint, skip a
// transaction, or abandon a fact for the current tick.
package ferrors

import "fmt"

// Kind names one of the pipeline's error classes (spec §7).
type Kind int

const (
	// TransientFetch covers network errors, 5xx responses, and
	// schema-parse failures on a single response. The caller should
	// treat the operation as having returned nothing and move on.
	TransientFetch Kind = iota
	// ProtocolViolation covers malformed server responses that violate
	// a documented invariant: missing headers on 200, heterogeneous
	// slots across a transaction's outputs, a missing datum hash on a
	// matched output.
	ProtocolViolation
	// DuplicateInsert marks a unique-constraint rejection from the
	// store. Never surfaced as a failure; only counted.
	DuplicateInsert
	// PermanentArchiveError covers archive-package problems that will
	// not resolve by retrying within the same tick: bad content-type,
	// tar extraction failure, a missing validation file.
	PermanentArchiveError
	// ConfigurationError covers missing or invalid startup
	// configuration. Always fatal.
	ConfigurationError
)

func (k Kind) String() string {
	switch k {
	case TransientFetch:
		return "transient_fetch"
	case ProtocolViolation:
		return "protocol_violation"
	case DuplicateInsert:
		return "duplicate_insert"
	case PermanentArchiveError:
		return "permanent_archive_error"
	case ConfigurationError:
		return "configuration_error"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the pipeline-level classification
// of what went wrong and where.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientFetch error attributed to op.
func Transient(op string, err error) error {
	return &Error{Kind: TransientFetch, Op: op, Err: err}
}

// Protocol wraps err as a ProtocolViolation error attributed to op.
func Protocol(op string, err error) error {
	return &Error{Kind: ProtocolViolation, Op: op, Err: err}
}

// PermanentArchive wraps err as a PermanentArchiveError attributed to op.
func PermanentArchive(op string, err error) error {
	return &Error{Kind: PermanentArchiveError, Op: op, Err: err}
}

// Configuration wraps err as a fatal ConfigurationError attributed to op.
func Configuration(op string, err error) error {
	return &Error{Kind: ConfigurationError, Op: op, Err: err}
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var fe *Error
	for err != nil {
		if e, ok := err.(*Error); ok { //nolint:errorlint // explicit walk, mirrors errors.As without an allocation
			fe = e

			break
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return fe != nil && fe.Kind == k
}
