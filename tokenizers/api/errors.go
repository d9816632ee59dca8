package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds returned by the tokenizers. Test for them with errors.Is.
var (
	// ErrConfig is returned when a vocabulary, merge table or tokenizer configuration can't be loaded or
	// is inconsistent. It is always returned at construction time.
	ErrConfig = errors.New("invalid tokenizer configuration")

	// ErrTokenNotFound is returned when a subword produced by the merges has no id in the vocabulary.
	ErrTokenNotFound = errors.New("token not found in vocabulary")

	// ErrDecode is returned when detokenized bytes are not valid UTF-8.
	ErrDecode = errors.New("invalid UTF-8 in detokenized text")

	// ErrLookup is returned for ids out of the vocabulary range, or unknown names.
	ErrLookup = errors.New("lookup failed")

	// ErrNotImplemented is returned by operations that require a collaborator (e.g. a preset registry)
	// that was not provided.
	ErrNotImplemented = errors.New("not implemented")

	// ErrContractViolation is the panic value (wrapped) of operations called with input that could not
	// have been produced by this package.
	ErrContractViolation = errors.New("contract violation")
)

// kindError attaches an error kind to a message and an optional cause, so that both
// errors.Is(err, kind) and errors.Is(err, cause) hold.
type kindError struct {
	kind  error
	cause error
	msg   string
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %v", e.msg, e.kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.msg, e.kind, e.cause)
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

// Errorf returns an error of the given kind (one of the Err* variables) with a formatted message and a stack trace.
func Errorf(kind error, format string, args ...any) error {
	return errors.WithStack(&kindError{kind: kind, msg: fmt.Sprintf(format, args...)})
}

// Wrapf returns an error of the given kind wrapping cause. It returns nil if cause is nil.
func Wrapf(kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&kindError{kind: kind, cause: cause, msg: fmt.Sprintf(format, args...)})
}
