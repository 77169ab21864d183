package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindDocumentLoad  ErrorKind = "document_load"
	KindEmbedding     ErrorKind = "embedding"
	KindIndexBuild    ErrorKind = "index_build"
	KindExpansion     ErrorKind = "expansion"
	KindSynthesis     ErrorKind = "synthesis"
	KindSuggestion    ErrorKind = "suggestion"
	KindConfiguration ErrorKind = "configuration"
)

// Error is a classified failure scoped to one retrieval scope (Scope may be empty).
type Error struct {
	Kind  ErrorKind
	Scope string
	Err   error
}

func (e *Error) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s (scope %s): %v", e.Kind, e.Scope, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and scope.
func NewError(kind ErrorKind, scope string, err error) error {
	return &Error{Kind: kind, Scope: scope, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
