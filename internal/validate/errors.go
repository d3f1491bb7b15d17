// Package validate decides whether an uploaded file may be ingested: its headers
// must satisfy the fixed and the parameter-dependent schema, and none of its
// readings may repeat within the file or against finalized data.
package validate

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a validation failure.
type Kind string

const (
	KindParse     Kind = "parse"
	KindSchema    Kind = "schema"
	KindDuplicate Kind = "duplicate"
	KindRow       Kind = "row"
)

// Error is an aggregate of every problem found by one validation phase.
type Error struct {
	Kind     Kind
	Messages []string
}

func (e *Error) Error() string {
	if len(e.Messages) == 1 {
		return e.Messages[0]
	}
	return fmt.Sprintf("%s validation failed: %s", e.Kind, strings.Join(e.Messages, "; "))
}

// New returns an *Error of the given kind, or nil when messages is empty.
func New(kind Kind, messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	return &Error{Kind: kind, Messages: messages}
}

// Messages flattens err into user-facing lines. Errors that are not validation
// errors yield their own message.
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var verr *Error
	if errors.As(err, &verr) {
		return append([]string(nil), verr.Messages...)
	}
	return []string{err.Error()}
}

// IsValidation reports whether err is (or wraps) a validation error.
func IsValidation(err error) bool {
	var verr *Error
	return errors.As(err, &verr)
}
