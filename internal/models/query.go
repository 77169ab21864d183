package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// GlobalScope is the scope id of the whole-portfolio document set.
const GlobalScope = "global"

// MaxQuestionLength caps question length in characters.
const MaxQuestionLength = 2000

// ErrInvalidRequest marks a malformed scope id or question.
var ErrInvalidRequest = errors.New("invalid request")

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateScopeID returns an error unless id is "global" or a safe project id.
func ValidateScopeID(id string) error {
	if id == GlobalScope {
		return nil
	}
	if !projectIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid scope id %q", ErrInvalidRequest, id)
	}
	return nil
}

// AskRequest is a question addressed to one scope.
type AskRequest struct {
	Scope    string `json:"scope"`
	Question string `json:"question"`
}

// Validate trims the question and checks the scope and question are usable.
func (r *AskRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return fmt.Errorf("%w: question cannot be empty", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(r.Question) > MaxQuestionLength {
		return fmt.Errorf("%w: question exceeds %d characters", ErrInvalidRequest, MaxQuestionLength)
	}
	if r.Scope == "" {
		r.Scope = GlobalScope
	}
	return ValidateScopeID(r.Scope)
}
