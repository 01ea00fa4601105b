package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fatal ingestion failures.
type ErrorKind string

const (
	KindStructuralFormat ErrorKind = "structural_format"
	KindEmptyResult      ErrorKind = "empty_result"
	KindDuplicateKey     ErrorKind = "duplicate_key"
	KindPersistence      ErrorKind = "persistence"
)

// Sentinels for errors.Is checks against an *IngestError's kind.
var (
	ErrStructuralFormat = errors.New("structural format error")
	ErrEmptyResult      = errors.New("empty result")
	ErrDuplicateKey     = errors.New("duplicate image key")
	ErrPersistence      = errors.New("persistence error")
)

var kindSentinels = map[ErrorKind]error{
	KindStructuralFormat: ErrStructuralFormat,
	KindEmptyResult:      ErrEmptyResult,
	KindDuplicateKey:     ErrDuplicateKey,
	KindPersistence:      ErrPersistence,
}

// IngestError is the single typed failure returned by parsers and the orchestrator.
// A failed ingestion never modifies the target dataset.
type IngestError struct {
	Kind    ErrorKind
	Format  Format
	Message string
	Err     error
}

func (e *IngestError) Error() string {
	prefix := string(e.Kind)
	if e.Format != "" && e.Format != FormatUnrecognized {
		prefix = fmt.Sprintf("%s %s", e.Format, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel (ErrEmptyResult etc.).
func (e *IngestError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func structuralError(format Format, msg string, err error) *IngestError {
	return &IngestError{Kind: KindStructuralFormat, Format: format, Message: msg, Err: err}
}

func emptyResultError(format Format, msg string) *IngestError {
	return &IngestError{Kind: KindEmptyResult, Format: format, Message: msg}
}

func persistenceError(format Format, err error) *IngestError {
	return &IngestError{Kind: KindPersistence, Format: format, Message: "replace dataset images", Err: err}
}

// DuplicateKeyError reports two records of one batch sharing an image key.
type DuplicateKeyError struct {
	Key            string
	FirstPosition  int
	SecondPosition int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("image key %q used by records #%d and #%d", e.Key, e.FirstPosition, e.SecondPosition)
}

func duplicateKeyError(format Format, dup *DuplicateKeyError) *IngestError {
	return &IngestError{Kind: KindDuplicateKey, Format: format, Message: "duplicate image key in upload", Err: dup}
}

// KindOf returns the ErrorKind of err, or "" if err is not an ingestion failure.
func KindOf(err error) ErrorKind {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}
