package domain

import (
	"errors"
	"fmt"
)

var (
	ErrGuidelineNotFound = errors.New("guideline not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")

	// ErrSnapshotUnavailable means no snapshot has been built or restored yet.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
	// ErrSnapshotConflict means another process saved a snapshot since this
	// one was loaded.
	ErrSnapshotConflict = errors.New("snapshot conflict")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// InvalidInput rejects a call at its boundary with a specific reason.
func InvalidInput(operation, format string, args ...any) error {
	return WrapError(ErrInvalidInput, operation, fmt.Errorf(format, args...))
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

type NoticeCode string

const (
	NoticeEmptyPage    NoticeCode = "empty_page"
	NoticeNoChunks     NoticeCode = "no_chunks"
	NoticeUnchanged    NoticeCode = "unchanged"
	NoticeNoSnapshot   NoticeCode = "no_snapshot"
	NoticeNoCandidates NoticeCode = "no_candidates"
	NoticeLexicalOnly  NoticeCode = "lexical_only"
	NoticeNoStatements NoticeCode = "no_statements"
	NoticeSkippedText  NoticeCode = "skipped_statement"
)

// Notice reports a degenerate-but-valid condition. It is data, not an error.
type Notice struct {
	Code       NoticeCode `json:"code"`
	Message    string     `json:"message"`
	DocumentID string     `json:"document_id,omitempty"`
	PageNumber int        `json:"page_number,omitempty"`
}
