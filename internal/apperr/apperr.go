// Package apperr defines the typed error taxonomy surfaced to API callers.
//
// Errors here are kinds, not wrapped causes: handlers type-switch (via
// errors.As) on these to pick an HTTP status and a machine-readable subcode,
// per the error handling design. Callers should still wrap with fmt.Errorf
// ("...: %w", err) when wrapping is needed for log context.
package apperr

import (
	"fmt"
	"strings"
)

// Op identifies which git operation produced a MergeConflicts error.
type Op string

const (
	OpMerge  Op = "merge"
	OpRebase Op = "rebase"
)

// MergeConflicts reports that a merge or rebase left conflicted files.
type MergeConflicts struct {
	Op    Op
	Files []string
}

func (e *MergeConflicts) Error() string {
	return fmt.Sprintf("%s conflicts in: %s", e.Op, strings.Join(e.Files, ", "))
}

// RebaseInProgress reports that a rebase is already underway on the worktree.
type RebaseInProgress struct {
	Path string
}

func (e *RebaseInProgress) Error() string {
	return fmt.Sprintf("rebase already in progress at %s", e.Path)
}

// PushRejected reports a non-force-rejected push, surfaced so the caller can
// offer a force-push affordance.
type PushRejected struct {
	Branch string
	Reason string
}

func (e *PushRejected) Error() string {
	return fmt.Sprintf("push of %s rejected: %s", e.Branch, e.Reason)
}

// PayloadTooLarge reports a shared-task text payload exceeding the bound.
type PayloadTooLarge struct {
	Limit, Got int
}

func (e *PayloadTooLarge) Error() string {
	return fmt.Sprintf("payload too large: %d bytes exceeds limit %d", e.Got, e.Limit)
}

// BadGateway reports a remote node that cannot currently serve a proxied
// request (offline, or missing a public URL).
type BadGateway struct {
	NodeID string
	Reason string
}

func (e *BadGateway) Error() string {
	return fmt.Sprintf("remote node %s unreachable: %s", e.NodeID, e.Reason)
}

// NotFound reports a missing entity.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Conflict reports an optimistic-concurrency version mismatch.
type Conflict struct {
	Expected, Actual int64
}

func (e *Conflict) Error() string {
	return fmt.Sprintf("version conflict: expected %d, actual %d", e.Expected, e.Actual)
}

// InvalidBackupFilename reports a filename that failed the safety check.
type InvalidBackupFilename struct {
	Name string
}

func (e *InvalidBackupFilename) Error() string {
	return fmt.Sprintf("invalid backup filename: %q", e.Name)
}

// Forbidden reports an operation disallowed by ownership or state rules.
type Forbidden struct {
	Reason string
}

func (e *Forbidden) Error() string {
	return "forbidden: " + e.Reason
}

// Precondition reports a bad-request style precondition failure with a
// machine-readable subcode (e.g. "invalid_branch_name", "path_escape").
type Precondition struct {
	Subcode string
	Reason  string
}

func (e *Precondition) Error() string {
	return fmt.Sprintf("precondition failed (%s): %s", e.Subcode, e.Reason)
}
