// Package lifecycle enforces the settings-version state machine: draft →
// active → archived, with at most one active version per domain. It
// orchestrates the document store and the impact evaluator; it does not
// implement either.
package lifecycle

import (
	"context"
	"errors"

	"beacon/api/internal/draft"
	"beacon/api/internal/rbac"
	"beacon/api/internal/store"
)

var (
	// ErrInvalidState marks a transition that is illegal for the target
	// version's current status (e.g. updating an active version).
	ErrInvalidState = errors.New("operation not allowed in current status")

	// ErrForbidden marks an activation refused by the local authorization
	// predicate. No store call is made.
	ErrForbidden = errors.New("actor is not allowed to activate versions")

	// ErrValidationFailed marks an activation blocked by semantic errors
	// from the last validate call. Warnings do not block.
	ErrValidationFailed = errors.New("candidate has validation errors")

	// ErrPending marks an operation that already has a request in flight
	// for this entity.
	ErrPending = errors.New("request already in flight")

	// ErrRemote wraps store/evaluator failures. The underlying message is
	// preserved verbatim; local state stays untouched and the caller may
	// retry explicitly.
	ErrRemote = errors.New("remote call failed")

	// ErrNoVersion marks controller operations that need a loaded version.
	ErrNoVersion = errors.New("no version loaded")
)

// Actor identifies who is performing a lifecycle operation. Authorization
// is a pure function of the actor's role; no ambient user state exists.
type Actor struct {
	ID   string
	Name string
	Role rbac.Role
}

// VersionPreview is the evaluator's side-effect-free estimate of what
// swapping in a candidate would change.
type VersionPreview struct {
	PreviewAvailable bool     `json:"preview_available"`
	ChangedKeys      []string `json:"changed_keys"`
	EstimatedEffect  string   `json:"estimated_effect"`
	Warnings         []string `json:"warnings"`
}

// DocumentStore is the canonical persistence collaborator. It owns
// statuses, labels, diffs and timestamps; the controller only mirrors
// them. ActivateVersion must atomically demote the previously active
// version in the same transaction.
type DocumentStore interface {
	ListVersions(ctx context.Context, domain string) ([]store.Version, error)
	GetVersion(ctx context.Context, versionID string) (store.Version, error)
	CreateVersion(ctx context.Context, domain string, settings map[string]any, description, createdBy string) (store.Version, error)
	UpdateVersion(ctx context.Context, versionID string, settings map[string]any, description, actor string) (store.Version, error)
	ArchiveVersion(ctx context.Context, versionID, actor string) (store.Version, error)
	ActivateVersion(ctx context.Context, versionID, actor string) (store.Version, error)
}

// Evaluator is the impact-evaluation collaborator. Both calls are pure
// with respect to persisted state and safe to repeat.
type Evaluator interface {
	ValidateVersion(ctx context.Context, domain string, settings map[string]any) (draft.ValidationResult, error)
	PreviewVersion(ctx context.Context, domain string, settings map[string]any) (VersionPreview, error)
}

// Invalidator drops cached version lists after a mutating call. The cache
// is refetched whole, never patched, because the store computes derived
// fields the client cannot reproduce.
type Invalidator interface {
	InvalidateDomain(ctx context.Context, domain string)
}
