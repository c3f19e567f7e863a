package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"beacon/api/internal/draft"
	"beacon/api/internal/rbac"
	"beacon/api/internal/store"
)

const (
	opCreate   = "create"
	opUpdate   = "update"
	opValidate = "validate"
	opPreview  = "preview"
	opActivate = "activate"
	opArchive  = "archive"
)

// Controller drives the version lifecycle for one settings domain. It owns
// a Draft Editor for the in-progress candidate and mirrors the most
// recently fetched canonical version; it never merges divergent edits
// (last update wins server-side).
type Controller struct {
	domain   string
	store    DocumentStore
	eval     Evaluator
	cache    Invalidator
	template map[string]any

	mu       sync.Mutex
	editor   *draft.Editor
	current  *store.Version
	loadedID string
	pending  map[string]bool
	preview  *VersionPreview
}

// NewController creates a controller for domain. template is the settings
// document used by Create when no active version exists to clone.
func NewController(domain string, documents DocumentStore, eval Evaluator, cache Invalidator, template map[string]any) *Controller {
	return &Controller{
		domain:   domain,
		store:    documents,
		eval:     eval,
		cache:    cache,
		template: draft.Clone(template),
		editor:   draft.NewEditor(),
		pending:  make(map[string]bool),
	}
}

// Editor exposes the candidate editor. Callers mutate the candidate only
// through it.
func (c *Controller) Editor() *draft.Editor {
	return c.editor
}

// Load makes version the controller's canonical mirror and reloads the
// editor from it. Any in-progress local edits and preview state are
// discarded; responses tagged with a different version id will be dropped
// on arrival.
func (c *Controller) Load(version store.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := version
	copied.Settings = draft.Clone(version.Settings)
	c.current = &copied
	c.loadedID = version.ID
	c.preview = nil
	c.editor.Load(version.Settings)
}

// Current returns the most recently fetched canonical version, or nil.
func (c *Controller) Current() *store.Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	copied := *c.current
	copied.Settings = draft.Clone(c.current.Settings)
	return &copied
}

// Preview returns the last preview result for the loaded version, or nil.
func (c *Controller) Preview() *VersionPreview {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preview == nil {
		return nil
	}
	copied := *c.preview
	return &copied
}

// List fetches the canonical version list for this domain.
func (c *Controller) List(ctx context.Context) ([]store.Version, error) {
	versions, err := c.store.ListVersions(ctx, c.domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	return versions, nil
}

// Create starts a new draft. When settings is nil the currently active
// version's settings are cloned; with no active version the domain
// template is used. The new draft becomes the loaded version.
func (c *Controller) Create(ctx context.Context, actor Actor, settings map[string]any, description string) (store.Version, error) {
	if err := c.begin(opCreate); err != nil {
		return store.Version{}, err
	}
	defer c.end(opCreate)

	if settings == nil {
		versions, err := c.store.ListVersions(ctx, c.domain)
		if err != nil {
			return store.Version{}, fmt.Errorf("%w: %w", ErrRemote, err)
		}
		for _, version := range versions {
			if version.Status == store.StatusActive {
				settings = draft.Clone(version.Settings)
				break
			}
		}
		if settings == nil {
			settings = draft.Clone(c.template)
		}
	}

	created, err := c.store.CreateVersion(ctx, c.domain, settings, description, actor.Name)
	if err != nil {
		return store.Version{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	c.Load(created)
	c.cache.InvalidateDomain(ctx, c.domain)
	return created, nil
}

// Update pushes the editor's candidate to the store. Legal only while the
// loaded version is a draft; a failed call leaves the candidate and the
// canonical mirror untouched.
func (c *Controller) Update(ctx context.Context, actor Actor, description string) (store.Version, error) {
	c.mu.Lock()
	if !c.editor.SyntaxOK() {
		c.mu.Unlock()
		return store.Version{}, fmt.Errorf("%w: %s", draft.ErrParse, c.editor.ParseError())
	}
	if c.current == nil {
		c.mu.Unlock()
		return store.Version{}, ErrNoVersion
	}
	if c.current.Status != store.StatusDraft {
		status := c.current.Status
		c.mu.Unlock()
		return store.Version{}, fmt.Errorf("%w: cannot update %s version", ErrInvalidState, status)
	}
	target := c.loadedID
	candidate := c.editor.Candidate()
	c.mu.Unlock()

	if err := c.begin(opUpdate); err != nil {
		return store.Version{}, err
	}
	defer c.end(opUpdate)

	updated, err := c.store.UpdateVersion(ctx, target, candidate, description, actor.Name)
	if err != nil {
		return store.Version{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	c.resync(target, updated)
	c.cache.InvalidateDomain(ctx, c.domain)
	return updated, nil
}

// Validate asks the evaluator for a semantic verdict on the candidate.
// Side-effect free; the result is recorded on the editor unless the
// loaded version changed while the call was in flight.
func (c *Controller) Validate(ctx context.Context) (draft.ValidationResult, error) {
	c.mu.Lock()
	if !c.editor.SyntaxOK() {
		c.mu.Unlock()
		return draft.ValidationResult{}, fmt.Errorf("%w: %s", draft.ErrParse, c.editor.ParseError())
	}
	target := c.loadedID
	candidate := c.editor.Candidate()
	c.mu.Unlock()

	if err := c.begin(opValidate); err != nil {
		return draft.ValidationResult{}, err
	}
	defer c.end(opValidate)

	result, err := c.eval.ValidateVersion(ctx, c.domain, candidate)
	if err != nil {
		return draft.ValidationResult{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}

	c.mu.Lock()
	if c.loadedID == target {
		c.editor.SetValidation(result)
	}
	c.mu.Unlock()
	return result, nil
}

// PreviewCandidate estimates the effect of swapping in the candidate.
// Idempotent and safe to repeat; a stale response (loaded version changed
// mid-flight) is discarded rather than clobbering newer state.
func (c *Controller) PreviewCandidate(ctx context.Context) (VersionPreview, error) {
	c.mu.Lock()
	if !c.editor.SyntaxOK() {
		c.mu.Unlock()
		return VersionPreview{}, fmt.Errorf("%w: %s", draft.ErrParse, c.editor.ParseError())
	}
	target := c.loadedID
	candidate := c.editor.Candidate()
	c.mu.Unlock()

	if err := c.begin(opPreview); err != nil {
		return VersionPreview{}, err
	}
	defer c.end(opPreview)

	result, err := c.eval.PreviewVersion(ctx, c.domain, candidate)
	if err != nil {
		return VersionPreview{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}

	c.mu.Lock()
	if c.loadedID == target {
		copied := result
		c.preview = &copied
	}
	c.mu.Unlock()
	return result, nil
}

// Activate publishes the loaded draft. The authorization predicate is
// checked locally first; on refusal no network call happens. The store
// promotes this version and demotes the previous active one in a single
// transaction, so activation is one request, never two.
func (c *Controller) Activate(ctx context.Context, actor Actor) (store.Version, error) {
	c.mu.Lock()
	if !c.editor.SyntaxOK() {
		c.mu.Unlock()
		return store.Version{}, fmt.Errorf("%w: %s", draft.ErrParse, c.editor.ParseError())
	}
	if c.current == nil {
		c.mu.Unlock()
		return store.Version{}, ErrNoVersion
	}
	if !rbac.CanActivate(actor.Role) {
		c.mu.Unlock()
		return store.Version{}, fmt.Errorf("%w: role %q", ErrForbidden, actor.Role)
	}
	if c.current.Status != store.StatusDraft {
		status := c.current.Status
		c.mu.Unlock()
		return store.Version{}, fmt.Errorf("%w: cannot activate %s version", ErrInvalidState, status)
	}
	if validation := c.editor.Validation(); validation != nil && !validation.Valid {
		c.mu.Unlock()
		return store.Version{}, ErrValidationFailed
	}
	target := c.loadedID
	c.mu.Unlock()

	if err := c.begin(opActivate); err != nil {
		return store.Version{}, err
	}
	defer c.end(opActivate)

	activated, err := c.store.ActivateVersion(ctx, target, actor.Name)
	if err != nil {
		return store.Version{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	c.resync(target, activated)
	c.cache.InvalidateDomain(ctx, c.domain)
	return activated, nil
}

// Archive abandons the loaded draft. Active versions cannot be archived
// directly; they are demoted by activating a replacement.
func (c *Controller) Archive(ctx context.Context, actor Actor) (store.Version, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return store.Version{}, ErrNoVersion
	}
	if c.current.Status != store.StatusDraft {
		status := c.current.Status
		c.mu.Unlock()
		return store.Version{}, fmt.Errorf("%w: cannot archive %s version", ErrInvalidState, status)
	}
	target := c.loadedID
	c.mu.Unlock()

	if err := c.begin(opArchive); err != nil {
		return store.Version{}, err
	}
	defer c.end(opArchive)

	archived, err := c.store.ArchiveVersion(ctx, target, actor.Name)
	if err != nil {
		return store.Version{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	c.resync(target, archived)
	c.cache.InvalidateDomain(ctx, c.domain)
	return archived, nil
}

// resync replaces the canonical mirror with the store's response, unless a
// different version was loaded while the request was in flight.
func (c *Controller) resync(target string, version store.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadedID != target {
		return
	}
	copied := version
	copied.Settings = draft.Clone(version.Settings)
	c.current = &copied
	c.editor.Load(version.Settings)
	c.preview = nil
}

func (c *Controller) begin(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[op] {
		return fmt.Errorf("%w: %s", ErrPending, op)
	}
	c.pending[op] = true
	return nil
}

func (c *Controller) end(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, op)
}
