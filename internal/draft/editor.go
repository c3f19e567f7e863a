// Package draft holds the in-memory candidate settings document a user is
// editing. The candidate is a value copy of whatever version it was loaded
// from; mutating it never touches the canonical version.
package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrParse marks a candidate whose textual form could not be decoded.
	// While set, field edits and commit paths are refused so the structured
	// and textual views cannot diverge.
	ErrParse = errors.New("candidate text is not well-formed")

	// ErrPath marks a SetField path that conflicts with the existing
	// structure (e.g. indexing into a mapping).
	ErrPath = errors.New("invalid settings path")
)

// maxListIndex bounds how far a numeric path segment may grow a list.
// Settings documents are small; paths arrive from the network.
const maxListIndex = 1000

// ValidationIssue is one semantic error or warning reported by the remote
// validator, addressed by settings path.
type ValidationIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult is the last-known semantic verdict for a candidate. It
// is always stale relative to the latest edit until re-validated.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// Editor owns a single mutable candidate document and its two independent
// notions of validity: syntactic (local, immediate) and semantic (remote,
// stale after any edit). It is not safe for concurrent use; callers are
// event-driven and single-threaded.
type Editor struct {
	candidate  map[string]any
	parseError string
	validation *ValidationResult
}

func NewEditor() *Editor {
	return &Editor{candidate: map[string]any{}}
}

// Load replaces the candidate with a deep copy of the given settings and
// clears parse and validation state. The source document is never aliased.
func (e *Editor) Load(settings map[string]any) {
	if settings == nil {
		settings = map[string]any{}
	}
	e.candidate = cloneMap(settings)
	e.parseError = ""
	e.validation = nil
}

// Candidate returns a deep copy of the current candidate. The editor keeps
// exclusive ownership of its internal value.
func (e *Editor) Candidate() map[string]any {
	return cloneMap(e.candidate)
}

// SetField writes value at path, creating missing intermediate containers
// on demand: a numeric next segment creates a sequence, anything else a
// mapping. Refused while the editor is syntactically invalid.
func (e *Editor) SetField(path []string, value any) error {
	if e.parseError != "" {
		return fmt.Errorf("%w: %s", ErrParse, e.parseError)
	}
	if len(path) == 0 {
		return fmt.Errorf("%w: empty path", ErrPath)
	}
	updated, err := place(e.candidate, path, value)
	if err != nil {
		return err
	}
	root, ok := updated.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: top-level segment %q must be a mapping key", ErrPath, path[0])
	}
	e.candidate = root
	e.validation = nil
	return nil
}

// ReplaceRaw swaps the whole candidate for the deserialized form of text.
// On failure the previous candidate is retained and the editor becomes
// syntactically invalid until a subsequent ReplaceRaw succeeds.
func (e *Editor) ReplaceRaw(text string) error {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		e.parseError = err.Error()
		return fmt.Errorf("%w: %s", ErrParse, e.parseError)
	}
	if parsed == nil {
		parsed = map[string]any{}
	}
	e.candidate = parsed
	e.parseError = ""
	e.validation = nil
	return nil
}

// Serialize renders the candidate as indented JSON, the same canonical
// form ReplaceRaw accepts.
func (e *Editor) Serialize() (string, error) {
	payload, err := json.MarshalIndent(e.candidate, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize candidate: %w", err)
	}
	return string(payload), nil
}

// SyntaxOK reports the local validity layer: whether the structured and
// textual views of the candidate agree.
func (e *Editor) SyntaxOK() bool {
	return e.parseError == ""
}

// ParseError returns the stored decode failure, empty when syntactically
// valid.
func (e *Editor) ParseError() string {
	return e.parseError
}

// Validation returns the last semantic result, or nil when none is held
// (never validated, or invalidated by a later edit).
func (e *Editor) Validation() *ValidationResult {
	return e.validation
}

// SetValidation records the semantic verdict returned by the remote
// validator for the current candidate.
func (e *Editor) SetValidation(result ValidationResult) {
	copied := result
	e.validation = &copied
}

func place(node any, path []string, value any) (any, error) {
	seg := path[0]
	if idx, isIndex := parseIndex(seg); isIndex {
		var list []any
		switch current := node.(type) {
		case nil:
			list = nil
		case []any:
			list = current
		default:
			return nil, fmt.Errorf("%w: segment %q indexes a %T", ErrPath, seg, node)
		}
		if idx > maxListIndex {
			return nil, fmt.Errorf("%w: index %d exceeds the %d-element list limit", ErrPath, idx, maxListIndex)
		}
		for len(list) <= idx {
			list = append(list, nil)
		}
		if len(path) == 1 {
			list[idx] = value
			return list, nil
		}
		child := list[idx]
		if child == nil {
			child = newContainer(path[1])
		}
		updated, err := place(child, path[1:], value)
		if err != nil {
			return nil, err
		}
		list[idx] = updated
		return list, nil
	}

	var mapping map[string]any
	switch current := node.(type) {
	case nil:
		mapping = map[string]any{}
	case map[string]any:
		mapping = current
	default:
		return nil, fmt.Errorf("%w: segment %q keys into a %T", ErrPath, seg, node)
	}
	if len(path) == 1 {
		mapping[seg] = value
		return mapping, nil
	}
	child := mapping[seg]
	if child == nil {
		child = newContainer(path[1])
	}
	updated, err := place(child, path[1:], value)
	if err != nil {
		return nil, err
	}
	mapping[seg] = updated
	return mapping, nil
}

func newContainer(nextSegment string) any {
	if _, isIndex := parseIndex(nextSegment); isIndex {
		return []any{}
	}
	return map[string]any{}
}

func parseIndex(segment string) (int, bool) {
	idx, err := strconv.Atoi(segment)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func cloneMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = cloneValue(value)
	}
	return dst
}

func cloneValue(src any) any {
	switch typed := src.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		dst := make([]any, len(typed))
		for i, item := range typed {
			dst[i] = cloneValue(item)
		}
		return dst
	default:
		return typed
	}
}

// Clone deep-copies a settings document. Exposed for collaborators that
// hand documents across ownership boundaries.
func Clone(settings map[string]any) map[string]any {
	if settings == nil {
		return map[string]any{}
	}
	return cloneMap(settings)
}
