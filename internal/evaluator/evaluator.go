// Package evaluator produces semantic verdicts and dry-run impact
// estimates for candidate settings documents. Both operations only read;
// repeating them returns equivalent results for unchanged inputs.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"beacon/api/internal/draft"
	"beacon/api/internal/lifecycle"
	"beacon/api/internal/snapshot"
	"beacon/api/internal/store"
)

// ActiveSource supplies the live settings a candidate is diffed against.
type ActiveSource interface {
	GetActiveVersion(ctx context.Context, domain string) (*store.Version, error)
}

// RowCounter sizes the dataset an activation would re-evaluate.
type RowCounter interface {
	MetricRowCount(ctx context.Context, domain string) (int, error)
}

type Service struct {
	docs    ActiveSource
	metrics RowCounter
}

func New(docs ActiveSource, metrics RowCounter) *Service {
	return &Service{docs: docs, metrics: metrics}
}

var attributionModels = map[string]bool{
	"first_touch": true,
	"last_touch":  true,
	"linear":      true,
	"time_decay":  true,
}

var knownSections = map[string]bool{
	"sessionization": true,
	"attribution":    true,
	"steps":          true,
	"counting":       true,
	"goals":          true,
}

// ValidateVersion checks the candidate against the domain's semantic
// rules. Errors block activation; warnings do not.
func (s *Service) ValidateVersion(_ context.Context, domain string, settings map[string]any) (draft.ValidationResult, error) {
	result := draft.ValidationResult{Valid: true}

	addError := func(path, message string) {
		result.Valid = false
		result.Errors = append(result.Errors, draft.ValidationIssue{Path: path, Message: message})
	}
	addWarning := func(path, message string) {
		result.Warnings = append(result.Warnings, draft.ValidationIssue{Path: path, Message: message})
	}

	for key := range settings {
		if !knownSections[key] {
			addWarning(key, "unrecognized section is ignored by the pipeline")
		}
	}

	if section, ok := settings["sessionization"].(map[string]any); ok {
		if raw, present := section["session_timeout_minutes"]; present {
			timeout, ok := raw.(float64)
			switch {
			case !ok:
				addError("sessionization.session_timeout_minutes", "must be a number")
			case timeout < 1 || timeout > 1440:
				addError("sessionization.session_timeout_minutes", "must be between 1 and 1440")
			case timeout > 240:
				addWarning("sessionization.session_timeout_minutes", "timeouts above 4 hours merge most sessions")
			}
		}
	}

	if section, ok := settings["attribution"].(map[string]any); ok {
		if raw, present := section["model"]; present {
			model, ok := raw.(string)
			if !ok || !attributionModels[model] {
				addError("attribution.model", fmt.Sprintf("unknown model %v", raw))
			}
		}
		if raw, present := section["lookback_days"]; present {
			lookback, ok := raw.(float64)
			switch {
			case !ok:
				addError("attribution.lookback_days", "must be a number")
			case lookback < 1 || lookback > 365:
				addError("attribution.lookback_days", "must be between 1 and 365")
			case lookback > 90:
				addWarning("attribution.lookback_days", "unusually long window")
			}
		}
	}

	if domain == "funnels" {
		s.validateSteps(settings, addError, addWarning)
	}

	return result, nil
}

func (s *Service) validateSteps(settings map[string]any, addError, addWarning func(path, message string)) {
	raw, present := settings["steps"]
	if !present {
		return
	}
	steps, ok := raw.([]any)
	if !ok {
		addError("steps", "must be a sequence")
		return
	}
	if len(steps) == 0 {
		addError("steps", "a funnel needs at least one step")
		return
	}
	if len(steps) > 20 {
		addWarning("steps", "funnels beyond 20 steps rarely converge")
	}
	for index, rawStep := range steps {
		step, ok := rawStep.(map[string]any)
		if !ok {
			addError(fmt.Sprintf("steps.%d", index), "must be a mapping")
			continue
		}
		name, _ := step["name"].(string)
		if strings.TrimSpace(name) == "" {
			addError(fmt.Sprintf("steps.%d.name", index), "step name is required")
		}
	}
}

// PreviewVersion estimates what swapping in the candidate would change: a
// flattened key diff against the active version and the size of the
// dataset that would be re-evaluated.
func (s *Service) PreviewVersion(ctx context.Context, domain string, settings map[string]any) (lifecycle.VersionPreview, error) {
	active, err := s.docs.GetActiveVersion(ctx, domain)
	if err != nil {
		return lifecycle.VersionPreview{}, fmt.Errorf("read active version: %w", err)
	}

	preview := lifecycle.VersionPreview{PreviewAvailable: true}

	baseline := map[string]any{}
	if active != nil {
		baseline = active.Settings
	} else {
		preview.Warnings = append(preview.Warnings, "no active version; diff is against an empty document")
	}
	preview.ChangedKeys = snapshot.ChangedKeys(baseline, settings)

	rows, err := s.metrics.MetricRowCount(ctx, domain)
	if err != nil {
		return lifecycle.VersionPreview{}, fmt.Errorf("count affected rows: %w", err)
	}
	preview.EstimatedEffect = fmt.Sprintf("%d metric rows re-evaluated", rows)

	for _, key := range preview.ChangedKeys {
		if strings.HasPrefix(key, "sessionization.") {
			preview.Warnings = append(preview.Warnings, "sessionization changes recompute all sessions")
			break
		}
	}
	return preview, nil
}
