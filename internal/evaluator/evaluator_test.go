package evaluator

import (
	"context"
	"strings"
	"testing"

	"beacon/api/internal/store"
)

type fakeDocs struct {
	active *store.Version
	err    error
}

func (f *fakeDocs) GetActiveVersion(context.Context, string) (*store.Version, error) {
	return f.active, f.err
}

type fakeRows struct {
	count int
}

func (f *fakeRows) MetricRowCount(context.Context, string) (int, error) {
	return f.count, nil
}

func validSettings() map[string]any {
	return map[string]any{
		"sessionization": map[string]any{"session_timeout_minutes": float64(30)},
		"attribution":    map[string]any{"model": "last_touch", "lookback_days": float64(30)},
	}
}

func TestValidateAcceptsSaneSettings(t *testing.T) {
	svc := New(&fakeDocs{}, &fakeRows{})
	result, err := svc.ValidateVersion(context.Background(), "journeys", validSettings())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || len(result.Errors) != 0 {
		t.Fatalf("expected valid verdict, got %+v", result)
	}
}

func TestValidateErrorsCarrySettingsPaths(t *testing.T) {
	svc := New(&fakeDocs{}, &fakeRows{})
	settings := validSettings()
	settings["attribution"].(map[string]any)["model"] = "quantum"
	settings["sessionization"].(map[string]any)["session_timeout_minutes"] = float64(0)

	result, err := svc.ValidateVersion(context.Background(), "journeys", settings)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatal("expected invalid verdict")
	}
	paths := map[string]bool{}
	for _, issue := range result.Errors {
		paths[issue.Path] = true
	}
	if !paths["attribution.model"] || !paths["sessionization.session_timeout_minutes"] {
		t.Fatalf("errors must address settings paths, got %+v", result.Errors)
	}
}

func TestValidateWarningsDoNotInvalidate(t *testing.T) {
	svc := New(&fakeDocs{}, &fakeRows{})
	settings := validSettings()
	settings["attribution"].(map[string]any)["lookback_days"] = float64(180)
	settings["experimental"] = map[string]any{"flag": true}

	result, err := svc.ValidateVersion(context.Background(), "journeys", settings)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("warnings alone must not invalidate, got %+v", result)
	}
	if len(result.Warnings) < 2 {
		t.Fatalf("expected lookback and unknown-section warnings, got %+v", result.Warnings)
	}
}

func TestValidateFunnelSteps(t *testing.T) {
	svc := New(&fakeDocs{}, &fakeRows{})
	settings := map[string]any{
		"steps": []any{
			map[string]any{"name": "visit"},
			map[string]any{"name": "  "},
		},
	}

	result, err := svc.ValidateVersion(context.Background(), "funnels", settings)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatal("blank step name must be an error")
	}
	if result.Errors[0].Path != "steps.1.name" {
		t.Fatalf("error path = %s, want steps.1.name", result.Errors[0].Path)
	}

	// The same steps section is ignored outside the funnels domain.
	result, err = svc.ValidateVersion(context.Background(), "journeys", settings)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid {
		t.Fatal("journeys must not apply funnel step rules")
	}
}

func TestPreviewDiffsAgainstActiveVersion(t *testing.T) {
	active := &store.Version{
		ID:       "ver_live",
		Status:   store.StatusActive,
		Settings: validSettings(),
	}
	svc := New(&fakeDocs{active: active}, &fakeRows{count: 4200})

	candidate := validSettings()
	candidate["sessionization"].(map[string]any)["session_timeout_minutes"] = float64(60)

	preview, err := svc.PreviewVersion(context.Background(), "journeys", candidate)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !preview.PreviewAvailable {
		t.Fatal("expected preview to be available")
	}
	if len(preview.ChangedKeys) != 1 || preview.ChangedKeys[0] != "sessionization.session_timeout_minutes" {
		t.Fatalf("changed keys = %v", preview.ChangedKeys)
	}
	if preview.EstimatedEffect != "4200 metric rows re-evaluated" {
		t.Fatalf("estimated effect = %q", preview.EstimatedEffect)
	}
	if len(preview.Warnings) == 0 {
		t.Fatal("sessionization changes should carry a recompute warning")
	}
}

func TestPreviewWithoutActiveVersionWarns(t *testing.T) {
	svc := New(&fakeDocs{}, &fakeRows{})
	preview, err := svc.PreviewVersion(context.Background(), "journeys", validSettings())
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	found := false
	for _, warning := range preview.Warnings {
		if strings.Contains(warning, "no active version") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected empty-baseline warning, got %v", preview.Warnings)
	}
}

func TestPreviewIsIdempotent(t *testing.T) {
	svc := New(&fakeDocs{}, &fakeRows{count: 10})
	first, err := svc.PreviewVersion(context.Background(), "journeys", validSettings())
	if err != nil {
		t.Fatalf("first preview: %v", err)
	}
	second, err := svc.PreviewVersion(context.Background(), "journeys", validSettings())
	if err != nil {
		t.Fatalf("second preview: %v", err)
	}
	if first.EstimatedEffect != second.EstimatedEffect || len(first.ChangedKeys) != len(second.ChangedKeys) {
		t.Fatal("repeated previews of the same candidate must match")
	}
}
