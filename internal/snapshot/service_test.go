package snapshot

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func templateSettings() map[string]any {
	return map[string]any{
		"sessionization": map[string]any{"session_timeout_minutes": float64(30)},
		"attribution":    map[string]any{"model": "last_touch", "lookback_days": float64(30)},
	}
}

func TestDomainRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDomainRepo("journeys", templateSettings(), "Avery"); err != nil {
		t.Fatalf("EnsureDomainRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "journeys")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	// Idempotent.
	if err := svc.EnsureDomainRepo("journeys", templateSettings(), "Avery"); err != nil {
		t.Fatalf("EnsureDomainRepo() second call error = %v", err)
	}

	edited := templateSettings()
	edited["sessionization"].(map[string]any)["session_timeout_minutes"] = float64(60)
	commit, err := svc.CommitDraft("journeys", "ver_1", edited, "Avery", "Bump session timeout")
	if err != nil {
		t.Fatalf("CommitDraft() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	settings, head, err := svc.HeadSettings("journeys", "draft/ver_1")
	if err != nil {
		t.Fatalf("HeadSettings() error = %v", err)
	}
	if head.Hash != commit.Hash {
		t.Fatalf("head hash %s, want %s", head.Hash, commit.Hash)
	}
	timeout := settings["sessionization"].(map[string]any)["session_timeout_minutes"]
	if timeout != float64(60) {
		t.Fatalf("draft head settings not persisted, got timeout %v", timeout)
	}

	promoted, err := svc.PromoteToMain("journeys", "ver_1", "Avery", "Activate v2")
	if err != nil {
		t.Fatalf("PromoteToMain() error = %v", err)
	}
	if !strings.Contains(promoted.Message, "version=ver_1") {
		t.Fatalf("promote message should record the version, got %q", promoted.Message)
	}

	mainSettings, _, err := svc.HeadSettings("journeys", "main")
	if err != nil {
		t.Fatalf("HeadSettings(main) error = %v", err)
	}
	if !reflect.DeepEqual(mainSettings, settings) {
		t.Fatal("main should carry the promoted draft settings")
	}

	history, err := svc.History("journeys", "main", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected baseline + promote on main, got %d commits", len(history))
	}

	if err := svc.TagActivation("journeys", "v2"); err != nil {
		t.Fatalf("TagActivation() error = %v", err)
	}
	// Tagging twice must not fail.
	if err := svc.TagActivation("journeys", "v2"); err != nil {
		t.Fatalf("TagActivation() repeat error = %v", err)
	}
}

func TestDraftBranchesAreIndependent(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureDomainRepo("funnels", templateSettings(), "Dana"); err != nil {
		t.Fatalf("EnsureDomainRepo() error = %v", err)
	}

	first := templateSettings()
	first["attribution"].(map[string]any)["lookback_days"] = float64(7)
	if _, err := svc.CommitDraft("funnels", "ver_a", first, "Dana", "Short lookback"); err != nil {
		t.Fatalf("CommitDraft(ver_a) error = %v", err)
	}

	second := templateSettings()
	second["attribution"].(map[string]any)["lookback_days"] = float64(90)
	if _, err := svc.CommitDraft("funnels", "ver_b", second, "Dana", "Long lookback"); err != nil {
		t.Fatalf("CommitDraft(ver_b) error = %v", err)
	}

	settingsA, _, err := svc.HeadSettings("funnels", "draft/ver_a")
	if err != nil {
		t.Fatalf("HeadSettings(ver_a) error = %v", err)
	}
	if settingsA["attribution"].(map[string]any)["lookback_days"] != float64(7) {
		t.Fatal("ver_a branch should keep its own settings")
	}

	settingsB, _, err := svc.HeadSettings("funnels", "draft/ver_b")
	if err != nil {
		t.Fatalf("HeadSettings(ver_b) error = %v", err)
	}
	if settingsB["attribution"].(map[string]any)["lookback_days"] != float64(90) {
		t.Fatal("ver_b branch should keep its own settings")
	}
}

func TestChangedKeys(t *testing.T) {
	from := map[string]any{
		"sessionization": map[string]any{"session_timeout_minutes": float64(30)},
		"attribution":    map[string]any{"model": "last_touch"},
		"steps":          []any{map[string]any{"name": "visit"}},
	}
	to := map[string]any{
		"sessionization": map[string]any{"session_timeout_minutes": float64(60)},
		"attribution":    map[string]any{"model": "last_touch"},
		"steps":          []any{map[string]any{"name": "visit"}, map[string]any{"name": "signup"}},
		"lookback_days":  float64(7),
	}

	got := ChangedKeys(from, to)
	want := []string{"lookback_days", "sessionization.session_timeout_minutes", "steps.1.name"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ChangedKeys() = %v, want %v", got, want)
	}
}

func TestChangedKeysEmptyForEqualDocuments(t *testing.T) {
	doc := templateSettings()
	if keys := ChangedKeys(doc, templateSettings()); len(keys) != 0 {
		t.Fatalf("expected no changed keys, got %v", keys)
	}
}
