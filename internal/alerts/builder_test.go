package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"beacon/api/internal/store"
)

type fakeMetrics struct {
	windowFn func(ctx context.Context, domain, scopeKey, metric string, from, to time.Time) (float64, error)
	calls    []windowCall
}

type windowCall struct {
	scopeKey string
	from     time.Time
	to       time.Time
}

func (f *fakeMetrics) MetricWindowValue(ctx context.Context, domain, scopeKey, metric string, from, to time.Time) (float64, error) {
	f.calls = append(f.calls, windowCall{scopeKey: scopeKey, from: from, to: to})
	if f.windowFn != nil {
		return f.windowFn(ctx, domain, scopeKey, metric, from, to)
	}
	return 0, nil
}

type fakeDefs struct {
	createFn func(ctx context.Context, definition store.AlertDefinition) (store.AlertDefinition, error)
	created  []store.AlertDefinition
}

func (f *fakeDefs) CreateAlertDefinition(ctx context.Context, definition store.AlertDefinition) (store.AlertDefinition, error) {
	f.created = append(f.created, definition)
	if f.createFn != nil {
		return f.createFn(ctx, definition)
	}
	return definition, nil
}

type fakeInvalidator struct {
	domains []string
}

func (f *fakeInvalidator) InvalidateDomain(_ context.Context, domain string) {
	f.domains = append(f.domains, domain)
}

func baseDraft() Draft {
	return Draft{
		Name:   "Signup drop",
		Type:   TypeRateDrop,
		Domain: "funnels",
		Metric: "conversion_rate",
		Condition: store.AlertCondition{
			ComparisonMode: ComparePreviousPeriod,
			ThresholdPct:   20,
			Severity:       "critical",
			CooldownDays:   3,
		},
	}
}

func fixedClock(t *testing.T, builder *Builder) time.Time {
	t.Helper()
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	builder.now = func() time.Time { return now }
	return now.Truncate(24 * time.Hour)
}

func TestScopeIsPassedThroughVerbatim(t *testing.T) {
	defs := &fakeDefs{}
	builder := NewBuilder(baseDraft(), &fakeMetrics{}, defs, &fakeInvalidator{})

	scope := map[string]any{
		"funnel_id":      "fun_42",
		"segment":        map[string]any{"country": "DE", "device": "mobile"},
		"unknown_future": []any{"x", "y"},
	}
	builder.SetScope(scope)

	created, err := builder.Commit(context.Background(), "Dana")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if created.Scope["funnel_id"] != "fun_42" {
		t.Fatal("scope keys must survive commit untouched")
	}
	if _, ok := created.Scope["unknown_future"]; !ok {
		t.Fatal("unrecognized scope keys must be forwarded, not filtered")
	}
}

func TestPreviewPreviousPeriodWindows(t *testing.T) {
	metrics := &fakeMetrics{
		windowFn: func(_ context.Context, _, _, _ string, from, _ time.Time) (float64, error) {
			// Newer window carries less volume.
			if from.After(time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC)) {
				return 60, nil
			}
			return 100, nil
		},
	}
	builder := NewBuilder(baseDraft(), metrics, &fakeDefs{}, &fakeInvalidator{})
	today := fixedClock(t, builder)

	preview, err := builder.PreviewAgainstLive(context.Background())
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	if len(metrics.calls) != 2 {
		t.Fatalf("expected current + baseline reads, got %d", len(metrics.calls))
	}
	current, baseline := metrics.calls[0], metrics.calls[1]
	if !current.to.Equal(today) || !current.from.Equal(today.AddDate(0, 0, -7)) {
		t.Fatalf("current window [%s, %s) is not the trailing 7 days", current.from, current.to)
	}
	if !baseline.to.Equal(current.from) || !baseline.from.Equal(current.from.AddDate(0, 0, -7)) {
		t.Fatalf("previous_period baseline [%s, %s) must immediately precede the current window", baseline.from, baseline.to)
	}

	if preview.DeltaPct != -40 {
		t.Fatalf("delta = %v, want -40", preview.DeltaPct)
	}
	if !preview.WouldTrigger || preview.Severity != "critical" {
		t.Fatalf("a -40%% drop must trigger a 20%% rate_drop alert, got %+v", preview)
	}
}

func TestPreviewRollingBaselineNormalizes28Days(t *testing.T) {
	draft := baseDraft()
	draft.Type = TypeVolumeChange
	draft.Condition.ComparisonMode = CompareRollingBaseline
	metrics := &fakeMetrics{
		windowFn: func(_ context.Context, _, _, _ string, from, to time.Time) (float64, error) {
			if int(to.Sub(from).Hours()/24) == 28 {
				return 400, nil // 100 per 7-day span
			}
			return 100, nil
		},
	}
	builder := NewBuilder(draft, metrics, &fakeDefs{}, &fakeInvalidator{})
	today := fixedClock(t, builder)

	preview, err := builder.PreviewAgainstLive(context.Background())
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	baseline := metrics.calls[1]
	if !baseline.from.Equal(today.AddDate(0, 0, -35)) || !baseline.to.Equal(today.AddDate(0, 0, -7)) {
		t.Fatalf("rolling baseline must be the 28 days before the current window, got [%s, %s)", baseline.from, baseline.to)
	}
	if preview.BaselineValue != 100 {
		t.Fatalf("baseline value = %v, want per-span normalized 100", preview.BaselineValue)
	}
	if preview.DeltaPct != 0 || preview.WouldTrigger {
		t.Fatalf("equal normalized volume must not trigger, got %+v", preview)
	}
}

func TestPreviewEmptyBaselineWarnsInsteadOfDividing(t *testing.T) {
	builder := NewBuilder(baseDraft(), &fakeMetrics{}, &fakeDefs{}, &fakeInvalidator{})
	fixedClock(t, builder)

	preview, err := builder.PreviewAgainstLive(context.Background())
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.WouldTrigger {
		t.Fatal("no baseline data must never trigger")
	}
	if len(preview.Warnings) == 0 {
		t.Fatal("expected an undefined-delta warning")
	}
}

func TestPreviewIsRepeatableAndWritesNothing(t *testing.T) {
	defs := &fakeDefs{}
	cache := &fakeInvalidator{}
	builder := NewBuilder(baseDraft(), &fakeMetrics{}, defs, cache)
	fixedClock(t, builder)

	for i := 0; i < 3; i++ {
		if _, err := builder.PreviewAgainstLive(context.Background()); err != nil {
			t.Fatalf("preview: %v", err)
		}
	}
	if len(defs.created) != 0 || len(cache.domains) != 0 {
		t.Fatal("preview must not persist or invalidate anything")
	}
}

func TestCommitClampsConditionValues(t *testing.T) {
	cases := []struct {
		name          string
		threshold     float64
		cooldown      int
		wantThreshold float64
		wantCooldown  int
	}{
		{"below range", 0.2, 0, 1, 1},
		{"above range", 750, 90, 200, 30},
		{"in range", 15, 7, 15, 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft := baseDraft()
			draft.Condition.ThresholdPct = tc.threshold
			draft.Condition.CooldownDays = tc.cooldown
			builder := NewBuilder(draft, &fakeMetrics{}, &fakeDefs{}, &fakeInvalidator{})

			created, err := builder.Commit(context.Background(), "Dana")
			if err != nil {
				t.Fatalf("commit: %v", err)
			}
			if created.Condition.ThresholdPct != tc.wantThreshold {
				t.Errorf("threshold = %v, want %v", created.Condition.ThresholdPct, tc.wantThreshold)
			}
			if created.Condition.CooldownDays != tc.wantCooldown {
				t.Errorf("cooldown = %v, want %v", created.Condition.CooldownDays, tc.wantCooldown)
			}
		})
	}
}

func TestCommitRequiresName(t *testing.T) {
	draft := baseDraft()
	draft.Name = "   "
	defs := &fakeDefs{}
	builder := NewBuilder(draft, &fakeMetrics{}, defs, &fakeInvalidator{})

	_, err := builder.Commit(context.Background(), "Dana")
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
	if len(defs.created) != 0 {
		t.Fatal("invalid drafts never reach the store")
	}
}

func TestCommitEnablesAndInvalidates(t *testing.T) {
	defs := &fakeDefs{}
	cache := &fakeInvalidator{}
	builder := NewBuilder(baseDraft(), &fakeMetrics{}, defs, cache)

	created, err := builder.Commit(context.Background(), "Dana")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !created.IsEnabled {
		t.Fatal("committed definitions start enabled")
	}
	if created.ID == "" || created.CreatedBy != "Dana" {
		t.Fatalf("commit must assign identity, got %+v", created)
	}
	if len(cache.domains) != 1 || cache.domains[0] != "funnels" {
		t.Fatalf("commit must invalidate the definition list for the domain, got %v", cache.domains)
	}
}

func TestCommitFailureLeavesDraft(t *testing.T) {
	defs := &fakeDefs{
		createFn: func(context.Context, store.AlertDefinition) (store.AlertDefinition, error) {
			return store.AlertDefinition{}, errors.New("gateway timeout")
		},
	}
	cache := &fakeInvalidator{}
	builder := NewBuilder(baseDraft(), &fakeMetrics{}, defs, cache)

	_, err := builder.Commit(context.Background(), "Dana")
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if builder.Draft().Name != "Signup drop" {
		t.Fatal("failed commit must keep the local draft intact")
	}
	if len(cache.domains) != 0 {
		t.Fatal("failed commit must not invalidate caches")
	}
}

func TestScopeKeyIsStable(t *testing.T) {
	a := ScopeKey(map[string]any{"b": 2, "a": 1})
	b := ScopeKey(map[string]any{"a": 1, "b": 2})
	if a != b {
		t.Fatalf("scope key must not depend on map order: %q vs %q", a, b)
	}
	if ScopeKey(nil) != "" {
		t.Fatal("empty scope addresses the whole domain")
	}
}
