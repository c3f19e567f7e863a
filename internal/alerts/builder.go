// Package alerts builds threshold alert definitions. A builder draft is
// purely local until Commit; preview reads live aggregates but persists
// nothing.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"beacon/api/internal/store"
	"beacon/api/internal/util"
)

var (
	// ErrInvalidDefinition marks a commit refused by local validation.
	ErrInvalidDefinition = errors.New("alert definition is invalid")

	// ErrPending marks a preview or commit that already has a request in
	// flight.
	ErrPending = errors.New("request already in flight")

	// ErrRemote wraps metric-source and store failures; the draft is left
	// untouched.
	ErrRemote = errors.New("remote call failed")
)

// Comparison window policy. The current window is always the trailing
// seven days; rolling_baseline compares against the four weeks before it,
// normalized to the same width.
const (
	ComparePreviousPeriod  = "previous_period"
	CompareRollingBaseline = "rolling_baseline"

	currentWindowDays  = 7
	rollingWindowDays  = 28
	rollingWindowSpans = rollingWindowDays / currentWindowDays
)

// Alert types. They differ only in trigger direction.
const (
	TypeVolumeChange = "volume_change"
	TypeRateDrop     = "rate_drop"
	TypeDropoffSpike = "dropoff_spike"
	TypeLatencyShift = "latency_shift"
)

// MetricSource supplies windowed aggregates for previews.
type MetricSource interface {
	MetricWindowValue(ctx context.Context, domain, scopeKey, metric string, from, to time.Time) (float64, error)
}

// DefinitionStore persists committed definitions.
type DefinitionStore interface {
	CreateAlertDefinition(ctx context.Context, definition store.AlertDefinition) (store.AlertDefinition, error)
}

// Invalidator drops caches that list alert definitions for a domain.
type Invalidator interface {
	InvalidateDomain(ctx context.Context, domain string)
}

// Draft is the local, uncommitted definition under construction.
type Draft struct {
	Name      string
	Type      string
	Domain    string
	Scope     map[string]any
	Metric    string
	Condition store.AlertCondition
	Schedule  string
}

// Preview is the would-this-fire estimate for the draft against live data.
type Preview struct {
	CurrentValue  float64   `json:"current_value"`
	BaselineValue float64   `json:"baseline_value"`
	DeltaPct      float64   `json:"delta_pct"`
	WouldTrigger  bool      `json:"would_trigger"`
	Severity      string    `json:"severity"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	BaselineStart time.Time `json:"baseline_start"`
	BaselineEnd   time.Time `json:"baseline_end"`
	Warnings      []string  `json:"warnings"`
}

// Builder drives one draft definition from scope selection through commit.
type Builder struct {
	metrics MetricSource
	defs    DefinitionStore
	cache   Invalidator
	now     func() time.Time

	mu      sync.Mutex
	draft   Draft
	pending map[string]bool
}

func NewBuilder(draft Draft, metrics MetricSource, defs DefinitionStore, cache Invalidator) *Builder {
	if draft.Scope == nil {
		draft.Scope = map[string]any{}
	}
	if draft.Condition.ComparisonMode == "" {
		draft.Condition.ComparisonMode = ComparePreviousPeriod
	}
	return &Builder{
		metrics: metrics,
		defs:    defs,
		cache:   cache,
		now:     time.Now,
		draft:   draft,
		pending: make(map[string]bool),
	}
}

// Draft returns a copy of the current draft.
func (b *Builder) Draft() Draft {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := b.draft
	copied.Scope = cloneScope(b.draft.Scope)
	return copied
}

// SetScope stores the dashboard's scope selection verbatim. The builder
// never interprets scope contents; only the evaluation backend does.
func (b *Builder) SetScope(scope map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.draft.Scope = cloneScope(scope)
}

// SetCondition replaces the threshold rule. Values are clamped at commit,
// not here, so the user sees their own numbers while editing.
func (b *Builder) SetCondition(condition store.AlertCondition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if condition.ComparisonMode == "" {
		condition.ComparisonMode = ComparePreviousPeriod
	}
	b.draft.Condition = condition
}

// SetName sets the display name checked at commit.
func (b *Builder) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.draft.Name = name
}

// PreviewAgainstLive evaluates the draft against current aggregates. It is
// side-effect free and repeatable.
func (b *Builder) PreviewAgainstLive(ctx context.Context) (Preview, error) {
	if err := b.begin("preview"); err != nil {
		return Preview{}, err
	}
	defer b.end("preview")

	b.mu.Lock()
	draft := b.draft
	draft.Scope = cloneScope(b.draft.Scope)
	b.mu.Unlock()

	end := b.now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -currentWindowDays)

	var baselineStart, baselineEnd time.Time
	switch draft.Condition.ComparisonMode {
	case CompareRollingBaseline:
		baselineEnd = start
		baselineStart = start.AddDate(0, 0, -rollingWindowDays)
	case ComparePreviousPeriod:
		baselineEnd = start
		baselineStart = start.AddDate(0, 0, -currentWindowDays)
	default:
		return Preview{}, fmt.Errorf("%w: unknown comparison mode %q", ErrInvalidDefinition, draft.Condition.ComparisonMode)
	}

	scopeKey := ScopeKey(draft.Scope)
	current, err := b.metrics.MetricWindowValue(ctx, draft.Domain, scopeKey, draft.Metric, start, end)
	if err != nil {
		return Preview{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	baseline, err := b.metrics.MetricWindowValue(ctx, draft.Domain, scopeKey, draft.Metric, baselineStart, baselineEnd)
	if err != nil {
		return Preview{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	if draft.Condition.ComparisonMode == CompareRollingBaseline {
		baseline /= rollingWindowSpans
	}

	preview := Preview{
		CurrentValue:  current,
		BaselineValue: baseline,
		WindowStart:   start,
		WindowEnd:     end,
		BaselineStart: baselineStart,
		BaselineEnd:   baselineEnd,
	}
	if baseline == 0 {
		preview.Warnings = append(preview.Warnings, "baseline window has no data; delta is undefined")
		return preview, nil
	}
	preview.DeltaPct = (current - baseline) / baseline * 100

	if triggers(draft.Type, preview.DeltaPct, draft.Condition.ThresholdPct) {
		preview.WouldTrigger = true
		preview.Severity = draft.Condition.Severity
		if preview.Severity == "" {
			preview.Severity = "warn"
		}
	}
	return preview, nil
}

// Commit validates, clamps, and persists the draft. Committed definitions
// start enabled; caches listing the domain's alerts are invalidated.
func (b *Builder) Commit(ctx context.Context, createdBy string) (store.AlertDefinition, error) {
	if err := b.begin("commit"); err != nil {
		return store.AlertDefinition{}, err
	}
	defer b.end("commit")

	b.mu.Lock()
	draft := b.draft
	draft.Scope = cloneScope(b.draft.Scope)
	b.mu.Unlock()

	if strings.TrimSpace(draft.Name) == "" {
		return store.AlertDefinition{}, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if draft.Metric == "" {
		return store.AlertDefinition{}, fmt.Errorf("%w: metric is required", ErrInvalidDefinition)
	}
	switch draft.Type {
	case TypeVolumeChange, TypeRateDrop, TypeDropoffSpike, TypeLatencyShift:
	default:
		return store.AlertDefinition{}, fmt.Errorf("%w: unknown alert type %q", ErrInvalidDefinition, draft.Type)
	}

	condition := draft.Condition
	condition.ThresholdPct = clampFloat(condition.ThresholdPct, 1, 200)
	condition.CooldownDays = clampInt(condition.CooldownDays, 1, 30)
	if condition.Severity == "" {
		condition.Severity = "warn"
	}

	definition := store.AlertDefinition{
		ID:        util.NewID("alr"),
		Name:      strings.TrimSpace(draft.Name),
		Type:      draft.Type,
		Domain:    draft.Domain,
		Scope:     draft.Scope,
		Metric:    draft.Metric,
		Condition: condition,
		Schedule:  draft.Schedule,
		IsEnabled: true,
		CreatedBy: createdBy,
	}

	created, err := b.defs.CreateAlertDefinition(ctx, definition)
	if err != nil {
		return store.AlertDefinition{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	b.cache.InvalidateDomain(ctx, draft.Domain)
	return created, nil
}

func (b *Builder) begin(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[op] {
		return fmt.Errorf("%w: %s", ErrPending, op)
	}
	b.pending[op] = true
	return nil
}

func (b *Builder) end(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, op)
}

// triggers reports whether a delta crosses the threshold in the direction
// this alert type watches.
func triggers(alertType string, deltaPct, thresholdPct float64) bool {
	switch alertType {
	case TypeRateDrop:
		return deltaPct <= -thresholdPct
	case TypeDropoffSpike:
		return deltaPct >= thresholdPct
	default:
		if deltaPct < 0 {
			deltaPct = -deltaPct
		}
		return deltaPct >= thresholdPct
	}
}

// ScopeKey flattens a scope selection into a stable aggregate key. An
// empty scope addresses the whole domain.
func ScopeKey(scope map[string]any) string {
	if len(scope) == 0 {
		return ""
	}
	keys := make([]string, 0, len(scope))
	for key := range scope {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, scope[key]))
	}
	return strings.Join(parts, "&")
}

func cloneScope(scope map[string]any) map[string]any {
	copied := make(map[string]any, len(scope))
	for key, value := range scope {
		copied[key] = value
	}
	return copied
}

func clampFloat(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
