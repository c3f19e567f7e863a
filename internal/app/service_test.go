package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"beacon/api/internal/cache"
	"beacon/api/internal/config"
	"beacon/api/internal/draft"
	"beacon/api/internal/lifecycle"
	"beacon/api/internal/search"
	"beacon/api/internal/snapshot"
	"beacon/api/internal/store"
)

// fakeData is an in-memory dataStore. Versions get store-assigned labels
// (v1, v2, ...) per domain and activation demotes the previous active
// version, matching the Postgres store's transaction.
type fakeData struct {
	mu sync.Mutex

	roles       map[string]string
	users       map[string]store.User
	usersByName map[string]string
	userSeq     int

	versions   map[string]*store.Version
	order      []string
	versionSeq int

	refresh map[string]store.User
	revoked map[string]bool

	audits []store.AuditEntry

	defs        map[string]*store.AlertDefinition
	defOrder    []string
	events      []store.AlertEvent
	nextEventID int64

	windowFn   func(domain, scopeKey, metric string, from, to time.Time) (float64, error)
	metricRows int

	activateCalls int
	updateErr     error
	pingErr       error
}

func newFakeData() *fakeData {
	return &fakeData{
		roles:       map[string]string{},
		users:       map[string]store.User{},
		usersByName: map[string]string{},
		versions:    map[string]*store.Version{},
		refresh:     map[string]store.User{},
		revoked:     map[string]bool{},
		defs:        map[string]*store.AlertDefinition{},
	}
}

func (f *fakeData) EnsureUserByName(ctx context.Context, name string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.usersByName[name]; ok {
		return f.users[id], nil
	}
	f.userSeq++
	role := f.roles[name]
	if role == "" {
		role = "analyst"
	}
	user := store.User{
		ID:          fmt.Sprintf("usr_%d", f.userSeq),
		DisplayName: name,
		Email:       strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@local.beacon.dev",
		Role:        role,
	}
	f.users[user.ID] = user
	f.usersByName[name] = user.ID
	return user, nil
}

func (f *fakeData) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeData) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	f.refresh[tokenHash] = user
	return nil
}

func (f *fakeData) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeData) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeData) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeData) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeData) ListVersions(ctx context.Context, domain string) ([]store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Version
	for _, id := range f.order {
		if v := f.versions[id]; v.Domain == domain {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (f *fakeData) GetVersion(ctx context.Context, versionID string) (store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[versionID]
	if !ok {
		return store.Version{}, sql.ErrNoRows
	}
	return *v, nil
}

func (f *fakeData) GetActiveVersion(ctx context.Context, domain string) (*store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if v := f.versions[id]; v.Domain == domain && v.Status == store.StatusActive {
			copied := *v
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeData) CreateVersion(ctx context.Context, domain string, settings map[string]any, description, createdBy string) (store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionSeq++
	labelN := 0
	for _, id := range f.order {
		if f.versions[id].Domain == domain {
			labelN++
		}
	}
	now := time.Now().UTC()
	v := store.Version{
		ID:          fmt.Sprintf("ver_%d", f.versionSeq),
		Domain:      domain,
		Status:      store.StatusDraft,
		Label:       fmt.Sprintf("v%d", labelN+1),
		Description: description,
		Settings:    draft.Clone(settings),
		CreatedAt:   now,
		CreatedBy:   createdBy,
		UpdatedAt:   now,
	}
	f.versions[v.ID] = &v
	f.order = append(f.order, v.ID)
	return v, nil
}

func (f *fakeData) UpdateVersion(ctx context.Context, versionID string, settings map[string]any, description, actor string) (store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return store.Version{}, f.updateErr
	}
	v, ok := f.versions[versionID]
	if !ok {
		return store.Version{}, sql.ErrNoRows
	}
	if v.Status != store.StatusDraft {
		return store.Version{}, fmt.Errorf("%w: status is %s", store.ErrNotDraft, v.Status)
	}
	v.Settings = draft.Clone(settings)
	if description != "" {
		v.Description = description
	}
	v.UpdatedAt = time.Now().UTC()
	return *v, nil
}

func (f *fakeData) SaveValidation(ctx context.Context, versionID string, result draft.ValidationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[versionID]
	if !ok {
		return sql.ErrNoRows
	}
	copied := result
	v.Validation = &copied
	return nil
}

func (f *fakeData) ArchiveVersion(ctx context.Context, versionID, actor string) (store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[versionID]
	if !ok {
		return store.Version{}, sql.ErrNoRows
	}
	if v.Status != store.StatusDraft {
		return store.Version{}, fmt.Errorf("%w: status is %s", store.ErrNotDraft, v.Status)
	}
	v.Status = store.StatusArchived
	v.UpdatedAt = time.Now().UTC()
	return *v, nil
}

func (f *fakeData) ActivateVersion(ctx context.Context, versionID, actor string) (store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activateCalls++
	v, ok := f.versions[versionID]
	if !ok {
		return store.Version{}, sql.ErrNoRows
	}
	if v.Status != store.StatusDraft {
		return store.Version{}, fmt.Errorf("%w: status is %s", store.ErrNotDraft, v.Status)
	}
	for _, id := range f.order {
		if prev := f.versions[id]; prev.Domain == v.Domain && prev.Status == store.StatusActive {
			prev.Status = store.StatusArchived
			prev.UpdatedAt = time.Now().UTC()
		}
	}
	now := time.Now().UTC()
	v.Status = store.StatusActive
	v.ActivatedAt = &now
	v.ActivatedBy = actor
	v.UpdatedAt = now
	return *v, nil
}

func (f *fakeData) InsertAudit(ctx context.Context, entry store.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.audits) + 1)
	entry.CreatedAt = time.Now().UTC()
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeData) ListAudit(ctx context.Context, domain, versionID, action, actor string, limit int) ([]store.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AuditEntry
	for i := len(f.audits) - 1; i >= 0; i-- {
		entry := f.audits[i]
		if domain != "" && entry.Domain != domain {
			continue
		}
		if versionID != "" && entry.VersionID != versionID {
			continue
		}
		if action != "" && entry.Action != action {
			continue
		}
		if actor != "" && entry.Actor != actor {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeData) CreateAlertDefinition(ctx context.Context, definition store.AlertDefinition) (store.AlertDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	definition.CreatedAt = now
	definition.UpdatedAt = now
	copied := definition
	f.defs[definition.ID] = &copied
	f.defOrder = append(f.defOrder, definition.ID)
	return definition, nil
}

func (f *fakeData) GetAlertDefinition(ctx context.Context, definitionID string) (store.AlertDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[definitionID]
	if !ok {
		return store.AlertDefinition{}, sql.ErrNoRows
	}
	return *def, nil
}

func (f *fakeData) ListAlertDefinitions(ctx context.Context, domain string) ([]store.AlertDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AlertDefinition
	for _, id := range f.defOrder {
		if def := f.defs[id]; def.Domain == domain {
			out = append(out, *def)
		}
	}
	return out, nil
}

func (f *fakeData) SetAlertEnabled(ctx context.Context, definitionID string, enabled bool) (store.AlertDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[definitionID]
	if !ok {
		return store.AlertDefinition{}, sql.ErrNoRows
	}
	def.IsEnabled = enabled
	def.UpdatedAt = time.Now().UTC()
	return *def, nil
}

func (f *fakeData) InsertAlertEvent(ctx context.Context, event store.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextEventID++
	event.ID = f.nextEventID
	f.events = append(f.events, event)
	return nil
}

func (f *fakeData) ListAlertEvents(ctx context.Context, definitionID string, limit int) ([]store.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AlertEvent
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].DefinitionID != definitionID {
			continue
		}
		out = append(out, f.events[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeData) AcknowledgeAlertEvent(ctx context.Context, eventID int64, actor string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		event := &f.events[i]
		if event.ID != eventID || event.AcknowledgedAt != nil {
			continue
		}
		now := time.Now().UTC()
		event.AcknowledgedAt = &now
		event.AcknowledgedBy = actor
		return true, nil
	}
	return false, nil
}

func (f *fakeData) AttentionCounts(ctx context.Context) (int, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enabled, open, drafts := 0, 0, 0
	for _, def := range f.defs {
		if def.IsEnabled {
			enabled++
		}
	}
	for _, event := range f.events {
		if event.AcknowledgedAt == nil {
			open++
		}
	}
	for _, v := range f.versions {
		if v.Status == store.StatusDraft {
			drafts++
		}
	}
	return enabled, open, drafts, nil
}

func (f *fakeData) InsertMetricPoint(ctx context.Context, point store.MetricPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metricRows++
	return nil
}

func (f *fakeData) MetricWindowValue(ctx context.Context, domain, scopeKey, metric string, from, to time.Time) (float64, error) {
	if f.windowFn != nil {
		return f.windowFn(domain, scopeKey, metric, from, to)
	}
	return 0, nil
}

func (f *fakeData) MetricRowCount(ctx context.Context, domain string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metricRows, nil
}

func (f *fakeData) Ping(ctx context.Context) error {
	return f.pingErr
}

// seedVersion inserts a version directly, bypassing lifecycle rules.
func (f *fakeData) seedVersion(domain, status string, settings map[string]any) store.Version {
	v, _ := f.CreateVersion(context.Background(), domain, settings, "", "Avery")
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.versions[v.ID]
	stored.Status = status
	if status == store.StatusActive {
		now := time.Now().UTC()
		stored.ActivatedAt = &now
		stored.ActivatedBy = "Avery"
	}
	return *stored
}

type fakeSnaps struct {
	mu      sync.Mutex
	commits []string
	promos  []string
	tags    []string
}

func (f *fakeSnaps) EnsureDomainRepo(domain string, template map[string]any, author string) error {
	return nil
}

func (f *fakeSnaps) CommitDraft(domain, versionID string, settings map[string]any, author, message string) (snapshot.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, versionID)
	return snapshot.CommitInfo{Hash: "abc", Message: message, Author: author}, nil
}

func (f *fakeSnaps) PromoteToMain(domain, versionID, author, message string) (snapshot.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promos = append(f.promos, versionID)
	return snapshot.CommitInfo{Hash: "def", Message: message, Author: author}, nil
}

func (f *fakeSnaps) TagActivation(domain, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, label)
	return nil
}

func (f *fakeSnaps) History(domain, branch string, limit int) ([]snapshot.CommitInfo, error) {
	return []snapshot.CommitInfo{{Hash: "abc", Message: "create v1"}}, nil
}

type fakeIndex struct {
	mu       sync.Mutex
	versions []search.VersionRecord
	alerts   []search.AlertRecord
	audits   []search.AuditRecord
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeIndex) IndexVersion(record search.VersionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions = append(f.versions, record)
}

func (f *fakeIndex) IndexAlert(record search.AlertRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, record)
}

func (f *fakeIndex) IndexAudit(record search.AuditRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, record)
}

type fakeEvaluator struct {
	validateFn func(ctx context.Context, domain string, settings map[string]any) (draft.ValidationResult, error)
	previewFn  func(ctx context.Context, domain string, settings map[string]any) (lifecycle.VersionPreview, error)
}

func (f *fakeEvaluator) ValidateVersion(ctx context.Context, domain string, settings map[string]any) (draft.ValidationResult, error) {
	if f.validateFn != nil {
		return f.validateFn(ctx, domain, settings)
	}
	return draft.ValidationResult{Valid: true}, nil
}

func (f *fakeEvaluator) PreviewVersion(ctx context.Context, domain string, settings map[string]any) (lifecycle.VersionPreview, error) {
	if f.previewFn != nil {
		return f.previewFn(ctx, domain, settings)
	}
	return lifecycle.VersionPreview{PreviewAvailable: true, EstimatedEffect: "low"}, nil
}

func newTestService(data *fakeData, eval *fakeEvaluator) (*Service, *fakeSnaps, *fakeIndex) {
	if eval == nil {
		eval = &fakeEvaluator{}
	}
	snaps := &fakeSnaps{}
	idx := &fakeIndex{}
	s := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
			AppBaseURL: "http://localhost:5173",
		},
		store:     data,
		snapshots: snaps,
		search:    idx,
		eval:      eval,
		cache:     cache.NewMemory(time.Minute),
	}
	s.sessions = pgSessions{store: s.store}
	s.initControllers()
	return s, snaps, idx
}

func TestBootstrapSeedsBaselines(t *testing.T) {
	data := newFakeData()
	svc, _, _ := newTestService(data, nil)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	for _, domain := range Domains {
		active, err := data.GetActiveVersion(ctx, domain)
		if err != nil {
			t.Fatalf("GetActiveVersion(%s) error = %v", domain, err)
		}
		if active == nil {
			t.Fatalf("domain %s has no active baseline after bootstrap", domain)
		}
		if active.Label != "v1" {
			t.Errorf("baseline label = %q, want v1", active.Label)
		}
	}
	if data.metricRows == 0 {
		t.Error("bootstrap did not seed metric points")
	}

	// Second run must not create more versions.
	before := len(data.order)
	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("second Bootstrap() error = %v", err)
	}
	if len(data.order) != before {
		t.Errorf("second bootstrap created versions: %d -> %d", before, len(data.order))
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	data := newFakeData()
	svc, _, _ := newTestService(data, nil)
	ctx := context.Background()

	first, err := svc.Login(ctx, "Dana")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh did not rotate the refresh token")
	}

	if _, err := svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Error("Refresh() with consumed token succeeded, want error")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	data := newFakeData()
	svc, _, _ := newTestService(data, nil)
	ctx := context.Background()

	sess, err := svc.Login(ctx, "Dana")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, sess.Token); err != nil {
		t.Fatalf("SessionFromToken() before logout error = %v", err)
	}

	if err := svc.Logout(ctx, sess, sess.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, sess.Token); err == nil {
		t.Error("SessionFromToken() after logout succeeded, want error")
	}
}

func TestEvaluateAlertsFiresAndRespectsCooldown(t *testing.T) {
	data := newFakeData()
	data.windowFn = func(domain, scopeKey, metric string, from, to time.Time) (float64, error) {
		if time.Since(to) < 48*time.Hour {
			return 50, nil // current week
		}
		return 100, nil // baseline
	}
	data.defs["alr_1"] = &store.AlertDefinition{
		ID:     "alr_1",
		Name:   "Conversion drop",
		Type:   "rate_drop",
		Domain: "journeys",
		Metric: "conversion_rate",
		Condition: store.AlertCondition{
			ComparisonMode: "previous_period",
			ThresholdPct:   20,
			Severity:       "critical",
			CooldownDays:   7,
		},
		IsEnabled: true,
	}
	data.defOrder = append(data.defOrder, "alr_1")

	svc, _, _ := newTestService(data, nil)
	ctx := context.Background()

	fired, err := svc.EvaluateAlerts(ctx)
	if err != nil {
		t.Fatalf("EvaluateAlerts() error = %v", err)
	}
	if fired != 1 {
		t.Fatalf("EvaluateAlerts() fired = %d, want 1", fired)
	}

	events, _ := data.ListAlertEvents(ctx, "alr_1", 10)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Severity != "critical" {
		t.Errorf("event severity = %q, want critical", events[0].Severity)
	}
	if !strings.Contains(events[0].Message, "conversion_rate moved -50.0%") {
		t.Errorf("event message = %q", events[0].Message)
	}

	// Inside the cooldown window the same definition stays quiet.
	fired, err = svc.EvaluateAlerts(ctx)
	if err != nil {
		t.Fatalf("second EvaluateAlerts() error = %v", err)
	}
	if fired != 0 {
		t.Errorf("EvaluateAlerts() inside cooldown fired = %d, want 0", fired)
	}
}

func TestEvaluateAlertsSkipsDisabledDefinitions(t *testing.T) {
	data := newFakeData()
	data.windowFn = func(domain, scopeKey, metric string, from, to time.Time) (float64, error) {
		if time.Since(to) < 48*time.Hour {
			return 10, nil
		}
		return 100, nil
	}
	data.defs["alr_1"] = &store.AlertDefinition{
		ID:        "alr_1",
		Name:      "Muted",
		Type:      "rate_drop",
		Domain:    "journeys",
		Metric:    "conversion_rate",
		Condition: store.AlertCondition{ComparisonMode: "previous_period", ThresholdPct: 5, CooldownDays: 1},
		IsEnabled: false,
	}
	data.defOrder = append(data.defOrder, "alr_1")

	svc, _, _ := newTestService(data, nil)
	fired, err := svc.EvaluateAlerts(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAlerts() error = %v", err)
	}
	if fired != 0 {
		t.Errorf("EvaluateAlerts() fired = %d for disabled definition, want 0", fired)
	}
}

func TestSummaryCounts(t *testing.T) {
	data := newFakeData()
	data.seedVersion("journeys", store.StatusActive, map[string]any{"lookback_days": float64(30)})
	data.seedVersion("journeys", store.StatusDraft, map[string]any{"lookback_days": float64(14)})
	data.defs["alr_1"] = &store.AlertDefinition{ID: "alr_1", Domain: "journeys", IsEnabled: true}
	data.defOrder = append(data.defOrder, "alr_1")
	data.events = append(data.events, store.AlertEvent{ID: 1, DefinitionID: "alr_1"})
	data.nextEventID = 1

	svc, _, _ := newTestService(data, nil)
	payload, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if payload["enabledAlerts"] != 1 || payload["openEvents"] != 1 || payload["openDrafts"] != 1 {
		t.Errorf("Summary() = %v, want 1/1/1", payload)
	}
}

func TestListVersionsUsesCache(t *testing.T) {
	data := newFakeData()
	data.seedVersion("journeys", store.StatusActive, map[string]any{"lookback_days": float64(30)})
	svc, _, _ := newTestService(data, nil)
	ctx := context.Background()

	if _, err := svc.ListVersions(ctx, "journeys"); err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}

	// A direct store write is invisible until something invalidates.
	data.seedVersion("journeys", store.StatusDraft, map[string]any{"lookback_days": float64(7)})
	cached, err := svc.ListVersions(ctx, "journeys")
	if err != nil {
		t.Fatalf("cached ListVersions() error = %v", err)
	}
	if len(cached) != 1 {
		t.Fatalf("cached ListVersions() = %d versions, want 1", len(cached))
	}

	svc.cache.InvalidateDomain(ctx, "journeys")
	fresh, err := svc.ListVersions(ctx, "journeys")
	if err != nil {
		t.Fatalf("fresh ListVersions() error = %v", err)
	}
	if len(fresh) != 2 {
		t.Errorf("fresh ListVersions() = %d versions, want 2", len(fresh))
	}
}

func TestAcknowledgeAlertEventNotFound(t *testing.T) {
	data := newFakeData()
	svc, _, _ := newTestService(data, nil)

	err := svc.AcknowledgeAlertEvent(context.Background(), 42, Session{UserName: "Dana"})
	if err == nil {
		t.Fatal("AcknowledgeAlertEvent() for missing event succeeded, want error")
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Errorf("AcknowledgeAlertEvent() error = %v, want 404 DomainError", err)
	}
}
