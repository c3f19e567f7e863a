package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"beacon/api/internal/alerts"
	"beacon/api/internal/auth"
	"beacon/api/internal/authpw"
	"beacon/api/internal/cache"
	"beacon/api/internal/config"
	"beacon/api/internal/draft"
	"beacon/api/internal/email"
	"beacon/api/internal/export"
	"beacon/api/internal/lifecycle"
	"beacon/api/internal/rbac"
	"beacon/api/internal/search"
	"beacon/api/internal/session"
	"beacon/api/internal/snapshot"
	"beacon/api/internal/store"
	"beacon/api/internal/telemetry"
	"beacon/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// Domains are the measurement domains the service manages. Each gets its
// own lifecycle controller and snapshot repository.
var Domains = []string{"journeys", "funnels"}

// domainTemplates seed new drafts when a domain has no active version to
// clone from.
var domainTemplates = map[string]map[string]any{
	"journeys": {
		"lookback_days": float64(30),
		"sessionization": map[string]any{
			"session_timeout_minutes": float64(30),
		},
		"attribution": map[string]any{
			"model": "last_touch",
		},
		"counting": map[string]any{
			"unit": "sessions",
		},
	},
	"funnels": {
		"lookback_days": float64(30),
		"sessionization": map[string]any{
			"session_timeout_minutes": float64(30),
		},
		"attribution": map[string]any{
			"model": "last_touch",
		},
		"counting": map[string]any{
			"unit": "sessions",
		},
		"steps": []any{
			map[string]any{"name": "visit"},
			map[string]any{"name": "signup"},
		},
	},
}

type dataStore interface {
	// users
	EnsureUserByName(ctx context.Context, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)

	// sessions and token revocation
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	// settings versions
	ListVersions(ctx context.Context, domain string) ([]store.Version, error)
	GetVersion(ctx context.Context, versionID string) (store.Version, error)
	GetActiveVersion(ctx context.Context, domain string) (*store.Version, error)
	CreateVersion(ctx context.Context, domain string, settings map[string]any, description, createdBy string) (store.Version, error)
	UpdateVersion(ctx context.Context, versionID string, settings map[string]any, description, actor string) (store.Version, error)
	SaveValidation(ctx context.Context, versionID string, result draft.ValidationResult) error
	ArchiveVersion(ctx context.Context, versionID, actor string) (store.Version, error)
	ActivateVersion(ctx context.Context, versionID, actor string) (store.Version, error)

	// audit
	InsertAudit(ctx context.Context, entry store.AuditEntry) error
	ListAudit(ctx context.Context, domain, versionID, action, actor string, limit int) ([]store.AuditEntry, error)

	// alerts
	CreateAlertDefinition(ctx context.Context, definition store.AlertDefinition) (store.AlertDefinition, error)
	GetAlertDefinition(ctx context.Context, definitionID string) (store.AlertDefinition, error)
	ListAlertDefinitions(ctx context.Context, domain string) ([]store.AlertDefinition, error)
	SetAlertEnabled(ctx context.Context, definitionID string, enabled bool) (store.AlertDefinition, error)
	InsertAlertEvent(ctx context.Context, event store.AlertEvent) error
	ListAlertEvents(ctx context.Context, definitionID string, limit int) ([]store.AlertEvent, error)
	AcknowledgeAlertEvent(ctx context.Context, eventID int64, actor string) (bool, error)
	AttentionCounts(ctx context.Context) (int, int, int, error)

	// metrics
	InsertMetricPoint(ctx context.Context, point store.MetricPoint) error
	MetricWindowValue(ctx context.Context, domain, scopeKey, metric string, from, to time.Time) (float64, error)
	MetricRowCount(ctx context.Context, domain string) (int, error)

	Ping(ctx context.Context) error
}

type snapshotStore interface {
	EnsureDomainRepo(domain string, template map[string]any, author string) error
	CommitDraft(domain, versionID string, settings map[string]any, author, message string) (snapshot.CommitInfo, error)
	PromoteToMain(domain, versionID, author, message string) (snapshot.CommitInfo, error)
	TagActivation(domain, label string) error
	History(domain, branch string, limit int) ([]snapshot.CommitInfo, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexVersion(record search.VersionRecord)
	IndexAlert(record search.AlertRecord)
	IndexAudit(record search.AuditRecord)
}

type refreshSessions interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
	ExportAndArchive(ctx context.Context, req export.Request) (*export.Result, *export.ArchiveInfo, error)
}

// pgSessions adapts the Postgres store to the refresh session interface so
// deployments without Redis still work.
type pgSessions struct {
	store dataStore
}

func (p pgSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

type Service struct {
	cfg         config.Config
	store       dataStore
	sessions    refreshSessions
	snapshots   snapshotStore
	search      searchIndex
	eval        lifecycle.Evaluator
	cache       cache.VersionCache
	exporter    exporter
	authPw      *authpw.Service
	email       *email.Service
	controllers map[string]*lifecycle.Controller
}

func New(cfg config.Config, dataStore *store.PostgresStore, snapshots *snapshot.Service, searchService *search.Service, eval lifecycle.Evaluator, versionCache cache.VersionCache) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		snapshots: snapshots,
		search:    searchService,
		eval:      eval,
		cache:     versionCache,
	}
	s.sessions = pgSessions{store: s.store}
	s.initControllers()
	return s
}

// UseSessionStore switches refresh session storage to Redis.
func (s *Service) UseSessionStore(sessions *session.RedisStore) {
	s.sessions = sessions
}

// UseExporter enables report export endpoints.
func (s *Service) UseExporter(exp *export.Service) {
	s.exporter = exp
}

// UseAuthPassword enables email/password authentication.
func (s *Service) UseAuthPassword(svc *authpw.Service) {
	s.authPw = svc
}

// UseEmail enables outbound notifications.
func (s *Service) UseEmail(svc *email.Service) {
	s.email = svc
}

func (s *Service) initControllers() {
	s.controllers = make(map[string]*lifecycle.Controller, len(Domains))
	for _, domain := range Domains {
		s.controllers[domain] = lifecycle.NewController(domain, s.store, s.eval, s.cache, domainTemplates[domain])
	}
}

// AuthPasswordService returns the password auth service, or nil when not
// configured.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPw
}

// SMTPConfigured reports whether outbound email works.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// EmailService returns the email sender, or nil.
func (s *Service) EmailService() *email.Service {
	return s.email
}

// AppBaseURL is the frontend origin used in email links.
func (s *Service) AppBaseURL() string {
	return strings.TrimRight(s.cfg.AppBaseURL, "/")
}

// Bootstrap ensures each domain has a snapshot repository and a live
// baseline version. Idempotent; safe to run on every start.
func (s *Service) Bootstrap(ctx context.Context) error {
	owner, err := s.store.EnsureUserByName(ctx, "Avery")
	if err != nil {
		return err
	}

	for _, domain := range Domains {
		template := domainTemplates[domain]
		if err := s.snapshots.EnsureDomainRepo(domain, template, owner.DisplayName); err != nil {
			return fmt.Errorf("ensure %s snapshot repo: %w", domain, err)
		}

		versions, err := s.store.ListVersions(ctx, domain)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			created, err := s.store.CreateVersion(ctx, domain, template, "Baseline configuration", owner.DisplayName)
			if err != nil {
				return err
			}
			if _, err := s.store.ActivateVersion(ctx, created.ID, owner.DisplayName); err != nil {
				return err
			}
			s.audit(ctx, domain, created.ID, "activated", "baseline "+created.Label, owner.DisplayName)
		}

		if err := s.seedMetricPoints(ctx, domain); err != nil {
			return err
		}
	}
	return nil
}

// seedMetricPoints backfills a small window of sample aggregates so
// previews have something to read in fresh installs.
func (s *Service) seedMetricPoints(ctx context.Context, domain string) error {
	count, err := s.store.MetricRowCount(ctx, domain)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	day := time.Now().UTC().Truncate(24 * time.Hour)
	for offset := 1; offset <= 35; offset++ {
		observed := day.AddDate(0, 0, -offset)
		points := []store.MetricPoint{
			{Domain: domain, ScopeKey: "", Metric: "sessions", Value: float64(900 + 10*(offset%7)), ObservedAt: observed},
			{Domain: domain, ScopeKey: "", Metric: "conversion_rate", Value: 3.2 + 0.1*float64(offset%5), ObservedAt: observed},
		}
		for _, point := range points {
			if err := s.store.InsertMetricPoint(ctx, point); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- sessions ---

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// IssueSessionForUser issues tokens after a successful password sign-in.
func (s *Service) IssueSessionForUser(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) actor(sess Session) lifecycle.Actor {
	return lifecycle.Actor{ID: sess.UserID, Name: sess.UserName, Role: rbac.Normalize(sess.Role)}
}

// --- versions ---

func (s *Service) controllerFor(domain string) (*lifecycle.Controller, error) {
	controller, ok := s.controllers[domain]
	if !ok {
		return nil, domainError(404, "UNKNOWN_DOMAIN", fmt.Sprintf("unknown domain %q", domain), nil)
	}
	return controller, nil
}

// ensureLoaded makes versionID the controller's loaded version, fetching
// it from the store when a different version (or none) is loaded.
func (s *Service) ensureLoaded(ctx context.Context, domain, versionID string) (*lifecycle.Controller, error) {
	controller, err := s.controllerFor(domain)
	if err != nil {
		return nil, err
	}
	current := controller.Current()
	if current != nil && current.ID == versionID {
		return controller, nil
	}
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Domain != domain {
		return nil, domainError(404, "NOT_FOUND", "Version not found in this domain", nil)
	}
	controller.Load(version)
	return controller, nil
}

func (s *Service) ListVersions(ctx context.Context, domain string) ([]map[string]any, error) {
	if _, err := s.controllerFor(domain); err != nil {
		return nil, err
	}
	if cached, ok := s.cache.GetVersions(ctx, domain); ok {
		return versionPayloads(cached), nil
	}
	versions, err := s.store.ListVersions(ctx, domain)
	if err != nil {
		return nil, err
	}
	s.cache.SetVersions(ctx, domain, versions)
	return versionPayloads(versions), nil
}

func (s *Service) GetVersion(ctx context.Context, domain, versionID string) (map[string]any, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Domain != domain {
		return nil, domainError(404, "NOT_FOUND", "Version not found in this domain", nil)
	}
	payload := versionPayload(version)
	if active, err := s.store.GetActiveVersion(ctx, domain); err == nil && active != nil && active.ID != version.ID {
		payload["diff"] = map[string]any{
			"against":     active.Label,
			"changedKeys": snapshot.ChangedKeys(active.Settings, version.Settings),
		}
	}
	return payload, nil
}

func (s *Service) CreateDraft(ctx context.Context, domain string, sess Session, settings map[string]any, description string) (map[string]any, error) {
	controller, err := s.controllerFor(domain)
	if err != nil {
		return nil, err
	}
	created, err := controller.Create(ctx, s.actor(sess), settings, description)
	telemetry.RecordVersionOperation(domain, "create", err)
	if err != nil {
		return nil, err
	}

	if _, err := s.snapshots.CommitDraft(domain, created.ID, created.Settings, sess.UserName, "create "+created.Label); err != nil {
		log.Printf("app: snapshot commit failed for %s: %v", created.ID, err)
	}
	s.audit(ctx, domain, created.ID, "created", created.Label, sess.UserName)
	s.indexVersion(created)
	return versionPayload(created), nil
}

func (s *Service) UpdateDraft(ctx context.Context, domain, versionID string, sess Session, rawSettings json.RawMessage, description string) (map[string]any, error) {
	controller, err := s.ensureLoaded(ctx, domain, versionID)
	if err != nil {
		return nil, err
	}
	if len(rawSettings) > 0 {
		if err := controller.Editor().ReplaceRaw(string(rawSettings)); err != nil {
			return nil, err
		}
	}
	updated, err := controller.Update(ctx, s.actor(sess), description)
	telemetry.RecordVersionOperation(domain, "update", err)
	if err != nil {
		return nil, err
	}

	if _, err := s.snapshots.CommitDraft(domain, updated.ID, updated.Settings, sess.UserName, "update "+updated.Label); err != nil {
		log.Printf("app: snapshot commit failed for %s: %v", updated.ID, err)
	}
	s.audit(ctx, domain, updated.ID, "updated", updated.Label, sess.UserName)
	s.indexVersion(updated)
	return versionPayload(updated), nil
}

// EditDraftField applies one local path edit to the loaded candidate.
// Nothing is persisted until the draft is pushed with UpdateDraft.
func (s *Service) EditDraftField(ctx context.Context, domain, versionID string, path []string, value any) (map[string]any, error) {
	controller, err := s.ensureLoaded(ctx, domain, versionID)
	if err != nil {
		return nil, err
	}
	if err := controller.Editor().SetField(path, value); err != nil {
		return nil, domainError(400, "INVALID_PATH", err.Error(), nil)
	}
	return map[string]any{
		"versionId": versionID,
		"candidate": controller.Editor().Candidate(),
	}, nil
}

func (s *Service) ValidateDraft(ctx context.Context, domain, versionID string, rawSettings json.RawMessage) (map[string]any, error) {
	controller, err := s.ensureLoaded(ctx, domain, versionID)
	if err != nil {
		return nil, err
	}
	if len(rawSettings) > 0 {
		if err := controller.Editor().ReplaceRaw(string(rawSettings)); err != nil {
			return nil, err
		}
	}
	result, err := controller.Validate(ctx)
	telemetry.RecordVersionOperation(domain, "validate", err)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		telemetry.RecordValidationFailure(domain)
	}

	if err := s.store.SaveValidation(ctx, versionID, result); err != nil {
		log.Printf("app: persist validation for %s failed: %v", versionID, err)
	}
	s.audit(ctx, domain, versionID, "validated",
		fmt.Sprintf("valid=%t errors=%d warnings=%d", result.Valid, len(result.Errors), len(result.Warnings)),
		"")
	return map[string]any{
		"versionId":  versionID,
		"validation": result,
	}, nil
}

func (s *Service) PreviewDraft(ctx context.Context, domain, versionID string, rawSettings json.RawMessage) (map[string]any, error) {
	controller, err := s.ensureLoaded(ctx, domain, versionID)
	if err != nil {
		return nil, err
	}
	if len(rawSettings) > 0 {
		if err := controller.Editor().ReplaceRaw(string(rawSettings)); err != nil {
			return nil, err
		}
	}
	preview, err := controller.PreviewCandidate(ctx)
	telemetry.RecordVersionOperation(domain, "preview", err)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"versionId": versionID,
		"preview":   preview,
	}, nil
}

func (s *Service) ActivateVersion(ctx context.Context, domain, versionID string, sess Session) (map[string]any, error) {
	controller, err := s.ensureLoaded(ctx, domain, versionID)
	if err != nil {
		return nil, err
	}
	activated, err := controller.Activate(ctx, s.actor(sess))
	telemetry.RecordVersionOperation(domain, "activate", err)
	if err != nil {
		return nil, err
	}
	telemetry.RecordActivation(domain)

	if _, err := s.snapshots.PromoteToMain(domain, activated.ID, sess.UserName, "activate "+activated.Label); err != nil {
		log.Printf("app: snapshot promote failed for %s: %v", activated.ID, err)
	}
	if err := s.snapshots.TagActivation(domain, activated.Label); err != nil {
		log.Printf("app: snapshot tag failed for %s: %v", activated.Label, err)
	}
	s.audit(ctx, domain, activated.ID, "activated", activated.Label, sess.UserName)
	s.indexVersion(activated)
	s.reindexDemoted(ctx, domain, activated.ID)
	return versionPayload(activated), nil
}

// reindexDemoted refreshes search records after an activation demoted the
// previously active version.
func (s *Service) reindexDemoted(ctx context.Context, domain, activatedID string) {
	versions, err := s.store.ListVersions(ctx, domain)
	if err != nil {
		return
	}
	for _, version := range versions {
		if version.Status == store.StatusArchived && version.ActivatedAt != nil && version.ID != activatedID {
			s.indexVersion(version)
		}
	}
}

func (s *Service) ArchiveVersion(ctx context.Context, domain, versionID string, sess Session) (map[string]any, error) {
	controller, err := s.ensureLoaded(ctx, domain, versionID)
	if err != nil {
		return nil, err
	}
	archived, err := controller.Archive(ctx, s.actor(sess))
	telemetry.RecordVersionOperation(domain, "archive", err)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, domain, archived.ID, "archived", archived.Label, sess.UserName)
	s.indexVersion(archived)
	return versionPayload(archived), nil
}

func (s *Service) VersionHistory(ctx context.Context, domain, versionID string, limit int) (map[string]any, error) {
	if _, err := s.controllerFor(domain); err != nil {
		return nil, err
	}
	branch := "main"
	if versionID != "" {
		version, err := s.store.GetVersion(ctx, versionID)
		if err != nil {
			return nil, err
		}
		if version.Domain != domain {
			return nil, domainError(404, "NOT_FOUND", "Version not found in this domain", nil)
		}
		branch = "draft/" + versionID
	}
	commits, err := s.snapshots.History(domain, branch, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		entries = append(entries, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return map[string]any{"branch": branch, "commits": entries}, nil
}

func (s *Service) ExportVersion(ctx context.Context, domain, versionID string, format export.Format, archive bool) (*export.Result, map[string]any, error) {
	if s.exporter == nil {
		return nil, nil, domainError(503, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	req := export.Request{
		Domain:        domain,
		VersionID:     versionID,
		Format:        format,
		IncludeAlerts: true,
	}
	if !archive {
		result, err := s.exporter.Export(ctx, req)
		return result, nil, err
	}
	result, info, err := s.exporter.ExportAndArchive(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return result, map[string]any{
		"bucket":     info.Bucket,
		"objectKey":  info.ObjectKey,
		"size":       info.Size,
		"archivedAt": info.ArchivedAt,
	}, nil
}

// --- alerts ---

// AlertDraftInput is the wire form of an uncommitted alert rule. Scope is
// passed through verbatim; nothing is persisted before commit.
type AlertDraftInput struct {
	Name      string               `json:"name"`
	Type      string               `json:"alertType"`
	Scope     map[string]any       `json:"scope"`
	Metric    string               `json:"metric"`
	Condition store.AlertCondition `json:"condition"`
	Schedule  string               `json:"schedule"`
}

func (s *Service) builderFor(domain string, input AlertDraftInput) (*alerts.Builder, error) {
	if _, err := s.controllerFor(domain); err != nil {
		return nil, err
	}
	draft := alerts.Draft{
		Name:      input.Name,
		Type:      input.Type,
		Domain:    domain,
		Scope:     input.Scope,
		Metric:    input.Metric,
		Condition: input.Condition,
		Schedule:  input.Schedule,
	}
	return alerts.NewBuilder(draft, s.store, s.store, s.cache), nil
}

func (s *Service) PreviewAlert(ctx context.Context, domain string, input AlertDraftInput) (alerts.Preview, error) {
	builder, err := s.builderFor(domain, input)
	if err != nil {
		return alerts.Preview{}, err
	}
	return builder.PreviewAgainstLive(ctx)
}

func (s *Service) CommitAlert(ctx context.Context, domain string, input AlertDraftInput, sess Session) (map[string]any, error) {
	builder, err := s.builderFor(domain, input)
	if err != nil {
		return nil, err
	}
	definition, err := builder.Commit(ctx, sess.UserName)
	if err != nil {
		return nil, err
	}
	telemetry.RecordAlertCommit(domain, definition.Type)
	s.audit(ctx, domain, "", "alert_committed", definition.Name, sess.UserName)
	s.search.IndexAlert(search.AlertRecord{
		ID:     definition.ID,
		Name:   definition.Name,
		Metric: definition.Metric,
		Type:   definition.Type,
		Domain: definition.Domain,
	})
	return alertPayload(definition), nil
}

func (s *Service) ListAlerts(ctx context.Context, domain string) ([]map[string]any, error) {
	if _, err := s.controllerFor(domain); err != nil {
		return nil, err
	}
	definitions, err := s.store.ListAlertDefinitions(ctx, domain)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(definitions))
	for _, definition := range definitions {
		payloads = append(payloads, alertPayload(definition))
	}
	return payloads, nil
}

func (s *Service) SetAlertEnabled(ctx context.Context, definitionID string, enabled bool, sess Session) (map[string]any, error) {
	definition, err := s.store.SetAlertEnabled(ctx, definitionID, enabled)
	if err != nil {
		return nil, err
	}
	action := "alert_disabled"
	if enabled {
		action = "alert_enabled"
	}
	s.audit(ctx, definition.Domain, "", action, definition.Name, sess.UserName)
	return alertPayload(definition), nil
}

func (s *Service) ListAlertEvents(ctx context.Context, definitionID string, limit int) ([]map[string]any, error) {
	events, err := s.store.ListAlertEvents(ctx, definitionID, limit)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, eventPayload(event))
	}
	return payloads, nil
}

func (s *Service) AcknowledgeAlertEvent(ctx context.Context, eventID int64, sess Session) error {
	acked, err := s.store.AcknowledgeAlertEvent(ctx, eventID, sess.UserName)
	if err != nil {
		return err
	}
	if !acked {
		return domainError(404, "NOT_FOUND", "Alert event not found or already acknowledged", nil)
	}
	return nil
}

// EvaluateAlerts runs every enabled definition against live aggregates and
// records an event for each trigger outside its cooldown window. Returns
// the number of events written.
func (s *Service) EvaluateAlerts(ctx context.Context) (int, error) {
	fired := 0
	for _, domain := range Domains {
		definitions, err := s.store.ListAlertDefinitions(ctx, domain)
		if err != nil {
			return fired, err
		}
		for _, definition := range definitions {
			if !definition.IsEnabled {
				continue
			}
			inCooldown, err := s.inCooldown(ctx, definition)
			if err != nil {
				return fired, err
			}
			if inCooldown {
				continue
			}

			builder := alerts.NewBuilder(alerts.Draft{
				Name:      definition.Name,
				Type:      definition.Type,
				Domain:    definition.Domain,
				Scope:     definition.Scope,
				Metric:    definition.Metric,
				Condition: definition.Condition,
				Schedule:  definition.Schedule,
			}, s.store, s.store, s.cache)
			preview, err := builder.PreviewAgainstLive(ctx)
			if err != nil {
				log.Printf("app: alert %s evaluation failed: %v", definition.ID, err)
				continue
			}
			if !preview.WouldTrigger {
				continue
			}

			message := fmt.Sprintf("%s moved %+.1f%% against baseline (threshold %.1f%%)",
				definition.Metric, preview.DeltaPct, definition.Condition.ThresholdPct)
			if err := s.store.InsertAlertEvent(ctx, store.AlertEvent{
				DefinitionID:  definition.ID,
				Severity:      preview.Severity,
				Message:       message,
				MetricValue:   preview.CurrentValue,
				BaselineValue: preview.BaselineValue,
				DeltaPct:      preview.DeltaPct,
				TriggeredAt:   time.Now().UTC(),
			}); err != nil {
				return fired, err
			}
			fired++
			telemetry.RecordAlertEvent(definition.Type, preview.Severity)
			s.notifyAlert(definition, preview, message)
		}
	}
	return fired, nil
}

func (s *Service) inCooldown(ctx context.Context, definition store.AlertDefinition) (bool, error) {
	events, err := s.store.ListAlertEvents(ctx, definition.ID, 1)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}
	cooldown := time.Duration(definition.Condition.CooldownDays) * 24 * time.Hour
	return time.Since(events[0].TriggeredAt) < cooldown, nil
}

func (s *Service) notifyAlert(definition store.AlertDefinition, preview alerts.Preview, message string) {
	if !s.SMTPConfigured() || len(s.cfg.AlertEmails) == 0 {
		return
	}
	dashboardURL := s.AppBaseURL() + "/domains/" + definition.Domain + "/alerts"
	if err := s.email.SendAlertEmail(s.cfg.AlertEmails, definition.Name, preview.Severity, message, preview.DeltaPct, dashboardURL); err != nil {
		log.Printf("app: alert email failed for %s: %v", definition.ID, err)
	}
}

// --- search, audit, summary ---

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

func (s *Service) AuditLog(ctx context.Context, domain, versionID, action, actor string, limit int) ([]map[string]any, error) {
	entries, err := s.store.ListAudit(ctx, domain, versionID, action, actor, limit)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, map[string]any{
			"id":        entry.ID,
			"domain":    entry.Domain,
			"versionId": entry.VersionID,
			"action":    entry.Action,
			"detail":    entry.Detail,
			"actor":     entry.Actor,
			"createdAt": entry.CreatedAt,
		})
	}
	return payloads, nil
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	enabledDefinitions, openEvents, openDrafts, err := s.store.AttentionCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"enabledAlerts": enabledDefinitions,
		"openEvents":    openEvents,
		"openDrafts":    openDrafts,
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- helpers ---

func (s *Service) audit(ctx context.Context, domain, versionID, action, detail, actor string) {
	entry := store.AuditEntry{
		Domain:    domain,
		VersionID: versionID,
		Action:    action,
		Detail:    detail,
		Actor:     actor,
	}
	if err := s.store.InsertAudit(ctx, entry); err != nil {
		log.Printf("app: audit insert failed (%s %s): %v", action, versionID, err)
		return
	}
	s.search.IndexAudit(search.AuditRecord{
		ID:     "aud_" + strconv.FormatInt(time.Now().UnixNano(), 36),
		Action: action,
		Detail: detail,
		Actor:  actor,
		Domain: domain,
	})
}

func (s *Service) indexVersion(version store.Version) {
	s.search.IndexVersion(search.VersionRecord{
		ID:          version.ID,
		Label:       version.Label,
		Description: version.Description,
		Domain:      version.Domain,
		Status:      version.Status,
	})
}

func versionPayloads(versions []store.Version) []map[string]any {
	payloads := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		payloads = append(payloads, versionPayload(version))
	}
	return payloads
}

func versionPayload(version store.Version) map[string]any {
	payload := map[string]any{
		"id":          version.ID,
		"domain":      version.Domain,
		"status":      version.Status,
		"label":       version.Label,
		"description": version.Description,
		"settings":    version.Settings,
		"createdAt":   version.CreatedAt,
		"createdBy":   version.CreatedBy,
		"updatedAt":   version.UpdatedAt,
	}
	if version.Validation != nil {
		payload["validation"] = version.Validation
	}
	if version.ActivatedAt != nil {
		payload["activatedAt"] = version.ActivatedAt
		payload["activatedBy"] = version.ActivatedBy
	}
	return payload
}

func alertPayload(definition store.AlertDefinition) map[string]any {
	return map[string]any{
		"id":        definition.ID,
		"name":      definition.Name,
		"alertType": definition.Type,
		"domain":    definition.Domain,
		"scope":     definition.Scope,
		"metric":    definition.Metric,
		"condition": definition.Condition,
		"schedule":  definition.Schedule,
		"isEnabled": definition.IsEnabled,
		"createdAt": definition.CreatedAt,
		"createdBy": definition.CreatedBy,
	}
}

func eventPayload(event store.AlertEvent) map[string]any {
	payload := map[string]any{
		"id":            event.ID,
		"definitionId":  event.DefinitionID,
		"severity":      event.Severity,
		"message":       event.Message,
		"metricValue":   event.MetricValue,
		"baselineValue": event.BaselineValue,
		"deltaPct":      event.DeltaPct,
		"triggeredAt":   event.TriggeredAt,
	}
	if event.AcknowledgedAt != nil {
		payload["acknowledgedAt"] = event.AcknowledgedAt
		payload["acknowledgedBy"] = event.AcknowledgedBy
	}
	return payload
}
