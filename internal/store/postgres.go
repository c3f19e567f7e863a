package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"beacon/api/internal/draft"
	"beacon/api/internal/util"
)

// ErrNotDraft is returned when a draft-only operation targets a version
// that exists but is no longer a draft.
var ErrNotDraft = errors.New("version is not a draft")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users & sessions ----

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, email FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err == nil {
		role, roleErr := s.getRole(ctx, user.ID)
		if roleErr != nil {
			return User{}, roleErr
		}
		user.Role = role
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.beacon.dev'))
		RETURNING id, display_name, email
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Email); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (user_id, role)
		VALUES ($1, 'analyst')
		ON CONFLICT (user_id) DO NOTHING
	`, user.ID); err != nil {
		return User{}, fmt.Errorf("upsert membership: %w", err)
	}

	user.Role = "analyst"
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email FROM users WHERE id=$1`, userID).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	role, err := s.getRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, COALESCE(password_hash, ''), is_email_verified
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	role, err := s.getRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	role := user.Role
	if role == "" {
		role = "analyst"
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role=EXCLUDED.role
	`, user.ID, role); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) getRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM workspace_memberships WHERE user_id=$1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "viewer", nil
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, COALESCE(wm.role, 'viewer')
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		LEFT JOIN workspace_memberships wm ON wm.user_id = u.id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- settings versions ----

const versionColumns = `
	id, domain, status, label, COALESCE(description, ''), settings_json,
	validation_json, created_at, created_by_name, updated_at, activated_at,
	COALESCE(activated_by_name, '')
`

func (s *PostgresStore) ListVersions(ctx context.Context, domain string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM settings_versions
		WHERE domain=$1
		ORDER BY created_at DESC
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM settings_versions
		WHERE id=$1
	`, versionID)
	return scanVersion(row)
}

func (s *PostgresStore) GetActiveVersion(ctx context.Context, domain string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM settings_versions
		WHERE domain=$1 AND status='active'
	`, domain)
	item, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active version: %w", err)
	}
	return &item, nil
}

// CreateVersion inserts a new draft. The label is assigned here and is
// monotonic per domain.
func (s *PostgresStore) CreateVersion(ctx context.Context, domain string, settings map[string]any, description, createdBy string) (Version, error) {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return Version{}, fmt.Errorf("marshal settings: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO settings_versions (id, domain, status, label, description, settings_json, created_by_name)
		VALUES (
			$1, $2, 'draft',
			'v' || (SELECT COUNT(*) + 1 FROM settings_versions WHERE domain=$2),
			NULLIF($3, ''), $4::jsonb, $5
		)
		RETURNING `+versionColumns+`
	`, util.NewID("ver"), domain, description, string(encoded), createdBy)
	item, err := scanVersion(row)
	if err != nil {
		return Version{}, fmt.Errorf("create version: %w", err)
	}
	return item, nil
}

// UpdateVersion rewrites a draft's settings and description. Targets that
// are active or archived are rejected with ErrNotDraft.
func (s *PostgresStore) UpdateVersion(ctx context.Context, versionID string, settings map[string]any, description, actor string) (Version, error) {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return Version{}, fmt.Errorf("marshal settings: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE settings_versions
		SET settings_json=$2::jsonb, description=NULLIF($3, ''), validation_json=NULL, updated_at=NOW()
		WHERE id=$1 AND status='draft'
		RETURNING `+versionColumns+`
	`, versionID, string(encoded), description)
	item, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, s.draftGateError(ctx, versionID, "update")
	}
	if err != nil {
		return Version{}, fmt.Errorf("update version: %w", err)
	}
	_ = actor // recorded in the audit trail by the caller
	return item, nil
}

// SaveValidation persists the last-known semantic verdict on a version row.
func (s *PostgresStore) SaveValidation(ctx context.Context, versionID string, result draft.ValidationResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal validation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE settings_versions SET validation_json=$2::jsonb WHERE id=$1
	`, versionID, string(encoded))
	if err != nil {
		return fmt.Errorf("save validation: %w", err)
	}
	return nil
}

// ArchiveVersion retires an unpublished draft. Archived is terminal.
func (s *PostgresStore) ArchiveVersion(ctx context.Context, versionID, actor string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE settings_versions
		SET status='archived', updated_at=NOW()
		WHERE id=$1 AND status='draft'
		RETURNING `+versionColumns+`
	`, versionID)
	item, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, s.draftGateError(ctx, versionID, "archive")
	}
	if err != nil {
		return Version{}, fmt.Errorf("archive version: %w", err)
	}
	_ = actor
	return item, nil
}

// ActivateVersion promotes a draft to active and demotes the previously
// active version to archived in the same transaction, so there is never a
// window with zero or two active versions.
func (s *PostgresStore) ActivateVersion(ctx context.Context, versionID, actor string) (Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, fmt.Errorf("begin activate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var domain, status string
	err = tx.QueryRowContext(ctx, `
		SELECT domain, status FROM settings_versions WHERE id=$1 FOR UPDATE
	`, versionID).Scan(&domain, &status)
	if err != nil {
		return Version{}, err
	}
	if status != StatusDraft {
		return Version{}, fmt.Errorf("%w: status is %s", ErrNotDraft, status)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE settings_versions
		SET status='archived', updated_at=NOW()
		WHERE domain=$1 AND status='active'
	`, domain); err != nil {
		return Version{}, fmt.Errorf("demote active version: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE settings_versions
		SET status='active', activated_at=NOW(), activated_by_name=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+versionColumns+`
	`, versionID, actor)
	item, err := scanVersion(row)
	if err != nil {
		return Version{}, fmt.Errorf("promote version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit activate tx: %w", err)
	}
	return item, nil
}

// draftGateError distinguishes "not found" from "exists but not a draft"
// after a guarded UPDATE matched no rows.
func (s *PostgresStore) draftGateError(ctx context.Context, versionID, operation string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM settings_versions WHERE id=$1`, versionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("%s version: %w", operation, err)
	}
	return fmt.Errorf("%w: status is %s", ErrNotDraft, status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (Version, error) {
	var item Version
	var settingsRaw []byte
	var validationRaw []byte
	if err := row.Scan(
		&item.ID,
		&item.Domain,
		&item.Status,
		&item.Label,
		&item.Description,
		&settingsRaw,
		&validationRaw,
		&item.CreatedAt,
		&item.CreatedBy,
		&item.UpdatedAt,
		&item.ActivatedAt,
		&item.ActivatedBy,
	); err != nil {
		return Version{}, err
	}
	if len(settingsRaw) > 0 {
		if err := json.Unmarshal(settingsRaw, &item.Settings); err != nil {
			return Version{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	if item.Settings == nil {
		item.Settings = map[string]any{}
	}
	if len(validationRaw) > 0 {
		var validation draft.ValidationResult
		if err := json.Unmarshal(validationRaw, &validation); err != nil {
			return Version{}, fmt.Errorf("decode validation: %w", err)
		}
		item.Validation = &validation
	}
	return item, nil
}

// ---- audit trail ----

func (s *PostgresStore) InsertAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO version_audit (domain, version_id, action, detail, actor_name)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
	`, entry.Domain, entry.VersionID, entry.Action, entry.Detail, entry.Actor)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, domain, versionID, action, actor string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, COALESCE(version_id, ''), action, detail, actor_name, created_at
		FROM version_audit
		WHERE domain=$1
		  AND ($2='' OR version_id=$2)
		  AND ($3='' OR action=$3)
		  AND ($4='' OR actor_name ILIKE '%' || $4 || '%')
		ORDER BY created_at DESC
		LIMIT $5
	`, domain, versionID, action, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var item AuditEntry
		if err := rows.Scan(&item.ID, &item.Domain, &item.VersionID, &item.Action, &item.Detail, &item.Actor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}

// ---- alert definitions & events ----

const alertColumns = `
	id, name, type, domain, scope_json, metric, condition_json,
	COALESCE(schedule, ''), is_enabled, created_at, created_by_name, updated_at
`

func (s *PostgresStore) CreateAlertDefinition(ctx context.Context, definition AlertDefinition) (AlertDefinition, error) {
	scopeRaw, err := json.Marshal(definition.Scope)
	if err != nil {
		return AlertDefinition{}, fmt.Errorf("marshal scope: %w", err)
	}
	conditionRaw, err := json.Marshal(definition.Condition)
	if err != nil {
		return AlertDefinition{}, fmt.Errorf("marshal condition: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO alert_definitions (id, name, type, domain, scope_json, metric, condition_json, schedule, is_enabled, created_by_name)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7::jsonb, NULLIF($8, ''), $9, $10)
		RETURNING `+alertColumns+`
	`, definition.ID, definition.Name, definition.Type, definition.Domain, string(scopeRaw),
		definition.Metric, string(conditionRaw), definition.Schedule, definition.IsEnabled, definition.CreatedBy)
	item, err := scanAlertDefinition(row)
	if err != nil {
		return AlertDefinition{}, fmt.Errorf("create alert definition: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetAlertDefinition(ctx context.Context, definitionID string) (AlertDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM alert_definitions
		WHERE id=$1
	`, definitionID)
	return scanAlertDefinition(row)
}

func (s *PostgresStore) ListAlertDefinitions(ctx context.Context, domain string) ([]AlertDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alert_definitions
		WHERE ($1='' OR domain=$1)
		ORDER BY created_at DESC
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("list alert definitions: %w", err)
	}
	defer rows.Close()

	items := make([]AlertDefinition, 0)
	for rows.Next() {
		item, err := scanAlertDefinition(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert definitions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetAlertEnabled(ctx context.Context, definitionID string, enabled bool) (AlertDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE alert_definitions
		SET is_enabled=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+alertColumns+`
	`, definitionID, enabled)
	return scanAlertDefinition(row)
}

func scanAlertDefinition(row rowScanner) (AlertDefinition, error) {
	var item AlertDefinition
	var scopeRaw, conditionRaw []byte
	if err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Type,
		&item.Domain,
		&scopeRaw,
		&item.Metric,
		&conditionRaw,
		&item.Schedule,
		&item.IsEnabled,
		&item.CreatedAt,
		&item.CreatedBy,
		&item.UpdatedAt,
	); err != nil {
		return AlertDefinition{}, err
	}
	if len(scopeRaw) > 0 {
		if err := json.Unmarshal(scopeRaw, &item.Scope); err != nil {
			return AlertDefinition{}, fmt.Errorf("decode scope: %w", err)
		}
	}
	if item.Scope == nil {
		item.Scope = map[string]any{}
	}
	if len(conditionRaw) > 0 {
		if err := json.Unmarshal(conditionRaw, &item.Condition); err != nil {
			return AlertDefinition{}, fmt.Errorf("decode condition: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) InsertAlertEvent(ctx context.Context, event AlertEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_events (definition_id, severity, message, metric_value, baseline_value, delta_pct, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.DefinitionID, event.Severity, event.Message, event.MetricValue, event.BaselineValue, event.DeltaPct, event.TriggeredAt)
	if err != nil {
		return fmt.Errorf("insert alert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAlertEvents(ctx context.Context, definitionID string, limit int) ([]AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, definition_id, severity, message, metric_value, baseline_value, delta_pct, triggered_at,
			COALESCE(acknowledged_by_name, ''), acknowledged_at
		FROM alert_events
		WHERE ($1='' OR definition_id=$1)
		ORDER BY triggered_at DESC
		LIMIT $2
	`, definitionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alert events: %w", err)
	}
	defer rows.Close()

	items := make([]AlertEvent, 0)
	for rows.Next() {
		var item AlertEvent
		if err := rows.Scan(
			&item.ID,
			&item.DefinitionID,
			&item.Severity,
			&item.Message,
			&item.MetricValue,
			&item.BaselineValue,
			&item.DeltaPct,
			&item.TriggeredAt,
			&item.AcknowledgedBy,
			&item.AcknowledgedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AcknowledgeAlertEvent(ctx context.Context, eventID int64, actor string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alert_events
		SET acknowledged_by_name=$2, acknowledged_at=NOW()
		WHERE id=$1 AND acknowledged_at IS NULL
	`, eventID, actor)
	if err != nil {
		return false, fmt.Errorf("acknowledge alert event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acknowledge alert event rows: %w", err)
	}
	return affected > 0, nil
}

// AttentionCounts powers the "needs attention" summary: enabled
// definitions, unacknowledged events, and open drafts.
func (s *PostgresStore) AttentionCounts(ctx context.Context) (enabledDefinitions int, openEvents int, openDrafts int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_definitions WHERE is_enabled`).Scan(&enabledDefinitions); err != nil {
		err = fmt.Errorf("count enabled definitions: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_events WHERE acknowledged_at IS NULL`).Scan(&openEvents); err != nil {
		err = fmt.Errorf("count open events: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings_versions WHERE status='draft'`).Scan(&openDrafts); err != nil {
		err = fmt.Errorf("count open drafts: %w", err)
		return
	}
	return
}

// ---- metric points ----

func (s *PostgresStore) InsertMetricPoint(ctx context.Context, point MetricPoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_points (domain, scope_key, metric, value, observed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, point.Domain, point.ScopeKey, point.Metric, point.Value, point.ObservedAt)
	if err != nil {
		return fmt.Errorf("insert metric point: %w", err)
	}
	return nil
}

// MetricWindowValue sums observations for a scope slice over [from, to).
func (s *PostgresStore) MetricWindowValue(ctx context.Context, domain, scopeKey, metric string, from, to time.Time) (float64, error) {
	var value float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(value), 0)
		FROM metric_points
		WHERE domain=$1 AND scope_key=$2 AND metric=$3
		  AND observed_at >= $4 AND observed_at < $5
	`, domain, scopeKey, metric, from, to).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("metric window value: %w", err)
	}
	return value, nil
}

// MetricRowCount is used by version previews to size the affected dataset.
func (s *PostgresStore) MetricRowCount(ctx context.Context, domain string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metric_points WHERE domain=$1`, domain).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count metric rows: %w", err)
	}
	return count, nil
}
