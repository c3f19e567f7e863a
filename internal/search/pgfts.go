package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true, because if Postgres is down the whole app
// is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across settings_versions,
// alert_definitions, and version_audit using plainto_tsquery and ts_rank,
// with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultVersion {
		where := "sv.fts @@ " + tsQuery
		if q.FilterDomain != "" {
			where += fmt.Sprintf(" AND sv.domain = $%d", argN)
			args = append(args, q.FilterDomain)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'version'::text AS type, sv.id, sv.label AS title,
				ts_headline('english', coalesce(sv.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				sv.domain, sv.status,
				ts_rank(sv.fts, %s) AS rank
			FROM settings_versions sv
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultAlert {
		where := "ad.fts @@ " + tsQuery
		if q.FilterDomain != "" {
			where += fmt.Sprintf(" AND ad.domain = $%d", argN)
			args = append(args, q.FilterDomain)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'alert'::text AS type, ad.id, ad.name AS title,
				ts_headline('english', ad.metric, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ad.domain, ''::text AS status,
				ts_rank(ad.fts, %s) AS rank
			FROM alert_definitions ad
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultAudit {
		where := "va.fts @@ " + tsQuery
		if q.FilterDomain != "" {
			where += fmt.Sprintf(" AND va.domain = $%d", argN)
			args = append(args, q.FilterDomain)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'audit'::text AS type, va.id::text, va.action AS title,
				ts_headline('english', coalesce(va.detail, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				va.domain, ''::text AS status,
				ts_rank(va.fts, %s) AS rank
			FROM version_audit va
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, domain, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Domain, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]VersionRecord, []AlertRecord, []AuditRecord, error) {
	versionRows, err := p.db.QueryContext(ctx, `
		SELECT id, label, COALESCE(description, ''), domain, status
		FROM settings_versions
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load versions: %w", err)
	}
	defer versionRows.Close()

	versions := make([]VersionRecord, 0)
	for versionRows.Next() {
		var v VersionRecord
		if err := versionRows.Scan(&v.ID, &v.Label, &v.Description, &v.Domain, &v.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := versionRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate versions: %w", err)
	}

	alertRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, metric, type, domain
		FROM alert_definitions
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load alerts: %w", err)
	}
	defer alertRows.Close()

	alerts := make([]AlertRecord, 0)
	for alertRows.Next() {
		var a AlertRecord
		if err := alertRows.Scan(&a.ID, &a.Name, &a.Metric, &a.Type, &a.Domain); err != nil {
			return nil, nil, nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := alertRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate alerts: %w", err)
	}

	auditRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, action, detail, actor_name, domain
		FROM version_audit
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load audit entries: %w", err)
	}
	defer auditRows.Close()

	entries := make([]AuditRecord, 0)
	for auditRows.Next() {
		var e AuditRecord
		if err := auditRows.Scan(&e.ID, &e.Action, &e.Detail, &e.Actor, &e.Domain); err != nil {
			return nil, nil, nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := auditRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return versions, alerts, entries, nil
}
