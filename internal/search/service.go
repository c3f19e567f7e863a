package search

import (
	"context"
	"log"

	"beacon/api/internal/telemetry"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
		telemetry.RecordSearchFallback()
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexVersion indexes a settings version (fire-and-forget to Meilisearch).
func (s *Service) IndexVersion(record VersionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexVersion(record); err != nil {
			log.Printf("search: index version %s: %v", record.ID, err)
		}
	}()
}

// IndexAlert indexes an alert definition (fire-and-forget to Meilisearch).
func (s *Service) IndexAlert(record AlertRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAlert(record); err != nil {
			log.Printf("search: index alert %s: %v", record.ID, err)
		}
	}()
}

// IndexAudit indexes an audit entry (fire-and-forget to Meilisearch).
func (s *Service) IndexAudit(record AuditRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAudit(record); err != nil {
			log.Printf("search: index audit %s: %v", record.ID, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called at startup if Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	versions, alerts, entries, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(versions) > 0 {
		if err := s.meili.IndexVersions(versions); err != nil {
			log.Printf("search: reindex versions: %v", err)
		}
	}
	if len(alerts) > 0 {
		if err := s.meili.IndexAlerts(alerts); err != nil {
			log.Printf("search: reindex alerts: %v", err)
		}
	}
	if len(entries) > 0 {
		if err := s.meili.IndexAuditEntries(entries); err != nil {
			log.Printf("search: reindex audit entries: %v", err)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
