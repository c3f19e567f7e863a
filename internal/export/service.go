package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"beacon/api/internal/snapshot"
	"beacon/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetVersion(ctx context.Context, versionID string) (store.Version, error)
	GetActiveVersion(ctx context.Context, domain string) (*store.Version, error)
	ListAlertDefinitions(ctx context.Context, domain string) ([]store.AlertDefinition, error)
}

// Service renders impact reports for settings versions
type Service struct {
	store    DataStore
	archiver *Archiver
}

// NewService creates a new export service. archiver may be nil when no
// object storage is configured; exports still work, archiving is skipped.
func NewService(store DataStore, archiver *Archiver) *Service {
	return &Service{store: store, archiver: archiver}
}

// Export generates a version impact report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	version, err := s.store.GetVersion(ctx, req.VersionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	if version.Domain != req.Domain {
		return nil, fmt.Errorf("%w: version %s does not belong to domain %s", ErrContentUnavailable, req.VersionID, req.Domain)
	}

	data := TemplateData{
		Domain:      version.Domain,
		Label:       version.Label,
		Status:      version.Status,
		Description: version.Description,
		Author:      version.CreatedBy,
		UpdatedAt:   version.UpdatedAt,
		Settings:    settingsRows(version.Settings),
	}

	if version.Validation != nil {
		data.Validated = true
		data.Valid = version.Validation.Valid
		for _, issue := range version.Validation.Errors {
			data.Errors = append(data.Errors, TemplateIssue{Path: issue.Path, Message: issue.Message})
		}
		for _, issue := range version.Validation.Warnings {
			data.Warnings = append(data.Warnings, TemplateIssue{Path: issue.Path, Message: issue.Message})
		}
	}

	// Diff against whatever is live right now. A report for the active
	// version itself shows no changes.
	active, err := s.store.GetActiveVersion(ctx, req.Domain)
	if err != nil {
		return nil, fmt.Errorf("get active version: %w", err)
	}
	if active != nil && active.ID != version.ID {
		data.ActiveLabel = active.Label
		data.ChangedKeys = snapshot.ChangedKeys(active.Settings, version.Settings)
	}

	if req.IncludeAlerts {
		defs, err := s.store.ListAlertDefinitions(ctx, req.Domain)
		if err != nil {
			return nil, fmt.Errorf("list alert definitions: %w", err)
		}
		for _, def := range defs {
			if !def.IsEnabled {
				continue
			}
			data.Alerts = append(data.Alerts, TemplateAlert{
				Name:         def.Name,
				Type:         def.Type,
				Metric:       def.Metric,
				ThresholdPct: def.Condition.ThresholdPct,
				Severity:     def.Condition.Severity,
			})
		}
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := fmt.Sprintf("%s %s impact report", version.Domain, version.Label)

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// ExportAndArchive exports a report and uploads it to the archive bucket.
func (s *Service) ExportAndArchive(ctx context.Context, req Request) (*Result, *ArchiveInfo, error) {
	result, err := s.Export(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if s.archiver == nil {
		return nil, nil, ErrArchiveUnavailable
	}
	info, err := s.archiver.Store(ctx, req.Domain, req.VersionID, result)
	if err != nil {
		return nil, nil, fmt.Errorf("archive report: %w", err)
	}
	return result, info, nil
}

// SettingsRow is one dotted-path leaf of the settings document.
type SettingsRow struct {
	Path  string
	Value string
}

// settingsRows flattens a settings document into sorted dotted-path rows.
// Leaf values are rendered as JSON so strings keep their quotes.
func settingsRows(doc map[string]any) []SettingsRow {
	flat := map[string]string{}
	flattenInto(flat, "", doc)
	paths := make([]string, 0, len(flat))
	for path := range flat {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	rows := make([]SettingsRow, 0, len(paths))
	for _, path := range paths {
		rows = append(rows, SettingsRow{Path: path, Value: flat[path]})
	}
	return rows
}

func flattenInto(out map[string]string, prefix string, value any) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 && prefix != "" {
			out[prefix] = "{}"
			return
		}
		for key, child := range v {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			flattenInto(out, path, child)
		}
	case []any:
		if len(v) == 0 {
			out[prefix] = "[]"
			return
		}
		for i, child := range v {
			flattenInto(out, fmt.Sprintf("%s.%d", prefix, i), child)
		}
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			out[prefix] = fmt.Sprintf("%v", v)
			return
		}
		out[prefix] = string(encoded)
	}
}
