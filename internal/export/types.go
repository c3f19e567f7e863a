// Package export renders version impact reports for PDF and HTML output.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Request contains parameters for an export operation
type Request struct {
	Domain        string
	VersionID     string
	Format        Format
	IncludeAlerts bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ArchiveInfo describes where an exported report was archived.
type ArchiveInfo struct {
	Bucket     string
	ObjectKey  string
	Size       int64
	ArchivedAt time.Time
}

var (
	// ErrContentUnavailable indicates version content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrArchiveUnavailable indicates the report archive backend is not configured.
	ErrArchiveUnavailable = errors.New("export archive unavailable")
)
