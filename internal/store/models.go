package store

import (
	"time"

	"beacon/api/internal/draft"
)

// Version statuses. Archived is terminal; the store enforces at most one
// active version per domain.
const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusArchived = "archived"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Version is one canonical settings document revision for a measurement
// domain. Labels are store-assigned and monotonic per domain (v1, v2, ...).
type Version struct {
	ID          string
	Domain      string
	Status      string
	Label       string
	Description string
	Settings    map[string]any
	Validation  *draft.ValidationResult
	CreatedAt   time.Time
	CreatedBy   string
	UpdatedAt   time.Time
	ActivatedAt *time.Time
	ActivatedBy string
}

// AlertCondition holds the threshold rule of an alert definition.
type AlertCondition struct {
	ComparisonMode string  `json:"comparison_mode"`
	ThresholdPct   float64 `json:"threshold_pct"`
	Severity       string  `json:"severity"`
	CooldownDays   int     `json:"cooldown_days"`
}

// AlertDefinition is a committed threshold alert. Its lifecycle is binary
// (enabled/disabled); nothing is persisted before commit.
type AlertDefinition struct {
	ID        string
	Name      string
	Type      string
	Domain    string
	Scope     map[string]any
	Metric    string
	Condition AlertCondition
	Schedule  string
	IsEnabled bool
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
}

// AlertEvent is one firing of a definition against live data.
type AlertEvent struct {
	ID             int64
	DefinitionID   string
	Severity       string
	Message        string
	MetricValue    float64
	BaselineValue  float64
	DeltaPct       float64
	TriggeredAt    time.Time
	AcknowledgedBy string
	AcknowledgedAt *time.Time
}

// AuditEntry records a lifecycle transition or alert commit, with the
// actor that performed it.
type AuditEntry struct {
	ID        int64
	Domain    string
	VersionID string
	Action    string
	Detail    string
	Actor     string
	CreatedAt time.Time
}

// MetricPoint is one observed metric value for a scope slice. Previews
// aggregate these rows; no statistical modeling happens here.
type MetricPoint struct {
	Domain     string
	ScopeKey   string
	Metric     string
	Value      float64
	ObservedAt time.Time
}
