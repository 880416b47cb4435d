package interfaces

import (
	"context"
	"time"
)

// Status categories reported by the incident.io API.
const (
	CategoryLive     = "live"
	CategoryTriage   = "triage"
	CategoryClosed   = "closed"
	CategoryMerged   = "merged"
	CategoryDeclined = "declined"
	CategoryPaused   = "paused"
)

// Incident is the normalized base record fetched from the incidents
// collection. Read-only, rebuilt from the API each cycle.
type Incident struct {
	ID             string             `json:"id"`
	Reference      string             `json:"reference"`
	Name           string             `json:"name"`
	Summary        string             `json:"summary,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      *time.Time         `json:"updated_at,omitempty"`
	ClosedAt       *time.Time         `json:"closed_at,omitempty"`
	Status         string             `json:"status"`
	StatusCategory string             `json:"status_category"`
	Severity       string             `json:"severity"`
	Type           string             `json:"type,omitempty"`
	Permalink      string             `json:"permalink,omitempty"`
	Roles          []RoleAssignment   `json:"roles,omitempty"`
	CustomFields   []CustomFieldEntry `json:"custom_fields,omitempty"`
}

// RoleAssignment pairs an incident role with its assignee.
type RoleAssignment struct {
	Role          string `json:"role"`
	RoleType      string `json:"role_type"` // lead, reporter or custom
	Assignee      string `json:"assignee"`
	AssigneeEmail string `json:"assignee_email,omitempty"`
}

// CustomFieldEntry is a custom field with its resolved scalar value
// (multi-value fields are joined into one string).
type CustomFieldEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FullIncident is the aggregated record: the base incident plus the
// independently fetched sub-resource collections.
type FullIncident struct {
	Incident

	URL             string              `json:"url"`
	DurationMinutes *int                `json:"duration_minutes,omitempty"`
	Updates         []IncidentUpdate    `json:"updates"`
	Actions         []IncidentAction    `json:"actions"`
	FollowUps       []FollowUp          `json:"follow_ups"`
	Attachments     []Attachment        `json:"attachments"`
	Timestamps      []IncidentTimestamp `json:"timestamps"`
}

// IncidentUpdate is one timeline event.
type IncidentUpdate struct {
	ID                string    `json:"id"`
	Message           string    `json:"message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	NewStatus         string    `json:"new_status,omitempty"`
	NewStatusCategory string    `json:"new_status_category,omitempty"`
	NewSeverity       string    `json:"new_severity,omitempty"`
}

// IncidentAction is an action item raised during the incident.
type IncidentAction struct {
	Description string `json:"description"`
	Status      string `json:"status"`
	Assignee    string `json:"assignee,omitempty"`
}

// FollowUp is a post-incident follow-up task.
type FollowUp struct {
	Title     string `json:"title"`
	Status    string `json:"status"`
	Assignee  string `json:"assignee,omitempty"`
	IssueName string `json:"issue_name,omitempty"`
	IssueURL  string `json:"issue_url,omitempty"`
}

// Attachment is an external resource attached to the incident.
type Attachment struct {
	Title     string `json:"title"`
	Permalink string `json:"permalink"`
}

// IncidentTimestamp is a named lifecycle instant (detected, acknowledged,
// resolved, ...). Value is nil when the timestamp has not occurred.
type IncidentTimestamp struct {
	Name  string     `json:"name"`
	Value *time.Time `json:"value,omitempty"`
}

// User is an incident.io organisation member.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Schedule is an on-call schedule.
type Schedule struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OnCallResult lists the schedules the target user is currently covering.
// An empty Schedules slice means "not on call", which is distinct from a
// nil OnCallResult ("no schedules to check").
type OnCallResult struct {
	Schedules []string `json:"schedules"`
}

// IncidentResult is the lightweight per-incident record used for daily
// summaries.
type IncidentResult struct {
	Reference string `json:"reference"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	URL       string `json:"url"`
}

// SyncResult is everything one sync cycle pulled from the API.
type SyncResult struct {
	OnCall        *OnCallResult    `json:"oncall,omitempty"`
	Incidents     []IncidentResult `json:"incidents"`
	FullIncidents []*FullIncident  `json:"-"`
}

// HistoricalOptions selects the history-window incident listing instead of
// the active-only listing.
type HistoricalOptions struct {
	Days int
}

// ConnectionResult reports the outcome of a connection probe.
type ConnectionResult struct {
	Success bool   `json:"success"`
	User    string `json:"user,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ProgressFunc is invoked after each detail-fetch batch completes.
type ProgressFunc func(processed, total int)

// IncidentClient talks to the incident.io REST API.
type IncidentClient interface {
	TestConnection(ctx context.Context) ConnectionResult
	FindUser(ctx context.Context, identifier string) (*User, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	GetFullIncidentDetails(ctx context.Context, inc Incident) *FullIncident
	CheckOnCall(ctx context.Context, user *User) *OnCallResult
	SyncData(ctx context.Context, userIdentifier string, historical *HistoricalOptions, progress ProgressFunc) (*SyncResult, error)
}

// IncidentFilter selects which incidents to list. CreatedAfter and
// ActiveOnly are mutually exclusive selection modes.
type IncidentFilter struct {
	CreatedAfter *time.Time
	ActiveOnly   bool
}
