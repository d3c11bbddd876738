package models

import "time"

// Severity classifies how urgent an incident is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AllSeverities lists every severity from most to least urgent.
var AllSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func (s Severity) Valid() bool {
	for _, v := range AllSeverities {
		if s == v {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var AllStatuses = []Status{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type Participant struct {
	Name         string `json:"name"`
	Role         string `json:"role,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// WorkEntry is one day (or bullet) of the "trabajos realizados" section.
type WorkEntry struct {
	Date        string   `json:"date,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description"`
	Equipment   []string `json:"equipment,omitempty"`
	Action      string   `json:"action,omitempty"`
	Status      Status   `json:"status,omitempty"`
	Duration    string   `json:"duration,omitempty"`
}

// HoursSummary is the reconciled breakdown of billable time for one document.
type HoursSummary struct {
	Normal        float64 `json:"normal"`
	Extended      float64 `json:"extended"`
	Night         float64 `json:"night"`
	Travel        float64 `json:"travel"`
	Documentation float64 `json:"documentation"`
	Total         float64 `json:"total"`
	BillingInfo   string  `json:"billing_info,omitempty"`
}

// IncidentDocument is the structured record extracted from one work report.
type IncidentDocument struct {
	ID             string `json:"id"`
	IncidentNumber string `json:"incident_number"`
	Reference      string `json:"reference,omitempty"`

	Title       string     `json:"title"`
	DetectedAt  *time.Time `json:"detected_at,omitempty"`
	Severity    Severity   `json:"severity"`
	Status      Status     `json:"status"`
	Category    string     `json:"category"`
	Subcategory string     `json:"subcategory,omitempty"`
	Environment string     `json:"environment"`

	Client   string `json:"client,omitempty"`
	Project  string `json:"project,omitempty"`
	Contract string `json:"contract,omitempty"`

	Summary            string `json:"summary"`
	Description        string `json:"description"`
	ProblemDescription string `json:"problem_description,omitempty"`
	RootCause          string `json:"root_cause,omitempty"`
	Impact             string `json:"impact,omitempty"`

	Participants      []Participant `json:"participants"`
	WorkEntries       []WorkEntry   `json:"work_entries"`
	ResolutionSteps   []string      `json:"resolution_steps"`
	PreventiveActions []string      `json:"preventive_actions"`

	Hours       *HoursSummary `json:"hours_summary,omitempty"`
	BillingInfo string        `json:"billing_info,omitempty"`

	ReportedBy string `json:"reported_by"`
	AssignedTo string `json:"assigned_to,omitempty"`

	AffectedSystems  []string `json:"affected_systems"`
	AffectedServices []string `json:"affected_services"`
	Tags             []string `json:"tags"`

	SourceFile string    `json:"source_file,omitempty"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DocumentChunk is a section-labelled excerpt of a document used as the unit of indexing.
type DocumentChunk struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"document_id"`
	IncidentNumber string    `json:"incident_number"`
	Index          int       `json:"index"`
	Section        string    `json:"section"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"-"`
}

type SearchHit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Section    string  `json:"section"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// AggregatedResult groups all hits of one document; Score is the sum of the hit scores.
type AggregatedResult struct {
	Document IncidentDocument `json:"incident"`
	Hits     []SearchHit      `json:"chunks"`
	Score    float64          `json:"total_score"`
}

// SearchFilters restricts a vector search. Zero values do not restrict.
type SearchFilters struct {
	Severity     []Severity `json:"severity,omitempty"`
	Status       []Status   `json:"status,omitempty"`
	Category     string     `json:"category,omitempty"`
	Environment  string     `json:"environment,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Client       string     `json:"client,omitempty"`
	DetectedFrom *time.Time `json:"date_from,omitempty"`
	DetectedTo   *time.Time `json:"date_to,omitempty"`
}
