// Package extract recovers a structured incident record from the plain text of
// a work report. Extraction is best effort: every field has a default and a
// failure in one field never affects the others.
package extract

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/actasearch/pkg/models"
)

// headerSpan is how much of the document counts as its header for dates and numbers.
const headerSpan = 500

// incidentNamespace seeds the UUIDv5 identifiers derived from incident numbers.
var incidentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("actasearch/incident"))

// Extractor holds the non-deterministic inputs of extraction. The zero value
// uses the wall clock and math/rand.
type Extractor struct {
	Now  func() time.Time
	Intn func(n int) int
}

// Extract runs a zero-value Extractor.
func Extract(text, filenameHint string) models.IncidentDocument {
	return Extractor{}.Extract(text, filenameHint)
}

// Extract never fails; fields that cannot be recovered keep their defaults.
func (e Extractor) Extract(text, filenameHint string) models.IncidentDocument {
	lower := strings.ToLower(text)

	number := guard("incident_number", "", func() string { return incidentNumber(text, filenameHint) })
	if number == "" {
		number = e.placeholderNumber()
	}

	client := guard("client", "", func() string { return extractClient(text) })
	category := guard("category", "", func() string { return classifyCategory(lower) })

	doc := models.IncidentDocument{
		ID:             DocumentID(number),
		IncidentNumber: number,
		Reference:      guard("reference", "", func() string { return extractReference(text) }),
		Title:          guard("title", "", func() string { return extractTitle(text) }),
		DetectedAt:     guard("detected_at", (*time.Time)(nil), func() *time.Time { return extractDate(text) }),
		Severity:       guard("severity", models.SeverityLow, func() models.Severity { return classifySeverity(lower) }),
		Status:         guard("status", models.StatusOpen, func() models.Status { return classifyStatus(lower) }),
		Category:       category,
		Subcategory:    guard("subcategory", "", func() string { return classifySubcategory(lower) }),
		Environment:    guard("environment", defaultEnvironment, func() string { return classifyEnvironment(lower) }),

		Client:   client,
		Project:  guard("project", "", func() string { return extractProject(text) }),
		Contract: guard("contract", "", func() string { return extractContract(text) }),

		Summary:            guard("summary", "", func() string { return extractSummary(text) }),
		Description:        text,
		ProblemDescription: guard("problem_description", "", func() string { return extractProblemDescription(text) }),
		RootCause:          guard("root_cause", "", func() string { return extractRootCause(text) }),
		Impact:             guard("impact", "", func() string { return extractImpact(text) }),

		Participants:      guard("participants", []models.Participant{}, func() []models.Participant { return extractParticipants(text) }),
		WorkEntries:       guard("work_entries", []models.WorkEntry{}, func() []models.WorkEntry { return extractWorkEntries(text) }),
		ResolutionSteps:   guard("resolution_steps", []string{}, func() []string { return extractResolutionSteps(text) }),
		PreventiveActions: guard("preventive_actions", []string{}, func() []string { return extractPreventiveActions(text) }),

		Hours:       guard("hours", (*models.HoursSummary)(nil), func() *models.HoursSummary { return extractHours(text) }),
		BillingInfo: guard("billing_info", "", func() string { return extractBillingInfo(text) }),

		ReportedBy: guard("reported_by", "", func() string { return extractReportedBy(text) }),
		AssignedTo: guard("assigned_to", "", func() string { return extractAssignedTo(text) }),

		AffectedSystems:  guard("affected_systems", []string{}, func() []string { return matchVocabulary(lower, systemVocabulary) }),
		AffectedServices: guard("affected_services", []string{}, func() []string { return matchVocabulary(lower, serviceVocabulary) }),

		SourceFile: filenameHint,
		Version:    1,
	}

	if doc.Title == "" {
		doc.Title = filenameHint
	}
	if doc.Category == "" {
		doc.Category = defaultCategory
	}
	if doc.ReportedBy == "" {
		doc.ReportedBy = "system"
	}
	doc.Tags = buildTags(category, client, doc)
	return doc
}

// DocumentID derives the internal identifier from an incident number.
func DocumentID(incidentNumber string) string {
	return uuid.NewSHA1(incidentNamespace, []byte(incidentNumber)).String()
}

// guard runs one field extractor and substitutes def if it panics.
func guard[T any](field string, def T, fn func() T) (out T) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Str("field", field).Interface("panic", r).Msg("field extraction failed, using default")
			out = def
		}
	}()
	return fn()
}

func (e Extractor) placeholderNumber() string {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	intn := rand.IntN
	if e.Intn != nil {
		intn = e.Intn
	}
	return fmt.Sprintf("INC-%d-%04d", now().Year(), intn(10000))
}

var (
	numberInText     = regexp.MustCompile(`(?i)\bAC\d+[A-Z]?\d*[-_]?[A-Z]?\d*`)
	numberInFilename = regexp.MustCompile(`(?i)AC\d+[A-Z]?\d*[-_]?[A-Z]?\d*`)
)

// incidentNumber looks in the header first and falls back to the filename.
func incidentNumber(text, filename string) string {
	if m := numberInText.FindString(clipRunes(text, headerSpan)); m != "" {
		return strings.ToUpper(m)
	}
	if m := numberInFilename.FindString(filename); m != "" {
		return strings.ToUpper(m)
	}
	return ""
}

var leadingCount = regexp.MustCompile(`^\d+\s+\w+`)

func extractTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		n := utf8.RuneCountInString(l)
		if n <= 10 || n >= 200 {
			continue
		}
		if strings.Contains(l, ":") || leadingCount.MatchString(l) {
			continue
		}
		return l
	}
	return ""
}

var (
	numericDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)fecha[\s:.-]*(\d{1,2})[/-](\d{1,2})[/-](\d{4})`),
		regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`),
		regexp.MustCompile(`(?i)fecha[\s:.-]*(\d{1,2})[/-](\d{1,2})[/-](\d{2})\b`),
	}
	spanishMonths = []string{
		"enero", "febrero", "marzo", "abril", "mayo", "junio",
		"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
	}
	longDatePatterns = func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(spanishMonths))
		for i, m := range spanishMonths {
			out[i] = regexp.MustCompile(`(?i)(\d{1,2})\s+de\s+` + m + `(?:\s+de)?\s+(\d{4})`)
		}
		return out
	}()
)

// extractDate only reads the header so dates quoted in the body are ignored.
func extractDate(text string) *time.Time {
	header := clipRunes(text, headerSpan)

	for _, re := range numericDatePatterns {
		m := re.FindStringSubmatch(header)
		if m == nil {
			continue
		}
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		if t, ok := validDate(day, month, year); ok {
			return &t
		}
	}

	for i, re := range longDatePatterns {
		m := re.FindStringSubmatch(header)
		if m == nil {
			continue
		}
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		if t, ok := validDate(day, i+1, year); ok {
			return &t
		}
	}
	return nil
}

func validDate(day, month, year int) (time.Time, bool) {
	if day < 1 || day > 31 || month < 1 || month > 12 || year <= 2000 || year >= 2100 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// clipRunes returns at most n runes of s.
func clipRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// windowAfter returns the match at loc plus up to n runes that follow it.
func windowAfter(text string, loc []int, n int) string {
	return text[loc[0]:loc[1]] + clipRunes(text[loc[1]:], n)
}
