package incident

import (
	"context"
	"sort"
	"time"
)

const (
	topParticipants = 5
	recentIncidents = 5
	noClient        = "Sin cliente"
)

type ParticipantCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type RecentIncident struct {
	ID             string     `json:"id"`
	IncidentNumber string     `json:"incident_number"`
	Client         string     `json:"client,omitempty"`
	Category       string     `json:"category"`
	DetectedAt     *time.Time `json:"detected_at,omitempty"`
}

// Stats summarises the corpus for dashboards.
type Stats struct {
	TotalIncidents  int                `json:"total_incidents"`
	TotalChunks     int                `json:"total_chunks"`
	TotalHours      float64            `json:"total_hours"`
	NormalHours     float64            `json:"normal_hours"`
	NightHours      float64            `json:"night_hours"`
	ExtendedHours   float64            `json:"extended_hours"`
	BySeverity      map[string]int     `json:"by_severity"`
	ByStatus        map[string]int     `json:"by_status"`
	ByCategory      map[string]int     `json:"by_category"`
	ByClient        map[string]int     `json:"by_client"`
	TopParticipants []ParticipantCount `json:"top_participants"`
	RecentActivity  []RecentIncident   `json:"recent_activity"`
}

// Stats aggregates the cached records. TotalHours is normal + night +
// extended; travel and documentation are not billed hours.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	chunks, err := s.store.CountChunks(ctx)
	if err != nil {
		return Stats{}, err
	}

	docs := s.GetAll()
	st := Stats{
		TotalIncidents:  len(docs),
		TotalChunks:     chunks,
		BySeverity:      map[string]int{},
		ByStatus:        map[string]int{},
		ByCategory:      map[string]int{},
		ByClient:        map[string]int{},
		TopParticipants: []ParticipantCount{},
		RecentActivity:  []RecentIncident{},
	}

	people := map[string]int{}
	for _, d := range docs {
		st.BySeverity[string(d.Severity)]++
		st.ByStatus[string(d.Status)]++
		st.ByCategory[d.Category]++
		client := d.Client
		if client == "" {
			client = noClient
		}
		st.ByClient[client]++

		if h := d.Hours; h != nil {
			st.NormalHours += h.Normal
			st.NightHours += h.Night
			st.ExtendedHours += h.Extended
		}
		for _, p := range d.Participants {
			if p.Name != "" {
				people[p.Name]++
			}
		}
	}
	st.TotalHours = st.NormalHours + st.NightHours + st.ExtendedHours

	for name, n := range people {
		st.TopParticipants = append(st.TopParticipants, ParticipantCount{Name: name, Count: n})
	}
	sort.Slice(st.TopParticipants, func(i, j int) bool {
		a, b := st.TopParticipants[i], st.TopParticipants[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})
	if len(st.TopParticipants) > topParticipants {
		st.TopParticipants = st.TopParticipants[:topParticipants]
	}

	// docs is already ordered most recent first
	for _, d := range docs[:min(len(docs), recentIncidents)] {
		st.RecentActivity = append(st.RecentActivity, RecentIncident{
			ID:             d.ID,
			IncidentNumber: d.IncidentNumber,
			Client:         d.Client,
			Category:       d.Category,
			DetectedAt:     d.DetectedAt,
		})
	}
	return st, nil
}
