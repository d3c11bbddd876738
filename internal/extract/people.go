package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/seanblong/actasearch/pkg/models"
)

const maxParticipants = 15

var (
	participantBullet = regexp.MustCompile(`(?:•|▸|-|▪|⊙)\s*([A-ZÁÉÍÓÚÑ][a-záéíóúñ]+(?:\s+[A-ZÁÉÍÓÚÑ][a-záéíóúñ]+)+)\s*(?:\(([^)]+)\))?`)
	organizationHints = anyOf("hexa ingenieros", "cliente", "client", "soporte", "support")
)

// extractParticipants reads bulleted "Name Surname (Org)" lines. The
// parenthetical is an organization when it names one, otherwise a role.
func extractParticipants(text string) []models.Participant {
	out := []models.Participant{}
	seen := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		for _, m := range participantBullet.FindAllStringSubmatch(line, -1) {
			name := strings.TrimSpace(m[1])
			if utf8.RuneCountInString(name) <= 3 || seen[name] {
				continue
			}
			seen[name] = true

			p := models.Participant{Name: name}
			if paren := strings.TrimSpace(m[2]); paren != "" {
				if organizationHints(strings.ToLower(paren)) {
					p.Organization = paren
				} else {
					p.Role = paren
				}
			}
			out = append(out, p)
			if len(out) == maxParticipants {
				return out
			}
		}
	}
	return out
}
