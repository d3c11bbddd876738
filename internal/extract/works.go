package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/seanblong/actasearch/pkg/models"
)

const (
	maxWorkEntries = 30
	maxEquipment   = 10
	worksSpan      = 8000
)

const (
	weekdays = `lunes|martes|miércoles|miercoles|jueves|viernes|sábado|sabado|domingo`
	months   = `enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre`
)

var (
	worksHeading = regexp.MustCompile(`(?i)TRABAJOS\s+REALIZADOS`)
	dayHeading   = regexp.MustCompile(`(?im)^[ \t]*(?:(?:` + weekdays + `)(?:[ \t,]+\d{1,2}(?:[ \t]+de[ \t]+(?:` + months + `))?)?|\d{1,2}[ \t]+de[ \t]+(?:` + months + `))(?:[ \t]+(?:de[ \t]+)?\d{4})?`)
	weekdayLead  = regexp.MustCompile(`(?i)^(?:` + weekdays + `)[\s,]*`)
	impersonalSe = regexp.MustCompile(`(?i)^se\s+`)
	workBullet   = regexp.MustCompile(`[•▸\-*]\s*([^\n]+)`)
	durationRe   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:horas?|h|hours?)\b`)
)

var equipmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z]{2,3}\d{2,4}[A-Z]{2,3}\d{3}\b`), // valves
	regexp.MustCompile(`(?i)\bYS\d{5}\b`),
	regexp.MustCompile(`(?i)\bGJK\d{2}[A-Z]{2}\d{3}\b`),
	regexp.MustCompile(`\b[TD]\d{4,5}\b`), // tanks
	regexp.MustCompile(`\bP\w{2,3}\d{1,2}\b`), // pumps
	regexp.MustCompile(`(?i)\bCLX\d\b`),
	regexp.MustCompile(`(?i)\b(?:server|PC)\s*\d{3}\b`),
	regexp.MustCompile(`(?i)\blínea?\s*\w+`),
	regexp.MustCompile(`(?i)\bdestilador\s*\w+`),
	regexp.MustCompile(`(?i)\bCIP\s*\w*`),
	regexp.MustCompile(`(?i)\bSCADA\d?\b`),
}

func phrase(expr string) func(string) bool {
	re := regexp.MustCompile(`(?i)` + expr)
	return re.MatchString
}

// actionRules map canonical Spanish action phrases to a label, first match wins.
var actionRules = []rule[string]{
	{phrase(`se\s+(?:soluciona|resuelve|arregla|repara|implementa|programa|realiza|configura)`), "solucionado"},
	{phrase(`queda\s+pendiente`), "pendiente"},
	{phrase(`se\s+realizan\s+pruebas`), "pruebas realizadas"},
	{phrase(`se\s+informa`), "informado"},
	{phrase(`se\s+revisa`), "revisado"},
	{phrase(`se\s+detecta`), "detectado"},
	{phrase(`se\s+solicita`), "solicitado"},
	{phrase(`se\s+recibe\s+una\s+llamada`), "llamada recibida"},
	{phrase(`se\s+conecta`), "conectado"},
	{phrase(`se\s+sube\s+el\s+tiempo`), "configuración modificada"},
	{phrase(`se\s+realiza\s+la\s+programación`), "programación realizada"},
}

// extractWorkEntries splits the "trabajos realizados" section on day headers,
// falling back to bullets when there are none.
func extractWorkEntries(text string) []models.WorkEntry {
	loc := worksHeading.FindStringIndex(text)
	if loc == nil {
		return []models.WorkEntry{}
	}
	section := windowAfter(text, loc, worksSpan)

	headers := dayHeading.FindAllStringIndex(section, -1)
	if len(headers) == 0 {
		return workEntriesFromBullets(section)
	}

	out := []models.WorkEntry{}
	for i, h := range headers {
		var body string
		if i+1 < len(headers) {
			body = section[h[1]:headers[i+1][0]]
		} else {
			body, _, _ = strings.Cut(section[h[1]:], "RESUMEN")
		}
		entry, ok := parseDayEntry(strings.TrimSpace(body), strings.TrimSpace(section[h[0]:h[1]]))
		if !ok {
			continue
		}
		out = append(out, entry)
		if len(out) == maxWorkEntries {
			break
		}
	}
	return out
}

func parseDayEntry(body, header string) (models.WorkEntry, bool) {
	if utf8.RuneCountInString(body) < 20 {
		return models.WorkEntry{}, false
	}

	title, description := "", body
	candidates := 0
	for _, line := range strings.Split(body, "\n") {
		clean := strings.TrimSpace(line)
		if utf8.RuneCountInString(clean) <= 5 {
			continue
		}
		if candidates++; candidates > 5 {
			break
		}
		n := utf8.RuneCountInString(clean)
		if n <= 10 || n >= 200 || impersonalSe.MatchString(clean) || dayHeading.MatchString(clean) {
			continue
		}
		title = clean
		description = strings.TrimSpace(strings.Replace(body, line, "", 1))
		break
	}

	date := strings.TrimSpace(weekdayLead.ReplaceAllString(header, ""))
	if date == "" {
		date = header
	}

	return models.WorkEntry{
		Date:        date,
		Title:       title,
		Description: clipRunes(description, 1000),
		Equipment:   extractEquipment(body),
		Action:      extractAction(body),
		Status:      classifyStatus(strings.ToLower(body)),
		Duration:    extractDuration(body),
	}, true
}

func workEntriesFromBullets(section string) []models.WorkEntry {
	out := []models.WorkEntry{}
	for _, m := range workBullet.FindAllStringSubmatch(section, -1) {
		desc := strings.TrimSpace(m[1])
		if utf8.RuneCountInString(desc) <= 10 {
			continue
		}
		out = append(out, models.WorkEntry{
			Description: clipRunes(desc, 500),
			Equipment:   extractEquipment(desc),
			Action:      extractAction(desc),
			Status:      classifyStatus(strings.ToLower(desc)),
		})
		if len(out) == maxWorkEntries {
			break
		}
	}
	return out
}

func extractEquipment(text string) []string {
	var found []string
	seen := map[string]bool{}
	for _, re := range equipmentPatterns {
		for _, m := range re.FindAllString(text, -1) {
			id := strings.ToUpper(m)
			if utf8.RuneCountInString(id) <= 2 || seen[id] {
				continue
			}
			seen[id] = true
			found = append(found, id)
			if len(found) == maxEquipment {
				return found
			}
		}
	}
	return found
}

func extractAction(text string) string {
	return firstMatch(text, actionRules, "")
}

func extractDuration(text string) string {
	if m := durationRe.FindStringSubmatch(text); m != nil {
		return m[1] + "h"
	}
	return ""
}
