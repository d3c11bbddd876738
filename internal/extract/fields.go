package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var hasDigit = regexp.MustCompile(`\d`)

// firstGroup returns the trimmed first capture of the first pattern that
// matches and satisfies accept.
func firstGroup(text string, patterns []*regexp.Regexp, accept func(string) bool) string {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v := strings.TrimSpace(m[1])
		if accept == nil || accept(v) {
			return v
		}
	}
	return ""
}

var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:referencia|ref\.?)\s*[:.]?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)(?:\bn[°º]|\bno\.|\bn[uú]mero)\s*(?:de\s*)?(?:acta|incidencia)?\s*[:.]?\s*([A-Z0-9-]+)`),
}

func extractReference(text string) string {
	return firstGroup(text, referencePatterns, func(v string) bool {
		return len(v) < 30 && hasDigit.MatchString(v)
	})
}

var (
	clientLabel  = regexp.MustCompile(`(?i)cliente:[ \t]*([^\n]*)`)
	clientStops  = regexp.MustCompile(`(?i)\s*(?:proyecto:|trabajo:|contrato:)`)
	plantPrefix  = regexp.MustCompile(`(?i)^P{1,2}G\s+`)
	projectLabel = regexp.MustCompile(`(?i)proyecto:[ \t]*([^\n]*)`)
	projectStops = regexp.MustCompile(`(?i)\s*(?:trabajo|contrato)`)
)

// cutAt truncates s at the first match of stop.
func cutAt(s string, stop *regexp.Regexp) string {
	if loc := stop.FindStringIndex(s); loc != nil {
		return s[:loc[0]]
	}
	return s
}

func extractClient(text string) string {
	m := clientLabel.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	client := strings.TrimSpace(cutAt(m[1], clientStops))
	client = strings.ReplaceAll(client, ":", "")
	client = strings.TrimSpace(plantPrefix.ReplaceAllString(client, "PPG "))
	if n := utf8.RuneCountInString(client); n > 2 && n < 100 {
		return client
	}
	return ""
}

func extractProject(text string) string {
	m := projectLabel.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	project := strings.TrimSpace(cutAt(m[1], projectStops))
	if utf8.RuneCountInString(project) <= 2 {
		return ""
	}
	return clipRunes(project, 150)
}

var contractPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:contrato|contract)[\s:.-]*(?:n[°ºo]\.?)?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)\borden\s*de\s*trabajo[\s:.-]*([A-Z0-9-]+)`),
}

func extractContract(text string) string {
	return clipRunes(firstGroup(text, contractPatterns, hasDigit.MatchString), 50)
}

func extractSummary(text string) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if utf8.RuneCountInString(l) > 20 {
			lines = append(lines, l)
			if len(lines) == 3 {
				break
			}
		}
	}
	return clipRunes(strings.Join(lines, " "), 500)
}

var problemPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:descripción|del problema|problema|problem)[\s:.-]*([^\n]{50,300})`),
	regexp.MustCompile(`(?i)se\s+(?:recibe|solicita|detecta|observa)([^\n]{50,200})`),
}

func extractProblemDescription(text string) string {
	return clipRunes(firstGroup(text, problemPatterns, nil), 500)
}

var rootCausePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:causa\s*raíz|causa\s*root|origen|root\s*cause)[\s:.-]*([^\n]{10,200})`),
	regexp.MustCompile(`(?i)(?:motivo|razón|reason)[\s:.-]*([^\n]{10,200})`),
}

func extractRootCause(text string) string {
	return firstGroup(text, rootCausePatterns, nil)
}

var impactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:impacto|impact|afectación|afectado)[\s:.-]*([^\n]{10,300})`),
}

func extractImpact(text string) string {
	return firstGroup(text, impactPatterns, nil)
}

var (
	resolutionKeywords = []string{"resolución", "resolucion", "solución", "solucion", "steps", "acciones", "procedimiento", "actuación"}
	stepNumbering      = regexp.MustCompile(`^[\d.)\-*]+\s*`)
)

// extractResolutionSteps collects the lines that follow a resolution keyword
// until the next blank line.
func extractResolutionSteps(text string) []string {
	steps := []string{}
	inSection := false
	for _, line := range strings.Split(text, "\n") {
		if anyOf(resolutionKeywords...)(strings.ToLower(line)) {
			inSection = true
			continue
		}
		trimmed := strings.TrimSpace(line)
		if inSection && trimmed != "" {
			cleaned := stepNumbering.ReplaceAllString(trimmed, "")
			if n := utf8.RuneCountInString(cleaned); n > 10 && n < 300 {
				steps = append(steps, cleaned)
				if len(steps) == 10 {
					break
				}
			}
		}
		if trimmed == "" && len(steps) > 0 {
			inSection = false
		}
	}
	return steps
}

var preventivePattern = regexp.MustCompile(`(?i)(?:prevenir|preventivo|prevention|acciones\s*preventivas?|mejora|mejoras)[\s:.-]*([^\n]{10,200})`)

func extractPreventiveActions(text string) []string {
	actions := []string{}
	for _, m := range preventivePattern.FindAllStringSubmatch(text, 5) {
		actions = append(actions, strings.TrimSpace(m[1]))
	}
	return actions
}

var billingPattern = regexp.MustCompile(`(?i)(?:facturación|billing|facturar)[\s:.-]*([^\n]{10,200})`)

func extractBillingInfo(text string) string {
	if m := billingPattern.FindStringSubmatch(text); m != nil {
		return clipRunes(strings.TrimSpace(m[1]), 300)
	}
	return ""
}

var (
	assignedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:asignado|assigned|responsable|technician|ingeniero|soporte)[\s:.-]*([^\n]{3,50})`),
		regexp.MustCompile(`(?i)(?:técnico|tecnico|tech)[\s:.-]*([^\n]{3,50})`),
	}
	reportedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:reportado|reported|creado|created\s*by|autor|author)[\s:.-]*([^\n]{3,50})`),
	}
	trailingPunct = regexp.MustCompile(`[,:.]+$`)
)

func personField(text string, patterns []*regexp.Regexp) string {
	v := firstGroup(text, patterns, nil)
	return strings.TrimSpace(trailingPunct.ReplaceAllString(v, ""))
}

func extractAssignedTo(text string) string {
	return personField(text, assignedPatterns)
}

func extractReportedBy(text string) string {
	return personField(text, reportedPatterns)
}
