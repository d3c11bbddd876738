package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/seanblong/actasearch/pkg/models"
)

// sectionLocator finds the start of the hours section and how far past it to read.
type sectionLocator struct {
	re   *regexp.Regexp
	span int
}

var hoursSections = []sectionLocator{
	{regexp.MustCompile(`(?i)RESUMEN\s*DE\s*HORAS|HORAS\s*POR\s*FACTURAR|TOTAL\s*DE\s*HORAS|HORAS\s*NORMALES`), 3000},
	{regexp.MustCompile(`(?i)Horas\s*Normales`), 1000},
	{regexp.MustCompile(`(?i)Total\s+de\s+horas`), 500},
}

var (
	dayColumn       = regexp.MustCompile(`(?i)[MLXJVSND]?\s*\d{1,2}/\d{2}`)
	anyNumber       = regexp.MustCompile(`\d+`)
	participantRow  = regexp.MustCompile(`([A-Z]{2,5})(\d{2,5})(\d{3})`)
	investedHours   = regexp.MustCompile(`(?i)Total\s+de\s+horas\s+invertidas[^:]*:\s*(\d+)\s*horas?`)
	sectionTotal    = regexp.MustCompile(`(?i)total[\s:.-]*(\d{2,5})[\s,.]*(\d{3})?`)
	totalHoursWords = regexp.MustCompile(`(?i)total[\s:.-]*(\d+[.,]?\d*)\s*horas?`)
	hourMention     = regexp.MustCompile(`(?i)(\d+)\s*horas?\s*(?:normal|nocturna|total)`)
)

// tabularRows maps a row label to the component it fills. Every matching row
// overwrites the component, so the last row in the section wins.
var tabularRows = []struct {
	match func(lower string) bool
	set   func(h *models.HoursSummary, v float64)
}{
	{anyOf("horario normal", "normal"), func(h *models.HoursSummary, v float64) { h.Normal = v }},
	{anyOf("horario extendido", "horario extended"), func(h *models.HoursSummary, v float64) { h.Extended = v }},
	{anyOf("horario noct", "noct-festivo", "nocturno"), func(h *models.HoursSummary, v float64) { h.Night = v }},
	{anyOf("desplazamiento"), func(h *models.HoursSummary, v float64) { h.Travel = v }},
	{anyOf("documentaci"), func(h *models.HoursSummary, v float64) { h.Documentation = v }},
}

// totalRules resolve HoursSummary.Total in priority order. A rule reports
// true once it has produced a positive total; later rules are not consulted.
var totalRules = []struct {
	name    string
	resolve func(text, section string, h *models.HoursSummary) bool
}{
	{"invested_hours", resolveInvested},
	{"section_total", resolveSectionTotal},
	{"component_sum", resolveComponentSum},
	{"largest_mention", resolveLargestMention},
}

func extractHours(text string) *models.HoursSummary {
	section := locateHoursSection(text)
	h := &models.HoursSummary{}

	if section != "" {
		if dayColumn.MatchString(section) {
			readTabular(section, h)
		}
		if n := sumParticipantHours(section); n > 0 {
			h.Normal = n
		}
	}

	for _, r := range totalRules {
		if r.resolve(text, section, h) {
			h.BillingInfo = billingSnippet(text)
			return h
		}
	}
	return nil
}

func locateHoursSection(text string) string {
	for _, l := range hoursSections {
		loc := l.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if w := windowAfter(text, loc, l.span); utf8.RuneCountInString(w) > 50 {
			return w
		}
	}
	return ""
}

func lastNumber(line string) (float64, bool) {
	nums := anyNumber.FindAllString(line, -1)
	if len(nums) == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(nums[len(nums)-1])
	if err != nil {
		return 0, false
	}
	return float64(v), true
}

func readTabular(section string, h *models.HoursSummary) {
	for _, line := range strings.Split(section, "\n") {
		lower := strings.ToLower(line)
		for _, row := range tabularRows {
			if !row.match(lower) {
				continue
			}
			if v, ok := lastNumber(line); ok {
				row.set(h, v)
			}
		}
	}
}

// sumParticipantHours decodes rows like "CFP67000": initials, whole hours,
// then a three digit sub-unit that is ignored.
func sumParticipantHours(section string) float64 {
	var sum int
	for _, m := range participantRow.FindAllStringSubmatch(section, -1) {
		n, _ := strconv.Atoi(m[2])
		sum += n
	}
	return float64(sum)
}

func resolveInvested(text, _ string, h *models.HoursSummary) bool {
	var sum int
	for _, m := range investedHours.FindAllStringSubmatch(text, -1) {
		n, _ := strconv.Atoi(m[1])
		sum += n
	}
	if sum <= 0 {
		return false
	}
	h.Total = float64(sum)
	h.Normal = float64(sum)
	return true
}

func resolveSectionTotal(_, section string, h *models.HoursSummary) bool {
	if section == "" {
		return false
	}
	if m := sectionTotal.FindStringSubmatch(section); m != nil {
		if t := decodeSectionTotal(m[1], m[2]); t > 0 {
			h.Total = t
			return true
		}
	}
	if m := totalHoursWords.FindStringSubmatch(section); m != nil {
		t, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err == nil && t > 0 {
			h.Total = t
			return true
		}
	}
	return false
}

// decodeSectionTotal interprets "Total<whole>[sep]<suffix>". A three digit
// suffix after three or more whole digits is a fraction ("1060.500" is
// 1060.5); a shorter whole part keeps only the fraction. Without a suffix, a
// whole part longer than three digits has its last two digits added as
// displacement ("1065" is 10+65).
func decodeSectionTotal(whole, suffix string) float64 {
	hours, _ := strconv.Atoi(whole)
	if suffix != "" {
		frac, _ := strconv.ParseFloat("0."+suffix, 64)
		if len(whole) >= 3 && len(suffix) == 3 {
			return float64(hours) + frac
		}
		return frac
	}
	if len(whole) > 3 {
		head, _ := strconv.Atoi(whole[:len(whole)-2])
		tail, _ := strconv.Atoi(whole[len(whole)-2:])
		return float64(head + tail)
	}
	return float64(hours)
}

func resolveComponentSum(_, _ string, h *models.HoursSummary) bool {
	if t := h.Normal + h.Extended + h.Night; t > 0 {
		h.Total = t
		return true
	}
	return false
}

func resolveLargestMention(text, _ string, h *models.HoursSummary) bool {
	best := 0
	for _, m := range hourMention.FindAllStringSubmatch(text, -1) {
		if n, _ := strconv.Atoi(m[1]); n > best {
			best = n
		}
	}
	if best <= 0 {
		return false
	}
	h.Total = float64(best)
	h.Normal = float64(best)
	return true
}

var billingLocators = []sectionLocator{
	{regexp.MustCompile(`(?i)horas?\s*por\s*facturar`), 500},
	{regexp.MustCompile(`(?i)\d+\s*horas?\s*normal`), 0},
	{regexp.MustCompile(`(?i)facturaci[óo]n`), 200},
}

func billingSnippet(text string) string {
	for _, l := range billingLocators {
		if loc := l.re.FindStringIndex(text); loc != nil {
			return clipRunes(windowAfter(text, loc, l.span), 500)
		}
	}
	return ""
}
