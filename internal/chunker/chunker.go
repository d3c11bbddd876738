// Package chunker splits report text into section-labelled, overlapping
// chunks sized for embedding.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultSize    = 512
	DefaultOverlap = 50

	// Unlabeled is the section label of text that precedes any recognised header.
	Unlabeled = "unlabeled"

	maxHeaderRunes = 50
	minEmitRunes   = 100
	minFinalRunes  = 50
)

var headerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:INCIDENCIA|ACTA|REPORTE|ON-?CALL|MANTENIMIENTO|PREVENTIVO|CORRECTIVO)`),
	regexp.MustCompile(`(?i)^(?:DESCRIPCIÓN|DESCRIPCION|SUMMARY|RESUMEN)`),
	regexp.MustCompile(`(?i)^(?:AFECTADOS?|IMPACTO|IMPACT)`),
	regexp.MustCompile(`(?i)^(?:RESOLUCIÓN|RESOLUCION|RESOLUTION|SEGUIMIENTO)`),
	regexp.MustCompile(`(?i)^(?:CAUSA|ROOT\s*CAUSE|ORIGEN)`),
	regexp.MustCompile(`(?i)^(?:ACCIONES?|ACTIONS)`),
	regexp.MustCompile(`(?i)^(?:FECHA|HORA|DATE|TIME)`),
	regexp.MustCompile(`(?i)^(?:SISTEMA|SERVER|ENVIRONMENT|ENTORNO)`),
}

var titleTrail = regexp.MustCompile(`[:.-]+$`)

// Section is a run of lines under one header. Title is empty for text that
// precedes the first header.
type Section struct {
	Title   string
	Content string
}

// Chunk is one emitted unit. Text carries the "[Sección: label]" prefix.
type Chunk struct {
	Index   int
	Section string
	Text    string
}

type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker. Non-positive sizes fall back to the defaults and the
// overlap is clamped to the size.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap > size {
		overlap = size
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

func isHeader(line string) bool {
	if utf8.RuneCountInString(line) >= maxHeaderRunes {
		return false
	}
	for _, re := range headerPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Sections groups lines under the most recent header. Text without any header
// yields a single untitled section holding the whole input.
func Sections(text string) []Section {
	var (
		out     []Section
		title   string
		content []string
	)
	flush := func() {
		body := strings.TrimSpace(strings.Join(content, "\n"))
		if body != "" {
			out = append(out, Section{Title: title, Content: body})
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isHeader(trimmed) {
			flush()
			title = strings.TrimSpace(titleTrail.ReplaceAllString(trimmed, ""))
			content = content[:0]
			continue
		}
		content = append(content, trimmed)
	}
	flush()

	if len(out) == 0 {
		out = append(out, Section{Content: text})
	}
	return out
}

type unit struct {
	label string
	text  string
}

// Split packs sections greedily into chunks of at most Size runes where
// possible. Each chunk after the first starts with the last Overlap runes of
// its predecessor.
func (c *Chunker) Split(text string) []Chunk {
	var (
		chunks  []Chunk
		current string
		label   string
	)
	emit := func() {
		l := label
		if l == "" {
			l = Unlabeled
		}
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Section: l,
			Text:    "[Sección: " + l + "]\n" + strings.TrimSpace(current),
		})
	}

	for _, u := range c.units(Sections(text)) {
		curLen := utf8.RuneCountInString(current)
		switch {
		case curLen+utf8.RuneCountInString(u.text) > c.size && curLen > minEmitRunes:
			// the flushed chunk keeps the last header it contains; u's label
			// starts with the next chunk.
			emit()
			current = tailRunes(current, c.overlap) + "\n\n" + u.text
		case current == "":
			current = u.text
		default:
			current += "\n\n" + u.text
		}
		if u.label != "" {
			label = u.label
		}
	}

	if utf8.RuneCountInString(strings.TrimSpace(current)) > minFinalRunes {
		emit()
	}
	return chunks
}

// units renders sections as "title: content" and breaks any that exceed the
// chunk size on line boundaries.
func (c *Chunker) units(sections []Section) []unit {
	var out []unit
	for _, s := range sections {
		text := s.Content
		if s.Title != "" {
			text = s.Title + ": " + s.Content
		}
		if utf8.RuneCountInString(text) <= c.size {
			out = append(out, unit{label: s.Title, text: text})
			continue
		}
		for _, piece := range c.splitLines(text) {
			out = append(out, unit{label: s.Title, text: piece})
		}
	}
	return out
}

func (c *Chunker) splitLines(text string) []string {
	var (
		out []string
		buf []string
		n   int
	)
	flush := func() {
		if len(buf) > 0 {
			out = append(out, strings.Join(buf, "\n"))
		}
		buf, n = nil, 0
	}
	for _, line := range strings.Split(text, "\n") {
		ln := utf8.RuneCountInString(line)
		if ln > c.size {
			flush()
			out = append(out, hardSplit(line, c.size)...)
			continue
		}
		if n > 0 && n+1+ln > c.size {
			flush()
		}
		if len(buf) > 0 {
			n++
		}
		buf = append(buf, line)
		n += ln
	}
	flush()
	return out
}

func hardSplit(s string, size int) []string {
	var out []string
	r := []rune(s)
	for len(r) > size {
		out = append(out, string(r[:size]))
		r = r[size:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
