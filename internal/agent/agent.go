package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/actasearch/internal/ai"
	"github.com/seanblong/actasearch/pkg/models"
)

// NoResultsAnswer is returned without calling the model when retrieval found nothing.
const NoResultsAnswer = "No he encontrado información relevante en las actas para responder a tu pregunta. " +
	"¿Podrías reformular la pregunta o añadir más documentos al sistema?"

const (
	historyTurns      = 6
	excerptRunes      = 500
	workRunes         = 100
	sourceTextRunes   = 200
	maxWorks          = 3
	maxFollowUps      = 3
	shortMaxTokens    = 500
	detailMaxTokens   = 2000
	answerTemperature = 0.3
)

type Source struct {
	Incident     models.IncidentDocument `json:"incident"`
	RelevantText string                  `json:"relevant_text"`
	Relevance    float64                 `json:"relevance"`
}

type Response struct {
	Answer            string   `json:"answer"`
	Sources           []Source `json:"sources"`
	SuggestedFollowUp []string `json:"suggested_follow_up,omitempty"`
}

// Agent turns aggregated search results into a natural-language answer.
type Agent struct {
	client ai.Client
}

func New(client ai.Client) *Agent {
	return &Agent{client: client}
}

// Respond answers query from results. history holds earlier turns of the
// conversation; only the most recent ones are sent.
func (a *Agent) Respond(ctx context.Context, query string, results []models.AggregatedResult, detailed bool, history []ai.Message) (Response, error) {
	if len(results) == 0 {
		return Response{Answer: NoResultsAnswer, Sources: []Source{}}, nil
	}

	req := ai.GenerateRequest{
		System:      shortPrompt,
		Temperature: answerTemperature,
		MaxTokens:   shortMaxTokens,
	}
	if detailed {
		req.System = detailedPrompt
		req.MaxTokens = detailMaxTokens
	}
	for _, m := range history[max(0, len(history)-historyTurns):] {
		if m.Role == ai.RoleUser || m.Role == ai.RoleAssistant {
			req.Messages = append(req.Messages, m)
		}
	}
	req.Messages = append(req.Messages, ai.Message{
		Role:    ai.RoleUser,
		Content: userMessage(query, BuildContext(results)),
	})

	raw, err := a.client.Generate(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("generate answer: %w", err)
	}
	log.Debug().Int("results", len(results)).Int("answer_len", len(raw)).Msg("agent answer generated")

	return Response{
		Answer:            StripReasoning(raw),
		Sources:           sources(results),
		SuggestedFollowUp: FollowUps(results),
	}, nil
}

func sources(results []models.AggregatedResult) []Source {
	out := make([]Source, 0, len(results))
	for _, r := range results {
		texts := make([]string, 0, len(r.Hits))
		for _, h := range r.Hits {
			texts = append(texts, clip(h.Text, sourceTextRunes))
		}
		var rel float64
		if len(r.Hits) > 0 {
			rel = r.Score / float64(len(r.Hits))
		}
		out = append(out, Source{
			Incident:     r.Document,
			RelevantText: strings.Join(texts, "\n\n"),
			Relevance:    rel,
		})
	}
	return out
}

var sectionPrefix = regexp.MustCompile(`\[Sección: [^\]]+\]\n?`)

var spanishMonths = [...]string{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sept", "oct", "nov", "dic"}

// BuildContext renders results as the markdown context handed to the model.
// A combined hours table is appended when more than one document matched.
func BuildContext(results []models.AggregatedResult) string {
	var b strings.Builder
	for _, r := range results {
		d := r.Document
		b.WriteString("## Acta " + d.IncidentNumber)
		if d.Client != "" {
			b.WriteString(" - " + d.Client)
		}
		if d.DetectedAt != nil {
			t := *d.DetectedAt
			fmt.Fprintf(&b, " (%d %s %d)", t.Day(), spanishMonths[t.Month()-1], t.Year())
		}
		b.WriteString("\n\n")

		if h := d.Hours; h != nil {
			b.WriteString("**HORAS DE TRABAJO:**\n")
			fmt.Fprintf(&b, "- Normal: %s horas\n", num(h.Normal))
			optional := []struct {
				label string
				v     float64
			}{
				{"Nocturno", h.Night},
				{"Extendido", h.Extended},
				{"Desplazamiento", h.Travel},
				{"Documentación", h.Documentation},
			}
			for _, o := range optional {
				if o.v != 0 {
					fmt.Fprintf(&b, "- %s: %s horas\n", o.label, num(o.v))
				}
			}
			if h.Total != 0 {
				fmt.Fprintf(&b, "- **TOTAL: %s horas**\n", num(h.Total))
			}
			if h.BillingInfo != "" {
				fmt.Fprintf(&b, "- Facturación: %s\n", h.BillingInfo)
			}
			b.WriteString("\n")
		}

		if d.Hours == nil || d.Hours.Total == 0 {
			if found := hourMentions(d.Description); len(found) > 0 {
				b.WriteString("**Horas encontradas en descripción:**\n")
				for _, m := range found {
					b.WriteString("- " + m + "\n")
				}
				b.WriteString("\n")
			}
		}

		if len(d.Participants) > 0 {
			names := make([]string, len(d.Participants))
			for i, p := range d.Participants {
				names[i] = p.Name
			}
			b.WriteString("**Participantes:** " + strings.Join(names, ", ") + "\n\n")
		}

		if len(d.WorkEntries) > 0 {
			b.WriteString("**Trabajos realizados:**\n")
			for _, w := range d.WorkEntries[:min(len(d.WorkEntries), maxWorks)] {
				title := w.Title
				if title == "" {
					title = w.Date
				}
				if title == "" {
					title = "Trabajo"
				}
				fmt.Fprintf(&b, "- %s: %s...\n", title, clip(w.Description, workRunes))
			}
			b.WriteString("\n")
		}

		if len(r.Hits) > 0 {
			text := clip(sectionPrefix.ReplaceAllString(r.Hits[0].Text, ""), excerptRunes)
			b.WriteString("**Extracto relevante:**\n" + text + "...\n")
		}
		b.WriteString("\n---\n\n")
	}

	if len(results) > 1 {
		writeHoursTable(&b, results)
	}
	return b.String()
}

func writeHoursTable(b *strings.Builder, results []models.AggregatedResult) {
	b.WriteString("## RESUMEN DE HORAS\n\n")
	b.WriteString("| Acta | Cliente | Horas Normales | Horas Nocturnas | Horas Desplazamiento | **TOTAL** |\n")
	b.WriteString("|------|---------|----------------|-----------------|---------------------|------------|\n")

	var total, normal, night, travel float64
	for _, r := range results {
		d := r.Document
		h := d.Hours
		if h == nil {
			h = &models.HoursSummary{}
		}
		client := d.Client
		if client == "" {
			client = "-"
		}
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s | **%s** |\n",
			d.IncidentNumber, client, cell(h.Normal), cell(h.Night), cell(h.Travel), cell(h.Total))
		total += h.Total
		normal += h.Normal
		night += h.Night
		travel += h.Travel
	}
	fmt.Fprintf(b, "\n**TOTAL GENERAL: %s horas** (%s normales + %s nocturnas + %s desplazamiento)\n",
		num(total), num(normal), num(night), num(travel))
}

var hourMentionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Trabajos planificados\s+\d+(?:\s+\d+)*`),
	regexp.MustCompile(`(?i)Trabajos no planificados?\s+\d+(?:\s+\d+)*`),
	regexp.MustCompile(`(?i)Desplaz\.?\s+\d+(?:\s+\d+)*`),
	regexp.MustCompile(`(?i)\d+\s*horas?\s*(?:normal|nocturna|total)`),
}

func hourMentions(text string) []string {
	var out []string
	for _, re := range hourMentionPatterns {
		out = append(out, re.FindAllString(text, -1)...)
	}
	return out
}

// FollowUps suggests up to three questions based on what the results contain.
func FollowUps(results []models.AggregatedResult) []string {
	var out []string
	for _, r := range results {
		if r.Document.Client != "" {
			out = append(out, fmt.Sprintf("¿Qué otros trabajos se realizaron en %s?", r.Document.Client))
			break
		}
	}
	for _, r := range results {
		if r.Document.Hours != nil && r.Document.Hours.Total != 0 {
			out = append(out, "¿Cuál es el desglose de horas por tipo?")
			break
		}
	}
	for _, r := range results {
		if len(r.Document.WorkEntries) > 0 {
			out = append(out, "¿Qué equipos fueron intervenidos?")
			break
		}
	}
	return out[:min(len(out), maxFollowUps)]
}

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	// lines a reasoning model emits before the actual answer
	reasoningLine = regexp.MustCompile(`(?i)^(?:debo|voy a|vamos a|calculando|primero que|según|revisando|entiendo|` +
		`para responder|basándome|el usuario|let me|based on|i need to|(?:yes|no),?\s*(?:i|let|this|here)\b|` +
		`\d+\.\s*(?:i|let|this|here)\b)`)
)

// StripReasoning removes think blocks and reasoning preamble lines from a
// model answer. If nothing survives, the answer without think blocks is kept.
func StripReasoning(answer string) string {
	answer = strings.TrimSpace(thinkBlock.ReplaceAllString(answer, ""))

	var kept []string
	for _, line := range strings.Split(answer, "\n") {
		if reasoningLine.MatchString(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	cleaned := strings.TrimSpace(strings.Join(kept, "\n"))
	if cleaned == "" {
		return answer
	}
	return cleaned
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func cell(v float64) string {
	if v == 0 {
		return "-"
	}
	return num(v)
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
