package extract

import (
	"strings"

	"github.com/seanblong/actasearch/pkg/models"
)

// rule is one row of an ordered classification table. Tables are evaluated
// top to bottom and the first matching row wins.
type rule[T any] struct {
	match func(lower string) bool
	value T
}

func anyOf(words ...string) func(string) bool {
	return func(s string) bool {
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
		return false
	}
}

func allOf(words ...string) func(string) bool {
	return func(s string) bool {
		for _, w := range words {
			if !strings.Contains(s, w) {
				return false
			}
		}
		return true
	}
}

func firstMatch[T any](lower string, table []rule[T], def T) T {
	for _, r := range table {
		if r.match(lower) {
			return r.value
		}
	}
	return def
}

var severityRules = []rule[models.Severity]{
	{anyOf("crítico", "critico", "critical", "p1", "p01", "emergencia", "urgente"), models.SeverityCritical},
	{anyOf("alto", "high", "p2", "p02", "grave"), models.SeverityHigh},
	{anyOf("medio", "medium", "p3", "p03", "moderado"), models.SeverityMedium},
}

// closed is never inferred from text: "cerrado"/"closed" are resolved.
var statusRules = []rule[models.Status]{
	{anyOf("resuelto", "resolved", "cerrado", "closed", "finalizado", "completado", "aceptado"), models.StatusResolved},
	{anyOf("progreso", "in progress", "en curso", "trabajando", "procesando"), models.StatusInProgress},
}

var categoryRules = []rule[string]{
	{anyOf("incidencia", "inciden"), "Incidencia"},
	{anyOf("oncall", "on-call", "on call"), "On-Call"},
	{anyOf("acta"), "Acta"},
	{allOf("preventivo", "mantenimiento"), "Mantenimiento Preventivo"},
	{allOf("correctivo", "mantenimiento"), "Mantenimiento Correctivo"},
	{anyOf("mantenimiento"), "Mantenimiento"},
	{anyOf("mejora", "enhancement"), "Mejora"},
}

var subcategoryRules = []rule[string]{
	{anyOf("finalización", "finalizacion"), "Finalización"},
	{anyOf("puesta en marcha"), "Puesta en Marcha"},
	{anyOf("intervención", "intervencion"), "Intervención"},
	{allOf("mantenimiento", "preventivo"), "Mantenimiento Preventivo"},
	{allOf("mantenimiento", "correctivo"), "Mantenimiento Correctivo"},
	{anyOf("oncall", "on-call"), "On-Call"},
}

var environmentRules = []rule[string]{
	{anyOf("producción", "production", "prod"), "production"},
	{anyOf("preproducción", "preproduction", "pre-prod"), "preproduction"},
	{anyOf("staging", "preprod"), "staging"},
	{anyOf("desarrollo", "development", "dev"), "development"},
	{anyOf("testing", "test", "qa"), "testing"},
}

const (
	defaultCategory    = "General"
	defaultEnvironment = "production"
)

func classifySeverity(lower string) models.Severity {
	return firstMatch(lower, severityRules, models.SeverityLow)
}

func classifyStatus(lower string) models.Status {
	return firstMatch(lower, statusRules, models.StatusOpen)
}

func classifyCategory(lower string) string {
	return firstMatch(lower, categoryRules, "")
}

func classifySubcategory(lower string) string {
	return firstMatch(lower, subcategoryRules, "")
}

func classifyEnvironment(lower string) string {
	return firstMatch(lower, environmentRules, defaultEnvironment)
}
