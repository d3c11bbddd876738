package extract

import (
	"regexp"

	"github.com/seanblong/actasearch/pkg/models"
)

type term struct {
	re   *regexp.Regexp
	name string
}

func vocabulary(pairs ...string) []term {
	out := make([]term, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, term{re: regexp.MustCompile(`(?i)\b(?:` + pairs[i] + `)\b`), name: pairs[i+1]})
	}
	return out
}

var systemVocabulary = vocabulary(
	`sap|erp`, "SAP",
	`crm`, "CRM",
	`database|bbdd|base\s*de\s*datos`, "Database",
	`servidor|server|host`, "Servidor",
	`red|network|lan|wan`, "Red",
	`aplicación|application|app`, "Aplicación",
	`web|http|https`, "Web",
	`email|correo|outlook`, "Email",
	`storage|almacenamiento|disco`, "Storage",
	`backup|respaldo`, "Backup",
	`dns|dhcp|ldap`, "Infraestructura",
	`firewall|seguridad`, "Seguridad",
	`api|webservice`, "API",
	`linux|windows|unix`, "SO",
)

var serviceVocabulary = vocabulary(
	`scada`, "SCADA",
	`plc|automata|autómata`, "PLC",
	`oracle`, "Oracle",
	`sql|mysql|postgresql`, "SQL",
	`ifix|intouch|wincc`, "HMI/SCADA",
	`mes`, "MES",
	`erp`, "ERP",
	`cim`, "CIM",
)

// matchVocabulary returns the canonical names whose pattern occurs in text, in table order.
func matchVocabulary(text string, vocab []term) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, t := range vocab {
		if seen[t.name] || !t.re.MatchString(text) {
			continue
		}
		seen[t.name] = true
		out = append(out, t.name)
	}
	return out
}

func buildTags(category, client string, doc models.IncidentDocument) []string {
	tags := []string{string(doc.Severity)}
	if category != "" {
		tags = append(tags, category)
	}
	if doc.Subcategory != "" {
		tags = append(tags, doc.Subcategory)
	}
	if doc.Environment != "" {
		tags = append(tags, doc.Environment)
	}
	tags = append(tags, doc.AffectedSystems...)
	tags = append(tags, doc.AffectedServices...)
	if client != "" {
		tags = append(tags, clipRunes(client, 30))
	}
	return dedupe(tags)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
