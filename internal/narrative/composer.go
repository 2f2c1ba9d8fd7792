// Package narrative renders the chronological call summary. It only narrates
// facts the engine already decided; it never re-derives the classification.
package narrative

import (
	"fmt"
	"strings"

	"github.com/polizaops/triage/internal/extract"
)

// IncidentFact is one decided incident, as the composer needs it.
type IncidentFact struct {
	Tipo   string
	Motivo string
	Ramo   string
}

// Facts is everything the composer narrates: opening motive, development
// with data points, outcome, and classification justification.
type Facts struct {
	Primary    IncidentFact
	Secondary  []IncidentFact
	Datos      extract.Fields
	Phase      string // name of the phase that committed the decision
	Rellamada  bool
	Degraded   bool
	Resolution string // outcome sentence chosen by the engine
}

// phaseJustifications maps the firing phase to the closing explanation.
var phaseJustifications = map[string]string{
	"rechazo_ia":         "Se clasifica como transferencia por rechazo explícito de la atención automática.",
	"datos_incompletos":  "Se clasifica como gestión pendiente por falta de datos necesarios.",
	"no_titular":         "Se clasifica como transferencia porque la persona que llama no es el titular de la póliza.",
	"transferencia":      "Se clasifica como transferencia a agente por derivación durante la llamada.",
	"gestion_especifica": "Se clasifica según la gestión concreta solicitada por el cliente.",
	"fallback":           "No se identificó una gestión concreta; se registra como consulta comercial no resuelta.",
}

// Compose builds the four-part summary.
func Compose(f Facts) string {
	var parts []string

	// 1. Opening motive.
	opening := fmt.Sprintf("El cliente llama por una gestión de tipo «%s», motivo «%s»", f.Primary.Tipo, f.Primary.Motivo)
	if f.Primary.Ramo != "" {
		opening += fmt.Sprintf(" (ramo %s)", f.Primary.Ramo)
	}
	if f.Rellamada {
		opening += ", en seguimiento de un caso ya abierto"
	}
	parts = append(parts, opening+".")

	// 2. Chronological development with extracted data points.
	if dev := developData(f.Datos); dev != "" {
		parts = append(parts, dev)
	}
	for _, sec := range f.Secondary {
		parts = append(parts, fmt.Sprintf("Durante la llamada plantea además una gestión adicional: «%s», motivo «%s».", sec.Tipo, sec.Motivo))
	}

	// 3. Resolution / outcome.
	if f.Resolution != "" {
		parts = append(parts, f.Resolution)
	}

	// 4. Classification justification.
	if just, ok := phaseJustifications[f.Phase]; ok {
		parts = append(parts, just)
	}
	if f.Degraded {
		parts = append(parts, "Clasificación realizada solo con reglas deterministas por indisponibilidad del modelo de lenguaje.")
	}

	return strings.Join(parts, " ")
}

// dataLabels fixes the mention order and wording of extracted fields.
var dataLabels = []struct {
	key   string
	label string
}{
	{extract.FieldNombre, "nombre"},
	{extract.FieldDocumento, "documento"},
	{extract.FieldPoliza, "póliza"},
	{extract.FieldEmail, "email"},
	{extract.FieldFechaEfecto, "fecha de efecto"},
	{extract.FieldNuevoValor, "nuevo valor solicitado"},
}

func developData(datos extract.Fields) string {
	var mentions []string
	for _, d := range dataLabels {
		if v, ok := datos[d.key]; ok && v != "" {
			mentions = append(mentions, fmt.Sprintf("%s %s", d.label, v))
		}
	}
	if len(mentions) == 0 {
		return ""
	}
	return "Se identifican los siguientes datos: " + strings.Join(mentions, ", ") + "."
}
