// Package extract pulls the structured ticket fields out of a classified
// call: tool-result payloads first, free text second, later statements
// overriding earlier ones.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/polizaops/triage/internal/signals"
	"github.com/polizaops/triage/internal/transcript"
)

// Field keys of the fixed extraction schema. Missing fields stay absent from
// the map so consumers can tell "not mentioned" from "empty".
const (
	FieldNombre      = "nombre_cliente"
	FieldDocumento   = "documento"
	FieldPoliza      = "numero_poliza"
	FieldEmail       = "email"
	FieldFechaEfecto = "fecha_efecto"
	FieldNuevoValor  = "nuevo_valor"
)

// Fields is the extracted data mapping.
type Fields map[string]string

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	dniRe   = regexp.MustCompile(`\b\d{8}[A-Za-z]\b`)
	ibanRe  = regexp.MustCompile(`\bES\d{2}[\s-]?(?:\d{4}[\s-]?){5}\b|\bES\d{22}\b`)
	dateRe  = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	// Spoken dates, matched on folded text: "el 1 de marzo de 2026".
	spokenDateRe = regexp.MustCompile(`\b(\d{1,2}) de (enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)(?: de (\d{4}))?\b`)
	// Runs over folded (lowercased, accent-stripped) text.
	polizaRe = regexp.MustCompile(`\bpoliza(?: numero)?[\s:]+([a-z]{0,3}[\s-]?\d{4,})`)
	addressRe    = regexp.MustCompile(`\b(calle|avenida|plaza|paseo|camino) [a-z ]+?(?: numero)? \d+`)
	periodRe     = regexp.MustCompile(`\bcambiar(?:lo)? a (mensual|trimestral|semestral|anual)\b`)
)

// toolFieldAliases maps tool-payload keys to schema fields. Order matters:
// generic aliases come first so a more specific key in the same payload
// overrides them.
var toolFieldAliases = []struct {
	key   string
	field string
}{
	{"cliente", FieldNombre},
	{"nombre", FieldNombre},
	{"nombre_cliente", FieldNombre},
	{"nif", FieldDocumento},
	{"dni", FieldDocumento},
	{"documento", FieldDocumento},
	{"poliza", FieldPoliza},
	{"numero_poliza", FieldPoliza},
	{"correo", FieldEmail},
	{"email", FieldEmail},
}

// Collect walks the transcript in order and fills the schema. topics steers
// what counts as the "nuevo_valor" of the request (IBAN for an account
// change, a date for an effective-date change, an address for a move...).
func Collect(tr *transcript.Transcript, topics []signals.Topic) Fields {
	out := Fields{}

	for _, turn := range tr.Turns {
		// Structured payloads are the most specific source available.
		for _, res := range turn.ToolResults {
			collectToolPayload(out, res)
		}
		if turn.Role == transcript.RoleTool {
			continue
		}
		collectFreeText(out, turn.Text)
	}

	collectNewValue(out, tr, topics)
	return out
}

func collectToolPayload(out Fields, res transcript.ToolResult) {
	var payload map[string]any
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		return
	}
	for _, a := range toolFieldAliases {
		if v, ok := payload[a.key].(string); ok && strings.TrimSpace(v) != "" {
			out[a.field] = strings.TrimSpace(v)
		}
	}
}

func collectFreeText(out Fields, text string) {
	folded := signals.Fold(text)

	if m := emailRe.FindString(text); m != "" {
		out[FieldEmail] = strings.ToLower(m)
	}
	if m := dniRe.FindString(text); m != "" {
		out[FieldDocumento] = strings.ToUpper(m)
	}
	if m := polizaRe.FindStringSubmatch(folded); m != nil {
		out[FieldPoliza] = strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(m[1], " ", ""), "-", ""))
	}
	if m := dateRe.FindString(text); m != "" {
		out[FieldFechaEfecto] = m
	}
	if m := spokenDateRe.FindString(folded); m != "" {
		out[FieldFechaEfecto] = m
	}
}

func collectNewValue(out Fields, tr *transcript.Transcript, topics []signals.Topic) {
	topicSet := make(map[signals.Topic]bool, len(topics))
	for _, t := range topics {
		topicSet[t] = true
	}

	// Last stated value wins: scan in order, keep overwriting.
	for _, turn := range tr.Turns {
		if turn.Role == transcript.RoleTool {
			continue
		}
		folded := signals.Fold(turn.Text)

		switch {
		case topicSet[signals.TopicBankAccount]:
			if m := ibanRe.FindString(turn.Text); m != "" {
				out[FieldNuevoValor] = strings.ReplaceAll(strings.ReplaceAll(m, " ", ""), "-", "")
			}
		case topicSet[signals.TopicEffectiveDate]:
			if v, ok := out[FieldFechaEfecto]; ok {
				out[FieldNuevoValor] = v
			}
		case topicSet[signals.TopicAddress]:
			if m := addressRe.FindString(folded); m != "" {
				out[FieldNuevoValor] = m
			}
		case topicSet[signals.TopicPaymentMethod]:
			if m := periodRe.FindStringSubmatch(folded); m != nil {
				out[FieldNuevoValor] = m[1]
			}
		case topicSet[signals.TopicEmailDuplicate], topicSet[signals.TopicDuplicateNoChannel]:
			if v, ok := out[FieldEmail]; ok {
				out[FieldNuevoValor] = v
			}
		}
	}
}
