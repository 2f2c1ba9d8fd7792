// Package signals scans a canonical transcript for classification triggers.
// Each rule family is an independent detector fan-out; every match is kept
// with turn provenance so the decision engine can arbitrate conflicts.
package signals

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/polizaops/triage/internal/taxonomy"
)

// Family is a detector rule family.
type Family string

const (
	FamilyAIRejection     Family = "rechazo_ia"
	FamilyNonPolicyholder Family = "no_titular"
	FamilyIncompleteData  Family = "datos_incompletos"
	FamilyHumanTransfer   Family = "transferencia"
	FamilySpecific        Family = "gestion_especifica"
	FamilyRecall          Family = "rellamada"
)

// Topic is the fine-grained subject of a specific-management match.
type Topic string

const (
	TopicNone               Topic = ""
	TopicPaymentMethod      Topic = "cambio_forma_pago"
	TopicBankAccount        Topic = "cambio_cuenta"
	TopicAddress            Topic = "cambio_direccion"
	TopicEffectiveDate      Topic = "cambio_fecha_efecto"
	TopicCardDuplicate      Topic = "duplicado_tarjeta"
	TopicEmailDuplicate     Topic = "duplicado_email"
	TopicPostalDuplicate    Topic = "duplicado_postal"
	TopicDuplicateNoChannel Topic = "duplicado_sin_canal"
	TopicNewPolicy          Topic = "nueva_poliza"
	TopicComplaint          Topic = "queja"
	TopicInfoResolved       Topic = "consulta_resuelta"
)

// Match is one detected trigger with its evidence. Offset is the position of
// the matched span within its turn, used to order topics raised in the same
// breath.
type Match struct {
	Family    Family  `json:"family"`
	Topic     Topic   `json:"topic,omitempty"`
	Span      string  `json:"span"`
	Strength  float64 `json:"strength"`
	TurnIndex int     `json:"turn_index"`
	Offset    int     `json:"offset"`
}

// TaxonomyPair maps a topic to its (tipo, motivo). The no-channel duplicate
// resolves to email: absence of a stated channel is not a channel choice, and
// email is the least restrictive default.
func (t Topic) TaxonomyPair() (tipo, motivo string, ok bool) {
	switch t {
	case TopicPaymentMethod:
		return taxonomy.TipoGestionComercial, taxonomy.MotivoCambioFormaPago, true
	case TopicBankAccount:
		return taxonomy.TipoModificacionPoliza, taxonomy.MotivoCambioCuenta, true
	case TopicAddress:
		return taxonomy.TipoModificacionPoliza, taxonomy.MotivoCambioDireccion, true
	case TopicEffectiveDate:
		return taxonomy.TipoModificacionPoliza, taxonomy.MotivoCambioFechaEfecto, true
	case TopicCardDuplicate:
		return taxonomy.TipoDuplicadoPoliza, taxonomy.MotivoDuplicadoTarjeta, true
	case TopicEmailDuplicate, TopicDuplicateNoChannel:
		return taxonomy.TipoDuplicadoPoliza, taxonomy.MotivoDuplicadoEmail, true
	case TopicPostalDuplicate:
		return taxonomy.TipoDuplicadoPoliza, taxonomy.MotivoDuplicadoPostal, true
	case TopicNewPolicy:
		return taxonomy.TipoNuevaContratacion, taxonomy.MotivoNuevaPoliza, true
	case TopicComplaint:
		return taxonomy.TipoGestionComercial, taxonomy.MotivoQueja, true
	case TopicInfoResolved:
		return taxonomy.TipoGestionComercial, taxonomy.MotivoConsultaResuelta, true
	default:
		return "", "", false
	}
}

// IsDuplicate reports whether the topic belongs to the policy-duplicate
// group, whose channel variants collapse into a single incident.
func (t Topic) IsDuplicate() bool {
	switch t {
	case TopicCardDuplicate, TopicEmailDuplicate, TopicPostalDuplicate, TopicDuplicateNoChannel:
		return true
	}
	return false
}

// Fold lowercases and strips diacritics so phrase matching survives the
// inconsistent accenting of speech-to-text output.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}
