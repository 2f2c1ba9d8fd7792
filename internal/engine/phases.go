package engine

import (
	"log/slog"
	"sort"

	"github.com/polizaops/triage/internal/oracle"
	"github.com/polizaops/triage/internal/signals"
	"github.com/polizaops/triage/internal/taxonomy"
	"github.com/polizaops/triage/internal/transcript"
)

// Phase names, in priority order. The first phase that commits an incident
// decides the primary; later phases never run for it.
const (
	phaseAIRejection    = "rechazo_ia"
	phaseIncompleteData = "datos_incompletos"
	phaseNonHolder      = "no_titular"
	phaseTransfer       = "transferencia"
	phaseSpecific       = "gestion_especifica"
	phaseFallback       = "fallback"
)

// Base confidence per phase. Override phases rest on explicit phrases, so
// they start high; phase 5 inherits the winning signal's strength.
const (
	confAIRejection    = 0.95
	confNonHolder      = 0.90
	confIncompleteData = 0.85
	confTransfer       = 0.85
	confFallback       = 0.20
)

type evalContext struct {
	tr        *transcript.Transcript
	matches   []signals.Match
	tax       *taxonomy.Store
	candidate *oracle.Candidate
	logger    *slog.Logger
}

type phase struct {
	name     string
	evaluate func(*evalContext) *Incident
}

// phaseOrder is the classification hierarchy as a first-class value. It ends
// in the unconditional fallback, so evaluation always commits something.
var phaseOrder = []phase{
	{phaseAIRejection, evalAIRejection},
	{phaseIncompleteData, evalIncompleteData},
	{phaseNonHolder, evalNonHolder},
	{phaseTransfer, evalTransfer},
	{phaseSpecific, evalSpecific},
	{phaseFallback, evalFallback},
}

// allowsSecondaries: multi-incident assembly happens only under normal
// classification. The override phases either suppress secondaries outright
// (AI rejection, non-holder) or collapse everything into the single transfer
// outcome.
func allowsSecondaries(phaseName string) bool {
	return phaseName == phaseSpecific
}

func evalAIRejection(ec *evalContext) *Incident {
	m, ok := signals.Strongest(ec.matches, func(m signals.Match) bool {
		return m.Family == signals.FamilyAIRejection
	})
	if !ok {
		return nil
	}
	entry := ec.lookupOrNearest(taxonomy.TipoGestionComercial, taxonomy.MotivoRechazoIA)
	return &Incident{Entry: entry, Signals: []signals.Match{m}, Confidence: confAIRejection}
}

func evalIncompleteData(ec *evalContext) *Incident {
	m, ok := signals.Strongest(ec.matches, func(m signals.Match) bool {
		return m.Family == signals.FamilyIncompleteData
	})
	if !ok {
		return nil
	}

	// The incomplete-data reason lives under the topic's own incident type
	// when one was raised; under the commercial call otherwise.
	tipo := taxonomy.TipoGestionComercial
	supporting := []signals.Match{m}
	if topicMatch, ok := strongestSpecific(ec.matches); ok {
		if t, _, ok := topicMatch.Topic.TaxonomyPair(); ok {
			tipo = t
			supporting = append(supporting, topicMatch)
		}
	}
	entry := ec.lookupOrNearest(tipo, taxonomy.MotivoDatosIncompletos)
	return &Incident{Entry: entry, Signals: supporting, Confidence: confIncompleteData}
}

func evalNonHolder(ec *evalContext) *Incident {
	m, ok := signals.Strongest(ec.matches, func(m signals.Match) bool {
		return m.Family == signals.FamilyNonPolicyholder
	})
	if !ok {
		return nil
	}
	entry := ec.lookupOrNearest(taxonomy.TipoGestionComercial, taxonomy.MotivoNoTitular)
	return &Incident{Entry: entry, Signals: []signals.Match{m}, Confidence: confNonHolder}
}

// evalTransfer handles the generic handoff outcome. A specific-management
// match for a reason the taxonomy can resolve without an agent beats the
// generic "le paso con mis compañeros": the phase defers to normal
// classification in that case. Human-only specifics agree with the transfer
// outcome and are reported under their own reason.
func evalTransfer(ec *evalContext) *Incident {
	hm, ok := signals.Strongest(ec.matches, func(m signals.Match) bool {
		return m.Family == signals.FamilyHumanTransfer
	})
	if !ok {
		return nil
	}

	if topicMatch, ok := strongestSpecific(ec.matches); ok {
		if tipo, motivo, ok := topicMatch.Topic.TaxonomyPair(); ok {
			if entry, found := ec.tax.Lookup(tipo, motivo); found {
				if !entry.HumanOnly {
					return nil // specific wins over the generic handoff
				}
				return &Incident{
					Entry:      entry,
					Signals:    []signals.Match{topicMatch, hm},
					Confidence: confTransfer,
				}
			}
		}
	}

	entry := ec.lookupOrNearest(taxonomy.TipoGestionComercial, taxonomy.MotivoPasoAgente)
	return &Incident{Entry: entry, Signals: []signals.Match{hm}, Confidence: confTransfer}
}

func evalSpecific(ec *evalContext) *Incident {
	m, ok := strongestSpecific(ec.matches)
	if !ok {
		return nil
	}
	tipo, motivo, ok := m.Topic.TaxonomyPair()
	if !ok {
		return nil
	}
	entry, found := ec.tax.Lookup(tipo, motivo)
	if !found {
		// Detector and taxonomy disagree: keep the call classifiable and
		// leave a trail for taxonomy maintenance.
		ec.logger.Warn("detector topic missing from taxonomy", "tipo", tipo, "motivo", motivo)
		entry = ec.tax.Nearest(tipo, motivo)
	}
	return &Incident{Entry: entry, Signals: []signals.Match{m}, Confidence: m.Strength}
}

// evalFallback never returns nil. With a usable oracle candidate the engine
// adopts it at capped confidence; otherwise the call lands in the generic
// unresolved-inquiry pair.
func evalFallback(ec *evalContext) *Incident {
	if c := ec.candidate; c != nil {
		entry, err := ec.tax.Resolve(c.Tipo, c.Motivo)
		if err != nil {
			ec.logger.Warn("oracle pair outside taxonomy, using nearest",
				"tipo", c.Tipo, "motivo", c.Motivo)
			entry = ec.tax.Nearest(c.Tipo, c.Motivo)
		}
		conf := c.Confianza
		if conf > 0.6 {
			conf = 0.6 // oracle-only classification is never high confidence
		}
		if conf < confFallback {
			conf = confFallback
		}
		return &Incident{Entry: entry, Ramo: c.Ramo, Confidence: conf}
	}
	return &Incident{Entry: ec.tax.Fallback(), Confidence: confFallback}
}

// assembleSecondaries picks up to two further incidents from the remaining
// specific-management matches, in order of mention, with connective evidence
// required and human-only topics excluded.
func assembleSecondaries(ec *evalContext, primary Incident) []Incident {
	primaryTurn := -1
	if len(primary.Signals) > 0 {
		primaryTurn = primary.Signals[0].TurnIndex
	}
	hasConnector := signals.HasConnector(ec.tr)

	specific := signals.ByFamily(ec.matches, signals.FamilySpecific)
	sort.Slice(specific, func(i, j int) bool {
		if specific[i].TurnIndex != specific[j].TurnIndex {
			return specific[i].TurnIndex < specific[j].TurnIndex
		}
		return specific[i].Offset < specific[j].Offset
	})

	seen := map[string]bool{primary.Entry.Key(): true}
	var out []Incident
	for _, m := range specific {
		if len(out) == 2 {
			break
		}
		// A resolved informational query is an outcome, not an extra
		// management to ticket.
		if m.Topic == signals.TopicInfoResolved {
			continue
		}
		tipo, motivo, ok := m.Topic.TaxonomyPair()
		if !ok {
			continue
		}
		entry, found := ec.tax.Lookup(tipo, motivo)
		if !found || entry.HumanOnly {
			continue
		}
		if seen[entry.Key()] {
			continue
		}
		// Independent topics need explicit connectors or disjoint turns.
		if !hasConnector && m.TurnIndex == primaryTurn {
			continue
		}
		seen[entry.Key()] = true
		out = append(out, Incident{Entry: entry, Signals: []signals.Match{m}, Confidence: m.Strength})
	}
	return out
}

// strongestSpecific picks the winning specific-management match: highest
// strength, then the later turn, then the earlier mention within the turn
// (the first topic of an "y también" enumeration is the main request).
func strongestSpecific(matches []signals.Match) (signals.Match, bool) {
	var best signals.Match
	found := false
	for _, m := range matches {
		if m.Family != signals.FamilySpecific {
			continue
		}
		if !found || better(m, best) {
			best = m
			found = true
		}
	}
	return best, found
}

func better(a, b signals.Match) bool {
	if a.Strength != b.Strength {
		return a.Strength > b.Strength
	}
	if a.TurnIndex != b.TurnIndex {
		return a.TurnIndex > b.TurnIndex
	}
	return a.Offset < b.Offset
}

// duplicateChannelRank orders the policy-duplicate variants by specificity:
// an explicit card request beats an explicit channel, which beats the
// channel-less default.
var duplicateChannelRank = map[signals.Topic]int{
	signals.TopicCardDuplicate:      3,
	signals.TopicEmailDuplicate:     2,
	signals.TopicPostalDuplicate:    1,
	signals.TopicDuplicateNoChannel: 0,
}

// collapseDuplicates merges the policy-duplicate channel variants into the
// single most specific one. A caller asking for "el duplicado" plus a channel
// mention is one request, not two.
func collapseDuplicates(matches []signals.Match) []signals.Match {
	var chosen *signals.Match
	for i := range matches {
		m := matches[i]
		if !m.Topic.IsDuplicate() {
			continue
		}
		if chosen == nil || duplicateChannelRank[m.Topic] > duplicateChannelRank[chosen.Topic] {
			chosen = &matches[i]
		}
	}
	if chosen == nil {
		return matches
	}
	out := make([]signals.Match, 0, len(matches))
	for i := range matches {
		if matches[i].Topic.IsDuplicate() && &matches[i] != chosen {
			continue
		}
		out = append(out, matches[i])
	}
	return out
}

func (ec *evalContext) lookupOrNearest(tipo, motivo string) taxonomy.Entry {
	if entry, ok := ec.tax.Lookup(tipo, motivo); ok {
		return entry
	}
	ec.logger.Warn("expected taxonomy pair missing, using nearest", "tipo", tipo, "motivo", motivo)
	return ec.tax.Nearest(tipo, motivo)
}
