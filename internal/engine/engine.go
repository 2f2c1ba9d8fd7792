// Package engine is the call decision core: it arbitrates the detected
// signals through a fixed sequence of priority phases, reconciles the NLU
// oracle's candidate, assembles multi-incident decisions, and validates the
// result before handing it back.
package engine

import (
	"context"
	"log/slog"

	"github.com/polizaops/triage/internal/extract"
	"github.com/polizaops/triage/internal/narrative"
	"github.com/polizaops/triage/internal/oracle"
	"github.com/polizaops/triage/internal/signals"
	"github.com/polizaops/triage/internal/taxonomy"
	"github.com/polizaops/triage/internal/transcript"
)

// Decisions below this confidence are flagged for manual review.
const lowConfidenceReview = 0.4

// Incident is one administrative request detected in a call.
type Incident struct {
	Entry      taxonomy.Entry   `json:"entry"`
	Ramo       string           `json:"ramo,omitempty"`
	IsRecall   bool             `json:"is_recall"`
	Signals    []signals.Match  `json:"signals,omitempty"`
	Confidence float64          `json:"confidence"`
}

// Decision is the final classification of one call. MultipleManagements and
// TotalManagements are always derived, never stored.
type Decision struct {
	CallID       string         `json:"call_id"`
	Primary      Incident       `json:"primary"`
	Secondary    []Incident     `json:"secondary,omitempty"`
	Datos        extract.Fields `json:"datos"`
	Narrative    string         `json:"narrative"`
	Confidence   float64        `json:"confidence"`
	Degraded     bool           `json:"degraded"`
	Phase        string         `json:"phase"`
	NeedsReview  bool           `json:"needs_review"`
	ReviewReason string         `json:"review_reason,omitempty"`
}

// MultipleManagements reports whether the call raised more than one request.
func (d *Decision) MultipleManagements() bool {
	return len(d.Secondary) > 0
}

// TotalManagements is the incident count, primary included.
func (d *Decision) TotalManagements() int {
	return 1 + len(d.Secondary)
}

// RequiresTicket is false only for informational queries resolved in-call.
func (d *Decision) RequiresTicket() bool {
	return d.Primary.Entry.Motivo != taxonomy.MotivoConsultaResuelta
}

// Priority maps the primary entry's tier to the ticketing priority label.
func (d *Decision) Priority() string {
	switch d.Primary.Entry.PriorityTier {
	case 1:
		return "alta"
	case 2:
		return "media"
	default:
		return "baja"
	}
}

// Engine classifies calls. Stateless per call; safe for concurrent use. The
// oracle may be nil (rule-only operation, always degraded).
type Engine struct {
	tax       *taxonomy.Store
	extractor *signals.Extractor
	oracle    oracle.Oracle
	logger    *slog.Logger
}

func New(tax *taxonomy.Store, orc oracle.Oracle, logger *slog.Logger) *Engine {
	return &Engine{
		tax:       tax,
		extractor: signals.NewExtractor(logger),
		oracle:    orc,
		logger:    logger,
	}
}

// Classify produces a Decision for a canonical transcript. It only errors on
// structurally invalid input upstream; every well-formed transcript yields a
// decision, degraded if the oracle is unreachable.
func (e *Engine) Classify(ctx context.Context, tr *transcript.Transcript) (*Decision, error) {
	matches := e.extractor.Extract(tr)

	var cand *oracle.Candidate
	degraded := false
	if e.oracle != nil {
		var err error
		cand, err = e.oracle.Propose(ctx, tr)
		if err != nil {
			// Transient: classify on rule evidence alone.
			e.logger.Warn("classifying without oracle", "call_id", tr.CallID, "error", err)
			cand = nil
			degraded = true
		}
	} else {
		degraded = true
	}

	ec := &evalContext{
		tr:        tr,
		matches:   collapseDuplicates(matches),
		tax:       e.tax,
		candidate: cand,
		logger:    e.logger,
	}

	var primary *Incident
	phaseName := ""
	for _, ph := range phaseOrder {
		if inc := ph.evaluate(ec); inc != nil {
			primary = inc
			phaseName = ph.name
			break
		}
	}
	// phaseOrder ends in the unconditional fallback phase; primary is set.

	d := &Decision{
		CallID:   tr.CallID,
		Primary:  *primary,
		Datos:    extract.Fields{},
		Degraded: degraded,
		Phase:    phaseName,
	}

	if allowsSecondaries(phaseName) {
		d.Secondary = assembleSecondaries(ec, d.Primary)
	}

	e.decorate(ec, d)
	e.reconcileConfidence(ec, d)
	e.compose(d)

	if err := Validate(d, e.tax); err != nil {
		e.logger.Error("decision failed validation",
			"call_id", tr.CallID,
			"phase", d.Phase,
			"tipo", d.Primary.Entry.Tipo,
			"motivo", d.Primary.Entry.Motivo,
			"signals", len(matches),
			"error", err,
		)
		d.NeedsReview = true
		d.ReviewReason = err.Error()
	}
	if !d.NeedsReview && d.Confidence < lowConfidenceReview {
		d.NeedsReview = true
		d.ReviewReason = "confianza baja"
	}

	e.logger.Info("call classified",
		"call_id", tr.CallID,
		"phase", d.Phase,
		"tipo", d.Primary.Entry.Tipo,
		"motivo", d.Primary.Entry.Motivo,
		"total_gestiones", d.TotalManagements(),
		"confidence", d.Confidence,
		"degraded", d.Degraded,
	)
	return d, nil
}

// decorate fills recall, ramo and extracted data once the incident set is
// fixed.
func (e *Engine) decorate(ec *evalContext, d *Decision) {
	if _, ok := signals.Strongest(ec.matches, func(m signals.Match) bool {
		return m.Family == signals.FamilyRecall
	}); ok {
		d.Primary.IsRecall = true
	}
	if ec.candidate != nil && ec.candidate.EsRellamada {
		d.Primary.IsRecall = true
	}

	decorateRamo(ec, &d.Primary)
	for i := range d.Secondary {
		decorateRamo(ec, &d.Secondary[i])
	}

	topics := make([]signals.Topic, 0, 1+len(d.Secondary))
	for _, m := range d.Primary.Signals {
		if m.Topic != signals.TopicNone {
			topics = append(topics, m.Topic)
		}
	}
	for _, sec := range d.Secondary {
		for _, m := range sec.Signals {
			if m.Topic != signals.TopicNone {
				topics = append(topics, m.Topic)
			}
		}
	}
	d.Datos = extract.Collect(ec.tr, topics)

	// Oracle-proposed data is the weakest source: fill schema keys the
	// deterministic extractor left absent, never overwrite.
	if ec.candidate != nil {
		for _, key := range []string{
			extract.FieldNombre, extract.FieldDocumento, extract.FieldPoliza,
			extract.FieldEmail, extract.FieldFechaEfecto, extract.FieldNuevoValor,
		} {
			if v, ok := ec.candidate.Datos[key]; ok && v != "" {
				if _, present := d.Datos[key]; !present {
					d.Datos[key] = v
				}
			}
		}
	}
}

// decorateRamo resolves the insurance branch for any incident whose entry
// needs one, from the transcript first and the oracle candidate second.
func decorateRamo(ec *evalContext, inc *Incident) {
	if !inc.Entry.RequiresRamo || inc.Ramo != "" {
		return
	}
	inc.Ramo = signals.DetectRamo(ec.tr)
	if inc.Ramo == "" && ec.candidate != nil {
		inc.Ramo = ec.candidate.Ramo
	}
}

// reconcileConfidence applies the oracle agreement adjustment and the
// degradation penalty on top of the phase's base confidence.
func (e *Engine) reconcileConfidence(ec *evalContext, d *Decision) {
	conf := d.Primary.Confidence

	switch {
	case d.Degraded:
		conf -= 0.15
	case d.Phase == phaseFallback:
		// The fallback base already prices the candidate in; an agreement
		// bonus here would lift an oracle-only call above its cap.
	case ec.candidate != nil:
		candEntry, err := ec.tax.Resolve(ec.candidate.Tipo, ec.candidate.Motivo)
		if err != nil {
			// Outside the taxonomy: worth logging for maintenance, but it
			// cannot move the decision.
			e.logger.Warn("oracle proposed unknown taxonomy pair",
				"call_id", d.CallID,
				"tipo", ec.candidate.Tipo,
				"motivo", ec.candidate.Motivo,
			)
		} else if candEntry.Key() == d.Primary.Entry.Key() {
			conf += 0.05
		} else {
			conf -= 0.10
		}
	}

	d.Confidence = clampConfidence(conf)
	d.Primary.Confidence = d.Confidence
}

func (e *Engine) compose(d *Decision) {
	facts := narrative.Facts{
		Primary: narrative.IncidentFact{
			Tipo:   d.Primary.Entry.Tipo,
			Motivo: d.Primary.Entry.Motivo,
			Ramo:   d.Primary.Ramo,
		},
		Datos:      d.Datos,
		Phase:      d.Phase,
		Rellamada:  d.Primary.IsRecall,
		Degraded:   d.Degraded,
		Resolution: resolutionSentence(d),
	}
	for _, sec := range d.Secondary {
		facts.Secondary = append(facts.Secondary, narrative.IncidentFact{
			Tipo:   sec.Entry.Tipo,
			Motivo: sec.Entry.Motivo,
			Ramo:   sec.Ramo,
		})
	}
	d.Narrative = narrative.Compose(facts)
}

func resolutionSentence(d *Decision) string {
	switch {
	case d.Primary.Entry.HumanOnly:
		return "La llamada finaliza con derivación a un agente."
	case d.Phase == phaseIncompleteData:
		return "La llamada queda pendiente de que el cliente facilite los datos que faltan."
	case d.Primary.Entry.Motivo == taxonomy.MotivoConsultaResuelta:
		return "La consulta queda resuelta durante la propia llamada."
	case d.Phase == phaseFallback:
		return "La llamada finaliza sin una gestión concreta registrada."
	default:
		return "El agente registra la gestión solicitada."
	}
}

// clampConfidence keeps scores in the reportable band: never a hard 0 (every
// decision carries some evidence) and never a hard 1 (the oracle is
// probabilistic).
func clampConfidence(v float64) float64 {
	if v < 0.05 {
		return 0.05
	}
	if v > 0.98 {
		return 0.98
	}
	return v
}
