package engine

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/polizaops/triage/internal/oracle"
	"github.com/polizaops/triage/internal/taxonomy"
	"github.com/polizaops/triage/internal/transcript"
)

type fakeOracle struct {
	cand *oracle.Candidate
	err  error
}

func (f *fakeOracle) Propose(ctx context.Context, tr *transcript.Transcript) (*oracle.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cand, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTaxonomy(t *testing.T) *taxonomy.Store {
	t.Helper()
	tax, err := taxonomy.LoadDefault()
	if err != nil {
		t.Fatalf("load taxonomy: %v", err)
	}
	return tax
}

func call(texts ...[2]string) *transcript.Transcript {
	tr := &transcript.Transcript{CallID: "call-test"}
	for _, pair := range texts {
		role := transcript.RoleUser
		if pair[0] == "agent" {
			role = transcript.RoleAgent
		}
		tr.Turns = append(tr.Turns, transcript.Turn{Role: role, Text: pair[1]})
	}
	return tr
}

// assertInvariants rechecks the structural decision properties every test
// case must uphold, independent of the expected classification.
func assertInvariants(t *testing.T, d *Decision, tax *taxonomy.Store) {
	t.Helper()
	if err := Validate(d, tax); err != nil {
		t.Errorf("decision violates invariants: %v", err)
	}
	if d.MultipleManagements() != (len(d.Secondary) > 0) {
		t.Error("multipleManagements not derived from secondary incidents")
	}
	if d.TotalManagements() != 1+len(d.Secondary) {
		t.Error("totalManagements not derived from secondary incidents")
	}
	if d.TotalManagements() > 3 {
		t.Errorf("incident cap exceeded: %d", d.TotalManagements())
	}
	if d.Confidence <= 0 || d.Confidence > 1 {
		t.Errorf("confidence %f out of range", d.Confidence)
	}
	if d.Narrative == "" {
		t.Error("narrative must always be populated")
	}
}

func TestClassify_PaymentMethodChange(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "tengo pago anual y quiero cambiar a mensual"},
		[2]string{"agent", "procedo con el fraccionamiento"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Tipo != taxonomy.TipoGestionComercial || d.Primary.Entry.Motivo != taxonomy.MotivoCambioFormaPago {
		t.Errorf("primary = (%q, %q)", d.Primary.Entry.Tipo, d.Primary.Entry.Motivo)
	}
	if len(d.Secondary) != 0 {
		t.Errorf("expected no secondary incidents, got %d", len(d.Secondary))
	}
}

func TestClassify_AIRejectionSuppressesEverything(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "no quiero hablar con una máquina, quiero cambiar cuenta y también el duplicado por email"},
		[2]string{"agent", "le paso con un compañero"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Motivo != taxonomy.MotivoRechazoIA {
		t.Errorf("primary motivo = %q, want rejection", d.Primary.Entry.Motivo)
	}
	if len(d.Secondary) != 0 {
		t.Errorf("override must suppress secondary incidents, got %d", len(d.Secondary))
	}
	if d.Phase != phaseAIRejection {
		t.Errorf("phase = %q", d.Phase)
	}
}

func TestClassify_MultiIncident(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "quiero cambiar mi cuenta bancaria y también el duplicado de la póliza por email"},
		[2]string{"agent", "registro el cambio de cuenta y le envío el duplicado"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Tipo != taxonomy.TipoModificacionPoliza || d.Primary.Entry.Motivo != taxonomy.MotivoCambioCuenta {
		t.Errorf("primary = (%q, %q)", d.Primary.Entry.Tipo, d.Primary.Entry.Motivo)
	}
	if len(d.Secondary) != 1 {
		t.Fatalf("expected 1 secondary incident, got %d", len(d.Secondary))
	}
	sec := d.Secondary[0]
	if sec.Entry.Tipo != taxonomy.TipoDuplicadoPoliza || sec.Entry.Motivo != taxonomy.MotivoDuplicadoEmail {
		t.Errorf("secondary = (%q, %q)", sec.Entry.Tipo, sec.Entry.Motivo)
	}
	if d.TotalManagements() != 2 {
		t.Errorf("totalManagements = %d, want 2", d.TotalManagements())
	}
}

func TestClassify_SecondaryNewPolicyGetsRamo(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "quiero cambiar mi cuenta bancaria y también contratar un seguro de coche"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Motivo != taxonomy.MotivoCambioCuenta {
		t.Errorf("primary motivo = %q", d.Primary.Entry.Motivo)
	}
	if len(d.Secondary) != 1 {
		t.Fatalf("expected 1 secondary incident, got %d", len(d.Secondary))
	}
	sec := d.Secondary[0]
	if sec.Entry.Tipo != taxonomy.TipoNuevaContratacion || sec.Entry.Motivo != taxonomy.MotivoNuevaPoliza {
		t.Errorf("secondary = (%q, %q)", sec.Entry.Tipo, sec.Entry.Motivo)
	}
	if sec.Ramo != "auto" {
		t.Errorf("secondary ramo = %q, want auto", sec.Ramo)
	}
}

func TestClassify_CardDuplicateBeatsPostalMention(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "necesito un duplicado de la tarjeta"},
		[2]string{"agent", "se lo enviamos a su dirección postal"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Tipo != taxonomy.TipoDuplicadoPoliza || d.Primary.Entry.Motivo != taxonomy.MotivoDuplicadoTarjeta {
		t.Errorf("primary = (%q, %q), want card duplicate", d.Primary.Entry.Tipo, d.Primary.Entry.Motivo)
	}
	if len(d.Secondary) != 0 {
		t.Errorf("channel mention must collapse into the duplicate, got %d secondaries", len(d.Secondary))
	}
}

func TestClassify_NonPolicyholder(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "llamo de parte de mi madre, quiero cambiar su cuenta y también la dirección"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Motivo != taxonomy.MotivoNoTitular {
		t.Errorf("primary motivo = %q", d.Primary.Entry.Motivo)
	}
	if len(d.Secondary) != 0 {
		t.Error("non-policyholder override must suppress secondaries")
	}
}

func TestClassify_IncompleteDataUsesTopicTipo(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "quiero un cambio de dirección"},
		[2]string{"agent", "me faltan datos de la nueva vivienda, le volveremos a llamar cuando los tenga"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Tipo != taxonomy.TipoModificacionPoliza || d.Primary.Entry.Motivo != taxonomy.MotivoDatosIncompletos {
		t.Errorf("primary = (%q, %q)", d.Primary.Entry.Tipo, d.Primary.Entry.Motivo)
	}
	if d.Phase != phaseIncompleteData {
		t.Errorf("phase = %q", d.Phase)
	}
}

func TestClassify_GenericTransfer(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "es un tema complicado de explicar"},
		[2]string{"agent", "le paso con mis compañeros"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Motivo != taxonomy.MotivoPasoAgente {
		t.Errorf("primary motivo = %q, want generic handoff", d.Primary.Entry.Motivo)
	}
}

func TestClassify_SpecificBeatsGenericTransfer(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "quiero un duplicado de la tarjeta"},
		[2]string{"agent", "le paso con mis compañeros para tramitarlo"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Motivo != taxonomy.MotivoDuplicadoTarjeta {
		t.Errorf("primary motivo = %q, want card duplicate over generic transfer", d.Primary.Entry.Motivo)
	}
	if d.Phase != phaseSpecific {
		t.Errorf("phase = %q", d.Phase)
	}
}

func TestClassify_HumanOnlySpecificAgreesWithTransfer(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "quiero poner una queja por el trato recibido"},
		[2]string{"agent", "le paso con mis compañeros"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Motivo != taxonomy.MotivoQueja {
		t.Errorf("primary motivo = %q, want complaint", d.Primary.Entry.Motivo)
	}
	if !d.Primary.Entry.HumanOnly {
		t.Error("complaint entry should be human only")
	}
	if d.Phase != phaseTransfer {
		t.Errorf("phase = %q", d.Phase)
	}
}

func TestClassify_FallbackWithoutEvidence(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call([2]string{"user", "hola, buenos días"})
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("the engine must always decide for well-formed input: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Motivo != taxonomy.MotivoConsultaNoResuelta {
		t.Errorf("primary motivo = %q, want unresolved inquiry", d.Primary.Entry.Motivo)
	}
	if d.Phase != phaseFallback {
		t.Errorf("phase = %q", d.Phase)
	}
	if !d.NeedsReview {
		t.Error("evidence-free fallback should be flagged for review")
	}
}

func TestClassify_FallbackAdoptsOracleCandidate(t *testing.T) {
	tax := testTaxonomy(t)
	orc := &fakeOracle{cand: &oracle.Candidate{
		Tipo:      taxonomy.TipoNuevaContratacion,
		Motivo:    taxonomy.MotivoNuevaPoliza,
		Ramo:      "hogar",
		Confianza: 0.8,
	}}
	eng := New(tax, orc, testLogger())

	tr := call([2]string{"user", "pues mire, llamaba por lo de la vivienda que le comenté a su colega"})
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Tipo != taxonomy.TipoNuevaContratacion {
		t.Errorf("primary tipo = %q, want oracle candidate adopted", d.Primary.Entry.Tipo)
	}
	if d.Primary.Ramo != "hogar" {
		t.Errorf("ramo = %q, want hogar", d.Primary.Ramo)
	}
	if d.Confidence > 0.6 {
		t.Errorf("oracle-only classification must stay capped at 0.6, got %f", d.Confidence)
	}
}

func TestClassify_OracleUnknownPairCannotLeak(t *testing.T) {
	tax := testTaxonomy(t)
	orc := &fakeOracle{cand: &oracle.Candidate{Tipo: "Tipo inventado", Motivo: "Motivo inventado", Confianza: 0.9}}
	eng := New(tax, orc, testLogger())

	tr := call([2]string{"user", "eh... verá..."})
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if _, ok := tax.Lookup(d.Primary.Entry.Tipo, d.Primary.Entry.Motivo); !ok {
		t.Errorf("primary (%q, %q) escaped the taxonomy", d.Primary.Entry.Tipo, d.Primary.Entry.Motivo)
	}
}

func TestClassify_DegradedConfidenceIsLower(t *testing.T) {
	tax := testTaxonomy(t)
	tr := call(
		[2]string{"user", "tengo pago anual y quiero cambiar a mensual"},
		[2]string{"agent", "procedo con el fraccionamiento"},
	)

	agreeing := &fakeOracle{cand: &oracle.Candidate{
		Tipo:      taxonomy.TipoGestionComercial,
		Motivo:    taxonomy.MotivoCambioFormaPago,
		Confianza: 0.9,
	}}
	withOracle, err := New(tax, agreeing, testLogger()).Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	broken := &fakeOracle{err: oracle.ErrUnavailable}
	degraded, err := New(tax, broken, testLogger()).Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("oracle failure must not fail classification: %v", err)
	}

	if !degraded.Degraded {
		t.Error("expected degraded flag")
	}
	if withOracle.Primary.Entry.Key() != degraded.Primary.Entry.Key() {
		t.Errorf("degradation changed the classification: %q vs %q",
			withOracle.Primary.Entry.Key(), degraded.Primary.Entry.Key())
	}
	if degraded.Confidence >= withOracle.Confidence {
		t.Errorf("degraded confidence %f not below oracle confidence %f",
			degraded.Confidence, withOracle.Confidence)
	}
}

func TestClassify_DisagreeingOracleLowersConfidence(t *testing.T) {
	tax := testTaxonomy(t)
	tr := call([2]string{"user", "quiero cambiar mi cuenta bancaria"})

	disagreeing := &fakeOracle{cand: &oracle.Candidate{
		Tipo:      taxonomy.TipoGestionComercial,
		Motivo:    taxonomy.MotivoQueja,
		Confianza: 0.9,
	}}
	d, err := New(tax, disagreeing, testLogger()).Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	// Rules win the disagreement.
	if d.Primary.Entry.Motivo != taxonomy.MotivoCambioCuenta {
		t.Errorf("primary motivo = %q, rules must beat the oracle", d.Primary.Entry.Motivo)
	}
	if d.Confidence >= 0.9 {
		t.Errorf("disagreement should cost confidence, got %f", d.Confidence)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	tax := testTaxonomy(t)
	orc := &fakeOracle{cand: &oracle.Candidate{
		Tipo:      taxonomy.TipoModificacionPoliza,
		Motivo:    taxonomy.MotivoCambioCuenta,
		Confianza: 0.85,
	}}
	eng := New(tax, orc, testLogger())

	tr := call(
		[2]string{"user", "quiero cambiar mi cuenta bancaria, la nueva es ES91 2100 0418 4502 0005 1332"},
		[2]string{"agent", "registro el cambio"},
	)

	first, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same transcript produced different decisions:\n%+v\n%+v", first, second)
	}
}

func TestClassify_RecallFlag(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "ya llamé la semana pasada, quiero cambiar mi cuenta bancaria"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Primary.IsRecall {
		t.Error("expected recall flag from follow-up phrasing")
	}
}

func TestClassify_NewPolicyDetectsRamo(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call([2]string{"user", "quería un presupuesto para un seguro de coche"})
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.Primary.Entry.Tipo != taxonomy.TipoNuevaContratacion {
		t.Errorf("primary tipo = %q", d.Primary.Entry.Tipo)
	}
	if d.Primary.Ramo != "auto" {
		t.Errorf("ramo = %q, want auto", d.Primary.Ramo)
	}
}

func TestClassify_CapAtThreeIncidents(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	tr := call(
		[2]string{"user", "quiero cambiar mi cuenta bancaria"},
		[2]string{"user", "y también un cambio de dirección"},
		[2]string{"user", "además la fecha de efecto de la póliza"},
		[2]string{"user", "y también un duplicado de la tarjeta"},
	)
	d, err := eng.Classify(context.Background(), tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, d, tax)

	if d.TotalManagements() != 3 {
		t.Errorf("totalManagements = %d, want cap of 3", d.TotalManagements())
	}
}

func TestClassify_RequiresTicketAndPriority(t *testing.T) {
	tax := testTaxonomy(t)
	eng := New(tax, nil, testLogger())

	resolved := call(
		[2]string{"user", "quería saber si mi póliza cubre el robo"},
		[2]string{"agent", "le confirmo que sí lo cubre, ¿algo más en lo que pueda ayudarle?"},
	)
	d, err := eng.Classify(context.Background(), resolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Primary.Entry.Motivo != taxonomy.MotivoConsultaResuelta {
		t.Fatalf("primary motivo = %q", d.Primary.Entry.Motivo)
	}
	if d.RequiresTicket() {
		t.Error("resolved informational query needs no ticket")
	}

	rejection := call([2]string{"user", "no quiero hablar con un robot"})
	d, err = eng.Classify(context.Background(), rejection)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.RequiresTicket() {
		t.Error("rejection outcome needs a ticket")
	}
	if d.Priority() != "alta" {
		t.Errorf("priority = %q, want alta for tier 1", d.Priority())
	}
}
