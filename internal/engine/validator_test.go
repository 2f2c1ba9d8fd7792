package engine

import (
	"errors"
	"testing"

	"github.com/polizaops/triage/internal/taxonomy"
)

func mustEntry(t *testing.T, tax *taxonomy.Store, tipo, motivo string) taxonomy.Entry {
	t.Helper()
	entry, ok := tax.Lookup(tipo, motivo)
	if !ok {
		t.Fatalf("taxonomy missing (%q, %q)", tipo, motivo)
	}
	return entry
}

func validDecision(t *testing.T, tax *taxonomy.Store) *Decision {
	t.Helper()
	return &Decision{
		CallID:     "call-1",
		Primary:    Incident{Entry: mustEntry(t, tax, taxonomy.TipoModificacionPoliza, taxonomy.MotivoCambioCuenta)},
		Confidence: 0.8,
	}
}

func TestValidate(t *testing.T) {
	tax := testTaxonomy(t)

	tests := []struct {
		name      string
		mutate    func(*Decision)
		wantCheck string
	}{
		{
			name:   "valid decision passes",
			mutate: func(d *Decision) {},
		},
		{
			name: "valid multi incident passes",
			mutate: func(d *Decision) {
				d.Secondary = []Incident{
					{Entry: mustEntry(t, tax, taxonomy.TipoDuplicadoPoliza, taxonomy.MotivoDuplicadoEmail)},
					{Entry: mustEntry(t, tax, taxonomy.TipoModificacionPoliza, taxonomy.MotivoCambioDireccion)},
				}
			},
		},
		{
			name: "unknown primary pair",
			mutate: func(d *Decision) {
				d.Primary.Entry = taxonomy.Entry{Tipo: "Tipo inventado", Motivo: "Motivo inventado"}
			},
			wantCheck: "taxonomy_membership",
		},
		{
			name: "unknown secondary pair",
			mutate: func(d *Decision) {
				d.Secondary = []Incident{{Entry: taxonomy.Entry{Tipo: "Otro", Motivo: "Otro"}}}
			},
			wantCheck: "taxonomy_membership",
		},
		{
			name: "more than three incidents",
			mutate: func(d *Decision) {
				d.Secondary = []Incident{
					{Entry: mustEntry(t, tax, taxonomy.TipoDuplicadoPoliza, taxonomy.MotivoDuplicadoEmail)},
					{Entry: mustEntry(t, tax, taxonomy.TipoModificacionPoliza, taxonomy.MotivoCambioDireccion)},
					{Entry: mustEntry(t, tax, taxonomy.TipoModificacionPoliza, taxonomy.MotivoCambioFechaEfecto)},
				}
			},
			wantCheck: "incident_cap",
		},
		{
			name: "rejection with secondaries",
			mutate: func(d *Decision) {
				d.Primary.Entry = mustEntry(t, tax, taxonomy.TipoGestionComercial, taxonomy.MotivoRechazoIA)
				d.Secondary = []Incident{{Entry: mustEntry(t, tax, taxonomy.TipoDuplicadoPoliza, taxonomy.MotivoDuplicadoEmail)}}
			},
			wantCheck: "override_suppression",
		},
		{
			name: "non-holder with secondaries",
			mutate: func(d *Decision) {
				d.Primary.Entry = mustEntry(t, tax, taxonomy.TipoGestionComercial, taxonomy.MotivoNoTitular)
				d.Secondary = []Incident{{Entry: mustEntry(t, tax, taxonomy.TipoDuplicadoPoliza, taxonomy.MotivoDuplicadoEmail)}}
			},
			wantCheck: "override_suppression",
		},
		{
			name: "human-only secondary",
			mutate: func(d *Decision) {
				d.Secondary = []Incident{{Entry: mustEntry(t, tax, taxonomy.TipoGestionComercial, taxonomy.MotivoQueja)}}
			},
			wantCheck: "human_only_coherence",
		},
		{
			name: "duplicated pair across incidents",
			mutate: func(d *Decision) {
				d.Secondary = []Incident{{Entry: mustEntry(t, tax, taxonomy.TipoModificacionPoliza, taxonomy.MotivoCambioCuenta)}}
			},
			wantCheck: "deduplication",
		},
		{
			name: "repeated secondary pair",
			mutate: func(d *Decision) {
				dup := mustEntry(t, tax, taxonomy.TipoDuplicadoPoliza, taxonomy.MotivoDuplicadoEmail)
				d.Secondary = []Incident{{Entry: dup}, {Entry: dup}}
			},
			wantCheck: "deduplication",
		},
		{
			name:      "zero confidence",
			mutate:    func(d *Decision) { d.Confidence = 0 },
			wantCheck: "confidence_range",
		},
		{
			name:      "confidence above one",
			mutate:    func(d *Decision) { d.Confidence = 1.2 },
			wantCheck: "confidence_range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDecision(t, tax)
			tt.mutate(d)

			err := Validate(d, tax)
			if tt.wantCheck == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var viol *InvariantViolationError
			if !errors.As(err, &viol) {
				t.Fatalf("expected InvariantViolationError, got %v", err)
			}
			if viol.Check != tt.wantCheck {
				t.Errorf("check = %q, want %q", viol.Check, tt.wantCheck)
			}
		})
	}
}
