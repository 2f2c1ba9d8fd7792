package extract

import (
	"testing"

	"github.com/polizaops/triage/internal/signals"
	"github.com/polizaops/triage/internal/transcript"
)

func turns(ts ...transcript.Turn) *transcript.Transcript {
	return &transcript.Transcript{CallID: "c", Turns: ts}
}

func userSays(text string) transcript.Turn {
	return transcript.Turn{Role: transcript.RoleUser, Text: text}
}

func TestCollect_FreeText(t *testing.T) {
	tr := turns(
		userSays("Mi DNI es 11222333A y mi email es Ana.Ruiz@example.com"),
		userSays("La póliza número POL-123456, bueno, la fecha sería 01/04/2026"),
	)
	got := Collect(tr, nil)

	if got[FieldDocumento] != "11222333A" {
		t.Errorf("documento = %q", got[FieldDocumento])
	}
	if got[FieldEmail] != "ana.ruiz@example.com" {
		t.Errorf("email = %q", got[FieldEmail])
	}
	if got[FieldFechaEfecto] != "01/04/2026" {
		t.Errorf("fecha = %q", got[FieldFechaEfecto])
	}
}

func TestCollect_ToolResultsPreferred(t *testing.T) {
	tr := turns(
		transcript.Turn{
			Role: transcript.RoleAgent,
			Text: "Le identifico",
			ToolResults: []transcript.ToolResult{
				{Name: "identificar_cliente", Payload: []byte(`{"nombre":"Ana Ruiz García","nif":"11222333A","poliza":"POL-777"}`)},
			},
		},
	)
	got := Collect(tr, nil)

	if got[FieldNombre] != "Ana Ruiz García" {
		t.Errorf("nombre = %q", got[FieldNombre])
	}
	if got[FieldDocumento] != "11222333A" {
		t.Errorf("documento = %q", got[FieldDocumento])
	}
	if got[FieldPoliza] != "POL-777" {
		t.Errorf("poliza = %q", got[FieldPoliza])
	}
}

func TestCollect_CollidingAliasesAreDeterministic(t *testing.T) {
	tr := turns(
		transcript.Turn{
			Role: transcript.RoleAgent,
			Text: "Le identifico",
			ToolResults: []transcript.ToolResult{
				{Name: "identificar_cliente", Payload: []byte(`{"nombre":"Ana","cliente":"Ana María Pérez","dni":"11222333A","documento":"22333444B"}`)},
			},
		},
	)

	for i := 0; i < 50; i++ {
		got := Collect(tr, nil)
		if got[FieldNombre] != "Ana" {
			t.Fatalf("run %d: nombre = %q, want the more specific alias to win", i, got[FieldNombre])
		}
		if got[FieldDocumento] != "22333444B" {
			t.Fatalf("run %d: documento = %q, want the more specific alias to win", i, got[FieldDocumento])
		}
	}
}

func TestCollect_LastStatedWins(t *testing.T) {
	tr := turns(
		userSays("Que sea para el 01/04/2026"),
		userSays("Perdón, mejor el 15/04/2026"),
	)
	got := Collect(tr, []signals.Topic{signals.TopicEffectiveDate})

	if got[FieldFechaEfecto] != "15/04/2026" {
		t.Errorf("expected corrected date to win, got %q", got[FieldFechaEfecto])
	}
	if got[FieldNuevoValor] != "15/04/2026" {
		t.Errorf("expected nuevo_valor to mirror the date, got %q", got[FieldNuevoValor])
	}
}

func TestCollect_IBANAsNewValue(t *testing.T) {
	tr := turns(
		userSays("Quiero cambiar mi cuenta bancaria"),
		userSays("La nueva es ES91 2100 0418 4502 0005 1332"),
	)
	got := Collect(tr, []signals.Topic{signals.TopicBankAccount})

	if got[FieldNuevoValor] != "ES9121000418450200051332" {
		t.Errorf("nuevo_valor = %q", got[FieldNuevoValor])
	}
}

func TestCollect_PaymentPeriodicity(t *testing.T) {
	tr := turns(userSays("Tengo pago anual y quiero cambiarlo a mensual"))
	got := Collect(tr, []signals.Topic{signals.TopicPaymentMethod})

	if got[FieldNuevoValor] != "mensual" {
		t.Errorf("nuevo_valor = %q", got[FieldNuevoValor])
	}
}

func TestCollect_MissingFieldsAbsent(t *testing.T) {
	tr := turns(userSays("Quiero un duplicado"))
	got := Collect(tr, nil)

	for _, key := range []string{FieldNombre, FieldDocumento, FieldPoliza, FieldEmail, FieldFechaEfecto, FieldNuevoValor} {
		if v, present := got[key]; present {
			t.Errorf("field %s should be absent, got %q", key, v)
		}
	}
}

func TestCollect_SpokenDate(t *testing.T) {
	tr := turns(userSays("Quiero que la póliza empiece el 1 de marzo de 2026"))
	got := Collect(tr, []signals.Topic{signals.TopicEffectiveDate})

	if got[FieldFechaEfecto] != "1 de marzo de 2026" {
		t.Errorf("fecha = %q", got[FieldFechaEfecto])
	}
}
