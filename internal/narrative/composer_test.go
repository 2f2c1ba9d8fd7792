package narrative

import (
	"strings"
	"testing"

	"github.com/polizaops/triage/internal/extract"
)

func TestCompose_SingleIncident(t *testing.T) {
	got := Compose(Facts{
		Primary:    IncidentFact{Tipo: "Llamada gestión comercial", Motivo: "Cambio forma de pago"},
		Datos:      extract.Fields{extract.FieldNuevoValor: "mensual"},
		Phase:      "gestion_especifica",
		Resolution: "El agente registra la gestión solicitada.",
	})

	for _, want := range []string{
		"«Llamada gestión comercial»",
		"«Cambio forma de pago»",
		"nuevo valor solicitado mensual",
		"El agente registra la gestión solicitada.",
		"gestión concreta solicitada",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("narrative missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "gestión adicional") {
		t.Errorf("single incident must not mention additional managements:\n%s", got)
	}
}

func TestCompose_MultiIncidentAndRecall(t *testing.T) {
	got := Compose(Facts{
		Primary: IncidentFact{Tipo: "Modificación de póliza", Motivo: "Cambio cuenta bancaria"},
		Secondary: []IncidentFact{
			{Tipo: "Solicitud duplicado póliza", Motivo: "Duplicado por email"},
		},
		Datos:     extract.Fields{extract.FieldEmail: "cliente@example.com"},
		Phase:     "gestion_especifica",
		Rellamada: true,
	})

	for _, want := range []string{
		"en seguimiento de un caso ya abierto",
		"gestión adicional",
		"«Duplicado por email»",
		"email cliente@example.com",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("narrative missing %q:\n%s", want, got)
		}
	}
}

func TestCompose_RamoAndDegraded(t *testing.T) {
	got := Compose(Facts{
		Primary:  IncidentFact{Tipo: "Nueva contratación", Motivo: "Presupuesto nueva póliza", Ramo: "auto"},
		Phase:    "fallback",
		Degraded: true,
	})

	if !strings.Contains(got, "(ramo auto)") {
		t.Errorf("narrative missing branch:\n%s", got)
	}
	if !strings.Contains(got, "indisponibilidad del modelo de lenguaje") {
		t.Errorf("narrative missing degradation note:\n%s", got)
	}
	if !strings.Contains(got, "No se identificó una gestión concreta") {
		t.Errorf("narrative missing fallback justification:\n%s", got)
	}
}

func TestCompose_DataOrderIsStable(t *testing.T) {
	f := Facts{
		Primary: IncidentFact{Tipo: "Modificación de póliza", Motivo: "Cambio de dirección"},
		Datos: extract.Fields{
			extract.FieldNuevoValor: "Calle Mayor 3",
			extract.FieldNombre:     "María López",
			extract.FieldDocumento:  "12345678Z",
		},
		Phase: "gestion_especifica",
	}
	first := Compose(f)
	for i := 0; i < 10; i++ {
		if Compose(f) != first {
			t.Fatal("narrative must be deterministic for identical facts")
		}
	}
	name := strings.Index(first, "nombre María López")
	doc := strings.Index(first, "documento 12345678Z")
	val := strings.Index(first, "nuevo valor solicitado Calle Mayor 3")
	if name == -1 || doc == -1 || val == -1 {
		t.Fatalf("narrative missing data points:\n%s", first)
	}
	if !(name < doc && doc < val) {
		t.Errorf("data points out of canonical order:\n%s", first)
	}
}

func TestCompose_NoDataNoDevelopmentSentence(t *testing.T) {
	got := Compose(Facts{
		Primary: IncidentFact{Tipo: "Llamada gestión comercial", Motivo: "Consulta no resuelta"},
		Phase:   "fallback",
	})
	if strings.Contains(got, "Se identifican los siguientes datos") {
		t.Errorf("no extracted data, yet development sentence present:\n%s", got)
	}
}
