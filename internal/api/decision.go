package api

import "github.com/polizaops/triage/internal/engine"

// IncidentJSON is the wire shape of one incident.
type IncidentJSON struct {
	Tipo        string  `json:"tipo"`
	Motivo      string  `json:"motivo"`
	Ramo        *string `json:"ramo"`
	EsRellamada bool    `json:"esRellamada"`
}

// DecisionResponse is the contract the downstream ticketing side consumes.
type DecisionResponse struct {
	IncidenciaPrincipal    IncidentJSON      `json:"incidenciaPrincipal"`
	IncidenciasSecundarias []IncidentJSON    `json:"incidenciasSecundarias"`
	Confidence             float64           `json:"confidence"`
	ResumenLlamada         string            `json:"resumenLlamada"`
	DatosExtraidos         map[string]string `json:"datosExtraidos"`
	RequiereTicket         bool              `json:"requiereTicket"`
	Prioridad              string            `json:"prioridad"`
	MultipleGestiones      bool              `json:"multipleGestiones"`
	TotalGestiones         int               `json:"totalGestiones"`
	Degradado              bool              `json:"degradado,omitempty"`
	RevisionManual         bool              `json:"revisionManual,omitempty"`
}

// DecisionJSON maps an engine decision onto the wire contract. The derived
// fields (multipleGestiones, totalGestiones) are computed here, never stored.
func DecisionJSON(d *engine.Decision) DecisionResponse {
	resp := DecisionResponse{
		IncidenciaPrincipal:    incidentJSON(d.Primary),
		IncidenciasSecundarias: []IncidentJSON{},
		Confidence:             d.Confidence,
		ResumenLlamada:         d.Narrative,
		DatosExtraidos:         d.Datos,
		RequiereTicket:         d.RequiresTicket(),
		Prioridad:              d.Priority(),
		MultipleGestiones:      d.MultipleManagements(),
		TotalGestiones:         d.TotalManagements(),
		Degradado:              d.Degraded,
		RevisionManual:         d.NeedsReview,
	}
	for _, sec := range d.Secondary {
		resp.IncidenciasSecundarias = append(resp.IncidenciasSecundarias, incidentJSON(sec))
	}
	if resp.DatosExtraidos == nil {
		resp.DatosExtraidos = map[string]string{}
	}
	return resp
}

func incidentJSON(inc engine.Incident) IncidentJSON {
	out := IncidentJSON{
		Tipo:        inc.Entry.Tipo,
		Motivo:      inc.Entry.Motivo,
		EsRellamada: inc.IsRecall,
	}
	if inc.Ramo != "" {
		ramo := inc.Ramo
		out.Ramo = &ramo
	}
	return out
}
