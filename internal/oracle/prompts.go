package oracle

import (
	"fmt"
	"strings"

	"github.com/polizaops/triage/internal/transcript"
)

const systemPrompt = `Eres un clasificador de llamadas de una correduría de seguros.

Recibes la transcripción completa de una llamada telefónica ya finalizada y
debes proponer la gestión administrativa que solicita el cliente.

Responde ÚNICAMENTE con un objeto JSON con esta forma:

{
  "tipo": "<tipo de incidencia>",
  "motivo": "<motivo dentro del tipo>",
  "ramo": "<ramo del seguro si aplica, si no omítelo>",
  "es_rellamada": false,
  "confianza": 0.0,
  "resumen": "<una frase resumiendo la llamada>",
  "datos": {"nombre_cliente": "...", "numero_poliza": "..."}
}

Tipos válidos: "Llamada gestión comercial", "Modificación de póliza",
"Solicitud duplicado póliza", "Nueva contratación".

En "datos" incluye solo los campos que el cliente mencione realmente:
nombre_cliente, documento, numero_poliza, email, nuevo_valor, fecha_efecto.
No inventes valores. "confianza" va de 0.0 a 1.0.`

// buildPrompt renders the transcript as a labelled dialogue. Tool results are
// included verbatim so the model can see backend lookups.
func buildPrompt(tr *transcript.Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Llamada %s:\n\n", tr.CallID)
	for _, turn := range tr.Turns {
		switch turn.Role {
		case transcript.RoleUser:
			fmt.Fprintf(&b, "CLIENTE: %s\n", turn.Text)
		case transcript.RoleAgent:
			fmt.Fprintf(&b, "AGENTE: %s\n", turn.Text)
		case transcript.RoleTool:
			if turn.Text != "" {
				fmt.Fprintf(&b, "SISTEMA: %s\n", turn.Text)
			}
		}
		for _, res := range turn.ToolResults {
			fmt.Fprintf(&b, "SISTEMA [%s]: %s\n", res.Name, string(res.Payload))
		}
	}
	b.WriteString("\nClasifica la llamada.")
	return b.String()
}
