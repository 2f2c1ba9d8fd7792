package taxonomy

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// defaultTable is the taxonomy shipped with the binary, used when no CSV path
// is configured. Columns: tipo,motivo,human_only,requires_ramo,priority_tier.
const defaultTable = `tipo,motivo,human_only,requires_ramo,priority_tier
Llamada gestión comercial,No quiere hablar con IA,true,false,1
Llamada gestión comercial,Llamante no es el titular,true,false,1
Llamada gestión comercial,Transferencia a agente,true,false,2
Llamada gestión comercial,Datos incompletos,false,false,2
Llamada gestión comercial,Cambio forma de pago,false,false,2
Llamada gestión comercial,Queja o reclamación,true,false,1
Llamada gestión comercial,Consulta resuelta,false,false,3
Llamada gestión comercial,Consulta no resuelta,false,false,3
Modificación de póliza,Cambio cuenta bancaria,false,false,2
Modificación de póliza,Cambio de dirección,false,false,2
Modificación de póliza,Cambio fecha de efecto,false,false,2
Modificación de póliza,Datos incompletos,false,false,2
Solicitud duplicado póliza,Duplicado por email,false,false,3
Solicitud duplicado póliza,Duplicado por correo postal,false,false,3
Solicitud duplicado póliza,Duplicado de tarjeta,false,false,2
Solicitud duplicado póliza,Datos incompletos,false,false,3
Nueva contratación,Presupuesto nueva póliza,false,true,1
Nueva contratación,Datos incompletos,false,true,2
`

// LoadDefault builds a store from the embedded taxonomy table.
func LoadDefault() (*Store, error) {
	entries, err := parseCSV(strings.NewReader(defaultTable))
	if err != nil {
		return nil, fmt.Errorf("embedded taxonomy: %w", err)
	}
	return NewStore(entries)
}

// LoadFile builds a store from a taxonomy CSV on disk.
func LoadFile(path string) (*Store, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewStore(entries)
}

// ReadFile parses a taxonomy CSV on disk into entries, for store reloads.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open taxonomy: %w", err)
	}
	defer f.Close()
	entries, err := parseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse taxonomy %s: %w", path, err)
	}
	return entries, nil
}

func parseCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 5 {
		return nil, fmt.Errorf("expected 5 columns, got %d", len(header))
	}

	var entries []Entry
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		humanOnly, err := strconv.ParseBool(strings.TrimSpace(rec[2]))
		if err != nil {
			return nil, fmt.Errorf("line %d: human_only: %w", line, err)
		}
		requiresRamo, err := strconv.ParseBool(strings.TrimSpace(rec[3]))
		if err != nil {
			return nil, fmt.Errorf("line %d: requires_ramo: %w", line, err)
		}
		tier, err := strconv.Atoi(strings.TrimSpace(rec[4]))
		if err != nil {
			return nil, fmt.Errorf("line %d: priority_tier: %w", line, err)
		}
		entries = append(entries, Entry{
			Tipo:         strings.TrimSpace(rec[0]),
			Motivo:       strings.TrimSpace(rec[1]),
			HumanOnly:    humanOnly,
			RequiresRamo: requiresRamo,
			PriorityTier: tier,
		})
	}
	return entries, nil
}
