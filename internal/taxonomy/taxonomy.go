// Package taxonomy holds the closed vocabulary of valid (tipo, motivo)
// incident pairs. The table is loaded once at start-up and swapped atomically
// on operator reload; classification code only ever sees immutable snapshots.
package taxonomy

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Incident type constants (tipo).
const (
	TipoGestionComercial   = "Llamada gestión comercial"
	TipoModificacionPoliza = "Modificación de póliza"
	TipoDuplicadoPoliza    = "Solicitud duplicado póliza"
	TipoNuevaContratacion  = "Nueva contratación"
)

// Reason constants (motivo).
const (
	MotivoRechazoIA          = "No quiere hablar con IA"
	MotivoNoTitular          = "Llamante no es el titular"
	MotivoPasoAgente         = "Transferencia a agente"
	MotivoDatosIncompletos   = "Datos incompletos"
	MotivoCambioFormaPago    = "Cambio forma de pago"
	MotivoCambioCuenta       = "Cambio cuenta bancaria"
	MotivoCambioDireccion    = "Cambio de dirección"
	MotivoCambioFechaEfecto  = "Cambio fecha de efecto"
	MotivoDuplicadoEmail     = "Duplicado por email"
	MotivoDuplicadoPostal    = "Duplicado por correo postal"
	MotivoDuplicadoTarjeta   = "Duplicado de tarjeta"
	MotivoNuevaPoliza        = "Presupuesto nueva póliza"
	MotivoQueja              = "Queja o reclamación"
	MotivoConsultaResuelta   = "Consulta resuelta"
	MotivoConsultaNoResuelta = "Consulta no resuelta"
)

// Entry is one valid (tipo, motivo) pair with its handling metadata.
type Entry struct {
	Tipo         string
	Motivo       string
	HumanOnly    bool // only resolvable by live-agent handoff
	RequiresRamo bool // needs an insurance line (auto, hogar, vida...)
	PriorityTier int  // 1 = highest
}

// Key identifies an entry within a snapshot.
func (e Entry) Key() string {
	return e.Tipo + "|" + e.Motivo
}

// UnknownPairError reports a (tipo, motivo) pair outside the taxonomy. It is
// never surfaced in a final Decision; callers substitute a valid pair and log.
type UnknownPairError struct {
	Tipo   string
	Motivo string
}

func (e *UnknownPairError) Error() string {
	return fmt.Sprintf("unknown taxonomy pair (%q, %q)", e.Tipo, e.Motivo)
}

// snapshot is an immutable view of the taxonomy table.
type snapshot struct {
	byKey   map[string]Entry
	ordered []Entry
}

// Store exposes read-only lookups over the current snapshot. Reload swaps the
// whole snapshot; in-flight classifications keep the one they started with.
type Store struct {
	snap atomic.Pointer[snapshot]
}

// NewStore builds a store from an initial entry set.
func NewStore(entries []Entry) (*Store, error) {
	s := &Store{}
	if err := s.Reload(entries); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload atomically replaces the taxonomy with a new entry set.
func (s *Store) Reload(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("taxonomy reload: empty entry set")
	}
	snap := &snapshot{
		byKey:   make(map[string]Entry, len(entries)),
		ordered: make([]Entry, 0, len(entries)),
	}
	for _, e := range entries {
		if e.Tipo == "" || e.Motivo == "" {
			return fmt.Errorf("taxonomy reload: entry with empty tipo or motivo")
		}
		if _, dup := snap.byKey[e.Key()]; dup {
			return fmt.Errorf("taxonomy reload: duplicate pair (%q, %q)", e.Tipo, e.Motivo)
		}
		snap.byKey[e.Key()] = e
		snap.ordered = append(snap.ordered, e)
	}
	s.snap.Store(snap)
	return nil
}

// Lookup returns the entry for an exact (tipo, motivo) pair.
func (s *Store) Lookup(tipo, motivo string) (Entry, bool) {
	e, ok := s.snap.Load().byKey[tipo+"|"+motivo]
	return e, ok
}

// Resolve returns the entry for the pair, or an UnknownPairError.
func (s *Store) Resolve(tipo, motivo string) (Entry, error) {
	if e, ok := s.Lookup(tipo, motivo); ok {
		return e, nil
	}
	return Entry{}, &UnknownPairError{Tipo: tipo, Motivo: motivo}
}

// Nearest finds the closest valid entry for a pair proposed outside the
// taxonomy: same tipo with a case/space-insensitive motivo match first, then
// any tipo with that motivo, then the unresolved-inquiry fallback.
func (s *Store) Nearest(tipo, motivo string) Entry {
	snap := s.snap.Load()
	want := canon(motivo)
	for _, e := range snap.ordered {
		if e.Tipo == tipo && canon(e.Motivo) == want {
			return e
		}
	}
	for _, e := range snap.ordered {
		if canon(e.Motivo) == want {
			return e
		}
	}
	return s.Fallback()
}

// Fallback is the generic pair used when no classification evidence exists.
func (s *Store) Fallback() Entry {
	if e, ok := s.Lookup(TipoGestionComercial, MotivoConsultaNoResuelta); ok {
		return e
	}
	// A taxonomy without the fallback pair is a configuration defect; the
	// first entry keeps the engine total.
	return s.snap.Load().ordered[0]
}

// Entries returns the current snapshot in load order.
func (s *Store) Entries() []Entry {
	snap := s.snap.Load()
	out := make([]Entry, len(snap.ordered))
	copy(out, snap.ordered)
	return out
}

// Len reports the number of entries in the current snapshot.
func (s *Store) Len() int {
	return len(s.snap.Load().ordered)
}

func canon(v string) string {
	return strings.ToLower(strings.Join(strings.Fields(v), " "))
}
