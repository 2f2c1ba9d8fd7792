package engine

import (
	"fmt"

	"github.com/polizaops/triage/internal/taxonomy"
)

// InvariantViolationError marks an internally inconsistent decision. It is a
// programming or taxonomy defect, never an expected input condition; callers
// route the call to manual review instead of emitting the decision as-is.
type InvariantViolationError struct {
	Check  string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Check, e.Detail)
}

// Validate is the final gate before a Decision leaves the engine. It rechecks
// every structural invariant the phases are supposed to uphold.
func Validate(d *Decision, tax *taxonomy.Store) error {
	if _, ok := tax.Lookup(d.Primary.Entry.Tipo, d.Primary.Entry.Motivo); !ok {
		return &InvariantViolationError{
			Check:  "taxonomy_membership",
			Detail: fmt.Sprintf("primary pair (%q, %q) not in taxonomy", d.Primary.Entry.Tipo, d.Primary.Entry.Motivo),
		}
	}

	if len(d.Secondary) > 2 {
		return &InvariantViolationError{
			Check:  "incident_cap",
			Detail: fmt.Sprintf("%d total incidents exceeds cap of 3", d.TotalManagements()),
		}
	}

	suppressing := d.Primary.Entry.Motivo == taxonomy.MotivoRechazoIA ||
		d.Primary.Entry.Motivo == taxonomy.MotivoNoTitular
	if suppressing && len(d.Secondary) > 0 {
		return &InvariantViolationError{
			Check:  "override_suppression",
			Detail: fmt.Sprintf("primary motivo %q forbids secondary incidents", d.Primary.Entry.Motivo),
		}
	}

	seen := map[string]bool{d.Primary.Entry.Key(): true}
	for i, sec := range d.Secondary {
		entry, ok := tax.Lookup(sec.Entry.Tipo, sec.Entry.Motivo)
		if !ok {
			return &InvariantViolationError{
				Check:  "taxonomy_membership",
				Detail: fmt.Sprintf("secondary %d pair (%q, %q) not in taxonomy", i, sec.Entry.Tipo, sec.Entry.Motivo),
			}
		}
		if entry.HumanOnly {
			return &InvariantViolationError{
				Check:  "human_only_coherence",
				Detail: fmt.Sprintf("secondary %d (%q, %q) is human-only", i, sec.Entry.Tipo, sec.Entry.Motivo),
			}
		}
		if seen[entry.Key()] {
			return &InvariantViolationError{
				Check:  "deduplication",
				Detail: fmt.Sprintf("pair (%q, %q) appears more than once", sec.Entry.Tipo, sec.Entry.Motivo),
			}
		}
		seen[entry.Key()] = true
	}

	if d.Confidence <= 0 || d.Confidence > 1 {
		return &InvariantViolationError{
			Check:  "confidence_range",
			Detail: fmt.Sprintf("confidence %f outside (0, 1]", d.Confidence),
		}
	}

	return nil
}
