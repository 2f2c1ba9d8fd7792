package signals

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/polizaops/triage/internal/transcript"
)

// Extractor runs the detector fan-out over a transcript. Stateless; safe for
// concurrent use across calls.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract returns every detected signal. Each detector yields at most one
// match per family/topic: the strongest, with the latest turn winning ties so
// recency is preserved for the engine's tie-breaks.
func (e *Extractor) Extract(tr *transcript.Transcript) []Match {
	folded := make([]string, len(tr.Turns))
	for i, turn := range tr.Turns {
		folded[i] = Fold(turn.Text)
	}

	var out []Match
	for _, d := range detectors {
		if m, ok := scanDetector(d, tr, folded); ok {
			out = append(out, m)
		}
	}

	if m, ok := scanToolIdentity(tr); ok {
		out = append(out, m)
	}

	e.logger.Debug("signals extracted", "call_id", tr.CallID, "matches", len(out))
	return out
}

func scanDetector(d detector, tr *transcript.Transcript, folded []string) (Match, bool) {
	best := Match{Family: d.family, Topic: d.topic, TurnIndex: -1}
	for i, turn := range tr.Turns {
		for _, p := range d.patterns {
			if !matchesRole(p, turn.Role) {
				continue
			}
			if !strings.Contains(folded[i], p.phrase) {
				continue
			}
			// Later turns win ties: the most recent statement is the most
			// concrete expression of intent.
			if p.strength > best.Strength || (p.strength == best.Strength && i > best.TurnIndex) {
				best = Match{
					Family:    d.family,
					Topic:     d.topic,
					Span:      p.phrase,
					Strength:  p.strength,
					TurnIndex: i,
					Offset:    strings.Index(folded[i], p.phrase),
				}
			}
		}
	}
	return best, best.TurnIndex >= 0
}

// scanToolIdentity inspects identification tool results: a backend lookup
// reporting the caller is not the titular is stronger evidence than any
// phrase.
func scanToolIdentity(tr *transcript.Transcript) (Match, bool) {
	for i, turn := range tr.Turns {
		for _, res := range turn.ToolResults {
			var payload map[string]any
			if err := json.Unmarshal(res.Payload, &payload); err != nil {
				continue
			}
			for _, key := range []string{"titular", "es_titular"} {
				if v, ok := payload[key].(bool); ok && !v {
					return Match{
						Family:    FamilyNonPolicyholder,
						Span:      res.Name + ": " + key + "=false",
						Strength:  weightExact,
						TurnIndex: i,
					}, true
				}
			}
		}
	}
	return Match{}, false
}

// HasConnector reports explicit multi-topic connective evidence in caller
// speech ("y también", "además"...).
func HasConnector(tr *transcript.Transcript) bool {
	for _, turn := range tr.Turns {
		if turn.Role != transcript.RoleUser {
			continue
		}
		text := Fold(turn.Text)
		for _, c := range connectors {
			if strings.Contains(text, c) {
				return true
			}
		}
	}
	return false
}

// DetectRamo guesses the insurance branch mentioned in the call, for
// new-contract incidents. Empty when no branch word appears.
func DetectRamo(tr *transcript.Transcript) string {
	for _, turn := range tr.Turns {
		if turn.Role == transcript.RoleTool {
			continue
		}
		for _, word := range strings.Fields(Fold(turn.Text)) {
			word = strings.Trim(word, ".,;:!?")
			if ramo, ok := ramoWords[word]; ok {
				return ramo
			}
		}
	}
	return ""
}

// Strongest returns the match with the highest strength among those matching
// the filter, preferring later turns on ties. Returns ok=false when none.
func Strongest(matches []Match, keep func(Match) bool) (Match, bool) {
	var best Match
	found := false
	for _, m := range matches {
		if keep != nil && !keep(m) {
			continue
		}
		if !found || m.Strength > best.Strength ||
			(m.Strength == best.Strength && m.TurnIndex > best.TurnIndex) {
			best = m
			found = true
		}
	}
	return best, found
}

// ByFamily filters matches to one family.
func ByFamily(matches []Match, f Family) []Match {
	var out []Match
	for _, m := range matches {
		if m.Family == f {
			out = append(out, m)
		}
	}
	return out
}
