package transcript

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MalformedError reports structurally invalid raw input. Calls with a
// malformed transcript cannot be classified and are not retried internally.
type MalformedError struct {
	Index  int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed transcript: turn %d: %s", e.Index, e.Reason)
}

// Timestamps may jitter against array order (clock skew between the bot and
// the telephony stack); regressions beyond this are treated as corruption.
const timestampTolerance = 5 * time.Minute

// toolResultMarker matches [[tool_result:name {json}]] embedded in turn text.
// toolCallMarker matches [[tool:name {json}]], which carries no payload worth
// keeping and is stripped.
var (
	toolResultMarker = regexp.MustCompile(`\[\[tool_result:([a-zA-Z0-9_.-]+)\s+(\{.*?\})\]\]`)
	toolCallMarker   = regexp.MustCompile(`\[\[tool:[a-zA-Z0-9_.-]+\s*(\{.*?\})?\]\]`)
)

// Normalize converts a raw turn list into the canonical Transcript. Embedded
// tool markers are lifted into ToolResult records, empty turns are dropped,
// and consecutive same-speaker turns are kept distinct.
func Normalize(callID string, raw []RawTurn) (*Transcript, error) {
	if len(raw) == 0 {
		return nil, &MalformedError{Index: 0, Reason: "no turns"}
	}

	turns := make([]Turn, 0, len(raw))
	var lastTS time.Time
	for i, rt := range raw {
		role, ok := parseRole(rt.Speaker)
		if !ok {
			return nil, &MalformedError{Index: i, Reason: fmt.Sprintf("unrecognized speaker %q", rt.Speaker)}
		}

		if !rt.Timestamp.IsZero() && !lastTS.IsZero() && lastTS.Sub(rt.Timestamp) > timestampTolerance {
			return nil, &MalformedError{Index: i, Reason: "timestamp regresses beyond tolerance"}
		}
		if !rt.Timestamp.IsZero() {
			lastTS = rt.Timestamp
		}

		text, lifted := liftToolMarkers(rt.Text)
		results := append(lifted, rt.ToolResults...)

		if strings.TrimSpace(text) == "" && len(results) == 0 {
			continue
		}

		turns = append(turns, Turn{
			Role:        role,
			Text:        strings.TrimSpace(text),
			Timestamp:   rt.Timestamp,
			ToolResults: results,
		})
	}

	if len(turns) == 0 {
		return nil, &MalformedError{Index: 0, Reason: "all turns empty"}
	}

	return &Transcript{CallID: callID, Turns: turns}, nil
}

func parseRole(speaker string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(speaker)) {
	case "agent", "agente", "assistant", "bot":
		return RoleAgent, true
	case "user", "usuario", "cliente", "caller":
		return RoleUser, true
	case "tool", "sistema", "system":
		return RoleTool, true
	default:
		return "", false
	}
}

// liftToolMarkers extracts embedded tool-result markers from free text and
// strips tool-call markers, returning the cleaned text and lifted results.
func liftToolMarkers(text string) (string, []ToolResult) {
	var results []ToolResult
	cleaned := toolResultMarker.ReplaceAllStringFunc(text, func(m string) string {
		groups := toolResultMarker.FindStringSubmatch(m)
		payload := json.RawMessage(groups[2])
		if !json.Valid(payload) {
			// Unparseable payload: keep the marker visible in text rather
			// than silently losing evidence.
			return m
		}
		results = append(results, ToolResult{Name: groups[1], Payload: payload})
		return ""
	})
	cleaned = toolCallMarker.ReplaceAllString(cleaned, "")
	return cleaned, results
}
