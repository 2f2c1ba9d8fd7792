// Package transcript defines the canonical call-transcript model and the
// normalizer that produces it from raw voicebot turn dumps.
package transcript

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
	RoleTool  Role = "tool"
)

// ToolResult is a structured payload returned by a backend lookup during the
// call (client identification, policy fetch...), attached to the turn that
// carried it.
type ToolResult struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Turn is a single utterance. Turns are append-only; slice order is the
// conversation order and is authoritative over timestamps.
type Turn struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Timestamp   time.Time    `json:"timestamp"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Transcript is the canonical, immutable view of one finished call.
type Transcript struct {
	CallID string `json:"call_id"`
	Turns  []Turn `json:"turns"`
}

// RawTurn is the wire shape produced by the ingestion side. Tool results may
// arrive either as a structured attachment or embedded in the message text as
// [[tool_result:name {json}]] markers.
type RawTurn struct {
	Speaker     string       `json:"speaker"`
	Text        string       `json:"text"`
	Timestamp   time.Time    `json:"timestamp"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// FullText concatenates all user and agent turn texts, for whole-call scans.
func (t *Transcript) FullText() string {
	var out string
	for _, turn := range t.Turns {
		if turn.Role == RoleTool {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += turn.Text
	}
	return out
}

// UserTurns returns the indexes of caller turns in order.
func (t *Transcript) UserTurns() []int {
	var idx []int
	for i, turn := range t.Turns {
		if turn.Role == RoleUser {
			idx = append(idx, i)
		}
	}
	return idx
}
