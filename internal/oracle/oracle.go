// Package oracle wraps the NLU model behind a stable candidate-generation
// interface. The model's output is advisory: the decision engine reconciles
// it against the deterministic rule phases and is free to overrule it.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polizaops/triage/internal/anthropic"
	"github.com/polizaops/triage/internal/transcript"
)

// ErrUnavailable marks a transient oracle failure. The engine recovers
// locally with rule-only classification; this is never surfaced as fatal.
var ErrUnavailable = errors.New("oracle unavailable")

// Candidate is the oracle's first-pass structured guess for a call.
type Candidate struct {
	Tipo        string            `json:"tipo"`
	Motivo      string            `json:"motivo"`
	Ramo        string            `json:"ramo,omitempty"`
	EsRellamada bool              `json:"es_rellamada"`
	Confianza   float64           `json:"confianza"`
	Resumen     string            `json:"resumen,omitempty"`
	Datos       map[string]string `json:"datos,omitempty"`
}

// Oracle proposes a classification candidate for a transcript. Propose is a
// pure read of a stateless model: same transcript, safe to resend.
type Oracle interface {
	Propose(ctx context.Context, tr *transcript.Transcript) (*Candidate, error)
}

// LLM is the Anthropic-backed Oracle.
type LLM struct {
	llm     *anthropic.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewLLM(llm *anthropic.Client, timeout time.Duration, logger *slog.Logger) *LLM {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLM{llm: llm, timeout: timeout, logger: logger}
}

// Propose renders the transcript into a prompt, calls the model once, and
// parses the reply defensively. Any transport or parse failure comes back
// wrapped in ErrUnavailable.
func (l *LLM) Propose(ctx context.Context, tr *transcript.Transcript) (*Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	prompt := buildPrompt(tr)
	raw, err := l.llm.Complete(ctx, systemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, 1024)
	if err != nil {
		l.logger.Warn("oracle call failed", "call_id", tr.CallID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	cand, err := ParseCandidate(raw)
	if err != nil {
		l.logger.Warn("oracle reply unparseable", "call_id", tr.CallID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	l.logger.Debug("oracle candidate",
		"call_id", tr.CallID,
		"tipo", cand.Tipo,
		"motivo", cand.Motivo,
		"confianza", cand.Confianza,
	)
	return cand, nil
}

// ParseCandidate extracts a Candidate from a model reply that may wrap the
// JSON in prose or markdown fences.
func ParseCandidate(raw string) (*Candidate, error) {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var cand Candidate
	if err := json.Unmarshal(payload, &cand); err != nil {
		return nil, fmt.Errorf("unmarshal candidate: %w", err)
	}
	if cand.Tipo == "" && cand.Motivo == "" {
		return nil, fmt.Errorf("candidate missing tipo and motivo")
	}
	if cand.Confianza < 0 {
		cand.Confianza = 0
	}
	if cand.Confianza > 1 {
		cand.Confianza = 1
	}
	return &cand, nil
}

// ExtractJSON pulls the first top-level JSON object out of free text,
// tolerating ```json fences and surrounding prose.
func ExtractJSON(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := json.RawMessage(s[start : i+1])
				if !json.Valid(candidate) {
					return nil, fmt.Errorf("invalid JSON object in reply")
				}
				return candidate, nil
			}
		}
	}
	return nil, fmt.Errorf("unterminated JSON object in reply")
}
