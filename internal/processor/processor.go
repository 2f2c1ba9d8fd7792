// Package processor wires the classification pipeline to its inputs and
// outputs: call events in, decisions persisted and published out.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/polizaops/triage/internal/bus"
	"github.com/polizaops/triage/internal/engine"
	"github.com/polizaops/triage/internal/transcript"
)

// TranscriptEvent is the payload on calls.transcript.stored.
type TranscriptEvent struct {
	CallID string               `json:"call_id"`
	Turns  []transcript.RawTurn `json:"turns"`
}

// DecisionWriter persists decisions. Satisfied by *store.Store.
type DecisionWriter interface {
	WriteDecision(ctx context.Context, d *engine.Decision) (uuid.UUID, error)
}

// Publisher emits decision events. Satisfied by *bus.Client.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor runs transcripts through the engine and fans the result out.
// Stateless per call; events may be handled concurrently.
type Processor struct {
	engine *engine.Engine
	store  DecisionWriter
	pub    Publisher
	logger *slog.Logger
}

func New(eng *engine.Engine, store DecisionWriter, pub Publisher, logger *slog.Logger) *Processor {
	return &Processor{engine: eng, store: store, pub: pub, logger: logger}
}

// HandleTranscriptStored is the NATS handler for calls.transcript.stored.
func (p *Processor) HandleTranscriptStored(subject string, data []byte) {
	ctx := context.Background()

	var evt TranscriptEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse transcript event", "error", err)
		return
	}
	if evt.CallID == "" {
		p.logger.Error("transcript event missing call_id")
		return
	}

	if _, _, err := p.Process(ctx, evt.CallID, evt.Turns); err != nil {
		var malformed *transcript.MalformedError
		if errors.As(err, &malformed) {
			p.logger.Error("unclassifiable transcript", "call_id", evt.CallID, "error", err)
			return
		}
		p.logger.Error("processing failed", "call_id", evt.CallID, "error", err)
	}
}

// Process normalizes, classifies, persists and publishes one call. The
// returned id is uuid.Nil when no store is configured.
func (p *Processor) Process(ctx context.Context, callID string, turns []transcript.RawTurn) (*engine.Decision, uuid.UUID, error) {
	tr, err := transcript.Normalize(callID, turns)
	if err != nil {
		return nil, uuid.Nil, err
	}

	d, err := p.engine.Classify(ctx, tr)
	if err != nil {
		return nil, uuid.Nil, err
	}

	id := uuid.Nil
	if p.store != nil {
		id, err = p.store.WriteDecision(ctx, d)
		if err != nil {
			// The decision still stands; persistence is retried by replaying
			// the event.
			p.logger.Error("persist decision failed", "call_id", callID, "error", err)
		}
	}

	if p.pub != nil {
		p.publish(d, id)
	}

	return d, id, nil
}

func (p *Processor) publish(d *engine.Decision, id uuid.UUID) {
	payload := map[string]any{
		"decision_id":     id.String(),
		"call_id":         d.CallID,
		"tipo":            d.Primary.Entry.Tipo,
		"motivo":          d.Primary.Entry.Motivo,
		"confidence":      d.Confidence,
		"degraded":        d.Degraded,
		"total_gestiones": d.TotalManagements(),
	}
	if err := p.pub.Publish(bus.SubjectDecisionCreated, payload); err != nil {
		p.logger.Error("publish decision failed", "call_id", d.CallID, "error", err)
	}

	if d.NeedsReview {
		review := map[string]any{
			"decision_id": id.String(),
			"call_id":     d.CallID,
			"reason":      d.ReviewReason,
			"confidence":  d.Confidence,
		}
		if err := p.pub.Publish(bus.SubjectDecisionReview, review); err != nil {
			p.logger.Error("publish review flag failed", "call_id", d.CallID, "error", err)
		}
	}
}
