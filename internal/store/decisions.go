package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/polizaops/triage/internal/engine"
)

// DecisionRecord is one persisted classification, as read back for the API.
type DecisionRecord struct {
	ID           uuid.UUID `json:"id"`
	CallID       string    `json:"call_id"`
	Tipo         string    `json:"tipo"`
	Motivo       string    `json:"motivo"`
	Confidence   float64   `json:"confidence"`
	Degraded     bool      `json:"degraded"`
	NeedsReview  bool      `json:"needs_review"`
	ReviewStatus string    `json:"review_status"`
	Total        int       `json:"total_gestiones"`
	CreatedAt    time.Time `json:"created_at"`
}

// WriteDecision persists a full Decision across the triage tables.
// Tables: call_decisions, call_incidents, call_signals.
func (s *Store) WriteDecision(ctx context.Context, d *engine.Decision) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	datos, err := json.Marshal(d.Datos)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal datos: %w", err)
	}

	reviewStatus := "none"
	if d.NeedsReview {
		reviewStatus = "pending"
	}

	decisionID := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO call_decisions
			(id, call_id, tipo, motivo, ramo, es_rellamada, confidence, degraded,
			 phase, narrative, datos, multiple_gestiones, total_gestiones,
			 needs_review, review_status, review_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())`,
		decisionID, d.CallID, d.Primary.Entry.Tipo, d.Primary.Entry.Motivo,
		nullable(d.Primary.Ramo), d.Primary.IsRecall, d.Confidence, d.Degraded,
		d.Phase, d.Narrative, datos, d.MultipleManagements(), d.TotalManagements(),
		d.NeedsReview, reviewStatus, nullable(d.ReviewReason),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert decision: %w", err)
	}

	if err := insertIncident(ctx, tx, decisionID, 0, d.Primary); err != nil {
		return uuid.Nil, err
	}
	for i, sec := range d.Secondary {
		if err := insertIncident(ctx, tx, decisionID, i+1, sec); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return decisionID, nil
}

// insertIncident writes one incident row plus its supporting signal rows.
// Position 0 is the primary.
func insertIncident(ctx context.Context, tx pgx.Tx, decisionID uuid.UUID, position int, inc engine.Incident) error {
	incidentID := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO call_incidents (id, decision_id, position, tipo, motivo, ramo, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		incidentID, decisionID, position, inc.Entry.Tipo, inc.Entry.Motivo,
		nullable(inc.Ramo), inc.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert incident %d: %w", position, err)
	}

	for _, sig := range inc.Signals {
		_, err := tx.Exec(ctx, `
			INSERT INTO call_signals (id, incident_id, family, topic, span, strength, turn_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), incidentID, string(sig.Family), string(sig.Topic),
			sig.Span, sig.Strength, sig.TurnIndex,
		)
		if err != nil {
			return fmt.Errorf("insert signal: %w", err)
		}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// UpdateReviewStatus records the outcome of a manual review.
func (s *Store) UpdateReviewStatus(ctx context.Context, decisionID uuid.UUID, status, note string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE call_decisions SET review_status = $1, review_note = $2, reviewed_at = now()
		WHERE id = $3`,
		status, note, decisionID,
	)
	return err
}

// ListRecent returns the newest decisions, pending-review first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, tipo, motivo, confidence, degraded, needs_review,
		       review_status, total_gestiones, created_at
		FROM call_decisions
		ORDER BY needs_review DESC, created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.Tipo, &rec.Motivo,
			&rec.Confidence, &rec.Degraded, &rec.NeedsReview,
			&rec.ReviewStatus, &rec.Total, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return out, nil
}
