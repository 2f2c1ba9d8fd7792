package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polizaops/triage/internal/engine"
	"github.com/polizaops/triage/internal/transcript"
)

// Pipeline is what the runner needs from the processor.
type Pipeline interface {
	Process(ctx context.Context, callID string, turns []transcript.RawTurn) (*engine.Decision, uuid.UUID, error)
}

// Config holds the backfill command configuration.
type Config struct {
	Dir        string // directory of JSONL export files
	SingleFile string // replay one file only
	StatePath  string
	BatchSize  int           // calls between checkpoint saves
	Pause      time.Duration // pause between batches
}

// Runner replays export files call by call.
type Runner struct {
	cfg      Config
	pipeline Pipeline
	logger   *slog.Logger
}

func NewRunner(cfg Config, pipeline Pipeline, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Runner{cfg: cfg, pipeline: pipeline, logger: logger}
}

// Run replays every unprocessed export file, checkpointing as it goes. A
// cancelled context saves state and returns; the next run resumes.
func (r *Runner) Run(ctx context.Context) error {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("export files discovered", "files", len(files))

	inBatch := 0
	for _, path := range files {
		if state.IsProcessed(path) {
			continue
		}

		calls, readErrs := ReadExport(path)
		for _, re := range readErrs {
			r.logger.Warn("export read problem", "error", re)
			state.AddError(re.Error())
		}
		r.logger.Info("replaying file", "path", path, "calls", len(calls))

		for _, call := range calls {
			select {
			case <-ctx.Done():
				r.logger.Info("backfill interrupted, saving state")
				_ = state.Save()
				return ctx.Err()
			default:
			}

			d, _, err := r.pipeline.Process(ctx, call.CallID, call.Turns)
			if err != nil {
				var malformed *transcript.MalformedError
				if errors.As(err, &malformed) {
					r.logger.Warn("skipping malformed call", "call_id", call.CallID, "error", err)
					state.AddError(fmt.Sprintf("call %s: %v", call.CallID, err))
					continue
				}
				_ = state.Save()
				return fmt.Errorf("process call %s: %w", call.CallID, err)
			}

			state.CallsProcessed++
			if d.NeedsReview {
				state.CallsFlagged++
			}

			inBatch++
			if inBatch >= r.cfg.BatchSize {
				_ = state.Save()
				inBatch = 0
				if r.cfg.Pause > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(r.cfg.Pause):
					}
				}
			}
		}

		state.MarkProcessed(path)
		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save state", "error", err)
		}
	}

	_ = state.Save()
	r.logger.Info("backfill complete",
		"files", len(files),
		"calls_processed", state.CallsProcessed,
		"calls_flagged", state.CallsFlagged,
		"errors", len(state.Errors),
	)
	return nil
}

func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		if _, err := os.Stat(r.cfg.SingleFile); err != nil {
			return nil, fmt.Errorf("export file not found: %s", r.cfg.SingleFile)
		}
		return []string{r.cfg.SingleFile}, nil
	}

	var files []string
	err := filepath.Walk(r.cfg.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", r.cfg.Dir, err)
	}
	sort.Strings(files)
	return files, nil
}
