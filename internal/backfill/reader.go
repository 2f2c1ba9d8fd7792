// Package backfill replays historical call transcripts through the
// classification pipeline. Input is the telephony platform's JSONL export,
// one call per line; progress is checkpointed so interrupted runs resume
// where they left off.
package backfill

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/polizaops/triage/internal/transcript"
)

// ExportedCall is one line of a transcript export file.
type ExportedCall struct {
	CallID string               `json:"call_id"`
	Turns  []transcript.RawTurn `json:"turns"`
}

// ReadExport parses a JSONL export file. Blank lines are skipped; a line that
// is not valid JSON or lacks a call_id is reported but does not stop the read.
func ReadExport(path string) ([]ExportedCall, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{fmt.Errorf("open export: %w", err)}
	}
	defer f.Close()

	var calls []ExportedCall
	var errs []error

	sc := bufio.NewScanner(f)
	// Long calls produce long lines.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var call ExportedCall
		if err := json.Unmarshal(raw, &call); err != nil {
			errs = append(errs, fmt.Errorf("%s line %d: %w", path, line, err))
			continue
		}
		if call.CallID == "" {
			errs = append(errs, fmt.Errorf("%s line %d: missing call_id", path, line))
			continue
		}
		calls = append(calls, call)
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, fmt.Errorf("read %s: %w", path, err))
	}
	return calls, errs
}
