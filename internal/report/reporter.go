package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dark-ant616/DarkDiskz/internal/planner"
)

// StepResult is the finished outcome of one plan step.
type StepResult struct {
	Index    int           `json:"index"`
	StepID   string        `json:"step_id"`
	Code     int           `json:"code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Reporter is a pure sink for execution progress. Implementations must
// preserve step ordering; they never mutate system state.
type Reporter interface {
	StepStarted(txID string, index int, step planner.Step)
	StepFinished(txID string, res StepResult)
	Finished(txID string, ok bool, failedStep int, errMsg string)
}

// LogReporter appends JSON lines to a per-transaction log file and mirrors
// them to the process logger. The file is what the SSE stream tails.
type LogReporter struct {
	Dir string
	Log zerolog.Logger
}

// LogPath returns the step log location for a transaction.
func LogPath(dir, txID string) string {
	return filepath.Join(dir, "tx", txID+".log")
}

func (r *LogReporter) append(txID string, rec map[string]any) {
	p := LogPath(r.Dir, txID)
	_ = os.MkdirAll(filepath.Dir(p), 0o755)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	rec["ts"] = time.Now().UTC().Format(time.RFC3339)
	b, _ := json.Marshal(rec)
	fmt.Fprintln(f, string(b))
}

func (r *LogReporter) StepStarted(txID string, index int, step planner.Step) {
	r.Log.Info().Str("tx", txID).Int("step", index+1).Str("id", step.ID).Msg("step starting")
	r.append(txID, map[string]any{"event": "step-start", "stepId": step.ID, "index": index + 1, "msg": step.Description})
}

func (r *LogReporter) StepFinished(txID string, res StepResult) {
	ev := r.Log.Info()
	if res.Code != 0 {
		ev = r.Log.Warn()
	}
	ev.Str("tx", txID).Int("step", res.Index+1).Str("id", res.StepID).Int("code", res.Code).
		Dur("duration", res.Duration).Msg("step finished")
	r.append(txID, map[string]any{
		"event": "step-finish", "stepId": res.StepID, "index": res.Index + 1,
		"code": res.Code, "stdout": res.Stdout, "stderr": res.Stderr,
		"durationMs": res.Duration.Milliseconds(),
	})
}

func (r *LogReporter) Finished(txID string, ok bool, failedStep int, errMsg string) {
	if ok {
		r.Log.Info().Str("tx", txID).Msg("transaction completed")
		r.append(txID, map[string]any{"event": "done", "ok": true})
		return
	}
	r.Log.Error().Str("tx", txID).Int("failedStep", failedStep).Str("err", errMsg).Msg("transaction failed")
	r.append(txID, map[string]any{"event": "done", "ok": false, "failedStep": failedStep, "msg": errMsg})
}

// ReadLogTail returns log lines starting at cursor, up to max, plus the
// next cursor value.
func ReadLogTail(dir, txID string, cursor, max int) (lines []string, next int) {
	f, err := os.Open(LogPath(dir, txID))
	if err != nil {
		return []string{}, cursor
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	idx := 0
	for sc.Scan() {
		if idx >= cursor {
			lines = append(lines, sc.Text())
			if len(lines) >= max {
				idx++
				break
			}
		}
		idx++
	}
	return lines, idx
}

// Multi fans out to several reporters in order.
type Multi []Reporter

func (m Multi) StepStarted(txID string, index int, step planner.Step) {
	for _, r := range m {
		r.StepStarted(txID, index, step)
	}
}

func (m Multi) StepFinished(txID string, res StepResult) {
	for _, r := range m {
		r.StepFinished(txID, res)
	}
}

func (m Multi) Finished(txID string, ok bool, failedStep int, errMsg string) {
	for _, r := range m {
		r.Finished(txID, ok, failedStep, errMsg)
	}
}
