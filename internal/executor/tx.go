package executor

import (
	"path/filepath"
	"time"

	"github.com/dark-ant616/DarkDiskz/internal/fsatomic"
	"github.com/dark-ant616/DarkDiskz/internal/planner"
)

// StepStatus values for TxStep.Status.
const (
	StepPending  = "pending"
	StepRunning  = "running"
	StepOK       = "ok"
	StepError    = "error"
	StepSkipped  = "skipped"
	StepCanceled = "canceled"
)

// TxStep records one step's execution state inside a transaction.
type TxStep struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Cmd         string     `json:"cmd"`
	Args        []string   `json:"args,omitempty"`
	Destructive bool       `json:"destructive"`
	BestEffort  bool       `json:"best_effort,omitempty"`
	Status      string     `json:"status"`
	Code        *int       `json:"code,omitempty"`
	Stdout      string     `json:"stdout,omitempty"`
	Stderr      string     `json:"stderr,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Tx is the durable record of one plan execution. Its State mirrors the
// plan lifecycle; FailedStep is 1-based, 0 meaning no failure.
type Tx struct {
	ID         string        `json:"id"`
	PlanID     string        `json:"plan_id"`
	Kind       planner.Kind  `json:"kind"`
	Devices    []string      `json:"devices"`
	Steps      []TxStep      `json:"steps"`
	State      planner.State `json:"state"`
	FailedStep int           `json:"failed_step,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// clone returns a deep copy of the transaction. The executor hands
// copies to callers so the run goroutine can keep mutating the live
// record under its own lock.
func (t *Tx) clone() *Tx {
	out := *t
	out.Devices = append([]string(nil), t.Devices...)
	out.Steps = append([]TxStep(nil), t.Steps...)
	for i := range out.Steps {
		s := &out.Steps[i]
		s.Args = append([]string(nil), s.Args...)
		if s.Code != nil {
			c := *s.Code
			s.Code = &c
		}
		if s.StartedAt != nil {
			ts := *s.StartedAt
			s.StartedAt = &ts
		}
		if s.FinishedAt != nil {
			ts := *s.FinishedAt
			s.FinishedAt = &ts
		}
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		out.FinishedAt = &ts
	}
	return &out
}

func txPath(stateDir, id string) string {
	return filepath.Join(stateDir, "tx", id+".json")
}

func saveTx(stateDir string, t *Tx) error {
	return fsatomic.SaveJSON(txPath(stateDir, t.ID), t, 0o600)
}

// LoadTx reads a transaction record from the state directory.
func LoadTx(stateDir, id string) (*Tx, bool, error) {
	var t Tx
	found, err := fsatomic.LoadJSON(txPath(stateDir, id), &t)
	if err != nil || !found {
		return nil, found, err
	}
	return &t, true, nil
}
