package planner

import "time"

// Step is a single external-command invocation. Destructive steps require
// a confirmed plan and, once confirmed, cannot be silently skipped.
type Step struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Cmd         string   `json:"cmd"`
	Args        []string `json:"args,omitempty"`
	Destructive bool     `json:"destructive"`
	// BestEffort steps do not abort the plan on non-zero exit.
	BestEffort bool `json:"best_effort,omitempty"`
}

// Pseudo-commands handled by the executor itself rather than an external
// binary. fstab-ensure args: device, mountpoint, fstype, options; the
// source is resolved from the preceding blkid step's output.
// bcache-detach args: the member device to detach from its bcache set.
const (
	CmdFstabEnsure  = "fstab-ensure"
	CmdBcacheDetach = "bcache-detach"
)

// State is a plan's lifecycle position. Transitions never skip validated
// and never re-enter drafted.
type State string

const (
	StateDrafted             State = "drafted"
	StateValidated           State = "validated"
	StateConfirmationPending State = "confirmation_pending"
	StateConfirmed           State = "confirmed"
	StateExecuting           State = "executing"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
	StateAborted             State = "aborted"
)

var transitions = map[State][]State{
	StateDrafted:             {StateValidated},
	StateValidated:           {StateConfirmationPending, StateConfirmed, StateAborted},
	StateConfirmationPending: {StateConfirmed, StateAborted},
	StateConfirmed:           {StateExecuting, StateAborted},
	StateExecuting:           {StateCompleted, StateFailed, StateAborted},
}

// CanTransition reports whether from→to is a legal lifecycle move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state has no outgoing transitions.
func Terminal(s State) bool { return len(transitions[s]) == 0 }

// Plan is an ordered, validated sequence of steps against a fixed set of
// target devices.
type Plan struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Devices   []string  `json:"devices"`
	Steps     []Step    `json:"steps"`
	Warnings  []string  `json:"warnings,omitempty"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	out := *p
	out.Devices = append([]string(nil), p.Devices...)
	out.Warnings = append([]string(nil), p.Warnings...)
	out.Steps = append([]Step(nil), p.Steps...)
	for i := range out.Steps {
		out.Steps[i].Args = append([]string(nil), p.Steps[i].Args...)
	}
	return &out
}

// Destructive reports whether any step requires confirmation.
func (p *Plan) Destructive() bool {
	for _, s := range p.Steps {
		if s.Destructive {
			return true
		}
	}
	return false
}
