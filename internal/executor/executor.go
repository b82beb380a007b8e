package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dark-ant616/DarkDiskz/internal/config"
	"github.com/dark-ant616/DarkDiskz/internal/planner"
	"github.com/dark-ant616/DarkDiskz/internal/report"
	"github.com/dark-ant616/DarkDiskz/pkg/agentclient"
)

var (
	ErrUnknownPlan          = errors.New("unknown plan")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrDeviceBusy           = errors.New("device busy")
	ErrAlreadyRunning       = errors.New("plan already executing")
)

// StepRunner executes a single allowlisted command through the
// privileged agent and returns its outcome. Implementations must not
// interpret the command themselves.
type StepRunner interface {
	RunStep(ctx context.Context, cmd string, args []string) (agentclient.RunResult, error)
	EnsureFstab(ctx context.Context, line string) error
	DetachBcache(ctx context.Context, device string) error
}

type agentRunner struct{ c *agentclient.Client }

func (a agentRunner) RunStep(ctx context.Context, cmd string, args []string) (agentclient.RunResult, error) {
	res, err := a.c.Run(ctx, []agentclient.RunStep{{Cmd: cmd, Args: args}})
	if err != nil {
		return agentclient.RunResult{}, err
	}
	if len(res) == 0 {
		return agentclient.RunResult{}, errors.New("agent returned no result")
	}
	return res[0], nil
}

func (a agentRunner) EnsureFstab(ctx context.Context, line string) error {
	return a.c.EnsureFstab(ctx, line)
}

func (a agentRunner) DetachBcache(ctx context.Context, device string) error {
	return a.c.BcacheDetach(ctx, device)
}

// Executor owns validated plans, confirmation tokens, device holds and
// running transactions. All privileged work is delegated to the agent
// through the StepRunner.
type Executor struct {
	cfg      config.Config
	log      zerolog.Logger
	runner   StepRunner
	reporter report.Reporter
	confirm  *Confirmations

	mu      sync.Mutex
	plans   map[string]*planner.Plan
	txs     map[string]*Tx
	holds   map[string]string // device path -> tx ID
	cancels map[string]context.CancelFunc
	waiters map[string][]chan *Tx
}

func New(cfg config.Config, log zerolog.Logger, rep report.Reporter) *Executor {
	return &Executor{
		cfg:      cfg,
		log:      log,
		runner:   agentRunner{c: agentclient.New(cfg.AgentSocket)},
		reporter: rep,
		confirm:  NewConfirmations(),
		plans:    map[string]*planner.Plan{},
		txs:      map[string]*Tx{},
		holds:    map[string]string{},
		cancels:  map[string]context.CancelFunc{},
		waiters:  map[string][]chan *Tx{},
	}
}

// SetRunner swaps the step runner. Intended for tests.
func (e *Executor) SetRunner(r StepRunner) { e.runner = r }

// Register stores a validated plan and returns the confirmation token
// that must accompany Execute when the plan is destructive.
func (e *Executor) Register(p *planner.Plan) (token string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.State != planner.StateValidated {
		return "", fmt.Errorf("plan %s is %s, want %s", p.ID, p.State, planner.StateValidated)
	}
	e.plans[p.ID] = p
	if p.Destructive() {
		if err := transition(p, planner.StateConfirmationPending); err != nil {
			return "", err
		}
		return e.confirm.Issue(p.ID), nil
	}
	return "", nil
}

// Plan returns a deep copy of a registered plan by ID. Copies keep
// readers off the live record the run goroutine mutates.
func (e *Executor) Plan(id string) (*planner.Plan, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plans[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Tx returns a deep copy of a live or loaded transaction by ID.
func (e *Executor) Tx(id string) (*Tx, bool) {
	e.mu.Lock()
	if t, ok := e.txs[id]; ok {
		snap := t.clone()
		e.mu.Unlock()
		return snap, true
	}
	e.mu.Unlock()
	t, found, err := LoadTx(e.cfg.StateDir, id)
	if err != nil || !found {
		return nil, false
	}
	return t, true
}

// Holds reports the devices currently claimed by executing
// transactions, keyed by device path.
func (e *Executor) Holds() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.holds))
	for d, id := range e.holds {
		out[d] = id
	}
	return out
}

// Execute starts a registered plan. Destructive plans require the
// one-shot token issued at registration; no command is dispatched
// until the token is redeemed. The returned transaction runs in the
// background; completion is observable via Wait or Tx.
func (e *Executor) Execute(planID, token string) (*Tx, error) {
	e.mu.Lock()
	p, ok := e.plans[planID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrUnknownPlan
	}
	if p.State == planner.StateExecuting {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	switch p.State {
	case planner.StateConfirmationPending:
		if !e.confirm.Redeem(planID, token) {
			e.mu.Unlock()
			return nil, ErrConfirmationRequired
		}
		if err := transition(p, planner.StateConfirmed); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	case planner.StateValidated:
		// non-destructive plans confirm implicitly
		if err := transition(p, planner.StateConfirmed); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	for _, d := range p.Devices {
		if holder, busy := e.holds[d]; busy {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %s held by tx %s", ErrDeviceBusy, d, holder)
		}
	}
	tx := newTx(p)
	if err := transition(p, planner.StateExecuting); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	tx.State = planner.StateExecuting
	e.txs[tx.ID] = tx
	for _, d := range p.Devices {
		e.holds[d] = tx.ID
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancels[tx.ID] = cancel
	e.mu.Unlock()

	if err := saveTx(e.cfg.StateDir, tx); err != nil {
		e.log.Warn().Err(err).Str("tx", tx.ID).Msg("persist transaction")
	}
	// snapshot before the goroutine starts mutating the live record
	snap := tx.clone()
	go e.run(ctx, p, tx)
	return snap, nil
}

// Cancel requests that tx stop before its next step. Steps already
// dispatched run to completion; the transaction ends Aborted.
func (e *Executor) Cancel(txID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[txID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait returns a channel that receives the finished transaction.
func (e *Executor) Wait(txID string) <-chan *Tx {
	ch := make(chan *Tx, 1)
	e.mu.Lock()
	if t, ok := e.txs[txID]; ok && t.FinishedAt != nil {
		ch <- t.clone()
		e.mu.Unlock()
		return ch
	}
	e.waiters[txID] = append(e.waiters[txID], ch)
	e.mu.Unlock()
	return ch
}

func newTx(p *planner.Plan) *Tx {
	tx := &Tx{
		ID:        p.ID,
		PlanID:    p.ID,
		Kind:      p.Kind,
		Devices:   append([]string(nil), p.Devices...),
		State:     p.State,
		StartedAt: time.Now().UTC(),
	}
	for _, s := range p.Steps {
		tx.Steps = append(tx.Steps, TxStep{
			ID:          s.ID,
			Name:        s.Description,
			Cmd:         s.Cmd,
			Args:        append([]string(nil), s.Args...),
			Destructive: s.Destructive,
			BestEffort:  s.BestEffort,
			Status:      StepPending,
		})
	}
	return tx
}

func (e *Executor) run(ctx context.Context, p *planner.Plan, tx *Tx) {
	var uuidOut string // stdout of the last blkid step, for fstab lines
	failed := 0
	canceled := false

	for i := range tx.Steps {
		if ctx.Err() != nil {
			canceled = true
			e.markRemaining(tx, i, StepCanceled)
			break
		}
		st := &tx.Steps[i]
		now := time.Now().UTC()
		e.mu.Lock()
		st.Status = StepRunning
		st.StartedAt = &now
		e.mu.Unlock()
		e.reporter.StepStarted(tx.ID, i, p.Steps[i])
		e.persist(tx)

		res, err := e.dispatch(st, uuidOut)
		fin := time.Now().UTC()
		code := res.Code
		if err != nil && code == 0 {
			// transport failure: the tool never reported an exit status
			code = -1
		}

		ok := err == nil && res.Code == 0
		if !ok && st.BestEffort {
			e.log.Debug().Str("tx", tx.ID).Str("step", st.ID).Int("code", code).
				Msg("best-effort step failed, continuing")
			ok = true
		}
		e.mu.Lock()
		st.FinishedAt = &fin
		st.Code = &code
		st.Stdout = res.Stdout
		st.Stderr = res.Stderr
		if ok {
			st.Status = StepOK
			if strings.HasPrefix(st.ID, "blkid-uuid") {
				uuidOut = strings.TrimSpace(res.Stdout)
			}
		} else {
			st.Status = StepError
			if err != nil && st.Stderr == "" {
				st.Stderr = err.Error()
			}
			failed = i + 1
		}
		stderr := st.Stderr
		e.mu.Unlock()
		e.reporter.StepFinished(tx.ID, report.StepResult{
			Index:    i,
			StepID:   st.ID,
			Code:     code,
			Stdout:   res.Stdout,
			Stderr:   stderr,
			Duration: fin.Sub(now),
		})
		e.persist(tx)
		if failed > 0 {
			e.markRemaining(tx, i+1, StepSkipped)
			break
		}
	}

	end := time.Now().UTC()
	e.mu.Lock()
	tx.FinishedAt = &end
	switch {
	case canceled:
		tx.State = planner.StateAborted
		tx.Error = "canceled"
	case failed > 0:
		tx.State = planner.StateFailed
		tx.FailedStep = failed
		tx.Error = fmt.Sprintf("step %d (%s) failed", failed, tx.Steps[failed-1].ID)
	default:
		tx.State = planner.StateCompleted
	}
	_ = transition(p, tx.State)
	done := tx.clone()
	e.mu.Unlock()
	e.persist(tx)
	e.reporter.Finished(done.ID, done.State == planner.StateCompleted, done.FailedStep, done.Error)
	e.log.Info().Str("tx", done.ID).Str("state", string(done.State)).Int("failed_step", done.FailedStep).
		Msg("transaction finished")

	e.mu.Lock()
	for d, id := range e.holds {
		if id == tx.ID {
			delete(e.holds, d)
		}
	}
	delete(e.cancels, tx.ID)
	waiters := e.waiters[tx.ID]
	delete(e.waiters, tx.ID)
	e.mu.Unlock()
	for _, ch := range waiters {
		ch <- done
	}
}

// dispatch runs one step. Cancellation is between-steps only, so the
// step context descends from Background rather than the transaction
// context: a dispatched command always runs to completion (or its
// timeout). Pseudo-steps are resolved here: fstab-ensure args carry
// device, mountpoint, filesystem and options, and the line written
// prefers the UUID reported by the preceding blkid step; bcache-detach
// goes through the agent's sysfs endpoint.
func (e *Executor) dispatch(st *TxStep, uuidOut string) (agentclient.RunResult, error) {
	stepCtx, cancel := context.WithTimeout(context.Background(), e.cfg.StepTimeout)
	defer cancel()

	switch st.Cmd {
	case planner.CmdFstabEnsure:
		if len(st.Args) != 4 {
			return agentclient.RunResult{Code: 1}, fmt.Errorf("fstab step wants 4 args, got %d", len(st.Args))
		}
		source := st.Args[0]
		if uuidOut != "" {
			source = "UUID=" + uuidOut
		}
		line := fmt.Sprintf(e.cfg.FstabFormat, source, st.Args[1], st.Args[2], st.Args[3])
		if err := e.runner.EnsureFstab(stepCtx, line); err != nil {
			return agentclient.RunResult{Code: 1, Stderr: err.Error()}, err
		}
		return agentclient.RunResult{Code: 0, Stdout: line}, nil
	case planner.CmdBcacheDetach:
		if len(st.Args) != 1 {
			return agentclient.RunResult{Code: 1}, fmt.Errorf("bcache detach step wants 1 arg, got %d", len(st.Args))
		}
		if err := e.runner.DetachBcache(stepCtx, st.Args[0]); err != nil {
			return agentclient.RunResult{Code: 1, Stderr: err.Error()}, err
		}
		return agentclient.RunResult{Code: 0}, nil
	}
	return e.runner.RunStep(stepCtx, st.Cmd, st.Args)
}

func (e *Executor) markRemaining(tx *Tx, from int, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for j := from; j < len(tx.Steps); j++ {
		if tx.Steps[j].Status == StepPending {
			tx.Steps[j].Status = status
		}
	}
}

func (e *Executor) persist(tx *Tx) {
	if err := saveTx(e.cfg.StateDir, tx); err != nil {
		e.log.Warn().Err(err).Str("tx", tx.ID).Msg("persist transaction")
	}
}

func transition(p *planner.Plan, to planner.State) error {
	if !planner.CanTransition(p.State, to) {
		return fmt.Errorf("invalid plan state change %s -> %s", p.State, to)
	}
	p.State = to
	return nil
}
