package executor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dark-ant616/DarkDiskz/internal/config"
	"github.com/dark-ant616/DarkDiskz/internal/planner"
	"github.com/dark-ant616/DarkDiskz/internal/report"
	"github.com/dark-ant616/DarkDiskz/pkg/agentclient"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string // "cmd arg arg"
	fstab    []string
	detached []string
	failAt   int // 1-based step call to fail, 0 = never
	errAt    int // 1-based step call to fail with a transport error
}

func (f *fakeRunner) RunStep(ctx context.Context, cmd string, args []string) (agentclient.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.TrimSpace(cmd+" "+strings.Join(args, " ")))
	if f.errAt > 0 && len(f.calls) == f.errAt {
		return agentclient.RunResult{}, errors.New("agent unreachable")
	}
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return agentclient.RunResult{Code: 2, Stderr: "boom"}, nil
	}
	if cmd == "blkid" {
		return agentclient.RunResult{Code: 0, Stdout: "9a1f3c7e-0000-4a4a-8888-deadbeef0001\n"}, nil
	}
	return agentclient.RunResult{Code: 0, Stdout: "ok"}, nil
}

func (f *fakeRunner) EnsureFstab(ctx context.Context, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fstab = append(f.fstab, line)
	return nil
}

func (f *fakeRunner) DetachBcache(ctx context.Context, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, device)
	return nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recReporter struct {
	mu      sync.Mutex
	results []report.StepResult
	done    bool
	ok      bool
	failed  int
}

func (r *recReporter) StepStarted(txID string, index int, step planner.Step) {}
func (r *recReporter) StepFinished(txID string, res report.StepResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}
func (r *recReporter) Finished(txID string, ok bool, failedStep int, errMsg string) {
	r.mu.Lock()
	r.done, r.ok, r.failed = true, ok, failedStep
	r.mu.Unlock()
}

func testExecutor(t *testing.T) (*Executor, *fakeRunner, *recReporter) {
	t.Helper()
	cfg := config.Config{
		StateDir:    t.TempDir(),
		FstabFormat: "%s\t%s\t%s\t%s\t0 2",
		StepTimeout: 5 * time.Second,
	}
	run := &fakeRunner{}
	rep := &recReporter{}
	e := New(cfg, zerolog.Nop(), rep)
	e.SetRunner(run)
	return e, run, rep
}

func raidPlan() *planner.Plan {
	return &planner.Plan{
		ID:      uuid.NewString(),
		Kind:    planner.KindCreateRaid,
		Devices: []string{"/dev/sdb", "/dev/sdc"},
		Steps: []planner.Step{
			{ID: "wipefs-check-1", Cmd: "wipefs", Args: []string{"-n", "/dev/sdb"}},
			{ID: "zero-superblock-1", Cmd: "mdadm", Args: []string{"--zero-superblock", "/dev/sdb"}, Destructive: true, BestEffort: true},
			{ID: "mdadm-create", Cmd: "mdadm", Args: []string{"--create", "/dev/md0", "--level=1", "--raid-devices=2", "--run", "/dev/sdb", "/dev/sdc"}, Destructive: true},
		},
		State:     planner.StateValidated,
		CreatedAt: time.Now().UTC(),
	}
}

func waitDone(t *testing.T, e *Executor, txID string) *Tx {
	t.Helper()
	select {
	case tx := <-e.Wait(txID):
		return tx
	case <-time.After(5 * time.Second):
		t.Fatal("transaction did not finish")
		return nil
	}
}

func TestExecuteWithoutTokenRunsNothing(t *testing.T) {
	e, run, _ := testExecutor(t)
	p := raidPlan()
	tok, err := e.Register(p)
	if err != nil {
		t.Fatal(err)
	}
	if tok == "" {
		t.Fatal("destructive plan must yield a confirmation token")
	}
	if _, err := e.Execute(p.ID, ""); err != ErrConfirmationRequired {
		t.Fatalf("err = %v, want ErrConfirmationRequired", err)
	}
	if _, err := e.Execute(p.ID, "not-the-token"); err != ErrConfirmationRequired {
		t.Fatalf("err = %v, want ErrConfirmationRequired", err)
	}
	if n := run.callCount(); n != 0 {
		t.Fatalf("runner invoked %d times before confirmation", n)
	}
}

func TestTokenIsSingleUseAndPlanBound(t *testing.T) {
	c := NewConfirmations()
	tok := c.Issue("plan-a")
	if c.Redeem("plan-b", tok) {
		t.Fatal("token redeemed against a different plan")
	}
	if !c.Redeem("plan-a", tok) {
		t.Fatal("valid token rejected")
	}
	if c.Redeem("plan-a", tok) {
		t.Fatal("token redeemed twice")
	}
	old := c.Issue("plan-a")
	_ = c.Issue("plan-a")
	if c.Redeem("plan-a", old) {
		t.Fatal("reissuing must invalidate the previous token")
	}
}

func TestFailureAbortsRemainingSteps(t *testing.T) {
	e, run, rep := testExecutor(t)
	p := &planner.Plan{
		ID:      uuid.NewString(),
		Kind:    planner.KindWipe,
		Devices: []string{"/dev/sdb"},
		Steps: []planner.Step{
			{ID: "wipefs-check", Cmd: "wipefs", Args: []string{"-n", "/dev/sdb"}},
			{ID: "wipe", Cmd: "wipefs", Args: []string{"-a", "/dev/sdb"}, Destructive: true},
			{ID: "settle", Cmd: "udevadm", Args: []string{"settle"}},
		},
		State:     planner.StateValidated,
		CreatedAt: time.Now().UTC(),
	}
	run.failAt = 1
	tok, err := e.Register(p)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := e.Execute(p.ID, tok)
	if err != nil {
		t.Fatal(err)
	}
	got := waitDone(t, e, tx.ID)
	if got.State != planner.StateFailed {
		t.Fatalf("state = %s, want %s", got.State, planner.StateFailed)
	}
	if got.FailedStep != 1 {
		t.Fatalf("FailedStep = %d, want 1", got.FailedStep)
	}
	if n := run.callCount(); n != 1 {
		t.Fatalf("runner invoked %d times, later steps must not run", n)
	}
	for _, st := range got.Steps[1:] {
		if st.Status != StepSkipped {
			t.Fatalf("step %s status = %s, want %s", st.ID, st.Status, StepSkipped)
		}
	}
	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.results) != 1 {
		t.Fatalf("reporter saw %d step results, want 1", len(rep.results))
	}
	if rep.ok || rep.failed != 1 {
		t.Fatalf("reporter finish ok=%v failed=%d", rep.ok, rep.failed)
	}
}

func TestBestEffortStepDoesNotAbort(t *testing.T) {
	e, run, _ := testExecutor(t)
	p := raidPlan()
	run.failAt = 2 // the zero-superblock step, marked best-effort
	tok, err := e.Register(p)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := e.Execute(p.ID, tok)
	if err != nil {
		t.Fatal(err)
	}
	got := waitDone(t, e, tx.ID)
	if got.State != planner.StateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
	if n := run.callCount(); n != 3 {
		t.Fatalf("runner invoked %d times, want 3", n)
	}
}

func TestHappyPathReleasesHoldsAndPersists(t *testing.T) {
	e, run, rep := testExecutor(t)
	p := raidPlan()
	tok, err := e.Register(p)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := e.Execute(p.ID, tok)
	if err != nil {
		t.Fatal(err)
	}
	got := waitDone(t, e, tx.ID)
	if got.State != planner.StateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
	if n := run.callCount(); n != len(p.Steps) {
		t.Fatalf("runner invoked %d times, want %d", n, len(p.Steps))
	}
	if h := e.Holds(); len(h) != 0 {
		t.Fatalf("holds not released: %v", h)
	}
	loaded, found, err := LoadTx(e.cfg.StateDir, tx.ID)
	if err != nil || !found {
		t.Fatalf("LoadTx: found=%v err=%v", found, err)
	}
	if loaded.State != planner.StateCompleted {
		t.Fatalf("persisted state = %s", loaded.State)
	}
	rep.mu.Lock()
	defer rep.mu.Unlock()
	if !rep.done || !rep.ok {
		t.Fatalf("reporter finish done=%v ok=%v", rep.done, rep.ok)
	}
	if len(rep.results) != len(p.Steps) {
		t.Fatalf("reporter saw %d results, want %d", len(rep.results), len(p.Steps))
	}
	for i, res := range rep.results {
		if res.Index != i {
			t.Fatalf("result %d has index %d, order lost", i, res.Index)
		}
	}
}

func TestDeviceHoldBlocksOverlappingPlan(t *testing.T) {
	e, _, _ := testExecutor(t)
	e.mu.Lock()
	e.holds["/dev/sdb"] = "tx-other"
	e.mu.Unlock()
	p := raidPlan()
	tok, err := e.Register(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(p.ID, tok); err == nil || !strings.Contains(err.Error(), "device busy") {
		t.Fatalf("err = %v, want device busy", err)
	}
}

func TestFstabStepUsesBlkidUUID(t *testing.T) {
	e, run, _ := testExecutor(t)
	p := &planner.Plan{
		ID:      uuid.NewString(),
		Kind:    planner.KindFstabEntry,
		Devices: []string{"/dev/md1"},
		Steps: []planner.Step{
			{ID: "blkid-uuid", Cmd: "blkid", Args: []string{"-s", "UUID", "-o", "value", "/dev/md1"}, BestEffort: true},
			{ID: "fstab-ensure", Cmd: planner.CmdFstabEnsure, Args: []string{"/dev/md1", "/mnt/data", "ext4", "defaults"}},
		},
		State:     planner.StateValidated,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := e.Register(p); err != nil {
		t.Fatal(err)
	}
	tx, err := e.Execute(p.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	got := waitDone(t, e, tx.ID)
	if got.State != planner.StateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
	if len(run.fstab) != 1 {
		t.Fatalf("fstab written %d times, want 1", len(run.fstab))
	}
	want := "UUID=9a1f3c7e-0000-4a4a-8888-deadbeef0001\t/mnt/data\text4\tdefaults\t0 2"
	if run.fstab[0] != want {
		t.Fatalf("fstab line:\n got %q\nwant %q", run.fstab[0], want)
	}
}

func TestCancelStopsBeforeNextStep(t *testing.T) {
	e, _, _ := testExecutor(t)
	started := make(chan struct{})
	release := make(chan struct{})
	e.SetRunner(&blockingRunner{started: started, release: release})
	p := &planner.Plan{
		ID:      uuid.NewString(),
		Kind:    planner.KindWipe,
		Devices: []string{"/dev/sdb"},
		Steps: []planner.Step{
			{ID: "one", Cmd: "wipefs", Args: []string{"-n", "/dev/sdb"}},
			{ID: "two", Cmd: "wipefs", Args: []string{"-n", "/dev/sdb"}},
		},
		State:     planner.StateValidated,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := e.Register(p); err != nil {
		t.Fatal(err)
	}
	tx, err := e.Execute(p.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if !e.Cancel(tx.ID) {
		t.Fatal("Cancel returned false for a running tx")
	}
	close(release)
	got := waitDone(t, e, tx.ID)
	if got.State != planner.StateAborted {
		t.Fatalf("state = %s, want aborted", got.State)
	}
	if got.Steps[0].Status != StepOK {
		t.Fatalf("in-flight step status = %s, want ok", got.Steps[0].Status)
	}
	if got.Steps[1].Status != StepCanceled {
		t.Fatalf("pending step status = %s, want canceled", got.Steps[1].Status)
	}
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRunner) RunStep(ctx context.Context, cmd string, args []string) (agentclient.RunResult, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return agentclient.RunResult{Code: 0}, nil
}

func (b *blockingRunner) EnsureFstab(ctx context.Context, line string) error { return nil }

func (b *blockingRunner) DetachBcache(ctx context.Context, device string) error { return nil }

func TestTxSnapshotsAreIsolatedFromExecution(t *testing.T) {
	e, _, _ := testExecutor(t)
	started := make(chan struct{})
	release := make(chan struct{})
	e.SetRunner(&blockingRunner{started: started, release: release})
	p := raidPlan()
	tok, err := e.Register(p)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := e.Execute(p.ID, tok)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	// hammer the record the way handleTxGet does while steps execute
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			got, ok := e.Tx(tx.ID)
			if !ok {
				t.Error("running tx disappeared")
				return
			}
			if _, err := json.Marshal(got); err != nil {
				t.Errorf("marshal tx: %v", err)
				return
			}
		}
	}()

	snap, ok := e.Tx(tx.ID)
	if !ok {
		t.Fatal("tx not found")
	}
	snap.State = planner.StateAborted
	snap.Steps[0].Status = "scribbled"
	snap.Steps[0].Args[0] = "--evil"
	again, _ := e.Tx(tx.ID)
	if again.State == planner.StateAborted || again.Steps[0].Status == "scribbled" || again.Steps[0].Args[0] == "--evil" {
		t.Fatal("caller mutation leaked into the live transaction")
	}

	close(release)
	got := waitDone(t, e, tx.ID)
	close(stop)
	wg.Wait()
	if got.State != planner.StateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
}

func TestPlanSnapshotIsACopy(t *testing.T) {
	e, _, _ := testExecutor(t)
	p := raidPlan()
	if _, err := e.Register(p); err != nil {
		t.Fatal(err)
	}
	got, ok := e.Plan(p.ID)
	if !ok {
		t.Fatal("plan not found")
	}
	got.State = planner.StateAborted
	got.Steps[0].Args[0] = "--evil"
	again, _ := e.Plan(p.ID)
	if again.State != planner.StateConfirmationPending {
		t.Fatalf("state = %s, caller mutation leaked", again.State)
	}
	if again.Steps[0].Args[0] != "-n" {
		t.Fatalf("args = %v, caller mutation leaked", again.Steps[0].Args)
	}
}

func TestTransportErrorRecordsNegativeCode(t *testing.T) {
	e, run, _ := testExecutor(t)
	run.errAt = 1
	p := &planner.Plan{
		ID:      uuid.NewString(),
		Kind:    planner.KindWipe,
		Devices: []string{"/dev/sdb"},
		Steps: []planner.Step{
			{ID: "wipe", Cmd: "wipefs", Args: []string{"-a", "/dev/sdb"}, Destructive: true},
		},
		State:     planner.StateValidated,
		CreatedAt: time.Now().UTC(),
	}
	tok, err := e.Register(p)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := e.Execute(p.ID, tok)
	if err != nil {
		t.Fatal(err)
	}
	got := waitDone(t, e, tx.ID)
	if got.State != planner.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	st := got.Steps[0]
	if st.Code == nil || *st.Code != -1 {
		t.Fatalf("step code = %v, a transport failure must not read as exit 0", st.Code)
	}
	if !strings.Contains(st.Stderr, "agent unreachable") {
		t.Fatalf("stderr = %q, want the transport error", st.Stderr)
	}
}

func TestBcacheDetachStepGoesThroughAgent(t *testing.T) {
	e, run, _ := testExecutor(t)
	p := &planner.Plan{
		ID:      uuid.NewString(),
		Kind:    planner.KindWipe,
		Devices: []string{"/dev/sdb"},
		Steps: []planner.Step{
			{ID: "bcache-detach", Cmd: planner.CmdBcacheDetach, Args: []string{"/dev/sdb"}, Destructive: true},
			{ID: "wipefs-all", Cmd: "wipefs", Args: []string{"-a", "/dev/sdb"}, Destructive: true},
		},
		State:     planner.StateValidated,
		CreatedAt: time.Now().UTC(),
	}
	tok, err := e.Register(p)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := e.Execute(p.ID, tok)
	if err != nil {
		t.Fatal(err)
	}
	got := waitDone(t, e, tx.ID)
	if got.State != planner.StateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if len(run.detached) != 1 || run.detached[0] != "/dev/sdb" {
		t.Fatalf("detached = %v, want [/dev/sdb]", run.detached)
	}
	if len(run.calls) != 1 || !strings.HasPrefix(run.calls[0], "wipefs") {
		t.Fatalf("calls = %v, detach must not reach the run endpoint", run.calls)
	}
}
