package decide_test

import (
	"context"
	"os"
	"testing"

	"github.com/bbockelm/lsfspool/cache"
	"github.com/bbockelm/lsfspool/decide"
	"github.com/bbockelm/lsfspool/lsfadapter"
	"github.com/bbockelm/lsfspool/logging"
	"github.com/bbockelm/lsfspool/spool"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(&logging.Config{OutputPath: os.DevNull, MinVerbosity: logging.VerbosityDebug})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	return l
}

type stubCache struct {
	records map[string]cache.Record
}

func newStubCache() *stubCache {
	return &stubCache{records: make(map[string]cache.Record)}
}

func (s *stubCache) Fetch(ctx context.Context, key string) (cache.Record, bool, error) {
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *stubCache) SetComplete(ctx context.Context, key string, state cache.Complete) error {
	rec := s.records[key]
	rec.SpoolName = key
	rec.Complete = state
	rec.Time = decide.Now()
	s.records[key] = rec
	return nil
}

func (s *stubCache) SetFiles(ctx context.Context, key string, state cache.Complete, files []string) error {
	rec := s.records[key]
	rec.SpoolName = key
	rec.Complete = state
	rec.Files = cache.FormatFiles(files)
	s.records[key] = rec
	return nil
}

func (s *stubCache) StampTime(ctx context.Context, key string) error {
	rec := s.records[key]
	rec.SpoolName = key
	rec.Time = decide.Now()
	s.records[key] = rec
	return nil
}

func (s *stubCache) Counter(ctx context.Context, key string) error {
	rec := s.records[key]
	rec.SpoolName = key
	rec.Count++
	s.records[key] = rec
	return nil
}

type stubScheduler struct {
	running    int
	queueDepth int
	// queueDepthSeq, when non-empty, overrides queueDepth: each call to
	// QueueDepth returns the next value (the last value repeats once
	// exhausted), letting tests simulate a queue draining over polls.
	queueDepthSeq   []int
	queueDepthCalls int
	submits         []lsfadapter.SubmitSpec
}

func (s *stubScheduler) RunningCount(ctx context.Context, jobName string) (int, error) {
	return s.running, nil
}

func (s *stubScheduler) QueueDepth(ctx context.Context, queue, user string) (int, error) {
	if len(s.queueDepthSeq) == 0 {
		return s.queueDepth, nil
	}
	idx := s.queueDepthCalls
	if idx >= len(s.queueDepthSeq) {
		idx = len(s.queueDepthSeq) - 1
	}
	s.queueDepthCalls++
	return s.queueDepthSeq[idx], nil
}

func (s *stubScheduler) Submit(ctx context.Context, spec lsfadapter.SubmitSpec) (string, lsfadapter.Result, error) {
	s.submits = append(s.submits, spec)
	return "1", lsfadapter.Submitted, nil
}

type stubSuite struct {
	complete map[string]bool
}

func (s stubSuite) Action(unitDir, inputName string) string { return "run " + inputName }
func (s stubSuite) IsComplete(inputPath string) bool        { return s.complete[inputPath] }

func alwaysAbsent(string) bool { return false }

func unitWithInputs(t *testing.T, names ...string) (spool.Unit, []spool.Entry) {
	t.Helper()
	dir := t.TempDir()
	unit := spool.Unit{Name: "u", Dir: dir}
	var entries []spool.Entry
	for _, n := range names {
		entries = append(entries, spool.Entry{Name: n, Path: dir + "/" + n})
	}
	return unit, entries
}

func basePolicy() decide.Policy {
	return decide.Policy{
		Queue:        "normal",
		SleepVal:     5,
		QueueCeiling: 100,
		QueueFloor:   50,
		ChurnRate:    60,
		LSFTries:     0,
	}
}

// Scenario 1: fresh unit, all outputs already present.
func TestScenarioAllComplete(t *testing.T) {
	unit, inputs := unitWithInputs(t, "u-1", "u-2")
	c := newStubCache()
	sched := &stubScheduler{}
	s := stubSuite{complete: map[string]bool{inputs[0].Path: true, inputs[1].Path: true}}

	d, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, inputs, s, basePolicy())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind != decide.MarkComplete {
		t.Fatalf("Kind = %v, want MarkComplete", d.Kind)
	}
	if len(sched.submits) != 0 {
		t.Errorf("expected zero bsub calls, got %d", len(sched.submits))
	}
}

// Scenario 2: fresh unit, no outputs.
func TestScenarioNoOutputs(t *testing.T) {
	unit, inputs := unitWithInputs(t, "u-1", "u-2")
	c := newStubCache()
	sched := &stubScheduler{}
	s := stubSuite{complete: map[string]bool{}}

	d, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, inputs, s, basePolicy())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind != decide.SubmitWhole {
		t.Fatalf("Kind = %v, want SubmitWhole", d.Kind)
	}
	if d.ArraySpec != "u[1-2]" {
		t.Errorf("ArraySpec = %q, want u[1-2]", d.ArraySpec)
	}

	if err := decide.Apply(context.Background(), c, sched, unit, s, basePolicy(), func(int) {}, testLogger(t), d); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(sched.submits) != 1 || sched.submits[0].ArraySpec != "u[1-2]" {
		t.Errorf("expected one submit with u[1-2], got %+v", sched.submits)
	}
	rec, _, _ := c.Fetch(context.Background(), unit.Dir)
	if rec.Count != 1 {
		t.Errorf("Count = %d, want 1", rec.Count)
	}
}

// Scenario 3: partial unit.
func TestScenarioPartial(t *testing.T) {
	unit, inputs := unitWithInputs(t, "u-1", "u-2", "u-3")
	c := newStubCache()
	sched := &stubScheduler{}
	s := stubSuite{complete: map[string]bool{inputs[1].Path: true}}

	d, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, inputs, s, basePolicy())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind != decide.SubmitFiles {
		t.Fatalf("Kind = %v, want SubmitFiles", d.Kind)
	}
	if len(d.Files) != 2 || d.Files[0] != "u-1" || d.Files[1] != "u-3" {
		t.Errorf("Files = %v, want [u-1 u-3]", d.Files)
	}

	if err := decide.Apply(context.Background(), c, sched, unit, s, basePolicy(), func(int) {}, testLogger(t), d); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(sched.submits) != 2 {
		t.Fatalf("expected 2 bsub calls, got %d", len(sched.submits))
	}
	if sched.submits[0].ArraySpec != "u[1]" || sched.submits[1].ArraySpec != "u[3]" {
		t.Errorf("unexpected array specs: %+v", sched.submits)
	}
	rec, _, _ := c.Fetch(context.Background(), unit.Dir)
	if rec.Count != 2 {
		t.Errorf("Count = %d, want 2 (one per submitted file, per spec scenario 3)", rec.Count)
	}
}

// Scenario 4: churn guard.
func TestScenarioChurn(t *testing.T) {
	unit, inputs := unitWithInputs(t, "u-1")
	c := newStubCache()
	sched := &stubScheduler{}
	s := stubSuite{complete: map[string]bool{}}
	policy := basePolicy()

	origNow := decide.Now
	decide.Now = func() int64 { return 1000 }
	defer func() { decide.Now = origNow }()

	if _, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, inputs, s, policy); err != nil {
		t.Fatalf("first Decide: %v", err)
	}

	decide.Now = func() int64 { return 1010 } // 10s later, within churnrate=60
	d, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, inputs, s, policy)
	if err != nil {
		t.Fatalf("second Decide: %v", err)
	}
	if d.Kind != decide.Sleep {
		t.Fatalf("Kind = %v, want Sleep", d.Kind)
	}
	if len(sched.submits) != 0 {
		t.Errorf("expected no scheduler calls during churn guard, got %d submits", len(sched.submits))
	}
}

// Scenario 5: retry cap.
func TestScenarioRetryCap(t *testing.T) {
	unit, inputs := unitWithInputs(t, "u-1")
	c := newStubCache()
	c.records[unit.Dir] = cache.Record{SpoolName: unit.Dir, Count: 2}
	sched := &stubScheduler{}
	s := stubSuite{complete: map[string]bool{}}
	policy := basePolicy()
	policy.LSFTries = 2

	d, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, inputs, s, policy)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind != decide.Abandon {
		t.Fatalf("Kind = %v, want Abandon", d.Kind)
	}
	if len(sched.submits) != 0 {
		t.Errorf("expected no bsub calls, got %d", len(sched.submits))
	}
	rec, _, _ := c.Fetch(context.Background(), unit.Dir)
	if rec.Complete != cache.Abandoned {
		t.Errorf("Complete = %v, want Abandoned", rec.Complete)
	}
}

// Scenario 6: stop flag.
func TestScenarioStopFlag(t *testing.T) {
	unit, inputs := unitWithInputs(t, "u-1")
	c := newStubCache()
	sched := &stubScheduler{}
	s := stubSuite{complete: map[string]bool{}}
	policy := basePolicy()
	policy.StopFlagPath = "/tmp/stop"

	d, err := decide.Decide(context.Background(), c, sched, func(string) bool { return true }, unit, inputs, s, policy)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind != decide.Skip {
		t.Fatalf("Kind = %v, want Skip", d.Kind)
	}
	if len(sched.submits) != 0 {
		t.Errorf("expected no bsub calls, got %d", len(sched.submits))
	}
	rec, ok, _ := c.Fetch(context.Background(), unit.Dir)
	if !ok || rec.Complete == cache.Done {
		t.Errorf("expected complete to remain 0, got %+v", rec)
	}
}

func TestEmptyUnitNoInputsSkipsAndDoesNotSubmit(t *testing.T) {
	unit := spool.Unit{Name: "u", Dir: t.TempDir()}
	c := newStubCache()
	sched := &stubScheduler{}
	s := stubSuite{complete: map[string]bool{}}

	d, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, nil, s, basePolicy())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind != decide.Skip {
		t.Fatalf("Kind = %v, want Skip", d.Kind)
	}
}

func TestRunningGuardSkipsWithoutValidation(t *testing.T) {
	unit, inputs := unitWithInputs(t, "u-1")
	c := newStubCache()
	sched := &stubScheduler{running: 1}
	s := stubSuite{complete: map[string]bool{}}

	d, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, inputs, s, basePolicy())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind != decide.Skip {
		t.Fatalf("Kind = %v, want Skip", d.Kind)
	}
	rec, ok, _ := c.Fetch(context.Background(), unit.Dir)
	if ok && rec.Complete == cache.Done {
		t.Error("running guard must not mark the unit complete")
	}
}

func TestQueueCeilingExactIsNotAboveCeiling(t *testing.T) {
	unit, inputs := unitWithInputs(t, "u-1")
	c := newStubCache()
	policy := basePolicy()
	policy.QueueCeiling = 100
	sched := &stubScheduler{queueDepth: 100}
	s := stubSuite{complete: map[string]bool{}}

	d, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, inputs, s, policy)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind == decide.RequeueQueueFull {
		t.Error("queue depth equal to ceiling must not be treated as above ceiling")
	}
}

func TestQueueFullWaitsForFloor(t *testing.T) {
	unit, _ := unitWithInputs(t, "u-1")
	c := newStubCache()
	sched := &stubScheduler{queueDepthSeq: []int{80, 70, 40}}
	s := stubSuite{complete: map[string]bool{}}
	policy := basePolicy()
	policy.QueueCeiling = 100
	policy.QueueFloor = 50

	d := decide.Decision{Kind: decide.RequeueQueueFull, SleepSeconds: 1}
	sleeps := 0
	sleepFn := func(int) { sleeps++ }

	if err := decide.Apply(context.Background(), c, sched, unit, s, policy, sleepFn, testLogger(t), d); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if sleeps != 3 {
		t.Errorf("sleeps = %d, want 3 (one per poll until depth < floor)", sleeps)
	}
	if sched.queueDepthCalls != 3 {
		t.Errorf("QueueDepth calls = %d, want 3", sched.queueDepthCalls)
	}
	if len(sched.submits) != 0 {
		t.Errorf("expected no submission from a queue-full wait, got %d", len(sched.submits))
	}
}

func TestQueueFullStopsOnUnknownDepth(t *testing.T) {
	unit, _ := unitWithInputs(t, "u-1")
	c := newStubCache()
	sched := &stubScheduler{queueDepth: lsfadapter.QueueDepthUnknown}
	s := stubSuite{complete: map[string]bool{}}
	policy := basePolicy()

	d := decide.Decision{Kind: decide.RequeueQueueFull, SleepSeconds: 1}
	sleeps := 0
	if err := decide.Apply(context.Background(), c, sched, unit, s, policy, func(int) { sleeps++ }, testLogger(t), d); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if sleeps != 1 {
		t.Errorf("sleeps = %d, want 1 (unknown depth stops the wait loop)", sleeps)
	}
}

func TestUnknownQueueDepthProceeds(t *testing.T) {
	unit, inputs := unitWithInputs(t, "u-1")
	c := newStubCache()
	policy := basePolicy()
	sched := &stubScheduler{queueDepth: lsfadapter.QueueDepthUnknown}
	s := stubSuite{complete: map[string]bool{}}

	d, err := decide.Decide(context.Background(), c, sched, alwaysAbsent, unit, inputs, s, policy)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Kind != decide.SubmitWhole {
		t.Fatalf("Kind = %v, want SubmitWhole when queue depth is unknown", d.Kind)
	}
}
