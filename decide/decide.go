// Package decide implements the per-unit admission/retry policy (C5):
// a pure decision function over injected cache/scheduler/suite
// interfaces, and a separate effectful step that carries the decision
// out.
package decide

import (
	"context"
	"fmt"
	"time"

	"github.com/bbockelm/lsfspool/cache"
	"github.com/bbockelm/lsfspool/errs"
	"github.com/bbockelm/lsfspool/lsfadapter"
	"github.com/bbockelm/lsfspool/logging"
	"github.com/bbockelm/lsfspool/spool"
	"github.com/bbockelm/lsfspool/suite"
)

// Kind distinguishes the variants of Decision.
type Kind int

const (
	Skip Kind = iota
	Sleep
	MarkComplete
	Abandon
	SubmitWhole
	SubmitFiles
	RequeueQueueFull
)

// Decision is the outcome of one decider pass. Only the fields
// relevant to Kind are populated.
type Decision struct {
	Kind Kind

	// Sleep
	SleepSeconds int

	// SubmitWhole
	ArraySpec string

	// SubmitFiles
	Files []string
}

// Cache is the subset of cache.Cache the decider needs, expressed as
// an interface so tests can substitute a stub.
type Cache interface {
	Fetch(ctx context.Context, key string) (cache.Record, bool, error)
	SetComplete(ctx context.Context, key string, state cache.Complete) error
	SetFiles(ctx context.Context, key string, state cache.Complete, files []string) error
	StampTime(ctx context.Context, key string) error
	Counter(ctx context.Context, key string) error
}

// Scheduler is the subset of lsfadapter.Adapter the decider needs.
type Scheduler interface {
	RunningCount(ctx context.Context, jobName string) (int, error)
	QueueDepth(ctx context.Context, queue, user string) (int, error)
	Submit(ctx context.Context, spec lsfadapter.SubmitSpec) (jobID string, result lsfadapter.Result, err error)
}

// Policy carries the configuration values the decider consults.
type Policy struct {
	Queue        string
	User         string
	SleepVal     int
	QueueCeiling int
	QueueFloor   int
	ChurnRate    int
	LSFTries     int
	StopFlagPath string
	BuildOnly    bool
	HighPriority bool
	Email        string
	BsubArgs     string
	LogsDir      string
}

// Now returns the current unix timestamp. It is a variable so tests
// can substitute a deterministic clock.
var Now = func() int64 { return time.Now().Unix() }

// Decide runs the ordered per-unit policy of the admission/retry
// control loop against unit, returning the next Decision. It performs
// no I/O other than through cache, sched, statFileExists, and suiteImpl.
func Decide(ctx context.Context, c Cache, sched Scheduler, statFileExists func(string) bool, unit spool.Unit, inputs []spool.Entry, suiteImpl suite.Suite, policy Policy) (Decision, error) {
	key := unit.Dir
	now := Now()

	// 1. Terminal check.
	rec, ok, err := c.Fetch(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if ok && rec.Complete == cache.Done {
		return Decision{Kind: Skip}, nil
	}

	// 2. Churn guard.
	if ok && rec.Time != 0 && now-rec.Time < int64(policy.ChurnRate) {
		return Decision{Kind: Sleep, SleepSeconds: policy.SleepVal}, nil
	}

	// 3. Stamp time.
	if err := c.StampTime(ctx, key); err != nil {
		return Decision{}, err
	}

	// 4. Running guard.
	running, err := sched.RunningCount(ctx, unit.Name)
	if err != nil {
		return Decision{}, err
	}
	if running > 0 {
		return Decision{Kind: Skip}, nil
	}

	// 5. Validate on filesystem.
	if len(inputs) == 0 {
		return Decision{Kind: Skip}, nil
	}

	var incomplete []string
	for _, in := range inputs {
		if !suiteImpl.IsComplete(in.Path) {
			incomplete = append(incomplete, in.Name)
		}
	}

	if len(incomplete) == 0 {
		if err := c.SetComplete(ctx, key, cache.Done); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: MarkComplete}, nil
	}

	allIncomplete := len(incomplete) == len(inputs)
	if allIncomplete {
		if err := c.SetFiles(ctx, key, cache.Incomplete, nil); err != nil {
			return Decision{}, err
		}
	} else {
		if err := c.SetFiles(ctx, key, cache.Incomplete, incomplete); err != nil {
			return Decision{}, err
		}
	}

	// 6. Build-only short-circuit.
	if policy.BuildOnly {
		return Decision{Kind: Skip}, nil
	}

	// 7. Queue admission.
	depth, err := sched.QueueDepth(ctx, policy.Queue, policy.User)
	if err != nil {
		return Decision{}, err
	}
	if depth != lsfadapter.QueueDepthUnknown && depth > policy.QueueCeiling {
		return Decision{Kind: RequeueQueueFull, SleepSeconds: policy.SleepVal}, nil
	}

	// 8. Retry cap.
	if policy.LSFTries > 0 && rec.Count >= policy.LSFTries {
		if err := c.SetComplete(ctx, key, cache.Abandoned); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: Abandon}, nil
	}

	// 9. Stop flag.
	if policy.StopFlagPath != "" && statFileExists(policy.StopFlagPath) {
		if err := c.StampTime(ctx, key); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: Skip}, nil
	}

	// 10. Submit.
	if allIncomplete {
		spec, err := spool.ArraySpecForUnit(unit.Name, len(inputs))
		if err != nil {
			return Decision{}, err
		}
		return Decision{Kind: SubmitWhole, ArraySpec: spec}, nil
	}
	return Decision{Kind: SubmitFiles, Files: incomplete}, nil
}

// Apply carries out the side effects named by a Decision: sleeping,
// submitting, and updating the cache's count/time after a submission.
// decide.Decide never performs these itself.
func Apply(ctx context.Context, c Cache, sched Scheduler, unit spool.Unit, suiteImpl suite.Suite, policy Policy, sleep func(seconds int), log *logging.Logger, d Decision) error {
	key := unit.Dir

	switch d.Kind {
	case Skip:
		return nil

	case MarkComplete:
		log.Info(logging.DestinationScheduler, "unit complete", "unit", unit.Name)
		return nil

	case Abandon:
		log.Warn(logging.DestinationScheduler, "unit abandoned: retry cap reached", "unit", unit.Name)
		return nil

	case Sleep:
		log.Debug(logging.DestinationScheduler, "sleeping", "unit", unit.Name, "seconds", d.SleepSeconds)
		sleep(d.SleepSeconds)
		return nil

	case RequeueQueueFull:
		log.Debug(logging.DestinationScheduler, "queue above ceiling, waiting for floor", "unit", unit.Name, "ceiling", policy.QueueCeiling, "floor", policy.QueueFloor)
		for {
			sleep(d.SleepSeconds)
			depth, err := sched.QueueDepth(ctx, policy.Queue, policy.User)
			if err != nil {
				return err
			}
			if depth == lsfadapter.QueueDepthUnknown || depth < policy.QueueFloor {
				return nil
			}
		}

	case SubmitWhole:
		inputToken := fmt.Sprintf("%s-$LSB_JOBINDEX", unit.Name)
		command := suiteImpl.Action(unit.Dir, inputToken)
		log.Info(logging.DestinationScheduler, "submitting unit", "unit", unit.Name, "array", d.ArraySpec)
		_, _, err := sched.Submit(ctx, lsfadapter.SubmitSpec{
			UnitDir:      unit.Dir,
			ArraySpec:    d.ArraySpec,
			InputToken:   inputToken,
			Command:      command,
			Queue:        policy.Queue,
			LogsDir:      policy.LogsDir,
			Email:        policy.Email,
			BsubArgs:     policy.BsubArgs,
			HighPriority: policy.HighPriority,
		})
		if err != nil {
			if !isQueueClosed(err) && !errs.Is(err, errs.KindSchedulerTransient) {
				return err
			}
			log.Warn(logging.DestinationScheduler, "submission not accepted, not counted", "unit", unit.Name, "array", d.ArraySpec, "error", err)
			return nil
		}
		if err := c.Counter(ctx, key); err != nil {
			return err
		}
		return nil

	case SubmitFiles:
		log.Info(logging.DestinationScheduler, "submitting incomplete files", "unit", unit.Name, "files", d.Files)
		for _, name := range d.Files {
			spec, err := spool.ArraySpecForFile(unit.Name, name)
			if err != nil {
				return err
			}
			command := suiteImpl.Action(unit.Dir, name)
			_, _, err = sched.Submit(ctx, lsfadapter.SubmitSpec{
				UnitDir:      unit.Dir,
				ArraySpec:    spec,
				InputToken:   name,
				Command:      command,
				Queue:        policy.Queue,
				LogsDir:      policy.LogsDir,
				Email:        policy.Email,
				BsubArgs:     policy.BsubArgs,
				HighPriority: policy.HighPriority,
			})
			if err != nil {
				if !isQueueClosed(err) && !errs.Is(err, errs.KindSchedulerTransient) {
					return err
				}
				log.Warn(logging.DestinationScheduler, "submission not accepted, not counted", "unit", unit.Name, "array", spec, "error", err)
				continue
			}
			if err := c.Counter(ctx, key); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

func isQueueClosed(err error) bool {
	return errs.Is(err, errs.KindQueueClosed)
}
