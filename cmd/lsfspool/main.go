// Package main is the lsfspool CLI entrypoint: parse flags, load
// configuration, construct the scheduler/cache/suite components, and
// dispatch to exactly one action.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bbockelm/lsfspool/cache"
	"github.com/bbockelm/lsfspool/config"
	"github.com/bbockelm/lsfspool/decide"
	"github.com/bbockelm/lsfspool/lsfadapter"
	"github.com/bbockelm/lsfspool/logging"
	"github.com/bbockelm/lsfspool/ratelimit"
	"github.com/bbockelm/lsfspool/spool"
	"github.com/bbockelm/lsfspool/suite"
	_ "github.com/bbockelm/lsfspool/suite/echo"
	"github.com/bbockelm/lsfspool/sweep"
	"github.com/bbockelm/lsfspool/validate"
	"github.com/bbockelm/lsfspool/version"
)

var (
	configPath   = flag.String("C", "", "config file path (required)")
	buildOnly    = flag.Bool("b", false, "build-only sweep (populates cache; may still submit unless -n)")
	reportCount  = flag.Bool("c", false, "report running-job count for the argument")
	debug        = flag.Bool("d", false, "debug logging")
	endPos       = flag.String("E", "", "end after this unit (requires a single spool-dir argument)")
	usage        = flag.Bool("h", false, "usage")
	cachePath    = flag.String("i", "", "cache file path override")
	logPath      = flag.String("l", "", "log file path override")
	dryRun       = flag.Bool("n", false, "dry-run: log the submit command, do not execute")
	fullProcess  = flag.Bool("p", false, "full process: build cache + sweep until terminal")
	highPriority = flag.Bool("r", false, "resubmit with high priority (-sp 300)")
	singleShot   = flag.Bool("s", false, "single-shot submit")
	startPos     = flag.String("S", "", "start at this unit")
	validateOnly = flag.Bool("v", false, "validate only")
	showVersion  = flag.Bool("V", false, "version")
	waitDrain    = flag.Bool("w", false, "wait for running jobs to drain")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *usage {
		flag.Usage()
		return
	}

	if err := run(flag.Args()); err != nil {
		log.Fatalf("lsfspool: %v", err)
	}
}

type actionFlags struct {
	buildOnly, reportCount, dryRun, fullProcess, highPriority,
	singleShot, validateOnly, waitDrain bool
}

// countActions returns how many mutually exclusive action flags are set.
func countActions(f actionFlags) int {
	n := 0
	for _, b := range []bool{f.buildOnly, f.reportCount, f.fullProcess, f.singleShot, f.validateOnly, f.waitDrain} {
		if b {
			n++
		}
	}
	return n
}

// canonicalizeArgs resolves each argument to an absolute, cleaned
// path, matching the spool-path-as-cache-key invariant.
func canonicalizeArgs(args []string) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("resolve path %q: %w", a, err)
		}
		out[i] = filepath.Clean(abs)
	}
	return out, nil
}

// checkUniformArgType requires every argument to be a directory, or
// every argument to be a file — never a mix.
func checkUniformArgType(args []string) (dirs bool, err error) {
	if len(args) == 0 {
		return false, nil
	}
	sawDir, sawFile := false, false
	for _, a := range args {
		info, statErr := os.Stat(a)
		if statErr != nil {
			return false, fmt.Errorf("stat %q: %w", a, statErr)
		}
		if info.IsDir() {
			sawDir = true
		} else {
			sawFile = true
		}
	}
	if sawDir && sawFile {
		return false, fmt.Errorf("arguments must be uniformly files or uniformly directories, not a mix")
	}
	return sawDir, nil
}

func run(args []string) error {
	flags := actionFlags{
		buildOnly:    *buildOnly,
		reportCount:  *reportCount,
		dryRun:       *dryRun,
		fullProcess:  *fullProcess,
		highPriority: *highPriority,
		singleShot:   *singleShot,
		validateOnly: *validateOnly,
		waitDrain:    *waitDrain,
	}
	if countActions(flags) > 1 {
		return fmt.Errorf("at most one action flag may be given")
	}

	if *configPath == "" {
		return fmt.Errorf("-C <path> is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	verbosity := logging.VerbosityInfo
	if *debug {
		verbosity = logging.VerbosityDebug
	}
	if *logPath != "" {
		cfg.LogFile = *logPath
	}
	logger, err := logging.FromConfig(cfg, verbosity)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	args, err = canonicalizeArgs(args)
	if err != nil {
		return err
	}
	dirs, err := checkUniformArgType(args)
	if err != nil {
		return err
	}

	suiteImpl, err := suite.Lookup(cfg.Suite.Name, cfg.Suite.Parameters)
	if err != nil {
		return err
	}

	cachePathValue := *cachePath
	if cachePathValue == "" && len(args) > 0 {
		cachePathValue = args[0] + ".cache"
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The running-count report (-c) and drain wait (-w) never use the
	// cache, and the validator is a read-only pass unless an operator
	// explicitly names a cache file with -i; every other action needs one.
	needsCache := !flags.reportCount && !flags.waitDrain && (!flags.validateOnly || *cachePath != "")
	var c *cache.Cache
	if needsCache {
		c, err = cache.Open(ctx, cachePathValue)
		if err != nil {
			return err
		}
		defer c.Close()
	}

	limiter := ratelimit.FromConfig(cfg)
	var runner lsfadapter.Runner = lsfadapter.ExecRunner{}
	if *dryRun {
		runner = dryRunRunner{log: logger}
	}
	sched := lsfadapter.New(runner, limiter)

	policy := buildPolicy(cfg, flags)

	switch {
	case flags.reportCount:
		return actionReportCount(ctx, sched, args, dirs)
	case flags.validateOnly:
		var vc validate.Cache
		if *cachePath != "" {
			vc = c
		}
		return actionValidate(ctx, vc, args, suiteImpl, dirs)
	case flags.waitDrain:
		return actionWaitDrain(ctx, sched, args, policy, dirs)
	case flags.buildOnly:
		return actionBuild(ctx, c, sched, suiteImpl, args, policy, logger, dirs)
	case flags.fullProcess:
		return actionFullProcess(ctx, c, sched, suiteImpl, args, policy, logger, dirs)
	case flags.singleShot:
		return actionSingleShot(ctx, c, sched, suiteImpl, args, policy, logger, dirs)
	default:
		return actionBuild(ctx, c, sched, suiteImpl, args, policy, logger, dirs)
	}
}

// buildPolicy assembles the config-derived decision policy, except for
// LogsDir: that is a sibling of whichever spool root or unit is being
// worked, so each action fills it in per root before use.
func buildPolicy(cfg *config.Config, flags actionFlags) decide.Policy {
	return decide.Policy{
		Queue:        cfg.Queue,
		User:         cfg.User,
		SleepVal:     cfg.SleepVal,
		QueueCeiling: cfg.QueueCeiling,
		QueueFloor:   cfg.QueueFloor,
		ChurnRate:    cfg.ChurnRate,
		LSFTries:     cfg.LSFTries,
		StopFlagPath: cfg.StopFlag,
		BuildOnly:    false,
		HighPriority: flags.highPriority,
		Email:        cfg.Email,
		BsubArgs:     cfg.BsubArgs,
	}
}

// fileUnit derives the unit and the single input entry addressed by a
// file argument "<unit>/<inputbase>-<N>".
func fileUnit(path string) (spool.Unit, spool.Entry) {
	dir := filepath.Dir(path)
	return spool.Unit{Name: filepath.Base(dir), Dir: dir}, spool.Entry{Name: filepath.Base(path), Path: path}
}

func decider(c *cache.Cache, sched *lsfadapter.Adapter, suiteImpl suite.Suite, policy decide.Policy) sweep.Decider {
	return func(ctx context.Context, unit spool.Unit, inputs []spool.Entry) (decide.Decision, error) {
		return decide.Decide(ctx, c, sched, fileExists, unit, inputs, suiteImpl, policy)
	}
}

func applier(c *cache.Cache, sched *lsfadapter.Adapter, suiteImpl suite.Suite, policy decide.Policy, logger *logging.Logger) sweep.Applier {
	return func(ctx context.Context, unit spool.Unit, d decide.Decision) error {
		return decide.Apply(ctx, c, sched, unit, suiteImpl, policy, sleepSeconds, logger, d)
	}
}

func actionBuild(ctx context.Context, c *cache.Cache, sched *lsfadapter.Adapter, suiteImpl suite.Suite, args []string, policy decide.Policy, logger *logging.Logger, dirs bool) error {
	if !dirs {
		return processFileArgs(ctx, c, sched, suiteImpl, args, policy, logger)
	}
	for _, root := range args {
		p := policy
		p.LogsDir = root + ".logs"
		if err := os.MkdirAll(p.LogsDir, 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		seen := func(unit spool.Unit) (bool, error) {
			_, ok, err := c.Fetch(ctx, unit.Dir)
			return ok, err
		}
		opts := sweep.Options{StartPos: *startPos, EndPos: *endPos, Quiet: *debug}
		if err := sweep.BuildCache(ctx, root, seen, decider(c, sched, suiteImpl, p), applier(c, sched, suiteImpl, p, logger), logger, opts); err != nil {
			return err
		}
	}
	return nil
}

func actionFullProcess(ctx context.Context, c *cache.Cache, sched *lsfadapter.Adapter, suiteImpl suite.Suite, args []string, policy decide.Policy, logger *logging.Logger, dirs bool) error {
	if err := actionBuild(ctx, c, sched, suiteImpl, args, policy, logger, dirs); err != nil {
		return err
	}
	if !dirs {
		// Explicit file targets are fully resolved by the build pass
		// above; there is no spool tree left to sweep.
		return nil
	}

	fetchIncomplete := func(ctx context.Context) ([]string, error) {
		return c.FetchComplete(ctx, cache.Incomplete)
	}
	unitFor := func(path string) (spool.Unit, []spool.Entry, error) {
		unit := spool.Unit{Name: filepath.Base(path), Dir: path}
		inputs, err := spool.Inputs(path)
		return unit, inputs, err
	}
	// rootOf maps a unit directory back to whichever argument root
	// contains it, so each submission's logs land beside the correct
	// spool root even when the cache holds units from more than one.
	rootOf := func(unitDir string) string {
		for _, root := range args {
			if unitDir == root || strings.HasPrefix(unitDir, root+string(filepath.Separator)) {
				return root
			}
		}
		return filepath.Dir(unitDir)
	}
	decideFn := decider(c, sched, suiteImpl, policy)
	applyFn := func(ctx context.Context, unit spool.Unit, d decide.Decision) error {
		p := policy
		p.LogsDir = rootOf(unit.Dir) + ".logs"
		return decide.Apply(ctx, c, sched, unit, suiteImpl, p, sleepSeconds, logger, d)
	}
	opts := sweep.Options{Quiet: *debug}
	if err := sweep.ProcessCache(ctx, fetchIncomplete, unitFor, decideFn, applyFn, logger, opts); err != nil {
		return err
	}
	abandoned, err := c.FetchComplete(ctx, cache.Abandoned)
	if err != nil {
		return err
	}
	fmt.Printf("%d unit(s) abandoned after reaching lsf_tries\n", len(abandoned))
	for _, path := range abandoned {
		fmt.Println(path)
	}
	return nil
}

func actionSingleShot(ctx context.Context, c *cache.Cache, sched *lsfadapter.Adapter, suiteImpl suite.Suite, args []string, policy decide.Policy, logger *logging.Logger, dirs bool) error {
	if !dirs {
		return processFileArgs(ctx, c, sched, suiteImpl, args, policy, logger)
	}
	for _, root := range args {
		p := policy
		p.LogsDir = root + ".logs"
		if err := os.MkdirAll(p.LogsDir, 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		units, err := spool.Units(root)
		if err != nil {
			return err
		}
		for _, unit := range units {
			inputs, err := spool.Inputs(unit.Dir)
			if err != nil {
				return err
			}
			d, err := decide.Decide(ctx, c, sched, fileExists, unit, inputs, suiteImpl, p)
			if err != nil {
				return err
			}
			if err := decide.Apply(ctx, c, sched, unit, suiteImpl, p, sleepSeconds, logger, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// processFileArgs runs one decide/apply pass per explicit input file
// argument. A file argument addresses exactly one input, never a
// unit's full range, so a SubmitWhole decision is remapped onto that
// single file's own array index (ArraySpecForFile) rather than
// ArraySpecForUnit's "[1-K]" whole-range form.
func processFileArgs(ctx context.Context, c *cache.Cache, sched *lsfadapter.Adapter, suiteImpl suite.Suite, args []string, policy decide.Policy, logger *logging.Logger) error {
	for _, path := range args {
		unit, entry := fileUnit(path)
		p := policy
		p.LogsDir = unit.Dir + ".logs"
		if err := os.MkdirAll(p.LogsDir, 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
		d, err := decide.Decide(ctx, c, sched, fileExists, unit, []spool.Entry{entry}, suiteImpl, p)
		if err != nil {
			return err
		}
		if d.Kind == decide.SubmitWhole {
			d = decide.Decision{Kind: decide.SubmitFiles, Files: []string{entry.Name}}
		}
		if err := decide.Apply(ctx, c, sched, unit, suiteImpl, p, sleepSeconds, logger, d); err != nil {
			return err
		}
	}
	return nil
}

func actionValidate(ctx context.Context, c validate.Cache, args []string, suiteImpl suite.Suite, dirs bool) error {
	var results []validate.Result
	for _, root := range args {
		if !dirs {
			unit, entry := fileUnit(root)
			res, err := validate.Unit(ctx, c, unit, []spool.Entry{entry}, suiteImpl)
			if err != nil {
				return err
			}
			results = append(results, res)
			continue
		}
		units, err := spool.Units(root)
		if err != nil {
			return err
		}
		for _, unit := range units {
			inputs, err := spool.Inputs(unit.Dir)
			if err != nil {
				return err
			}
			res, err := validate.Unit(ctx, c, unit, inputs, suiteImpl)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
	}
	fmt.Println(validate.Summarize(results).String())
	return nil
}

func actionReportCount(ctx context.Context, sched *lsfadapter.Adapter, args []string, dirs bool) error {
	for _, root := range args {
		name, err := jobName(root, dirs)
		if err != nil {
			return err
		}
		count, err := sched.RunningCount(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d running\n", name, count)
	}
	return nil
}

func actionWaitDrain(ctx context.Context, sched *lsfadapter.Adapter, args []string, policy decide.Policy, dirs bool) error {
	for _, root := range args {
		name, err := jobName(root, dirs)
		if err != nil {
			return err
		}
		for {
			count, err := sched.RunningCount(ctx, name)
			if err != nil {
				return err
			}
			if count == 0 {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(policy.SleepVal) * time.Second):
			}
		}
	}
	return nil
}

// jobName derives the scheduler job name RunningCount should match for
// an argument: the bare unit name for a directory argument, or
// "<unit>[<N>]" for a single-file argument.
func jobName(arg string, dirs bool) (string, error) {
	if dirs {
		return filepath.Base(arg), nil
	}
	unit, entry := fileUnit(arg)
	return spool.ArraySpecForFile(unit.Name, entry.Name)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sleepSeconds(seconds int) {
	time.Sleep(time.Duration(seconds) * time.Second)
}

// dryRunRunner logs the command it would have executed instead of
// running it, and reports a synthetic success so the decider's normal
// bookkeeping (counters, time stamps) still runs.
type dryRunRunner struct {
	log *logging.Logger
}

func (r dryRunRunner) Run(ctx context.Context, name string, args []string, dir string) (string, string, int, error) {
	r.log.Info(logging.DestinationScheduler, "dry run: would execute", "name", name, "args", args, "dir", dir)
	if name == "bsub" {
		return "Job <0> is submitted to queue <dryrun>.\n", "", 0, nil
	}
	return "", "", 0, nil
}
