// Package sweep implements the build and process phases of the sweep
// engine (C6): populating the completion cache on first contact with a
// spool tree, then repeatedly running the decider over every
// incomplete unit until the tree goes terminal.
package sweep

import (
	"context"
	"os"

	"github.com/bbockelm/lsfspool/decide"
	"github.com/bbockelm/lsfspool/logging"
	"github.com/bbockelm/lsfspool/spool"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Options bounds and configures one sweep pass.
type Options struct {
	// StartPos, if non-empty, skips units until this base name is seen.
	StartPos string
	// EndPos, if non-empty, stops processing after this base name.
	EndPos string
	// Quiet suppresses the progress bar even on a tty (used under -d).
	Quiet bool
}

// Decider is the subset of decide.Decide's call surface the sweep
// engine drives per unit.
type Decider func(ctx context.Context, unit spool.Unit, inputs []spool.Entry) (decide.Decision, error)

// Applier is the subset of decide.Apply's call surface the sweep
// engine drives per decision.
type Applier func(ctx context.Context, unit spool.Unit, d decide.Decision) error

// BuildCache enumerates the units under root, and for each one not
// already present in the cache, runs decide/apply once. Units are
// visited in ascending trailing-integer order.
func BuildCache(ctx context.Context, root string, seen func(unit spool.Unit) (bool, error), decider Decider, applier Applier, log *logging.Logger, opts Options) error {
	units, err := spool.Units(root)
	if err != nil {
		return err
	}
	units = bound(units, opts)

	bar := newBar(len(units), "building cache", opts.Quiet)
	defer finishBar(bar)

	for _, unit := range units {
		already, err := seen(unit)
		if err != nil {
			return err
		}
		if already {
			advanceBar(bar)
			continue
		}

		inputs, err := spool.Inputs(unit.Dir)
		if err != nil {
			return err
		}
		d, err := decider(ctx, unit, inputs)
		if err != nil {
			return err
		}
		if err := applier(ctx, unit, d); err != nil {
			return err
		}
		advanceBar(bar)
	}
	log.Info(logging.DestinationSweep, "build phase complete", "root", root, "units", len(units))
	return nil
}

// FetchIncomplete returns every spool name the cache still considers
// incomplete, sorted by trailing integer (reusing spool.SortByIndex's
// ordering rule over each name's base name).
func FetchIncomplete(ctx context.Context, fetch func(ctx context.Context) ([]string, error)) ([]string, error) {
	names, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]spool.Entry, len(names))
	for i, n := range names {
		entries[i] = spool.Entry{Name: baseName(n), Path: n}
	}
	spool.SortByIndex(entries)
	sorted := make([]string, len(entries))
	for i, e := range entries {
		sorted[i] = e.Path
	}
	return sorted, nil
}

// ProcessCache repeatedly fetches every incomplete unit from the cache
// and runs decide/apply on each, until a pass returns none. unitFor
// turns a cached spool path back into a spool.Unit with its current
// input listing.
func ProcessCache(ctx context.Context, fetchIncomplete func(ctx context.Context) ([]string, error), unitFor func(path string) (spool.Unit, []spool.Entry, error), decider Decider, applier Applier, log *logging.Logger, opts Options) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		incomplete, err := FetchIncomplete(ctx, fetchIncomplete)
		if err != nil {
			return err
		}
		if len(incomplete) == 0 {
			log.Info(logging.DestinationSweep, "process phase complete: no incomplete units remain")
			return nil
		}

		bar := newBar(len(incomplete), "processing", opts.Quiet)
		for _, path := range incomplete {
			unit, inputs, err := unitFor(path)
			if err != nil {
				finishBar(bar)
				return err
			}
			d, err := decider(ctx, unit, inputs)
			if err != nil {
				finishBar(bar)
				return err
			}
			if err := applier(ctx, unit, d); err != nil {
				finishBar(bar)
				return err
			}
			advanceBar(bar)
		}
		finishBar(bar)
	}
}

func bound(units []spool.Unit, opts Options) []spool.Unit {
	start := 0
	end := len(units)
	if opts.StartPos != "" {
		start = len(units)
		for i, u := range units {
			if u.Name == opts.StartPos {
				start = i
				break
			}
		}
	}
	if opts.EndPos != "" {
		for i, u := range units {
			if u.Name == opts.EndPos {
				end = i + 1
				break
			}
		}
	}
	if start >= end {
		return nil
	}
	return units[start:end]
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func newBar(total int, description string, quiet bool) *progressbar.ProgressBar {
	if quiet || !isatty.IsTerminal(os.Stdout.Fd()) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stdout),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionClearOnFinish(),
	)
}

func advanceBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Add(1)
	}
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}
