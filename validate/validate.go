// Package validate implements the read-only validator (C7): classify
// each spool unit's completion state from the filesystem, optionally
// recording the result in a cache, and render an operator-facing
// summary.
package validate

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bbockelm/lsfspool/cache"
	"github.com/bbockelm/lsfspool/spool"
	"github.com/bbockelm/lsfspool/suite"
)

// Status classifies one unit's completion state.
type Status int

const (
	// NoInputs means the unit has no input files to check.
	NoInputs Status = iota
	// Complete means every input is complete per the suite.
	Complete
	// Incomplete means at least one input is not yet complete.
	Incomplete
)

// Result is the outcome of validating a single unit.
type Result struct {
	Unit            spool.Unit
	Status          Status
	IncompleteNames []string
}

// Cache is the subset of cache.Cache the validator needs when a cache
// file was explicitly supplied.
type Cache interface {
	SetFiles(ctx context.Context, key string, state cache.Complete, files []string) error
}

// Unit classifies one unit on the filesystem, calling suiteImpl's
// IsComplete on each input. If c is non-nil, the unit's files/complete
// fields are upserted into the cache.
func Unit(ctx context.Context, c Cache, unit spool.Unit, inputs []spool.Entry, suiteImpl suite.Suite) (Result, error) {
	if len(inputs) == 0 {
		return Result{Unit: unit, Status: NoInputs}, nil
	}

	var incomplete []string
	for _, in := range inputs {
		if !suiteImpl.IsComplete(in.Path) {
			incomplete = append(incomplete, in.Name)
		}
	}

	res := Result{Unit: unit}
	if len(incomplete) == 0 {
		res.Status = Complete
	} else {
		res.Status = Incomplete
		res.IncompleteNames = incomplete
	}

	if c != nil {
		state := cache.Done
		var files []string
		if res.Status == Incomplete {
			state = cache.Incomplete
			files = incomplete
		}
		if err := c.SetFiles(ctx, unit.Dir, state, files); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// Report summarizes a batch of Results the way an operator reads them:
// total units and how many are complete/incomplete/empty. It carries no
// timestamps; LastExamined renders a cache record's Time separately.
type Report struct {
	Total      int
	Complete   int
	Incomplete int
	NoInputs   int
}

// Summarize aggregates results into a Report.
func Summarize(results []Result) Report {
	r := Report{Total: len(results)}
	for _, res := range results {
		switch res.Status {
		case Complete:
			r.Complete++
		case Incomplete:
			r.Incomplete++
		case NoInputs:
			r.NoInputs++
		}
	}
	return r
}

// String renders a human-readable one-line summary using humanized
// counts, e.g. "1,204 units: 1,190 complete, 12 incomplete, 2 empty".
func (r Report) String() string {
	return humanize.Comma(int64(r.Total)) + " units: " +
		humanize.Comma(int64(r.Complete)) + " complete, " +
		humanize.Comma(int64(r.Incomplete)) + " incomplete, " +
		humanize.Comma(int64(r.NoInputs)) + " empty"
}

// LastExamined renders a cache record's Time field as a relative,
// humanized timestamp ("3 minutes ago"), or "never" when unset.
func LastExamined(unixTime int64) string {
	if unixTime == 0 {
		return "never"
	}
	return humanize.Time(time.Unix(unixTime, 0))
}
