// Package spool enumerates and classifies the filesystem layout the
// controller drives: spool roots (directory-of-directories or
// directory-of-files), their units, and the input/output files within
// each unit.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bbockelm/lsfspool/errs"
)

// trailingIndex matches the array-index suffix of an input file's base
// name: "-<N>" where N is a positive integer, anchored to the end of
// the string (ignoring a trailing "-output").
var trailingIndex = regexp.MustCompile(`-(\d+)$`)

// outputSuffix matches the "-output" suffix appended to a completed
// input's sibling output file.
const outputSuffix = "-output"

// Entry is one filesystem entry found by Enumerate.
type Entry struct {
	Name  string
	Path  string
	IsDir bool
}

// Enumerate lists the immediate children of dir, excluding dotfiles.
// It does not recurse.
func Enumerate(dir string) ([]Entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.New(errs.KindFilesystem, fmt.Sprintf("read spool directory %q", dir), err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(item.Name(), ".") {
			continue
		}
		entries = append(entries, Entry{
			Name:  item.Name(),
			Path:  filepath.Join(dir, item.Name()),
			IsDir: item.IsDir(),
		})
	}
	return entries, nil
}

// ParseIndex extracts the trailing "-<N>" array index from a base name,
// stripping a trailing "-output" first if present. It returns false if
// no trailing integer is present.
//
// The match is anchored to the end of the name, so digits appearing
// earlier in it (including in parent directory names, if a path is
// passed) never affect the result.
func ParseIndex(baseName string) (int, bool) {
	name := strings.TrimSuffix(baseName, outputSuffix)
	m := trailingIndex.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsOutput reports whether name is an output file (ends in "-output").
func IsOutput(name string) bool {
	return strings.HasSuffix(name, outputSuffix)
}

// SortByIndex sorts entries ascending by the trailing integer of their
// base name; entries with no trailing integer sort as if it were 0.
func SortByIndex(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ni, _ := ParseIndex(entries[i].Name)
		nj, _ := ParseIndex(entries[j].Name)
		return ni < nj
	})
}

// Kind classifies a spool root.
type Kind int

const (
	// KindDirOfFiles is a spool root with no child directories: the
	// root itself is the single spool unit.
	KindDirOfFiles Kind = iota
	// KindDirOfDirs is a spool root whose children are each a spool
	// unit containing one or more input files.
	KindDirOfDirs
)

// Classify inspects the immediate children of root and reports whether
// it is a directory-of-directories or a directory-of-files.
func Classify(root string) (Kind, error) {
	entries, err := Enumerate(root)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.IsDir {
			return KindDirOfDirs, nil
		}
	}
	return KindDirOfFiles, nil
}

// Unit is one spool unit: either a subdirectory of a directory-of-dirs
// root, or the root itself when the root is a directory-of-files.
type Unit struct {
	// Name is the unit's base name (used as the scheduler job name).
	Name string
	// Dir is the directory holding the unit's input files.
	Dir string
}

// Units enumerates the spool units under root, sorted ascending by
// trailing integer of their name (directory-of-dirs) or, for a
// directory-of-files root, returns the single unit representing root
// itself.
func Units(root string) ([]Unit, error) {
	kind, err := Classify(root)
	if err != nil {
		return nil, err
	}

	if kind == KindDirOfFiles {
		return []Unit{{Name: filepath.Base(root), Dir: root}}, nil
	}

	entries, err := Enumerate(root)
	if err != nil {
		return nil, err
	}

	dirs := entries[:0:0]
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e)
		}
	}
	SortByIndex(dirs)

	units := make([]Unit, 0, len(dirs))
	for _, d := range dirs {
		units = append(units, Unit{Name: d.Name, Dir: d.Path})
	}
	return units, nil
}

// Inputs lists the input files within a unit directory: regular files
// not ending in "-output", sorted ascending by trailing array index.
func Inputs(unitDir string) ([]Entry, error) {
	entries, err := Enumerate(unitDir)
	if err != nil {
		return nil, err
	}

	inputs := entries[:0:0]
	for _, e := range entries {
		if e.IsDir || IsOutput(e.Name) {
			continue
		}
		inputs = append(inputs, e)
	}
	SortByIndex(inputs)
	return inputs, nil
}

// unitEntryPattern builds the structural validation regex for a unit
// name, per the data model: "(^|\w+-)<unitname>.*(-\d+)+(|-output)$".
func unitEntryPattern(unitName string) *regexp.Regexp {
	return regexp.MustCompile(`(^|\w+-)` + regexp.QuoteMeta(unitName) + `.*(-\d+)+(|-output)$`)
}

// Validate checks that every entry name in a unit matches the
// structural pattern for that unit, returning a structural error
// listing the offending entries if not.
func Validate(unitName string, names []string) error {
	pattern := unitEntryPattern(unitName)
	var bad []string
	for _, n := range names {
		if !pattern.MatchString(n) {
			bad = append(bad, n)
		}
	}
	if len(bad) > 0 {
		return errs.New(errs.KindStructural,
			fmt.Sprintf("unit %q contains unexpected entries: %s", unitName, strings.Join(bad, ", ")), nil)
	}
	return nil
}

// ArraySpecForFile derives the job-array spec for a single-file
// argument "…/<unit>/<inputbase>-<N>": the spec addresses only that
// index, "<unit>[<N>]".
func ArraySpecForFile(unitName, inputBaseName string) (string, error) {
	n, ok := ParseIndex(inputBaseName)
	if !ok {
		return "", errs.New(errs.KindStructural,
			fmt.Sprintf("input %q has no trailing array index", inputBaseName), nil)
	}
	return fmt.Sprintf("%s[%d]", unitName, n), nil
}

// ArraySpecForUnit derives the job-array spec for a directory unit
// with K input files (not counting "-output" files): the spec
// addresses the full range, "<unit>[1-K]". An empty unit is a fatal
// structural error.
func ArraySpecForUnit(unitName string, inputCount int) (string, error) {
	if inputCount == 0 {
		return "", errs.New(errs.KindStructural, fmt.Sprintf("unit %q has no input files to submit", unitName), nil)
	}
	return fmt.Sprintf("%s[1-%d]", unitName, inputCount), nil
}
