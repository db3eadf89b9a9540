// Package echo is a minimal demonstration suite: it copies its input
// file to the matching output, prefixed with a marker line. It
// exercises the full suite.Suite contract end to end but is not a
// production workload.
package echo

import (
	"fmt"
	"os"

	"github.com/bbockelm/lsfspool/suite"
)

func init() {
	suite.Register("echo", New)
}

// Suite implements suite.Suite for the echo demonstration workload.
// Parameters is an opaque, suite-defined string; echo uses it as a
// marker line prefix, defaulting to "echo" when empty.
type Suite struct {
	marker string
}

// New constructs the echo suite. parameters is used verbatim as the
// marker line prefix; an empty string defaults to "echo".
func New(parameters string) (suite.Suite, error) {
	marker := parameters
	if marker == "" {
		marker = "echo"
	}
	return &Suite{marker: marker}, nil
}

// Action returns a shell command that writes a marked copy of
// inputName to "<inputName>-output" under /tmp, matching the relocation
// convention the scheduler adapter expects.
func (s *Suite) Action(unitDir, inputName string) string {
	return fmt.Sprintf("{ echo %q; cat %q; } > /tmp/%s-output",
		s.marker, unitDir+"/"+inputName, inputName)
}

// IsComplete reports whether inputPath's output file exists, is
// non-empty, and begins with the configured marker line.
func (s *Suite) IsComplete(inputPath string) bool {
	outputPath := inputPath + "-output"
	data, err := os.ReadFile(outputPath)
	if err != nil {
		return false
	}
	if len(data) == 0 {
		return false
	}
	markerLen := len(s.marker)
	return len(data) >= markerLen && string(data[:markerLen]) == s.marker
}
