// Package suite defines the pluggable workload contract and the
// registry used to look suites up by name from configuration.
package suite

import (
	"fmt"
	"sync"

	"github.com/bbockelm/lsfspool/errs"
)

// Suite is implemented by each concrete workload the controller can
// drive. Both operations must be deterministic and side-effect-free
// with respect to anything other than the filesystem paths they are
// given.
type Suite interface {
	// Action returns the shell command to execute on the scheduler
	// host to produce "<inputName>-output" under /tmp; the scheduler
	// adapter relocates it into unitDir after the job completes.
	Action(unitDir, inputName string) string

	// IsComplete reports whether the output file beside inputPath is
	// a valid completion.
	IsComplete(inputPath string) bool
}

// Factory constructs a Suite from the suite.parameters configuration
// string, which is suite-defined and opaque to the controller.
type Factory func(parameters string) (Suite, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named suite factory to the registry. It is intended
// to be called from a suite package's init() function.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Lookup instantiates the suite registered under name with the given
// parameters. An unknown name is a fatal configuration error.
func Lookup(name, parameters string) (Suite, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindConfiguration, fmt.Sprintf("unknown suite %q", name), nil)
	}
	return factory(parameters)
}
