// Package errs defines the named error kinds the controller distinguishes
// between, per the propagation policy: structural and configuration errors
// abort the current argument/startup, while scheduler-transient errors are
// reported and retried on the next sweep.
package errs

import "errors"

// Kind classifies an error for the propagation policy described in the spec.
type Kind int

const (
	// KindStructural covers unexpected files/dirs in a spool unit or a
	// missing trailing integer in an input file's name. Fatal to the
	// current argument.
	KindStructural Kind = iota
	// KindConfiguration covers a missing config key, unreadable config
	// file, unknown suite name, or a suite missing a contract method.
	// Fatal at startup.
	KindConfiguration
	// KindSchedulerTransient covers a non-zero bsub exit or unparseable
	// queue depth. Reported and retried on the next sweep.
	KindSchedulerTransient
	// KindQueueClosed covers a bsub exit code of 255. Logged, counted as
	// a non-submission; the next sweep retries.
	KindQueueClosed
	// KindFilesystem covers an inability to chdir, create the logs
	// directory, or open the log file. Fatal.
	KindFilesystem
	// KindRetryExhausted marks a unit that reached lsf_tries. Recorded
	// as complete = -1, summarized at the end of a full process run.
	KindRetryExhausted
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindConfiguration:
		return "configuration"
	case KindSchedulerTransient:
		return "scheduler_transient"
	case KindQueueClosed:
		return "queue_closed"
	case KindFilesystem:
		return "filesystem"
	case KindRetryExhausted:
		return "retry_exhausted"
	default:
		return "unknown"
	}
}

// Error is a typed wrapped error carrying a Kind so callers can switch on
// propagation policy with errors.As instead of string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an *Error of the given kind wrapping err (which may be nil).
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
