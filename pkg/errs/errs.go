// Package errs defines the otter-wide error taxonomy. Each kind is a
// sentinel wrapped via fmt.Errorf("...: %w", ...) at the point of origin so
// callers can test with errors.Is regardless of how many layers wrap it.
package errs

import "errors"

var (
	// ErrNotFound is returned when a storage resource, task module or
	// registry entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed is returned by a conditional write whose
	// expected revision no longer matches the stored revision.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrStorageError covers generic transport/parse failures in a
	// storage backend.
	ErrStorageError = errors.New("storage error")

	// ErrUnsupported is returned by a backend operation with no
	// implementation on that backend (e.g. HTTP write).
	ErrUnsupported = errors.New("unsupported operation")

	// ErrTimeout is returned when a transport-level deadline is exceeded.
	ErrTimeout = errors.New("timeout")

	// ErrManifest covers manifest serialization failures and repeated,
	// unrecoverable manifest save failures.
	ErrManifest = errors.New("manifest error")

	// ErrTaskBuild is returned when the registry cannot build a Task from
	// a Spec.
	ErrTaskBuild = errors.New("task build error")

	// ErrDuplicateTask is returned when a step contains two Specs with the
	// same name.
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrTaskRun is returned when a task's run method fails.
	ErrTaskRun = errors.New("task run error")

	// ErrTaskValidation is returned when a task's validate method fails.
	ErrTaskValidation = errors.New("task validation error")

	// ErrScratchpad is returned by substitution failures (unknown key
	// with scratchpad_ignore_missing unset).
	ErrScratchpad = errors.New("scratchpad error")

	// ErrFS covers local filesystem precondition failures (e.g. a
	// destination that cannot be prepared).
	ErrFS = errors.New("fs error")

	// ErrStepFailed is raised by the coordinator when a task result
	// carries ErrTaskRun/ErrTaskValidation and the whole step must abort.
	ErrStepFailed = errors.New("step failed")
)

// ExitCode maps an error to the errno-shaped process exit code the original
// otter run used: I/O failures exit 5 (EIO), invalid/unparseable manifests
// exit 22 (EINVAL), missing modules or registry entries exit 2 (ENOENT).
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return 2
	case errors.Is(err, ErrManifest):
		return 22
	default:
		return 5
	}
}
