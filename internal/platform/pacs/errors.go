package pacs

import "errors"

// Error kinds for the preview gateway. Callers match them with errors.Is;
// wrapping sites add context with fmt.Errorf and %w.
var (
	// ErrInvalidArgument marks a malformed request (empty instance id,
	// negative frame index, or a 4xx rejection). Never retried.
	ErrInvalidArgument = errors.New("pacs: invalid argument")

	// ErrTransient marks a network-level or 5xx failure that was retried
	// and still failed.
	ErrTransient = errors.New("pacs: transient failure")

	// ErrNotResolved marks an instance with no external counterpart. It is
	// a stable answer, not a fault.
	ErrNotResolved = errors.New("pacs: instance not resolved")

	// ErrOutOfRange marks a global frame index beyond the total frame count
	// of the resolvable instances in a series.
	ErrOutOfRange = errors.New("pacs: frame index out of range")

	// ErrStructural marks an exhausted mapping or resolution at the routing
	// layer. The router converts it into a legacy-path fallback.
	ErrStructural = errors.New("pacs: structural failure")
)
