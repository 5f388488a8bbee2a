package incident

import "errors"

var (
	// ErrStoreUnavailable wraps failures of the sample or alert-run store.
	// It is distinct from an evaluation that simply found no incident.
	ErrStoreUnavailable = errors.New("incident store unavailable")
	// ErrInvalidConfig is returned for AlertConfig values that cannot be evaluated.
	ErrInvalidConfig = errors.New("invalid alert config")
	// ErrInvalidRetention is returned for a zero or negative retention horizon.
	ErrInvalidRetention = errors.New("invalid retention horizon")
	// ErrExportForbidden is returned for an unscoped export by an unprivileged caller.
	ErrExportForbidden = errors.New("system-wide export requires a privileged caller")
)
