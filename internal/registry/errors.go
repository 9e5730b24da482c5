package registry

import "errors"

// Error kinds shared by every module. Callers match them with errors.Is; the
// wrapped message carries the module id.
var (
	// ErrNotFound is returned for a module id the registry does not host.
	ErrNotFound = errors.New("not found")
	// ErrBlocked is returned when a slot lock could not be taken before the
	// caller's timeout elapsed.
	ErrBlocked = errors.New("module is busy")
	// ErrAlreadyActive is returned when activating an active module.
	ErrAlreadyActive = errors.New("module is already active")
	// ErrAlreadyInactive is returned when deactivating an inactive module.
	ErrAlreadyInactive = errors.New("module is already inactive")
	// ErrCannotDeactivateSelf is returned when deactivating the module manager.
	ErrCannotDeactivateSelf = errors.New("the module manager cannot be deactivated")
	// ErrRemote wraps failures reported by the remote command registry.
	ErrRemote = errors.New("remote command registry")
)
