package host

import "errors"

var (
	// ErrUnknownPlugin means the requested plugin name is not registered.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrDuplicateID means an instance with the requested id already
	// exists. Instance ids are caller-chosen; the manager is where their
	// uniqueness is enforced.
	ErrDuplicateID = errors.New("instance id already in use")

	// ErrInstanceNotFound means no live instance has the requested id.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrDestroyed means the operation was attempted on a destroyed
	// instance handle.
	ErrDestroyed = errors.New("instance destroyed")

	// ErrStartStopUnsupported means the plugin's behavior flags do not
	// allow start/stop.
	ErrStartStopUnsupported = errors.New("plugin does not support start/stop")

	// ErrRestartUnsupported means the plugin's behavior flags do not
	// allow restart.
	ErrRestartUnsupported = errors.New("plugin does not support restart")

	// ErrInputsNotExtendable means a dynamic input operation was
	// attempted on a plugin with a fixed input set.
	ErrInputsNotExtendable = errors.New("plugin inputs are not extendable")

	// ErrConfigRejected wraps a config document that failed validation
	// against the plugin's UI schema.
	ErrConfigRejected = errors.New("config document rejected")
)
