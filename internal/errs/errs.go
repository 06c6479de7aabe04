// Package errs defines the sentinel errors shared across the daemon.
package errs

import "errors"

var (
	// ErrConfigInvalid means the daemon configuration failed validation. Fatal at startup.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrResourceUnavailable means a resource manager cannot work on this host
	// (missing binary, missing sysfs file). Non-fatal, logged once per resource.
	ErrResourceUnavailable = errors.New("resource unavailable on this host")

	// ErrResourceTransient means a resource operation failed but may succeed on retry.
	ErrResourceTransient = errors.New("transient resource error")

	// ErrProcessGone means the target process died before or during optimization.
	ErrProcessGone = errors.New("process no longer exists")

	// ErrMalformedRequest means an ingress payload could not be decoded.
	ErrMalformedRequest = errors.New("malformed optimization request")

	// ErrLookupTimeout means a launcher mapper exhausted its polling budget.
	ErrLookupTimeout = errors.New("launcher lookup timed out")
)
