// Package feederr defines the error taxonomy shared by every camera feed source.
//
// Low-level failures (a single probe, a single track stop) are logged where they
// happen and never reach this package. Only terminal failures are wrapped in an
// *Error and surfaced to the operator together with remediation hints.
package feederr

import (
	"errors"
	"fmt"
)

// Code is a stable, UI-facing error identifier.
type Code string

const (
	CodeNotSecureContext          Code = "not_secure_context"
	CodePermissionDenied          Code = "permission_denied"
	CodeNoDevices                 Code = "no_devices"
	CodeDeviceNotFound            Code = "device_not_found"
	CodeDeviceBusy                Code = "device_busy"
	CodePlaybackFailed            Code = "playback_failed"
	CodeTimeout                   Code = "timeout"
	CodeNoOppositeCameraAvailable Code = "no_opposite_camera"
	CodeRemoteConnectionFailed    Code = "remote_connection_failed"
	CodeCorsOrNetworkFailure      Code = "cors_or_network_failure"
)

// Sentinel errors, one per code. Use errors.Is against these.
var (
	ErrNotSecureContext          = &Error{Code: CodeNotSecureContext}
	ErrPermissionDenied          = &Error{Code: CodePermissionDenied}
	ErrNoDevices                 = &Error{Code: CodeNoDevices}
	ErrDeviceNotFound            = &Error{Code: CodeDeviceNotFound}
	ErrDeviceBusy                = &Error{Code: CodeDeviceBusy}
	ErrPlaybackFailed            = &Error{Code: CodePlaybackFailed}
	ErrTimeout                   = &Error{Code: CodeTimeout}
	ErrNoOppositeCameraAvailable = &Error{Code: CodeNoOppositeCameraAvailable}
	ErrRemoteConnectionFailed    = &Error{Code: CodeRemoteConnectionFailed}
	ErrCorsOrNetworkFailure      = &Error{Code: CodeCorsOrNetworkFailure}
)

// Source identifies which feed produced an error.
type Source string

const (
	SourceDevice Source = "device"
	SourceRemote Source = "remote"
)

// Error is a classified feed failure.
type Error struct {
	// Code is the taxonomy entry.
	Code Code

	// Source is the feed kind that failed (empty for sentinels).
	Source Source

	// Op names the operation, e.g. "start" or "load".
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// New creates a classified error.
func New(code Code, source Source, op string, err error) *Error {
	return &Error{Code: code, Source: source, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := Message(e.Code)
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s %s: %s: %v", e.Source, e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s %s: %s", e.Source, e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Hints returns remediation hints for this error's code and source.
func (e *Error) Hints() []string {
	return Hints(e.Code)
}

// CodeOf extracts the code from err, or "" if err is not classified.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// As returns the classified error inside err, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsRemote reports whether code belongs to the remote camera family.
func IsRemote(code Code) bool {
	return code == CodeRemoteConnectionFailed || code == CodeCorsOrNetworkFailure
}

// Message returns a short human-readable description of a code.
func Message(code Code) string {
	switch code {
	case CodeNotSecureContext:
		return "camera access requires a secure context"
	case CodePermissionDenied:
		return "camera permission denied"
	case CodeNoDevices:
		return "no cameras found"
	case CodeDeviceNotFound:
		return "camera not found"
	case CodeDeviceBusy:
		return "camera is in use by another application"
	case CodePlaybackFailed:
		return "camera stream could not be played"
	case CodeTimeout:
		return "camera did not become ready in time"
	case CodeNoOppositeCameraAvailable:
		return "no camera facing the other way"
	case CodeRemoteConnectionFailed:
		return "could not connect to the remote camera"
	case CodeCorsOrNetworkFailure:
		return "remote camera blocked by network or cross-origin policy"
	default:
		return "camera error"
	}
}
