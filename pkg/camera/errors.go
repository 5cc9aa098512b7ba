package camera

import (
	"context"
	"errors"
	"strings"

	"github.com/teslashibe/go-medibot/pkg/feederr"
)

// ClassifyError maps a backend acquisition error to the feed taxonomy.
//
// Backends that already return *feederr.Error keep their code. Everything
// else is matched on message keywords since drivers expose no typed errors.
// Unrecognized errors are reported as DeviceNotFound, which lets the caller
// retry with relaxed constraints.
func ClassifyError(err error) feederr.Code {
	if err == nil {
		return ""
	}
	if code := feederr.CodeOf(err); code != "" {
		return code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return feederr.CodeTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, []string{"permission", "not allowed", "notallowed", "denied", "operation not permitted"}):
		return feederr.CodePermissionDenied
	case containsAny(msg, []string{"busy", "in use", "notreadable", "could not start"}):
		return feederr.CodeDeviceBusy
	case containsAny(msg, []string{"insecure", "secure context"}):
		return feederr.CodeNotSecureContext
	case containsAny(msg, []string{"timeout", "timed out"}):
		return feederr.CodeTimeout
	default:
		return feederr.CodeDeviceNotFound
	}
}

// Retryable reports whether acquisition should be retried with relaxed
// constraints after failing with code.
func Retryable(code feederr.Code) bool {
	return code == feederr.CodeDeviceNotFound
}
