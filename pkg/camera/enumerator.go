package camera

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-medibot/pkg/feederr"
)

// Enumerator lists and classifies the video inputs of a MediaBackend.
type Enumerator struct {
	backend MediaBackend
	logger  *slog.Logger
}

// NewEnumerator creates an enumerator over backend.
func NewEnumerator(backend MediaBackend, logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{
		backend: backend,
		logger:  logger.With("component", "camera.enumerator"),
	}
}

// RequestAccessAndList obtains capture permission and returns labeled,
// classified video inputs.
//
// A throwaway stream is acquired so the platform grants permission and
// exposes labels; its tracks are released before enumeration.
// Fails with NotSecureContext before touching hardware, PermissionDenied if
// the platform rejects access, and NoDevices if no video input exists.
func (e *Enumerator) RequestAccessAndList(ctx context.Context) ([]Device, error) {
	if !e.backend.SecureContext() {
		return nil, feederr.New(feederr.CodeNotSecureContext, feederr.SourceDevice, "enumerate", nil)
	}

	probe, err := e.backend.GetUserMedia(ctx, Constraints{})
	if err != nil {
		code := ClassifyError(err)
		e.logger.Warn("permission request failed", "error", err, "code", code)
		switch code {
		case feederr.CodePermissionDenied, feederr.CodeNotSecureContext:
			return nil, feederr.New(code, feederr.SourceDevice, "enumerate", err)
		}
		// A busy or missing default camera still lets us enumerate.
	} else if err := StopAll(probe); err != nil {
		e.logger.Debug("failed to stop permission probe", "error", err)
	}

	return e.List(ctx)
}

// List enumerates without requesting permission first. Labels may be empty
// when permission has not been granted yet.
func (e *Enumerator) List(ctx context.Context) ([]Device, error) {
	infos, err := e.backend.EnumerateDevices(ctx)
	if err != nil {
		return nil, feederr.New(ClassifyError(err), feederr.SourceDevice, "enumerate", err)
	}

	var devices []Device
	for _, info := range infos {
		if info.Kind != KindVideoInput {
			continue
		}
		devices = append(devices, Device{ID: info.DeviceID, Label: info.Label})
	}

	if len(devices) == 0 {
		return nil, feederr.New(feederr.CodeNoDevices, feederr.SourceDevice, "enumerate", nil)
	}

	// Keep platform order: the positional fallback depends on it.
	positions := make(map[string]Position, len(devices))
	for _, d := range Classify(devices).Devices() {
		positions[d.ID] = d.Position
	}
	for i := range devices {
		devices[i].Position = positions[devices[i].ID]
	}

	e.logger.Debug("enumerated cameras", "count", len(devices))
	return devices, nil
}

// Classification enumerates and classifies in one call.
func (e *Enumerator) Classification(ctx context.Context) (Classification, error) {
	devices, err := e.RequestAccessAndList(ctx)
	if err != nil {
		return Classification{}, err
	}
	return Classify(devices), nil
}
