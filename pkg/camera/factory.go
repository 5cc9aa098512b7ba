package camera

import (
	"fmt"
	"log/slog"
)

// NewBackend creates a media backend for cfg.Backend.
// BackendAuto selects pion, the only hardware backend.
func NewBackend(cfg Config, logger *slog.Logger) (MediaBackend, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %v", errs)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == "" || backend == BackendAuto {
		backend = BackendPion
	}

	logger.Info("creating camera backend",
		"backend", backend,
		"width", cfg.Width,
		"height", cfg.Height,
		"framerate", cfg.Framerate,
	)

	switch backend {
	case BackendMock:
		return NewMockBackend("Front Camera", "Back Camera"), nil
	case BackendPion:
		return NewPionBackend(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// AvailableBackends returns the backends compiled into this binary.
func AvailableBackends() []BackendKind {
	return []BackendKind{BackendPion, BackendMock}
}
