// Package feed merges the device camera and the remote camera into one
// operator-facing feed. Exactly one source runs at a time.
package feed

import (
	"context"

	"github.com/teslashibe/go-medibot/pkg/camera"
	"github.com/teslashibe/go-medibot/pkg/feederr"
)

// Kind identifies a feed source.
type Kind string

const (
	KindDevice Kind = "device"
	KindRemote Kind = "remote"
)

// ParseKind validates a source name.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindDevice, KindRemote:
		return Kind(s), true
	}
	return "", false
}

// Source is one way of getting a picture on screen.
type Source interface {
	Kind() Kind

	// Start begins (or restarts) the source.
	Start(ctx context.Context) error

	// Stop releases everything the source holds and waits until it has.
	Stop() error

	// Switch flips camera facing (device) or re-negotiates (remote).
	Switch(ctx context.Context) error

	Status() SourceStatus

	// OnChange registers a callback fired whenever Status may have changed.
	OnChange(fn func())
}

// SourceStatus is the normalized view of one source.
type SourceStatus struct {
	Kind     Kind            `json:"kind"`
	Running  bool            `json:"running"`
	Loading  bool            `json:"loading"`
	Active   bool            `json:"active"`
	Handoff  bool            `json:"handoff,omitempty"`
	Mode     string          `json:"mode,omitempty"`
	Position camera.Position `json:"position,omitempty"`
	URL      string          `json:"url,omitempty"`
	Err      *feederr.Error  `json:"-"`
}
