package remotefeed

import (
	"github.com/teslashibe/go-medibot/pkg/camurl"
)

// Mode is a transport mode on the ladder.
type Mode = camurl.Mode

// Transport modes in ladder order.
const (
	ModeDirectStream  = camurl.ModeDirectStream
	ModeMJPEG         = camurl.ModeMJPEG
	ModeSnapshot      = camurl.ModeSnapshot
	ModeDeviceHandoff Mode = "device-handoff"
)

// Ladder is the fixed order modes are tried in.
var Ladder = []Mode{ModeDirectStream, ModeMJPEG, ModeSnapshot, ModeDeviceHandoff}

// Target is a remote camera resolved into per-mode candidate URLs.
// Raw is the address as the operator entered it.
type Target struct {
	Raw       string            `json:"raw"`
	Base      string            `json:"base"`
	Endpoints []camurl.Endpoint `json:"endpoints"`
	Bypass    bool              `json:"bypass"`
	Relay     string            `json:"relay,omitempty"`
}

// NewTarget normalizes raw and derives its candidate endpoints.
// Base is empty when raw holds no usable address.
func NewTarget(raw string, bypass bool, relay string) Target {
	base := camurl.Normalize(raw)
	return Target{
		Raw:       raw,
		Base:      base,
		Endpoints: camurl.CandidateEndpoints(base),
		Bypass:    bypass,
		Relay:     relay,
	}
}

// URLs returns the camera URLs to try for mode. Use Request to turn one
// into the URL actually fetched.
func (t Target) URLs(mode Mode) []string {
	if mode == ModeDeviceHandoff || t.Base == "" {
		return nil
	}

	urls := camurl.ForMode(t.Endpoints, mode)
	if mode == ModeSnapshot {
		// Every stream endpoint also has a snapshot sibling worth trying.
		for _, u := range camurl.ForMode(t.Endpoints, ModeDirectStream) {
			urls = appendUnique(urls, camurl.ToSnapshotURL(u))
		}
	}

	return urls
}

// Request routes u through the CORS relay when bypass is on.
func (t Target) Request(u string) string {
	if !t.Bypass {
		return u
	}
	return camurl.RelayURL(t.Relay, u)
}

// urlFor rotates through the candidates of mode across attempts.
func (t Target) urlFor(mode Mode, attempt int) string {
	urls := t.URLs(mode)
	if len(urls) == 0 {
		return ""
	}
	return urls[attempt%len(urls)]
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
