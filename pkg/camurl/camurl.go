// Package camurl canonicalizes user-supplied camera addresses and derives
// the endpoint variants different IP-camera firmwares expose.
//
// Everything here is a pure string transform: no I/O, deterministic output.
package camurl

import (
	"net/url"
	"strings"
)

// Mode is a remote transport strategy an endpoint belongs to.
type Mode string

const (
	ModeDirectStream Mode = "direct-stream"
	ModeMJPEG        Mode = "mjpeg-endpoint"
	ModeSnapshot     Mode = "snapshot-polling"
	ModeBrowserEmbed Mode = "browser-embed"
)

// Endpoint is one candidate URL for a transport mode.
type Endpoint struct {
	Mode Mode   `json:"mode"`
	URL  string `json:"url"`
}

// ipWebcamPort is the default port of the Android "IP Webcam" firmware.
const ipWebcamPort = "8080"

// Normalize turns raw operator input into scheme://host[:port].
//
// Missing schemes become http://, as does a protocol-relative //host.
// Non-HTTP schemes are replaced by http://. Userinfo, path, query and
// fragment are dropped. Empty input yields "".
// Normalize(Normalize(x)) == Normalize(x) for every x.
func Normalize(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}

	scheme := "http"
	if i := strings.Index(s, "://"); i >= 0 {
		if strings.EqualFold(s[:i], "https") {
			scheme = "https"
		}
		s = s[i+3:]
	} else if strings.HasPrefix(s, "//") {
		s = s[2:]
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	return scheme + "://" + s
}

// Port returns the explicit port of a normalized base URL, or "".
func Port(base string) string {
	u, err := url.Parse(Normalize(base))
	if err != nil {
		return ""
	}
	return u.Port()
}

// IsIPWebcam reports whether base carries the IP Webcam port signature.
func IsIPWebcam(base string) bool {
	return Port(base) == ipWebcamPort
}

// CandidateEndpoints returns endpoint guesses ordered by likely success.
func CandidateEndpoints(base string) []Endpoint {
	base = Normalize(base)
	if base == "" {
		return nil
	}

	if IsIPWebcam(base) {
		return []Endpoint{
			{Mode: ModeDirectStream, URL: base + "/video"},
			{Mode: ModeMJPEG, URL: base + "/videofeed"},
			{Mode: ModeSnapshot, URL: base + "/shot.jpg"},
			{Mode: ModeSnapshot, URL: base + "/photo.jpg"},
			{Mode: ModeBrowserEmbed, URL: base + "/browserfs.html"},
		}
	}

	return []Endpoint{
		{Mode: ModeDirectStream, URL: base + "/video"},
		{Mode: ModeMJPEG, URL: base + "/videofeed"},
		{Mode: ModeSnapshot, URL: base + "/shot.jpg"},
		{Mode: ModeSnapshot, URL: base + "/photo.jpg"},
		{Mode: ModeDirectStream, URL: base},
	}
}

// ForMode filters endpoints down to one mode, keeping order.
func ForMode(endpoints []Endpoint, mode Mode) []string {
	var urls []string
	for _, e := range endpoints {
		if e.Mode == mode {
			urls = append(urls, e.URL)
		}
	}
	return urls
}

// BrowserEmbedURL returns the page a browser can embed directly.
func BrowserEmbedURL(base string) string {
	base = Normalize(base)
	if base == "" {
		return ""
	}
	if IsIPWebcam(base) {
		return base + "/browserfs.html"
	}
	return base
}

// snapshotRewrites maps stream suffixes to their single-image sibling.
// Longer suffixes come first so they win over their tails.
var snapshotRewrites = []struct{ from, to string }{
	{"/mjpg/video.mjpg", "/jpg/image.jpg"},
	{"/video.mjpg", "/image.jpg"},
	{"/videofeed", "/shot.jpg"},
	{"/video", "/shot.jpg"},
	{"/mjpeg", "/snapshot.jpg"},
	{"/stream", "/snapshot"},
}

var snapshotSuffixes = []string{".jpg", ".jpeg", "/snapshot", "/capture"}

// ToSnapshotURL rewrites a stream URL into a single-image polling URL.
// Unknown patterns get a generic /shot.jpg appended.
func ToSnapshotURL(streamURL string) string {
	s := strings.TrimSpace(streamURL)
	if s == "" {
		return ""
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")

	lower := strings.ToLower(s)
	for _, suffix := range snapshotSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return s
		}
	}
	for _, r := range snapshotRewrites {
		if strings.HasSuffix(lower, r.from) {
			return s[:len(s)-len(r.from)] + r.to
		}
	}
	return s + "/shot.jpg"
}

// WithCacheBuster adds a t=<token> query parameter so every poll is a fresh fetch.
func WithCacheBuster(rawURL, token string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + "t=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("t", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// RelayURL routes target through a CORS relay as <relay>?<url-encoded target>.
func RelayURL(relay, target string) string {
	relay = strings.TrimSpace(relay)
	if relay == "" || target == "" {
		return target
	}
	if strings.HasSuffix(relay, "?") {
		return relay + url.QueryEscape(target)
	}
	return relay + "?" + url.QueryEscape(target)
}
