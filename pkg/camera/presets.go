package camera

// Preset names for common capture configurations.
const (
	PresetDefault = "default"
	PresetLow     = "low"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
	PresetSmooth  = "smooth"
)

// Preset is a named capture configuration offered in the settings UI.
type Preset struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Config      Config `json:"config"`
}

// Presets returns the presets in display order.
func Presets() []Preset {
	low := DefaultConfig()
	low.Width, low.Height = 320, 240
	low.Quality, low.PreviewFPS = 60, 5

	hd := DefaultConfig()
	hd.Width, hd.Height = 1280, 720

	// JPEG encoding at 1080p is heavy; halve the capture rate.
	fullHD := DefaultConfig()
	fullHD.Width, fullHD.Height = 1920, 1080
	fullHD.Framerate = 15

	smooth := DefaultConfig()
	smooth.PreviewFPS, smooth.Quality = 20, 65

	return []Preset{
		{PresetDefault, "640x480, balanced for a phone on Wi-Fi", DefaultConfig()},
		{PresetLow, "320x240 at 5 fps for weak links", low},
		{Preset720p, "1280x720", hd},
		{Preset1080p, "1920x1080 at 15 fps", fullHD},
		{PresetSmooth, "640x480 with a 20 fps preview", smooth},
	}
}

// PresetNames returns the preset names in display order.
func PresetNames() []string {
	ps := Presets()
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// LookupPreset returns the preset called name.
func LookupPreset(name string) (Preset, bool) {
	for _, p := range Presets() {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}
