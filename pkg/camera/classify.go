package camera

import "strings"

var (
	frontKeywords = []string{"front", "user", "selfie", "face"}
	backKeywords  = []string{"back", "rear", "environment", "external"}
)

// Classification is the result of sorting devices into front/back/others.
//
// It is unreliable on unlabeled hardware: when no label matches, a single
// device is assumed to be the front camera, and with two or more devices the
// first is guessed to be the back camera and the second the front one.
type Classification struct {
	Front           *Device  `json:"front,omitempty"`
	Back            *Device  `json:"back,omitempty"`
	Others          []Device `json:"others"`
	HasFrontAndBack bool     `json:"has_front_and_back"`

	// Guessed is true when positions came from the positional fallback.
	Guessed bool `json:"guessed"`
}

// ForPosition returns the device classified at p, or nil.
func (c Classification) ForPosition(p Position) *Device {
	switch p {
	case PositionFront:
		return c.Front
	case PositionBack:
		return c.Back
	default:
		if len(c.Others) > 0 {
			d := c.Others[0]
			return &d
		}
		return nil
	}
}

// Devices returns all classified devices, front and back first.
func (c Classification) Devices() []Device {
	var out []Device
	if c.Front != nil {
		out = append(out, *c.Front)
	}
	if c.Back != nil {
		out = append(out, *c.Back)
	}
	return append(out, c.Others...)
}

// Classify sorts devices by label keywords, falling back to position.
// The input slice is not modified.
func Classify(devices []Device) Classification {
	result := Classification{Others: []Device{}}

	var unmatched []Device
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		switch {
		case result.Front == nil && containsAny(label, frontKeywords):
			dev := d
			dev.Position = PositionFront
			result.Front = &dev
		case result.Back == nil && containsAny(label, backKeywords):
			dev := d
			dev.Position = PositionBack
			result.Back = &dev
		default:
			unmatched = append(unmatched, d)
		}
	}

	if result.Front == nil && result.Back == nil && len(unmatched) > 0 {
		result.Guessed = true
		if len(unmatched) == 1 {
			dev := unmatched[0]
			dev.Position = PositionFront
			result.Front = &dev
			unmatched = nil
		} else {
			back, front := unmatched[0], unmatched[1]
			back.Position = PositionBack
			front.Position = PositionFront
			result.Back = &back
			result.Front = &front
			unmatched = unmatched[2:]
		}
	}

	for _, d := range unmatched {
		d.Position = PositionOther
		result.Others = append(result.Others, d)
	}

	result.HasFrontAndBack = result.Front != nil && result.Back != nil
	return result
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
