package feederr

var remoteHints = []string{
	"Check that the camera app is running and the phone screen is on",
	"Make sure the robot and this device are on the same Wi-Fi network",
	"Verify the camera address and port in Settings (e.g. 192.168.1.50:8080)",
	"Open the camera address in a new tab to confirm it responds",
}

var corsHints = []string{
	"Try enabling the CORS bypass relay",
	"Some camera firmwares only allow same-origin viewers",
}

var deviceHints = []string{
	"Allow camera access when prompted, or re-enable it in site settings",
	"Close other applications that may be using the camera",
	"Reconnect the camera or try the other camera",
}

var secureHints = []string{
	"Open the console over HTTPS or from localhost",
}

// Hints returns remediation hints for a code. Remote and device failures
// have distinct hint sets.
func Hints(code Code) []string {
	switch code {
	case CodeRemoteConnectionFailed:
		return append(append([]string{}, remoteHints...), corsHints[0])
	case CodeCorsOrNetworkFailure:
		return append(append([]string{}, corsHints...), remoteHints...)
	case CodeNotSecureContext:
		return append([]string{}, secureHints...)
	case CodeNoOppositeCameraAvailable:
		return []string{"This device exposes only one camera"}
	case "":
		return nil
	default:
		return append([]string{}, deviceHints...)
	}
}
