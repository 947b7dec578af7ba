package auth

import "strings"

// DeviceInfo is the coarse user-agent classification stored with trusted
// devices and sessions. Parsing is best effort; unknown agents degrade to
// empty fields and never block a flow.
type DeviceInfo struct {
	DeviceFamily  string
	BrowserFamily string
	OSFamily      string
}

// ClientMeta is the per-request client context the flows record.
type ClientMeta struct {
	IP        string
	UserAgent string
	Location  string
}

func ParseUserAgent(ua string) DeviceInfo {
	lower := strings.ToLower(ua)
	var info DeviceInfo

	switch {
	case lower == "":
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		info.DeviceFamily = "tablet"
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android"):
		info.DeviceFamily = "mobile"
	default:
		info.DeviceFamily = "desktop"
	}

	switch {
	case strings.Contains(lower, "edg/") || strings.Contains(lower, "edge/"):
		info.BrowserFamily = "Edge"
	case strings.Contains(lower, "opr/") || strings.Contains(lower, "opera"):
		info.BrowserFamily = "Opera"
	case strings.Contains(lower, "firefox/"):
		info.BrowserFamily = "Firefox"
	case strings.Contains(lower, "chrome/") || strings.Contains(lower, "crios/"):
		info.BrowserFamily = "Chrome"
	case strings.Contains(lower, "safari/"):
		info.BrowserFamily = "Safari"
	}

	switch {
	case strings.Contains(lower, "android"):
		info.OSFamily = "Android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ios"):
		info.OSFamily = "iOS"
	case strings.Contains(lower, "windows"):
		info.OSFamily = "Windows"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macintosh"):
		info.OSFamily = "macOS"
	case strings.Contains(lower, "linux"):
		info.OSFamily = "Linux"
	}

	return info
}
