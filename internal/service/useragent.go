package service

import (
	"strings"

	"prediction-auth/internal/model"
)

// ParseUserAgent extracts a coarse platform and browser from a User-Agent
// header. It is intentionally shallow: enough for session listings, not a
// full parser.
func ParseUserAgent(userAgent, ip string) model.DeviceInfo {
	info := model.DeviceInfo{
		UserAgent: userAgent,
		IP:        ip,
		Platform:  "Unknown",
		Browser:   "Unknown",
	}

	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "android"):
		info.Platform = "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		info.Platform = "iOS"
	case strings.Contains(ua, "windows"):
		info.Platform = "Windows"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		info.Platform = "Mac"
	case strings.Contains(ua, "linux"):
		info.Platform = "Linux"
	}

	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge"):
		info.Browser = "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		info.Browser = "Opera"
	case strings.Contains(ua, "chrome"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "firefox"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "safari"):
		info.Browser = "Safari"
	}

	return info
}
