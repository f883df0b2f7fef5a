package relay

import (
	"strings"

	"github.com/mssola/user_agent"
)

// Agent is the device description derived from a User-Agent header.
type Agent struct {
	OS         string
	Browser    string
	Device     string
	DeviceType string
}

const clientProduct = "lanshare"

// goosLabels maps the runtime.GOOS our own client reports to the OS labels browsers get.
var goosLabels = map[string]string{
	"darwin":  "Mac OS",
	"ios":     "iOS",
	"android": "Android",
	"windows": "Windows",
	"linux":   "Linux",
}

// ParseUserAgent extracts a coarse OS, browser and device class.
func ParseUserAgent(ua string) Agent {
	ua = strings.TrimSpace(ua)
	agent := Agent{DeviceType: "desktop"}
	if ua == "" {
		return agent
	}
	if strings.HasPrefix(strings.ToLower(ua), clientProduct+"/") {
		return parseClientAgent(ua)
	}

	parsed := user_agent.New(ua)
	agent.Browser, _ = parsed.Browser()
	if parsed.Mobile() {
		agent.DeviceType = "mobile"
	}

	platform := parsed.Platform()
	osName := strings.ToLower(parsed.OSInfo().Name + " " + parsed.OS())
	switch {
	case platform == "iPhone" || platform == "iPod":
		agent.OS, agent.Device, agent.DeviceType = "iOS", platform, "mobile"
	case platform == "iPad":
		agent.OS, agent.Device, agent.DeviceType = "iOS", "iPad", "tablet"
	case strings.Contains(osName, "android"):
		agent.OS = "Android"
		if !parsed.Mobile() {
			agent.DeviceType = "tablet"
		}
	case strings.Contains(osName, "windows"):
		agent.OS = "Windows"
	case strings.Contains(osName, "mac os"):
		agent.OS = "Mac OS"
	case strings.Contains(osName, "cros"):
		agent.OS = "Chrome OS"
	case strings.Contains(osName, "linux") || platform == "Linux" || platform == "X11":
		agent.OS = "Linux"
	}
	return agent
}

// parseClientAgent reads "lanshare/<version> (<goos>; <goarch>)".
func parseClientAgent(ua string) Agent {
	agent := Agent{Browser: clientProduct, DeviceType: "desktop"}
	_, comment, ok := strings.Cut(ua, "(")
	if !ok {
		return agent
	}
	comment, _, _ = strings.Cut(comment, ")")
	goos, _, _ := strings.Cut(comment, ";")
	goos = strings.ToLower(strings.TrimSpace(goos))
	agent.OS = goosLabels[goos]
	switch goos {
	case "android", "ios":
		agent.DeviceType = "mobile"
	}
	return agent
}
