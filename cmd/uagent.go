package cmd

import (
	"strings"
)

var UserAgents = map[string]string{
	"firefox": "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
	"chrome":  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

// defaultUserAgent identifies warpload itself, e.g. "warpload/1.2.0".
func defaultUserAgent() string {
	v := currentBuildArgs.Version
	if v == "" {
		v = "dev"
	}
	return "warpload/" + v
}

// getUserAgent resolves a preset name ("warpload", "firefox", "chrome") or
// returns s unchanged. An empty s yields the default agent.
func getUserAgent(s string) (ua string) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "warpload") {
		return defaultUserAgent()
	}
	r, ok := UserAgents[strings.ToLower(s)]
	if !ok {
		ua = s
		return
	}
	ua = r
	return
}
