package internal

import (
	"strings"

	"github.com/mileusna/useragent"
)

const maxDeviceInfo = 255

// DeviceSummary condenses a User-Agent header into a short label such as
// "Chrome 120 on macOS (desktop)". Unparseable agents fall back to the raw
// header, truncated.
func DeviceSummary(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ""
	}

	ua := useragent.Parse(userAgent)
	if ua.Name == "" {
		return truncate(userAgent, maxDeviceInfo)
	}

	var b strings.Builder
	b.WriteString(ua.Name)
	if major := majorVersion(ua.Version); major != "" {
		b.WriteString(" " + major)
	}
	if ua.OS != "" {
		b.WriteString(" on " + ua.OS)
	}
	switch {
	case ua.Bot:
		b.WriteString(" (bot)")
	case ua.Tablet:
		b.WriteString(" (tablet)")
	case ua.Mobile:
		b.WriteString(" (mobile)")
	case ua.Desktop:
		b.WriteString(" (desktop)")
	}
	return truncate(b.String(), maxDeviceInfo)
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
