package domain

import (
	"net/url"
	"strings"
)

// PlaybookFilePrefix is the naming convention the agent uses for the
// generated deliverable.
const PlaybookFilePrefix = "blueprint-gtm-playbook-"

// Slug derives the canonical identifier for a target URL, keeping the
// top-level domain: https://example.com -> example-com. This is the form
// used for the published URL and for status lookups.
func Slug(target string) string {
	return sanitize(hostOf(target))
}

// ShortSlug derives the historical identifier without the TLD suffix:
// https://example.com -> example. The agent has named files both ways,
// so consumers must tolerate either form.
func ShortSlug(target string) string {
	host := hostOf(target)
	if i := strings.Index(host, "."); i > 0 {
		host = host[:i]
	}
	return sanitize(host)
}

// FilenameCandidates returns every plausible deliverable filename for a
// target, covering both slug conventions. Order matters: the newer
// with-TLD form is probed first.
func FilenameCandidates(target string) []string {
	long := Slug(target)
	short := ShortSlug(target)

	names := []string{PlaybookFilePrefix + long + ".html"}
	if short != long {
		names = append(names, PlaybookFilePrefix+short+".html")
	}
	return names
}

func hostOf(target string) string {
	raw := strings.TrimSpace(target)
	if raw == "" {
		return ""
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return strings.TrimSpace(target)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return host
}

func sanitize(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
