package agent

import (
	"net/url"
	"regexp"
	"strings"
)

// Extraction accumulates artifact references pattern-matched out of
// free-form agent output. Each field is last-write-wins across the
// stream: the agent may self-correct, so the latest mention is
// authoritative, never the first.
type Extraction struct {
	// IgnoreHost filters out URLs pointing at the research target itself,
	// which the agent mentions constantly while working.
	IgnoreHost string

	ArtifactURL  string
	ArtifactFile string
	DisplayName  string
}

// The extractors run in a fixed order on every progress message. Each is
// pure: text in, optional match out.
var (
	// Explicit marker the directive asks the agent to print
	playbookPathPattern = regexp.MustCompile(`PLAYBOOK_PATH:\s*(\S+\.html)`)

	// Bare mention of a deliverable file anywhere in prose
	playbookFilePattern = regexp.MustCompile(`[A-Za-z0-9._/~-]*blueprint-gtm-playbook-[A-Za-z0-9-]+\.html`)

	// Any URL; trailing punctuation from prose is trimmed after matching
	urlPattern = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)

	// Display name marker for the published page title
	companyNamePattern = regexp.MustCompile(`COMPANY_NAME:\s*(.+)`)
)

// Scan applies every extractor to one message's text, overwriting any
// previously held match for fields that hit.
func (e *Extraction) Scan(text string) {
	if m := playbookPathPattern.FindStringSubmatch(text); m != nil {
		e.ArtifactFile = m[1]
	} else if m := playbookFilePattern.FindString(text); m != "" {
		e.ArtifactFile = m
	}

	for _, raw := range urlPattern.FindAllString(text, -1) {
		candidate := strings.TrimRight(raw, ".,;:")
		if e.IgnoreHost != "" && hostOf(candidate) == e.IgnoreHost {
			continue
		}
		// Last URL in the message wins, same rule as across messages
		e.ArtifactURL = candidate
	}

	if m := companyNamePattern.FindStringSubmatch(text); m != nil {
		e.DisplayName = strings.TrimSpace(m[1])
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
