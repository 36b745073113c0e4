package citation

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// MaxSources caps the number of links returned by Extract.
const MaxSources = 5

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Extract returns the distinct URLs found in answer, sorted lexicographically
// and capped at MaxSources. Sentence punctuation stuck to the end of a link is
// not part of it.
func Extract(answer string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range urlPattern.FindAllString(answer, -1) {
		u := trimTrailing(raw)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	if len(out) > MaxSources {
		out = out[:MaxSources]
	}
	return out
}

func trimTrailing(u string) string {
	for len(u) > 0 && trimmable(u) {
		u = u[:len(u)-1]
	}
	if u == "http://" || u == "https://" {
		return ""
	}
	return u
}

func trimmable(u string) bool {
	switch u[len(u)-1] {
	case '.', ',', ';', ':', '!', '?', '"', '\'', '>', '*', '`':
		return true
	case ')':
		return strings.Count(u, "(") < strings.Count(u, ")")
	case ']':
		return strings.Count(u, "[") < strings.Count(u, "]")
	}
	return false
}

// Format renders a numbered display line: [i] host <url>
func Format(i int, link string) string {
	if host := extractDomain(link); host != "" {
		return fmt.Sprintf("[%d] %s <%s>", i, host, link)
	}
	return fmt.Sprintf("[%d] <%s>", i, link)
}

// FormatAll numbers links from 1.
func FormatAll(links []string) []string {
	if len(links) == 0 {
		return nil
	}
	out := make([]string, 0, len(links))
	for i, l := range links {
		out = append(out, Format(i+1, l))
	}
	return out
}

func extractDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return strings.TrimPrefix(host, "www.")
}
