package classify

import (
	"regexp"
	"strings"
	"sync"
)

var globCache sync.Map

// globRegexp compiles a glob pattern ("*" any run, "?" one character) into a
// case-insensitive anchored regexp. Compiled patterns are cached.
func globRegexp(pattern string) *regexp.Regexp {
	if cached, ok := globCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re := regexp.MustCompile(b.String())
	globCache.Store(pattern, re)
	return re
}

func globMatch(pattern, s string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	return globRegexp(pattern).MatchString(s)
}

// senderAddress extracts the bare lower-cased address from a From header
// such as `"Grefa" <grefier@tribunal-x.ro>`.
func senderAddress(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			from = from[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}

func senderDomain(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[i+1:]
	}
	return ""
}

// senderMatches checks address against exact emails and domain globs. A
// pattern holding "@" is matched against the whole address, anything else
// against the domain.
func senderMatches(address string, emails, domainPatterns []string) bool {
	if address == "" {
		return false
	}
	for _, e := range emails {
		if strings.EqualFold(strings.TrimSpace(e), address) {
			return true
		}
	}
	domain := senderDomain(address)
	for _, p := range domainPatterns {
		p = strings.TrimSpace(p)
		switch {
		case strings.HasPrefix(p, "@"):
			if globMatch(p[1:], domain) {
				return true
			}
		case strings.Contains(p, "@"):
			if globMatch(p, address) {
				return true
			}
		default:
			if globMatch(p, domain) {
				return true
			}
		}
	}
	return false
}

// keywordHits returns the case keywords found in the lower-cased text, in
// keyword order, each counted once.
func keywordHits(lowerText string, keywords []string) []string {
	var hits []string
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		if strings.Contains(lowerText, k) {
			hits = append(hits, k)
		}
	}
	return hits
}

func firstSubjectPattern(subject string, patterns []string) (string, bool) {
	subject = strings.TrimSpace(subject)
	for _, p := range patterns {
		if globMatch(p, subject) {
			return p, true
		}
	}
	return "", false
}
