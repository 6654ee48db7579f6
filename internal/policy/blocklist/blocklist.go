// Package blocklist rejects monitoring targets on operator-denied hosts.
package blocklist

import (
	"net/url"
	"slices"
	"strings"
)

// List matches hosts against exact names and "*.suffix" / ".suffix" wildcards.
// A nil List blocks nothing.
type List struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a List from patterns. It returns nil when no usable pattern is given.
func New(patterns []string) *List {
	l := &List{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			l.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			l.addSuffix(strings.TrimPrefix(value, "."))
		default:
			l.exact[value] = struct{}{}
		}
	}
	if len(l.exact) == 0 && len(l.suffixes) == 0 {
		return nil
	}
	return l
}

func (l *List) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(l.suffixes, suffix) {
		return
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Blocked reports whether host (port ignored) matches the list.
func (l *List) Blocked(host string) bool {
	if l == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if h, _, ok := strings.Cut(host, ":"); ok && !strings.Contains(h, "[") {
		host = h
	}
	if host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// BlockedURL parses raw and checks its hostname.
func (l *List) BlockedURL(raw string) bool {
	if l == nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return l.Blocked(u.Hostname())
}
