package redact

import (
	"net/netip"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Category names a kind of sensitive entity.
type Category string

const (
	Domain Category = "domain"
	IP     Category = "ip"
	Email  Category = "email"
)

// Categories lists every category in the order findings are reported.
var Categories = []Category{Domain, IP, Email}

// Bundle holds the distinct entities found in one alert, per category, in
// first-seen order.
type Bundle struct {
	Domains []string `json:"domains"`
	IPs     []string `json:"ips"`
	Emails  []string `json:"emails"`
}

// Values returns the entities of one category.
func (b Bundle) Values(c Category) []string {
	switch c {
	case Domain:
		return b.Domains
	case IP:
		return b.IPs
	case Email:
		return b.Emails
	}
	return nil
}

// Len is the total number of entities across categories.
func (b Bundle) Len() int {
	return len(b.Domains) + len(b.IPs) + len(b.Emails)
}

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ipv4Re  = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\b`)
	ipv6Re  = regexp.MustCompile(`(?:[0-9A-Fa-f]{0,4}:){2,7}[0-9A-Fa-f]{0,4}`)
	hostRe  = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}\b`)
)

type span struct{ start, end int }

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

// Extract finds domains, IP addresses and email addresses in text.
// Matching is purely lexical and deterministic.
func Extract(text string) Bundle {
	var b Bundle

	emailSpans := make([]span, 0)
	seen := make(map[string]bool)
	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		emailSpans = append(emailSpans, span{loc[0], loc[1]})
		b.Emails = appendUnique(b.Emails, seen, text[loc[0]:loc[1]])
	}

	seen = make(map[string]bool)
	for _, loc := range ipv4Re.FindAllStringIndex(text, -1) {
		b.IPs = appendUnique(b.IPs, seen, text[loc[0]:loc[1]])
	}
	for _, loc := range ipv6Re.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if !isIPv6Token(text, start, end) {
			// "src:2001:db8::1": the match took in a key and its separator
			start = afterKey(text, start, end)
			if start < 0 || !isIPv6At(text, start, end) {
				continue
			}
		}
		b.IPs = appendUnique(b.IPs, seen, text[start:end])
	}

	seen = make(map[string]bool)
	for _, loc := range hostRe.FindAllStringIndex(text, -1) {
		sp := span{loc[0], loc[1]}
		if insideAny(sp, emailSpans) {
			continue
		}
		host := text[loc[0]:loc[1]]
		if !isHostname(host) {
			continue
		}
		b.Domains = appendUnique(b.Domains, seen, host)
	}

	return b
}

func appendUnique(dst []string, seen map[string]bool, v string) []string {
	if seen[v] {
		return dst
	}
	seen[v] = true
	return append(dst, v)
}

func insideAny(sp span, spans []span) bool {
	for _, o := range spans {
		if sp.overlaps(o) {
			return true
		}
	}
	return false
}

// isIPv6Token reports whether text[start:end] is a standalone IPv6 address,
// not a fragment of an identifier like "std::vector" or a clock time.
func isIPv6Token(text string, start, end int) bool {
	if start > 0 && isTokenByte(text[start-1]) {
		return false
	}
	return isIPv6At(text, start, end)
}

// afterKey returns the offset just past the single colon that separates a
// key from the value in a candidate like "src:fe80::1", or -1.
func afterKey(text string, start, end int) int {
	i := strings.IndexByte(text[start:end], ':')
	if i < 0 {
		return -1
	}
	i += start
	if i+1 >= end || text[i+1] == ':' {
		return -1
	}
	if i > 0 && text[i-1] == ':' {
		return -1
	}
	return i + 1
}

// isIPv6At is isIPv6Token without the leading boundary check.
func isIPv6At(text string, start, end int) bool {
	if end < len(text) && isTokenByte(text[end]) {
		return false
	}
	// "::ffff:10.0.0.1" is left to the IPv4 matcher
	if end+1 < len(text) && text[end] == '.' && '0' <= text[end+1] && text[end+1] <= '9' {
		return false
	}
	addr, err := netip.ParseAddr(text[start:end])
	if err != nil || !addr.Is6() || addr.IsUnspecified() {
		return false
	}
	return true
}

func isTokenByte(c byte) bool {
	return c == ':' || c == '_' || c == '-' ||
		('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// privateSuffixes are names commonly used for internal networks.
var privateSuffixes = []string{".local", ".internal", ".lan", ".corp", ".home.arpa", ".intranet", ".localdomain"}

// isHostname accepts names under an ICANN top-level domain, names under a
// private suffix, and any name of three or more labels. Two-label names
// with other endings ("report.txt", "config.yaml") are file names.
func isHostname(host string) bool {
	host = strings.ToLower(host)
	for _, s := range privateSuffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	if strings.Count(host, ".") >= 2 {
		return true
	}
	return hasICANNSuffix(host)
}

func hasICANNSuffix(host string) bool {
	i := strings.LastIndexByte(host, '.')
	if i < 0 || i == len(host)-1 {
		return false
	}
	tld := host[i+1:]
	suffix, icann := publicsuffix.PublicSuffix(tld)
	return icann && suffix == tld
}
