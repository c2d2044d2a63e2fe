// Package urlutil holds the small URL and query helpers shared by the session
// package.
package urlutil

import (
	"net/url"
	"strings"
)

// Base64URLEncode rewrites a standard base64 string into the URL-safe
// alphabet and strips trailing padding.
func Base64URLEncode(s string) string {
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	return strings.TrimRight(s, "=")
}

// ParseQuery parses a query string with or without its leading "?".
// Malformed pairs are dropped rather than reported.
func ParseQuery(search string) url.Values {
	search = strings.TrimPrefix(search, "?")
	v, _ := url.ParseQuery(search)
	if v == nil {
		v = url.Values{}
	}
	return v
}

// Origin returns scheme://host for u, or "" when u has no host.
func Origin(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// WithoutQuery returns a copy of u with its query and fragment removed.
func WithoutQuery(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""
	return &c
}

// StrListContains looks for a string in a list of strings.
func StrListContains(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}
