package main

import (
	"fmt"
	"net"
	"strings"
)

// normalizeSite reduces user input such as "https://www.GitHub.com/foo" to
// the bare domain "github.com".
func normalizeSite(raw string) (string, error) {
	site := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(site, "://"); i >= 0 {
		site = site[i+3:]
	}
	if i := strings.IndexAny(site, "/?#"); i >= 0 {
		site = site[:i]
	}
	if host, _, err := net.SplitHostPort(site); err == nil {
		site = host
	}
	site = strings.TrimSuffix(strings.TrimPrefix(site, "www."), ".")

	if site == "" {
		return "", fmt.Errorf("invalid site %q", raw)
	}
	if strings.ContainsAny(site, " \t*@") {
		return "", fmt.Errorf("invalid site %q: must be a domain name", raw)
	}
	return site, nil
}

// normalizeSites normalizes every entry and drops duplicates, keeping order.
func normalizeSites(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		site, err := normalizeSite(r)
		if err != nil {
			return nil, err
		}
		if seen[site] {
			continue
		}
		seen[site] = true
		out = append(out, site)
	}
	return out, nil
}

func addSites(current, added []string) []string {
	out := append([]string{}, current...)
	for _, site := range added {
		if !contains(out, site) {
			out = append(out, site)
		}
	}
	return out
}

func removeSites(current, removed []string) []string {
	out := make([]string, 0, len(current))
	for _, site := range current {
		if !contains(removed, site) {
			out = append(out, site)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func validateMinutes(minutes, limit int) error {
	if minutes < 1 || minutes > limit {
		return fmt.Errorf("minutes must be between 1 and %d", limit)
	}
	return nil
}
