package server

import (
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the normalized allow-list used for WebSocket upgrades and
// CORS responses.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	normalized, allowAll := normalizeOrigins(origins)
	policy := originPolicy{
		allowAll: allowAll,
		allowed:  make(map[string]struct{}, len(normalized)),
	}
	for _, origin := range normalized {
		policy.allowed[origin] = struct{}{}
	}
	return policy
}

func normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warningf("ignoring invalid origin in configuration: %q", origin)
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}

// checkOrigin is the websocket.Upgrader hook.
func (p originPolicy) checkOrigin(r *http.Request) bool {
	if p.allows(r.Header.Get("Origin")) {
		return true
	}
	logger.Warningf("blocked WebSocket connection from disallowed origin: %q", r.Header.Get("Origin"))
	return false
}
