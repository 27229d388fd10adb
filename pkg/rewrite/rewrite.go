// Package rewrite walks decoded JSON payloads and redirects embedded image
// URLs through the gateway's image-proxy endpoint.
package rewrite

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// ProxyPath is the gateway path that rewritten URLs point at. The target URL
// travels percent-encoded in the "url" query parameter.
const ProxyPath = "/api/proxy-img"

// imageExtPattern matches common raster and vector image extensions, with an
// optional query string, case-insensitively.
var imageExtPattern = regexp.MustCompile(`(?i)\.(jpe?g|png|webp|avif|gif|svg)(\?.*)?$`)

// Rewriter rewrites image and upload URLs found inside a JSON value tree.
type Rewriter struct {
	logger *slog.Logger
}

// New creates a rewriter.
func New(logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{logger: logger}
}

// Rewrite mutates the tree in place, replacing every string that looks like
// an image or upload URL with a reference to the image-proxy endpoint, and
// returns how many strings were rewritten. Trees come from encoding/json, so
// they are acyclic by construction; every node is visited exactly once.
//
// Strings that fail to form a valid absolute URL are left untouched: one bad
// link must not corrupt an otherwise valid payload.
func (rw *Rewriter) Rewrite(tree any, upstreamOrigin string) int {
	count := 0
	rw.walk(tree, upstreamOrigin, &count)
	return count
}

func (rw *Rewriter) walk(node any, origin string, count *int) {
	switch v := node.(type) {
	case map[string]any:
		for key, value := range v {
			if s, ok := value.(string); ok {
				v[key] = rw.rewriteString(s, origin, count)
				continue
			}
			rw.walk(value, origin, count)
		}
	case []any:
		for i, value := range v {
			if s, ok := value.(string); ok {
				v[i] = rw.rewriteString(s, origin, count)
				continue
			}
			rw.walk(value, origin, count)
		}
	}
	// Numbers, booleans, and nulls carry no URLs.
}

func (rw *Rewriter) rewriteString(value, origin string, count *int) string {
	resolved, candidate := classify(value, origin)
	if !candidate {
		return value
	}

	parsed, err := url.Parse(resolved)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		rw.logger.Warn("skipping malformed image URL candidate",
			"value", value,
			"resolved", resolved,
		)
		return value
	}

	*count++
	return ProxyPath + "?url=" + url.QueryEscape(resolved)
}

// classify decides whether the string is a rewrite candidate and returns the
// absolute URL to rewrite to.
func classify(value, origin string) (resolved string, candidate bool) {
	switch {
	case strings.HasPrefix(value, "/"):
		// Origin-relative path: only the upload-path heuristic applies.
		resolved = origin + value
		return resolved, isUploadPath(resolved)
	case strings.HasPrefix(value, "http://"), strings.HasPrefix(value, "https://"):
		return value, imageExtPattern.MatchString(value) || isUploadPath(value)
	default:
		return "", false
	}
}

// isUploadPath reports whether the URL points into a CMS upload directory.
// Covers both bare and WordPress-style upload paths.
func isUploadPath(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "/uploads/") || strings.Contains(lower, "/wp-content/uploads/")
}
