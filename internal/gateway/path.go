package gateway

import (
	"errors"
	"net/url"
	"strings"
)

var ErrTraversal = errors.New("path contains traversal segment")

// apiPrefix is stripped from client-supplied paths so tokens bind to the
// relative image path regardless of how the client addressed it.
const apiPrefix = "/api/images/"

// normalizePath canonicalizes a client-supplied image path: strips the
// API prefix, splits into segments, and trims incidental whitespace per
// segment (source filenames legitimately carry leading or trailing
// spaces, so trimming happens per segment, not on the whole string).
// Any segment containing ".." fails: the check runs on the canonical
// form, before the path ever reaches the filesystem.
func normalizePath(raw string) (string, error) {
	raw = strings.TrimPrefix(raw, apiPrefix)
	segments := strings.Split(raw, "/")
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if strings.Contains(seg, "..") {
			return "", ErrTraversal
		}
		segments[i] = seg
	}
	return strings.Join(segments, "/"), nil
}

// decodeSegments unescapes each URL path segment of the wildcard route,
// then trims it. URL-encoded traversal (%2e%2e) surfaces here as a
// literal ".." and fails the same check.
func decodeSegments(wild string) ([]string, error) {
	parts := strings.Split(wild, "/")
	decoded := make([]string, len(parts))
	for i, p := range parts {
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		decoded[i] = strings.TrimSpace(seg)
	}
	for _, seg := range decoded {
		if strings.Contains(seg, "..") {
			return nil, ErrTraversal
		}
	}
	return decoded, nil
}
