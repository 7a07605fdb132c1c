// Package dedup canonicalizes source URLs and tracks which URLs a pipeline
// run has already seen. The index is always scoped to a single run; runs stay
// independently testable because nothing here is process-global.
package dedup

import (
	"net/url"
	"sort"
	"strings"
)

// Query parameters that carry tracking state rather than identity.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"mc_cid":   true,
	"mc_eid":   true,
	"msclkid":  true,
	"ref":      true,
	"referrer": true,
}

// CanonicalURL normalizes a URL for deduplication: lower-cases scheme and
// host, strips a leading www., drops fragments and tracking parameters, and
// trims trailing slashes. Unparseable input is returned trimmed and
// lower-cased so it still deduplicates against itself.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if trackingParams[lower] || strings.HasPrefix(lower, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = encodeSorted(q)
	u.Path = strings.TrimRight(u.Path, "/")

	return u.String()
}

func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	return sb.String()
}
