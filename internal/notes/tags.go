package notes

import "strings"

// MaxTagLength is the longest tag kept by [SanitizeTags], in runes.
const MaxTagLength = 40

// SanitizeTags normalises tags: each is trimmed and lowercased, characters
// outside [a-z0-9_-] are dropped, the result is cut to [MaxTagLength], and
// empty or repeated tags are removed. First-seen order is preserved.
// SanitizeTags(SanitizeTags(x)) == SanitizeTags(x).
func SanitizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		t := cleanTag(raw)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func cleanTag(raw string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if n == MaxTagLength {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
			n++
		}
	}
	return b.String()
}
