package slug

import (
	"regexp"
	"strconv"
	"strings"
)

const maxLen = 40

var reSlug = regexp.MustCompile(`^[a-z0-9_]{2,40}$`)

// IsSlug returns true if s matches ^[a-z0-9_]{2,40}$
func IsSlug(s string) bool {
	return reSlug.MatchString(s)
}

// Slugify converts s to a slug: lowercase, non [a-z0-9_] -> '_', collapse repeats, trim to 40, and trim leading/trailing '_'.
func Slugify(s string) string {
	if s == "" {
		return s
	}
	out := make([]rune, 0, len(s))
	prevUnderscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			prevUnderscore = false
			out = append(out, r)
		} else if !prevUnderscore {
			out = append(out, '_')
			prevUnderscore = true
		}
		if len(out) >= maxLen {
			break
		}
	}
	return strings.Trim(string(out), "_")
}

// Unique slugifies name and appends _2, _3, ... until taken reports false.
// Names with no ASCII letters or digits fall back to fallback.
func Unique(name, fallback string, taken func(code string) (bool, error)) (string, error) {
	base := Slugify(name)
	if len(base) < 2 {
		base = fallback
	}
	code := base
	for n := 2; ; n++ {
		used, err := taken(code)
		if err != nil {
			return "", err
		}
		if !used {
			return code, nil
		}
		suffix := "_" + strconv.Itoa(n)
		trimmed := base
		if len(trimmed)+len(suffix) > maxLen {
			trimmed = trimmed[:maxLen-len(suffix)]
		}
		code = trimmed + suffix
	}
}
