package domain

import (
	"strconv"
	"strings"
	"unicode"
)

// Version is a dotted numeric version such as 0.8.1.
type Version []int

// ParseVersion extracts the first dotted numeric run from s, so
// "v0.8.1", "Geth/v1.13.5-stable" and "/Satoshi:25.0.0/" all parse.
func ParseVersion(s string) (Version, bool) {
	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return nil, false
	}
	end := start
	for end < len(s) && (unicode.IsDigit(rune(s[end])) || s[end] == '.') {
		end++
	}

	var v Version
	for _, part := range strings.Split(strings.Trim(s[start:end], "."), ".") {
		if part == "" {
			break
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, false
		}
		v = append(v, n)
	}
	return v, len(v) > 0
}

// Less compares component-wise; missing components count as zero.
func (v Version) Less(o Version) bool {
	for i := 0; i < max(len(v), len(o)); i++ {
		var a, b int
		if i < len(v) {
			a = v[i]
		}
		if i < len(o) {
			b = o[i]
		}
		if a != b {
			return a < b
		}
	}
	return false
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
