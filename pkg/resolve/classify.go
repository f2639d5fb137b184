package resolve

import "strings"

// Classification is the fetch policy for a raw reference
type Classification int

const (
	NeedsFetch Classification = iota // Resolve, download and rewrite
	Skip                             // Leave the reference exactly as written
)

func (c Classification) String() string {
	if c == Skip {
		return "skip"
	}
	return "needs-fetch"
}

// skipPrefixes are compared case-insensitively against the trimmed candidate
var skipPrefixes = []string{"#", "data:", "javascript:"}

// Classify decides whether a candidate reference should be fetched.
// Empty values, in-page fragments, data: URIs and javascript: URIs are skipped.
func Classify(candidate string) Classification {
	c := strings.TrimSpace(candidate)
	if c == "" {
		return Skip
	}
	lower := strings.ToLower(c)
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return Skip
		}
	}
	return NeedsFetch
}
