package rewrite

import (
	"context"
	"regexp"
	"strings"

	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/resolve"
)

// cssURLPattern is a narrow lexer for url(...) tokens. It does not understand
// nested parentheses, escaped quotes or comments.
var cssURLPattern = regexp.MustCompile(`url\s*\(([^)]+)\)`)

// StyleRewriter rewrites url(...) references inside style declarations
type StyleRewriter struct{}

// NewStyleRewriter creates a StyleRewriter
func NewStyleRewriter() *StyleRewriter {
	return &StyleRewriter{}
}

// Rewrite returns text with every localizable url(...) occurrence pointing at
// its local copy. The matched inner text (quotes and padding included) is
// replaced by the relative path in single quotes; occurrences that cannot be
// localized, and skip-class values such as data: URIs, are left unchanged.
func (s *StyleRewriter) Rewrite(ctx context.Context, text string, loc Localizer) string {
	matches := cssURLPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		innerStart, innerEnd := m[2], m[3]
		value := unquote(text[innerStart:innerEnd])
		if resolve.Classify(value) == resolve.Skip {
			continue
		}
		rel, ok := loc.Localize(ctx, models.AssetReference{Raw: value, Kind: models.AttrStyleEmbedded})
		if !ok {
			continue
		}
		b.WriteString(text[last:innerStart])
		b.WriteString("'" + rel + "'")
		last = innerEnd
	}
	b.WriteString(text[last:])
	return b.String()
}

// unquote trims whitespace and one layer of matching quotes
func unquote(inner string) string {
	v := strings.TrimSpace(inner)
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}
