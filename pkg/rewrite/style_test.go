package rewrite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sriram-PR/page-mirror/pkg/models"
)

// prefixLocalizer localizes everything except the listed raw values
func prefixLocalizer(prefix string, reject ...string) Localizer {
	return LocalizerFunc(func(_ context.Context, ref models.AssetReference) (string, bool) {
		for _, r := range reject {
			if ref.Raw == r {
				return "", false
			}
		}
		return prefix + ref.Raw, true
	})
}

func TestStyleRewriter_Rewrite(t *testing.T) {
	s := NewStyleRewriter()
	loc := prefixLocalizer("local", "/missing.png")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single quoted", "background: url('/img/bg.png')", "background: url('local/img/bg.png')"},
		{"double quoted", `background: url("/img/bg.png")`, "background: url('local/img/bg.png')"},
		{"unquoted", "background: url(/img/bg.png) no-repeat", "background: url('local/img/bg.png') no-repeat"},
		{"padding", "background: url(  '/img/bg.png'  )", "background: url('local/img/bg.png')"},
		{"space before paren", "background: url ('/a.png')", "background: url ('local/a.png')"},
		{"several", "a{b:url(/1.png)} c{d:url(/2.png)}", "a{b:url('local/1.png')} c{d:url('local/2.png')}"},
		{"data uri untouched", "background: url(data:image/png;base64,AAAA)", "background: url(data:image/png;base64,AAAA)"},
		{"rejected untouched", "background: url( \"/missing.png\" )", "background: url( \"/missing.png\" )"},
		{"no urls", "color: red", "color: red"},
		{"mixed", "url(/ok.png), url(/missing.png)", "url('local/ok.png'), url(/missing.png)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Rewrite(context.Background(), tt.in, loc))
		})
	}
}

func TestStyleRewriter_ReferenceKind(t *testing.T) {
	var seen []models.AssetReference
	loc := LocalizerFunc(func(_ context.Context, ref models.AssetReference) (string, bool) {
		seen = append(seen, ref)
		return "", false
	})

	NewStyleRewriter().Rewrite(context.Background(), "background:url('/x.png')", ownedBy(loc, "div", "style"))

	if assert.Len(t, seen, 1) {
		assert.Equal(t, models.AssetReference{Tag: "div", Attr: "style", Raw: "/x.png", Kind: models.AttrStyleEmbedded}, seen[0])
	}
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "a.png", unquote(" 'a.png' "))
	assert.Equal(t, "a.png", unquote(`"a.png"`))
	assert.Equal(t, `'a.png"`, unquote(`'a.png"`), "mismatched quotes kept")
	assert.Equal(t, "a.png", unquote("a.png"))
}
