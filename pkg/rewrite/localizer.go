package rewrite

import (
	"context"

	"github.com/Sriram-PR/page-mirror/pkg/models"
)

// Localizer maps one asset reference to the output-root relative path that
// should replace it. ok=false leaves the reference exactly as written.
type Localizer interface {
	Localize(ctx context.Context, ref models.AssetReference) (rel string, ok bool)
}

// LocalizerFunc adapts a function to Localizer
type LocalizerFunc func(ctx context.Context, ref models.AssetReference) (string, bool)

func (f LocalizerFunc) Localize(ctx context.Context, ref models.AssetReference) (string, bool) {
	return f(ctx, ref)
}

// ownedBy fills in the tag and attribute of references produced by the style rewriter
func ownedBy(loc Localizer, tag, attr string) Localizer {
	return LocalizerFunc(func(ctx context.Context, ref models.AssetReference) (string, bool) {
		ref.Tag, ref.Attr = tag, attr
		return loc.Localize(ctx, ref)
	})
}
