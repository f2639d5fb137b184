package resolve

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

// Resolver applies Resolve, the configured exclusion patterns, and path claims
// for one output root
type Resolver struct {
	registry     *PathRegistry
	skipPatterns []*regexp.Regexp
}

// NewResolver creates a Resolver. registry may be nil, in which case
// colliding URLs are not disambiguated.
func NewResolver(registry *PathRegistry, skipPatterns []*regexp.Regexp) *Resolver {
	return &Resolver{registry: registry, skipPatterns: skipPatterns}
}

// Resolve resolves candidate against base and claims its local path.
// Returns an error wrapping utils.ErrSkip for references that must stay as written.
func (r *Resolver) Resolve(base *url.URL, candidate, outputRoot string) (models.ResolvedAsset, error) {
	asset, err := Resolve(base, candidate, outputRoot)
	if err != nil {
		return asset, err
	}
	if utils.MatchesAny(r.skipPatterns, asset.SourceURL) {
		return models.ResolvedAsset{}, fmt.Errorf("%w: '%s' matches skip_asset_patterns", utils.ErrSkip, asset.SourceURL)
	}
	if r.registry == nil {
		return asset, nil
	}
	return r.registry.Claim(asset)
}
