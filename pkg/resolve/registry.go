package resolve

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/storage"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

const collisionHashLen = 8

// PathRegistry keeps one source URL per local file within an output root.
// The first URL to claim a path keeps the plain name; a different URL mapping
// to the same path is renamed to <stem>_<sha256(url)[:8]><ext>. Claims go
// through the asset store, so with a persistent store they survive runs.
// Reserved paths belong to the mirror itself and are never handed out.
type PathRegistry struct {
	claims   storage.ClaimStore
	scope    string
	reserved map[string]bool // Lower-cased; case-insensitive filesystems would alias them

	mu       sync.Mutex
	assigned map[string]string // source URL -> relative path
}

// NewPathRegistry creates a registry for the output root identified by scope.
// reserved lists root-relative paths, slash separated, that no asset may take.
func NewPathRegistry(claims storage.ClaimStore, scope string, reserved ...string) *PathRegistry {
	r := &PathRegistry{
		claims:   claims,
		scope:    scope,
		reserved: make(map[string]bool, len(reserved)),
		assigned: make(map[string]string),
	}
	for _, p := range reserved {
		r.reserved[strings.ToLower(p)] = true
	}
	return r
}

// Claim reserves a local file for asset.SourceURL and returns the asset,
// renamed if its natural path belongs to another URL
func (r *PathRegistry) Claim(asset models.ResolvedAsset) (models.ResolvedAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rel, ok := r.assigned[asset.SourceURL]; ok {
		return withFileName(asset, path.Base(rel)), nil
	}

	ext := path.Ext(asset.FileName)
	stem := strings.TrimSuffix(asset.FileName, ext)
	fullHash := utils.ShortHash(asset.SourceURL, 0)
	candidates := []string{
		asset.FileName,
		stem + "_" + fullHash[:collisionHashLen] + ext,
		stem + "_" + fullHash + ext,
	}

	for _, name := range candidates {
		candidate := withFileName(asset, name)
		if r.reserved[strings.ToLower(candidate.RelativePath)] {
			continue
		}
		holder, err := r.claims.ClaimPath(r.scope, candidate.RelativePath, asset.SourceURL)
		if err != nil {
			return asset, err
		}
		if holder == asset.SourceURL {
			r.assigned[asset.SourceURL] = candidate.RelativePath
			return candidate, nil
		}
	}
	return asset, fmt.Errorf("%w: '%s' for %s", utils.ErrPathCollision, asset.RelativePath, asset.SourceURL)
}

// withFileName swaps the file name; the directory never changes
func withFileName(asset models.ResolvedAsset, name string) models.ResolvedAsset {
	if name == asset.FileName {
		return asset
	}
	asset.FileName = name
	dir := path.Dir(asset.RelativePath)
	if dir == "." {
		asset.RelativePath = name
	} else {
		asset.RelativePath = dir + "/" + name
	}
	return asset
}
