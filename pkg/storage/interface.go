package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

// Every record is scoped to one output root: the same relative path or
// asset URL in two different mirrors are unrelated records.

// ClaimStore reserves output-root relative paths for source URLs
type ClaimStore interface {
	// ClaimPath reserves relPath for sourceURL within scope unless another URL
	// already holds it. Returns the URL holding the claim afterwards, which is
	// sourceURL itself when the claim was new or already its own.
	ClaimPath(scope, relPath, sourceURL string) (holder string, err error)
}

// AssetStateStore records per-asset fetch results
type AssetStateStore interface {
	// CheckAssetStatus retrieves the status and entry of an asset URL.
	// Returns AssetStatusNotFound with a nil entry for unknown URLs.
	CheckAssetStatus(scope, sourceURL string) (models.AssetStatus, *models.AssetDBEntry, error)

	// UpdateAssetStatus stores entry for the asset URL, replacing any previous
	// one. Entries whose status cannot be persisted are rejected.
	UpdateAssetStatus(scope, sourceURL string, entry *models.AssetDBEntry) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetAssetCount returns an approximate count of asset records
	GetAssetCount() (int, error)

	// WriteAssetLog writes one "status<TAB>url<TAB>local_path" line per asset record
	WriteAssetLog(ctx context.Context, filePath string) error

	// RunGC runs periodic garbage collection until ctx is done. Run it in a goroutine.
	RunGC(ctx context.Context, interval time.Duration)

	// Close releases the underlying storage
	Close() error
}

// AssetStore combines all store interfaces
type AssetStore interface {
	ClaimStore
	AssetStateStore
	StoreAdmin
}

// checkEntry rejects records a store must not persist
func checkEntry(sourceURL string, entry *models.AssetDBEntry) error {
	if entry == nil || !entry.Status.IsValid() {
		status := models.AssetStatusUnset
		if entry != nil {
			status = entry.Status
		}
		return fmt.Errorf("%w: refusing asset status '%s' for '%s'", utils.ErrDatabase, status, sourceURL)
	}
	return nil
}
