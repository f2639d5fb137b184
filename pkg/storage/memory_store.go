package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

// MemoryStore implements AssetStore in process memory. Used when no state_dir
// is configured; claims then only span a single process.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]string // claimKey -> holder URL
	assets map[string]models.AssetDBEntry
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims: make(map[string]string),
		assets: make(map[string]models.AssetDBEntry),
	}
}

// ClaimPath implements ClaimStore
func (m *MemoryStore) ClaimPath(scope, relPath, sourceURL string) (string, error) {
	key := string(claimKey(scope, relPath))
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.claims[key]; ok {
		return holder, nil
	}
	m.claims[key] = sourceURL
	return sourceURL, nil
}

// CheckAssetStatus implements AssetStateStore
func (m *MemoryStore) CheckAssetStatus(scope, sourceURL string) (models.AssetStatus, *models.AssetDBEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.assets[string(assetKey(scope, sourceURL))]
	if !ok {
		return models.AssetStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// UpdateAssetStatus implements AssetStateStore
func (m *MemoryStore) UpdateAssetStatus(scope, sourceURL string, entry *models.AssetDBEntry) error {
	if err := checkEntry(sourceURL, entry); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[string(assetKey(scope, sourceURL))] = *entry
	return nil
}

// GetAssetCount implements StoreAdmin
func (m *MemoryStore) GetAssetCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assets), nil
}

// WriteAssetLog implements StoreAdmin; lines are ordered by key like BadgerStore's
func (m *MemoryStore) WriteAssetLog(ctx context.Context, filePath string) error {
	m.mu.Lock()
	keys := make([]string, 0, len(m.assets))
	for k := range m.assets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snapshot := make([]models.AssetDBEntry, len(keys))
	for i, k := range keys {
		snapshot[i] = m.assets[k]
	}
	m.mu.Unlock()

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create asset log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, sourceURL, _ := splitAssetKey([]byte(k))
		fmt.Fprintf(writer, "%s\t%s\t%s\n", snapshot[i].Status, sourceURL, snapshot[i].LocalPath)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush asset log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	return nil
}

// RunGC implements StoreAdmin; there is nothing to collect
func (m *MemoryStore) RunGC(ctx context.Context, _ time.Duration) {
	<-ctx.Done()
}

// Close implements StoreAdmin
func (m *MemoryStore) Close() error { return nil }
