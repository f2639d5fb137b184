package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/page-mirror/pkg/log"
	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

const assetDBDir = "asset_db" // Subdirectory within stateDir for Badger files

// BadgerStore implements AssetStore on BadgerDB. State outlives a run so
// path claims made by an earlier mirror of the same output root are honored.
type BadgerStore struct {
	db         *badger.DB
	log        *logrus.Entry
	assetCount atomic.Int64 // Cached asset record count
}

// NewBadgerStore opens (or creates) the asset database under stateDir.
// reset wipes previous state first.
func NewBadgerStore(stateDir string, reset bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}
	dbPath := filepath.Join(stateDir, assetDBDir)

	if reset {
		logger.Warnf("Reset requested. REMOVING existing asset state: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countAssets()
	if err != nil {
		logger.Warnf("Failed to count existing asset records: %v", err)
	} else {
		store.assetCount.Store(int64(count))
	}

	logger.WithFields(logrus.Fields{"path": dbPath, "assets": count}).Info("Asset state database opened")
	return store, nil
}

func (s *BadgerStore) countAssets() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(assetKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate retries db.Update on transaction conflicts, which concurrent
// asset workers touching the same keys can produce
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// ClaimPath implements ClaimStore
func (s *BadgerStore) ClaimPath(scope, relPath, sourceURL string) (string, error) {
	key := claimKey(scope, relPath)
	holder := sourceURL

	err := s.dbUpdate(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			holder = sourceURL
			return txn.SetEntry(badger.NewEntry(key, []byte(sourceURL)))
		}
		if errGet != nil {
			return errGet
		}
		val, errVal := item.ValueCopy(nil)
		if errVal != nil {
			return errVal
		}
		holder = string(val)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: claiming '%s': %w", utils.ErrDatabase, relPath, err)
	}
	return holder, nil
}

// CheckAssetStatus implements AssetStateStore
func (s *BadgerStore) CheckAssetStatus(scope, sourceURL string) (models.AssetStatus, *models.AssetDBEntry, error) {
	status := models.AssetStatusNotFound
	var entry *models.AssetDBEntry
	key := assetKey(scope, sourceURL)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting asset key for '%s': %w", utils.ErrDatabase, sourceURL, errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.AssetDBEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Failed to unmarshal AssetDBEntry for '%s': %v. Treating as 'not_found'.", sourceURL, errJSON)
				return nil
			}
			entry = &decoded
			status = decoded.Status
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in CheckAssetStatus for '%s': %v", sourceURL, errView)
		return models.AssetStatusDBError, nil, errView
	}
	return status, entry, nil
}

// UpdateAssetStatus implements AssetStateStore
func (s *BadgerStore) UpdateAssetStatus(scope, sourceURL string, entry *models.AssetDBEntry) error {
	if err := checkEntry(sourceURL, entry); err != nil {
		return err
	}
	key := assetKey(scope, sourceURL)
	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal AssetDBEntry for '%s': %w", utils.ErrParsing, sourceURL, errJSON)
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("url", sourceURL).Errorf("DB Update error in UpdateAssetStatus: %v", err)
		return fmt.Errorf("%w: failed setting asset status for '%s': %w", utils.ErrDatabase, sourceURL, err)
	}
	if isNew {
		s.assetCount.Add(1)
	}
	return nil
}

// GetAssetCount implements StoreAdmin
func (s *BadgerStore) GetAssetCount() (int, error) {
	return int(s.assetCount.Load()), nil
}

// WriteAssetLog implements StoreAdmin
func (s *BadgerStore) WriteAssetLog(ctx context.Context, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create asset log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	written := 0
	iterErr := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(assetKeyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			_, sourceURL, ok := splitAssetKey(item.KeyCopy(nil))
			if !ok {
				continue
			}
			var entry models.AssetDBEntry
			if errVal := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); errVal != nil {
				s.log.Warnf("Skipping unreadable asset record '%s': %v", sourceURL, errVal)
				continue
			}
			if _, errW := fmt.Fprintf(writer, "%s\t%s\t%s\n", entry.Status, sourceURL, entry.LocalPath); errW != nil {
				return errW
			}
			written++
		}
		return nil
	})
	if iterErr != nil {
		return fmt.Errorf("%w: writing asset log: %w", utils.ErrDatabase, iterErr)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush asset log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	s.log.Infof("Wrote %d asset records to %s", written, filePath)
	return nil
}

// RunGC runs BadgerDB value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing asset DB: %v", err)
		return fmt.Errorf("%w: close: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("Asset DB closed")
	return nil
}
