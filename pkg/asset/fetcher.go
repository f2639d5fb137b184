package asset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/page-mirror/pkg/fetch"
	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/storage"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

// fileMode is applied to every stored asset
const fileMode = 0644

// Options tunes asset downloads for one mirror run
type Options struct {
	Scope     string        // Asset store scope, the output root
	UserAgent string        // Empty uses the client default
	Timeout   time.Duration // Idle limit per asset request, see fetch.Request.Timeout; 0 disables
	Delay     time.Duration // Per-host politeness delay
	MaxBytes  int64         // 0 = unlimited
	Robots    *fetch.RobotsHandler
}

// Fetcher downloads assets into their resolved location. Every failure is
// reported in the returned outcome; nothing escapes as an error or panic.
type Fetcher struct {
	http  *fetch.Fetcher
	store storage.AssetStateStore
	opts  Options
	log   *logrus.Entry
}

// NewFetcher creates an asset Fetcher
func NewFetcher(httpFetcher *fetch.Fetcher, store storage.AssetStateStore, opts Options, log *logrus.Entry) *Fetcher {
	return &Fetcher{http: httpFetcher, store: store, opts: opts, log: log}
}

// Fetch downloads asset.SourceURL to asset.LocalPath(). A file only appears
// under its final name once the whole body has been written.
func (f *Fetcher) Fetch(ctx context.Context, asset models.ResolvedAsset) (outcome models.DownloadOutcome) {
	assetLog := f.log.WithFields(logrus.Fields{"url": asset.SourceURL, "path": asset.RelativePath})
	start := time.Now()
	var sum string

	defer func() {
		if r := recover(); r != nil {
			assetLog.Errorf("PANIC while fetching asset: %v", r)
			outcome = models.Failed(fmt.Errorf("%w: panic: %v", utils.ErrFetchFailed, r))
		}
		f.record(asset, outcome, sum, start, assetLog)
	}()

	if f.opts.Robots != nil {
		target, err := url.Parse(asset.SourceURL)
		if err == nil && !f.opts.Robots.TestAgent(ctx, target, f.opts.UserAgent) {
			return models.Failed(fmt.Errorf("%w: %w", utils.ErrFetchFailed, utils.ErrRobotsDisallowed))
		}
	}

	resp, err := f.http.Get(ctx, fetch.Request{
		URL:       asset.SourceURL,
		UserAgent: f.opts.UserAgent,
		Delay:     f.opts.Delay,
		Timeout:   f.opts.Timeout,
	})
	if err != nil {
		return models.Failed(fmt.Errorf("%w: %w", utils.ErrFetchFailed, err))
	}
	defer resp.Body.Close()

	if f.opts.MaxBytes > 0 && resp.ContentLength > f.opts.MaxBytes {
		return models.Failed(fmt.Errorf("%w: %w: %d > %d bytes", utils.ErrFetchFailed, utils.ErrAssetTooLarge, resp.ContentLength, f.opts.MaxBytes))
	}

	n, hash, err := f.writeFile(asset, resp.Body)
	if err != nil {
		return models.Failed(fmt.Errorf("%w: %w", utils.ErrFetchFailed, err))
	}
	sum = hash
	return models.Stored(asset.FileName, n)
}

// writeFile streams body into a temp file beside the target and renames it into place
func (f *Fetcher) writeFile(asset models.ResolvedAsset, body io.Reader) (int64, string, error) {
	if err := os.MkdirAll(asset.LocalDir, 0755); err != nil {
		return 0, "", fmt.Errorf("%w: create directory '%s': %w", utils.ErrFilesystem, asset.LocalDir, err)
	}

	tmp, err := os.CreateTemp(asset.LocalDir, "."+asset.FileName+".*.part")
	if err != nil {
		return 0, "", fmt.Errorf("%w: create temp file in '%s': %w", utils.ErrFilesystem, asset.LocalDir, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	src := body
	if f.opts.MaxBytes > 0 {
		// One byte past the limit is enough to detect a body without Content-Length
		src = io.LimitReader(body, f.opts.MaxBytes+1)
	}
	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return n, "", fmt.Errorf("%w: write '%s': %w", utils.ErrFilesystem, tmpName, err)
		}
		return n, "", fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if f.opts.MaxBytes > 0 && n > f.opts.MaxBytes {
		return n, "", fmt.Errorf("%w: body exceeds %d bytes", utils.ErrAssetTooLarge, f.opts.MaxBytes)
	}

	// CreateTemp makes the file owner-only
	if err := tmp.Chmod(fileMode); err != nil {
		return n, "", fmt.Errorf("%w: chmod '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return n, "", fmt.Errorf("%w: close '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := os.Rename(tmpName, asset.LocalPath()); err != nil {
		return n, "", fmt.Errorf("%w: rename into '%s': %w", utils.ErrFilesystem, asset.LocalPath(), err)
	}
	committed = true
	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// record persists the outcome and emits the per-asset log line. The line
// carries the status of an earlier run when it differs from this one.
func (f *Fetcher) record(asset models.ResolvedAsset, outcome models.DownloadOutcome, sum string, start time.Time, assetLog *logrus.Entry) {
	entry := &models.AssetDBEntry{LastAttempt: time.Now().UTC()}
	if outcome.Stored {
		entry.Status = models.AssetStatusSuccess
	} else {
		entry.Status = models.AssetStatusFailure
		if errors.Is(outcome.Err, utils.ErrRobotsDisallowed) {
			entry.Status = models.AssetStatusSkipped
		}
	}
	if f.store != nil {
		prev, _, err := f.store.CheckAssetStatus(f.opts.Scope, asset.SourceURL)
		switch {
		case err != nil:
			assetLog.Debugf("Previous asset status unavailable (%s): %v", prev, err)
		case prev != models.AssetStatusNotFound && prev != entry.Status:
			assetLog = assetLog.WithField("previous_status", prev.String())
		}
	}

	if outcome.Stored {
		entry.LocalPath = asset.RelativePath
		entry.SHA256 = sum
		entry.Bytes = outcome.Bytes
		assetLog.WithFields(logrus.Fields{"bytes": outcome.Bytes, "duration": time.Since(start).Round(time.Millisecond)}).Info("Asset stored")
	} else {
		entry.ErrorType = utils.CategorizeError(outcome.Err)
		assetLog.WithField("error_type", entry.ErrorType).Warnf("Asset not stored: %v", outcome.Err)
	}

	if f.store == nil {
		return
	}
	if err := f.store.UpdateAssetStatus(f.opts.Scope, asset.SourceURL, entry); err != nil {
		assetLog.Errorf("Failed to record asset status: %v", err)
	}
}
