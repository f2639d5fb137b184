package orchestrate

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/page-mirror/pkg/config"
	"github.com/Sriram-PR/page-mirror/pkg/mirror"
	"github.com/Sriram-PR/page-mirror/pkg/models"
)

// PageResult contains the result of mirroring a single configured page
type PageResult struct {
	PageKey  string
	URL      string
	Success  bool
	Error    error
	Root     string
	Stats    models.Stats
	Duration time.Duration
}

// Orchestrator mirrors several configured pages in parallel over one set of
// shared resources
type Orchestrator struct {
	appCfg   *config.AppConfig
	log      *logrus.Entry
	pageKeys []string
	res      *mirror.Resources

	// Caps pages in flight at num_workers
	workers *semaphore.Weighted

	results []PageResult // Indexed like pageKeys

	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator. appCfg must already be validated.
func NewOrchestrator(ctx context.Context, appCfg *config.AppConfig, pageKeys []string, res *mirror.Resources, log *logrus.Entry) *Orchestrator {
	ctx, cancel := context.WithCancel(ctx)
	return &Orchestrator{
		appCfg:   appCfg,
		log:      log,
		pageKeys: pageKeys,
		res:      res,
		workers:  semaphore.NewWeighted(int64(max(appCfg.NumWorkers, 1))),
		results:  make([]PageResult, len(pageKeys)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run mirrors all pages and waits for completion. One page failing does not
// affect the others.
func (o *Orchestrator) Run() []PageResult {
	startTime := time.Now()
	o.log.Infof("Starting mirror of %d pages: %v", len(o.pageKeys), o.pageKeys)

	var wg sync.WaitGroup
	for i, key := range o.pageKeys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.results[i] = o.mirrorPage(key)
		}()
	}
	wg.Wait()

	o.logSummary(time.Since(startTime))
	return o.results
}

// mirrorPage runs one page once a worker slot is free
func (o *Orchestrator) mirrorPage(pageKey string) PageResult {
	startTime := time.Now()
	result := PageResult{PageKey: pageKey}
	pageLog := o.log.WithField("page_key", pageKey)

	pageCfg, exists := o.appCfg.Pages[pageKey]
	if !exists {
		result.Error = fmt.Errorf("page '%s' not found in configuration", pageKey)
		pageLog.Error("Page not found in configuration")
		return result
	}
	result.URL = pageCfg.URL

	if err := o.workers.Acquire(o.ctx, 1); err != nil {
		result.Error = fmt.Errorf("waiting for a worker slot: %w", err)
		return result
	}
	defer o.workers.Release(1)

	m, err := mirror.New(*o.appCfg, pageCfg, o.res, pageLog)
	if err != nil {
		result.Error = fmt.Errorf("failed to create mirror for '%s': %w", pageKey, err)
		pageLog.Errorf("Failed to create mirror: %v", err)
		return result
	}

	var run *mirror.Result
	if pageCfg.OutputDir != "" {
		run, err = m.RunTo(o.ctx, pageCfg.URL, pageCfg.OutputDir)
	} else {
		run, err = m.Run(o.ctx, pageCfg.URL)
	}
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Error = err
		pageLog.Errorf("Mirror failed: %v", err)
		return result
	}

	result.Success = true
	result.Root = run.Root
	result.Stats = run.Stats
	return result
}

// Cancel cancels all running mirrors
func (o *Orchestrator) Cancel() {
	o.log.Info("Cancelling all mirrors...")
	o.cancel()
}

// logSummary logs a summary of all mirror results
func (o *Orchestrator) logSummary(totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Batch mirror completed in %v", totalDuration)
	o.log.Info("Page Results:")

	var total models.Stats
	successCount := 0
	failCount := 0

	for _, r := range o.results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		total.Add(r.Stats)

		o.log.Infof("  %s: %s - %d/%d assets rewritten in %v", r.PageKey, status, r.Stats.Rewritten, r.Stats.References, r.Duration)
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d pages (%d success, %d failed), %d assets rewritten, %d failed, %d skipped",
		len(o.results), successCount, failCount, total.Rewritten, total.Failed, total.Skipped)
	if n, err := o.res.Store.GetAssetCount(); err != nil {
		o.log.Warnf("Could not count asset records: %v", err)
	} else {
		o.log.WithField("asset_records", n).Info("Asset state recorded")
	}
	o.log.Info("============================================")
}

// ValidatePageKeys checks that all provided page keys exist in the config
func ValidatePageKeys(appCfg *config.AppConfig, pageKeys []string) error {
	for _, key := range pageKeys {
		if _, exists := appCfg.Pages[key]; !exists {
			return fmt.Errorf("page '%s' not found. Available pages: %v", key, GetAllPageKeys(appCfg))
		}
	}
	return nil
}

// GetAllPageKeys returns all page keys from the config, sorted
func GetAllPageKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Pages))
	for k := range appCfg.Pages {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
