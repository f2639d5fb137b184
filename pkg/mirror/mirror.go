package mirror

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/Sriram-PR/page-mirror/pkg/asset"
	"github.com/Sriram-PR/page-mirror/pkg/config"
	"github.com/Sriram-PR/page-mirror/pkg/fetch"
	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/resolve"
	"github.com/Sriram-PR/page-mirror/pkg/rewrite"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

const indexFileName = "index.html"

// Result describes a completed mirror run
type Result struct {
	RunID    string
	Root     string // Output root holding index.html and the assets
	TreeFile string // Layout listing beside the root; empty when not written
	Document *models.SourceDocument
	Stats    models.Stats
	Duration time.Duration
}

// Mirror copies one configured page, and the assets it references, to disk
type Mirror struct {
	appCfg       config.AppConfig
	pageCfg      config.PageConfig
	res          *Resources
	skipPatterns []*regexp.Regexp
	log          *logrus.Entry
}

// New creates a Mirror for pageCfg. appCfg must already be validated.
func New(appCfg config.AppConfig, pageCfg config.PageConfig, res *Resources, log *logrus.Entry) (*Mirror, error) {
	patterns, err := utils.CompileRegexPatterns(config.GetEffectiveSkipAssetPatterns(pageCfg, appCfg))
	if err != nil {
		return nil, fmt.Errorf("compiling skip_asset_patterns: %w", err)
	}
	return &Mirror{
		appCfg:       appCfg,
		pageCfg:      pageCfg,
		res:          res,
		skipPatterns: patterns,
		log:          log,
	}, nil
}

// Run mirrors pageURL into output_base_dir/<OutputFolderName>
func (m *Mirror) Run(ctx context.Context, pageURL string) (*Result, error) {
	return m.run(ctx, pageURL, "")
}

// RunTo mirrors pageURL into outputRoot. Only a root page failure or a
// failure to write index.html is returned as an error; assets that cannot be
// stored stay as remote references in the written document.
func (m *Mirror) RunTo(ctx context.Context, pageURL, outputRoot string) (*Result, error) {
	if outputRoot == "" {
		return nil, fmt.Errorf("%w: empty output root", utils.ErrConfigValidation)
	}
	return m.run(ctx, pageURL, outputRoot)
}

func (m *Mirror) run(ctx context.Context, pageURL, outputRoot string) (*Result, error) {
	start := time.Now()
	result := &Result{RunID: uuid.NewString()}
	runLog := m.log.WithFields(logrus.Fields{"run_id": result.RunID, "page_url": pageURL})

	target, err := config.ParsePageURL(pageURL)
	if err != nil {
		return nil, err
	}

	src, err := m.fetchRoot(ctx, target, runLog)
	if err != nil {
		return nil, err
	}
	result.Document = src

	if outputRoot == "" {
		outputRoot = filepath.Join(m.appCfg.OutputBaseDir, OutputFolderName(src.Doc, target))
	}
	root, err := filepath.Abs(outputRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving output root '%s': %w", utils.ErrFilesystem, outputRoot, err)
	}
	result.Root = root
	runLog = runLog.WithField("root", root)
	runLog.Info("Mirroring page")

	result.Stats = m.newRewriter(root, runLog).Process(ctx, src.Doc, src.URL, root)

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating output root '%s': %w", utils.ErrFilesystem, root, err)
	}
	if err := writeIndex(root, src.Doc); err != nil {
		return nil, err
	}

	if config.GetEffectiveWriteTreeFile(m.pageCfg, m.appCfg) {
		treeFile := root + "_structure.txt"
		if err := utils.SaveTreeStructure(root, treeFile, runLog); err != nil {
			runLog.Warnf("Failed to write tree listing: %v", err)
		} else {
			result.TreeFile = treeFile
		}
	}

	result.Duration = time.Since(start)
	runLog.WithFields(logrus.Fields{
		"rewritten": result.Stats.Rewritten,
		"failed":    result.Stats.Failed,
		"skipped":   result.Stats.Skipped,
		"duration":  result.Duration.Round(time.Millisecond),
	}).Info("Mirror complete")
	return result, nil
}

// fetchRoot downloads and parses the page. Nothing is written on failure.
// The document base is the URL after redirects.
func (m *Mirror) fetchRoot(ctx context.Context, target *url.URL, runLog *logrus.Entry) (*models.SourceDocument, error) {
	resp, err := m.res.HTTP.Get(ctx, fetch.Request{
		URL:       target.String(),
		UserAgent: config.GetEffectiveUserAgent(m.pageCfg, m.appCfg),
		Delay:     config.GetEffectiveDelayPerHost(m.pageCfg, m.appCfg),
		Timeout:   m.appCfg.PageTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", utils.ErrRootFetchFailed, target, err)
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL
	if finalURL.String() != target.String() {
		runLog.WithField("final_url", finalURL.String()).Info("Page redirected")
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" &&
		!strings.HasPrefix(ct, "text/html") && !strings.HasPrefix(ct, "application/xhtml+xml") {
		runLog.Warnf("Unexpected Content-Type '%s'. Proceeding with parsing attempt.", ct)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: parsing HTML from '%s': %w", utils.ErrRootFetchFailed, utils.ErrParsing, finalURL, err)
	}
	return &models.SourceDocument{URL: finalURL, Doc: doc}, nil
}

func (m *Mirror) newRewriter(root string, runLog *logrus.Entry) *rewrite.DocumentRewriter {
	registry := resolve.NewPathRegistry(m.res.Store, root, indexFileName)
	resolver := resolve.NewResolver(registry, m.skipPatterns)

	opts := asset.Options{
		Scope:     root,
		UserAgent: config.GetEffectiveUserAgent(m.pageCfg, m.appCfg),
		Timeout:   config.GetEffectiveAssetTimeout(m.pageCfg, m.appCfg),
		Delay:     config.GetEffectiveDelayPerHost(m.pageCfg, m.appCfg),
		MaxBytes:  config.GetEffectiveMaxAssetSize(m.pageCfg, m.appCfg),
	}
	if config.GetEffectiveRespectRobots(m.pageCfg, m.appCfg) {
		opts.Robots = m.res.Robots
	}
	fetcher := asset.NewFetcher(m.res.HTTP, m.res.Store, opts, runLog)

	return rewrite.NewDocumentRewriter(resolver, fetcher, rewrite.Options{
		Workers:              m.appCfg.NumAssetWorkers,
		RewriteStyleElements: config.GetEffectiveRewriteStyleElements(m.pageCfg, m.appCfg),
	}, runLog)
}

// writeIndex serializes doc to root/index.html through a temp file, so an
// interrupted write never replaces a previous index
func writeIndex(root string, doc *goquery.Document) error {
	tmp, err := os.CreateTemp(root, "."+indexFileName+".*.part")
	if err != nil {
		return fmt.Errorf("%w: creating temp index in '%s': %w", utils.ErrFilesystem, root, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename

	if err := render(tmp, doc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: chmod '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	target := filepath.Join(root, indexFileName)
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, target, err)
	}
	return nil
}

func render(w io.Writer, doc *goquery.Document) error {
	bw := bufio.NewWriter(w)
	for _, node := range doc.Nodes {
		if err := html.Render(bw, node); err != nil {
			return fmt.Errorf("%w: serializing document: %w", utils.ErrFilesystem, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: writing document: %w", utils.ErrFilesystem, err)
	}
	return nil
}
