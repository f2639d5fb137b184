package rewrite

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/resolve"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

// interestAttrs lists the URL-bearing attributes inspected per tag
var interestAttrs = map[string][]string{
	"link":   {"href"},
	"script": {"src"},
	"img":    {"src", "srcset"},
	"source": {"src", "srcset"},
	"video":  {"poster"},
	"audio":  {"src"},
}

const interestSelector = "link, script, img, source, video, audio"

// AssetFetcher downloads a resolved asset; implemented by asset.Fetcher
type AssetFetcher interface {
	Fetch(ctx context.Context, asset models.ResolvedAsset) models.DownloadOutcome
}

// AssetResolver maps a reference to its source and local location; implemented by resolve.Resolver
type AssetResolver interface {
	Resolve(base *url.URL, candidate, outputRoot string) (models.ResolvedAsset, error)
}

// Options configures a DocumentRewriter
type Options struct {
	Workers              int  // Concurrent asset downloads
	RewriteStyleElements bool // Also rewrite the text of <style> elements
}

// DocumentRewriter localizes every asset reference of a parsed document
type DocumentRewriter struct {
	resolver AssetResolver
	fetcher  AssetFetcher
	style    *StyleRewriter
	opts     Options
	log      *logrus.Entry
}

// NewDocumentRewriter creates a DocumentRewriter
func NewDocumentRewriter(resolver AssetResolver, fetcher AssetFetcher, opts Options, log *logrus.Entry) *DocumentRewriter {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &DocumentRewriter{
		resolver: resolver,
		fetcher:  fetcher,
		style:    NewStyleRewriter(),
		opts:     opts,
		log:      log,
	}
}

// RemoveBaseOverride deletes every <base> element so relative references keep
// their meaning once rewritten. Returns the number removed.
func RemoveBaseOverride(doc *goquery.Document) int {
	bases := doc.Find("base")
	n := bases.Length()
	bases.Remove()
	return n
}

// Process rewrites doc in place so fetched assets are referenced by their
// path relative to outputRoot. Downloads run concurrently; the tree itself is
// only touched by the calling goroutine, after all downloads have finished.
func (d *DocumentRewriter) Process(ctx context.Context, doc *goquery.Document, base *url.URL, outputRoot string) models.Stats {
	RemoveBaseOverride(doc)

	// Pass 1: collect candidates in document order and claim their local paths.
	plan := newFetchPlan(d.resolver, base, outputRoot)
	d.walk(ctx, doc, plan, false)

	// Pass 2: download.
	results := d.download(ctx, plan.assets)

	// Pass 3: single-writer mutation using the results.
	apply := &applyLocalizer{plan: plan, results: results, log: d.log}
	skipped := d.walk(ctx, doc, apply, true)

	stats := apply.stats
	stats.Skipped += skipped
	d.log.WithFields(logrus.Fields{
		"references": stats.References,
		"rewritten":  stats.Rewritten,
		"failed":     stats.Failed,
		"skipped":    stats.Skipped,
		"assets":     len(plan.assets),
	}).Info("Document assets processed")
	return stats
}

// walk visits every reference in a fixed order and, when mutate is set,
// writes localized values back. Returns how many skip-class references it saw.
func (d *DocumentRewriter) walk(ctx context.Context, doc *goquery.Document, loc Localizer, mutate bool) int {
	skipped := 0

	doc.Find(interestSelector).Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)
		for _, attr := range interestAttrs[tag] {
			val, exists := sel.Attr(attr)
			if !exists {
				continue
			}
			kind := models.AttrSimpleURL
			if attr == "srcset" {
				kind = models.AttrMultiCandidate
			}
			newVal, changed, skips := rewriteAttr(ctx, tag, attr, val, kind, loc)
			skipped += skips
			if mutate && changed {
				sel.SetAttr(attr, newVal)
			}
		}
	})

	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		val, _ := sel.Attr("style")
		newVal := d.style.Rewrite(ctx, val, ownedBy(loc, goquery.NodeName(sel), "style"))
		if mutate && newVal != val {
			sel.SetAttr("style", newVal)
		}
	})

	if d.opts.RewriteStyleElements {
		doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
			text := sel.Text()
			newText := d.style.Rewrite(ctx, text, ownedBy(loc, "style", ""))
			if mutate && newText != text {
				sel.SetText(newText)
			}
		})
	}
	return skipped
}

// rewriteAttr localizes the URL tokens of one attribute value. Only
// multi-candidate (srcset) values are split on commas; href, src and poster
// are one token each, so URLs with commas in them (font CSS queries) survive.
// Each part splits into a URL token and an optional descriptor. The value is
// only rebuilt, with ", " separators, when at least one token was replaced.
func rewriteAttr(ctx context.Context, tag, attr, val string, kind models.AttrKind, loc Localizer) (string, bool, int) {
	parts := []string{val}
	if kind == models.AttrMultiCandidate {
		parts = strings.Split(val, ",")
	}

	skipped := 0
	changed := false
	out := make([]string, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		out[i] = part

		token, descriptor := part, ""
		if cut := strings.IndexFunc(part, unicode.IsSpace); cut >= 0 {
			token, descriptor = part[:cut], part[cut:]
		}
		if resolve.Classify(token) == resolve.Skip {
			skipped++
			continue
		}
		rel, ok := loc.Localize(ctx, models.AssetReference{Tag: tag, Attr: attr, Raw: token, Kind: kind})
		if !ok {
			continue
		}
		out[i] = rel + descriptor
		changed = true
	}

	if !changed {
		return val, false, skipped
	}
	return strings.Join(out, ", "), true, skipped
}

// resolution is the pass-1 result for one raw reference
type resolution struct {
	asset models.ResolvedAsset
	err   error
}

// fetchPlan is the collecting localizer: it resolves and claims every
// reference it is shown and never rewrites anything
type fetchPlan struct {
	resolver   AssetResolver
	base       *url.URL
	outputRoot string

	byRaw  map[string]resolution
	assets []models.ResolvedAsset // Unique by raw reference, in first-seen order
}

func newFetchPlan(resolver AssetResolver, base *url.URL, outputRoot string) *fetchPlan {
	return &fetchPlan{
		resolver:   resolver,
		base:       base,
		outputRoot: outputRoot,
		byRaw:      make(map[string]resolution),
	}
}

func (p *fetchPlan) Localize(_ context.Context, ref models.AssetReference) (string, bool) {
	if _, seen := p.byRaw[ref.Raw]; seen {
		return "", false
	}
	asset, err := p.resolver.Resolve(p.base, ref.Raw, p.outputRoot)
	p.byRaw[ref.Raw] = resolution{asset: asset, err: err}
	if err == nil {
		p.assets = append(p.assets, asset)
	}
	return "", false
}

// download fetches every planned asset with a bounded worker pool. Identical
// source URLs reached through different raw references are fetched once.
// Workers never return errors, so one failure cannot cancel the others.
func (d *DocumentRewriter) download(ctx context.Context, assets []models.ResolvedAsset) map[string]models.DownloadOutcome {
	var (
		mu      sync.Mutex
		results = make(map[string]models.DownloadOutcome, len(assets))
		flight  singleflight.Group
	)

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for _, asset := range assets {
		g.Go(func() error {
			flight.Do(asset.SourceURL, func() (any, error) {
				mu.Lock()
				prev, done := results[asset.SourceURL]
				mu.Unlock()
				if done {
					return prev, nil
				}
				outcome := d.fetcher.Fetch(ctx, asset)
				mu.Lock()
				results[asset.SourceURL] = outcome
				mu.Unlock()
				return outcome, nil
			})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// applyLocalizer answers from pass-1 resolutions and pass-2 outcomes and
// tallies what happened to each reference
type applyLocalizer struct {
	plan    *fetchPlan
	results map[string]models.DownloadOutcome
	stats   models.Stats
	log     *logrus.Entry
}

func (a *applyLocalizer) Localize(_ context.Context, ref models.AssetReference) (string, bool) {
	res, ok := a.plan.byRaw[ref.Raw]
	if !ok {
		// Not seen in pass 1; cannot happen unless the tree changed in between
		a.stats.References++
		a.stats.Failed++
		return "", false
	}
	if res.err != nil {
		if errors.Is(res.err, utils.ErrSkip) {
			a.stats.Skipped++
			return "", false
		}
		a.stats.References++
		a.stats.Failed++
		a.log.WithFields(logrus.Fields{"tag": ref.Tag, "attr": ref.Attr, "ref": ref.Raw}).
			Warnf("Reference left unchanged: %v", res.err)
		return "", false
	}

	a.stats.References++
	outcome := a.results[res.asset.SourceURL]
	if !outcome.Stored {
		a.stats.Failed++
		return "", false
	}
	a.stats.Rewritten++
	return res.asset.Href(), true
}
