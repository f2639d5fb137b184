package mirror

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/page-mirror/pkg/config"
	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

const testPage = `<!DOCTYPE html>
<html><head>
<title>Test Page</title>
<base href="https://elsewhere.example/">
<link rel="stylesheet" href="/css/site.css">
<style>body{background:url("/img/bg.png")}</style>
</head><body>
<img id="hero" src="assets/a.png" srcset="assets/a.png 1x, b.png 2x">
<img id="inline" src="data:image/gif;base64,R0lGODlhAQABAAAAACw=">
<img id="gone" src="/missing.png">
<a href="#top">top</a>
<div style="background: url('/img/bg.png')"></div>
</body></html>`

var testAssets = map[string]string{
	"/css/site.css": "body { color: red; }",
	"/img/bg.png":   "\x89PNG background",
	"/assets/a.png": "\x89PNG a",
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if body, ok := testAssets[r.URL.Path]; ok {
			w.Write([]byte(body))
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// siteServer serves page at "/" and each asset at its decoded path, the
// assets after delay
func siteServer(t *testing.T, page string, assets map[string]string, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := assets[r.URL.Path]; ok {
			time.Sleep(delay)
			w.Write([]byte(body))
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.AppConfig{OutputBaseDir: t.TempDir()}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func newTestMirror(t *testing.T, appCfg config.AppConfig, pageCfg config.PageConfig) *Mirror {
	t.Helper()
	res, err := NewResources(&appCfg, false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { res.Close() })
	m, err := New(appCfg, pageCfg, res, testLogger())
	require.NoError(t, err)
	return m
}

// listFiles returns every regular file under root, slash separated and sorted
func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunTo_MirrorsPage(t *testing.T) {
	server := pageServer(t)
	m := newTestMirror(t, testConfig(t), config.PageConfig{URL: server.URL})
	root := filepath.Join(t.TempDir(), "site")

	result, err := m.RunTo(context.Background(), server.URL+"/", root)
	require.NoError(t, err)

	assert.Equal(t, root, result.Root)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{"assets/a.png", "css/site.css", "img/bg.png", "index.html"}, listFiles(t, root))
	for p, body := range testAssets {
		assert.Equal(t, body, readFile(t, filepath.Join(root, filepath.FromSlash(p))), "stored bytes of %s", p)
	}

	index := readFile(t, filepath.Join(root, "index.html"))
	assert.NotContains(t, index, "<base")
	assert.Contains(t, index, `href="css/site.css"`)
	assert.Contains(t, index, `srcset="assets/a.png 1x, b.png 2x"`)
	assert.Contains(t, index, `src="data:image/gif;base64,R0lGODlhAQABAAAAACw="`)
	assert.Contains(t, index, `src="/missing.png"`)
	assert.Contains(t, index, `href="#top"`)
	assert.Contains(t, index, `body{background:url('img/bg.png')}`)
	assert.Contains(t, index, `style="background: url(&#39;img/bg.png&#39;)"`)

	// hero src, srcset a.png, link, two style urls rewritten; srcset b.png and /missing.png failed
	assert.Equal(t, models.Stats{References: 7, Rewritten: 5, Failed: 2, Skipped: 1}, result.Stats)
	assert.Empty(t, result.TreeFile)
}

func TestRunTo_Idempotent(t *testing.T) {
	server := pageServer(t)
	m := newTestMirror(t, testConfig(t), config.PageConfig{URL: server.URL})
	root := t.TempDir()

	_, err := m.RunTo(context.Background(), server.URL, root)
	require.NoError(t, err)
	firstFiles := listFiles(t, root)
	firstIndex := readFile(t, filepath.Join(root, "index.html"))

	_, err = m.RunTo(context.Background(), server.URL, root)
	require.NoError(t, err)
	assert.Equal(t, firstFiles, listFiles(t, root))
	assert.Equal(t, firstIndex, readFile(t, filepath.Join(root, "index.html")))
}

func TestRunTo_RootFetchFailure(t *testing.T) {
	server := pageServer(t)
	m := newTestMirror(t, testConfig(t), config.PageConfig{URL: server.URL})
	root := filepath.Join(t.TempDir(), "never")

	_, err := m.RunTo(context.Background(), server.URL+"/nope.html", root)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrRootFetchFailed)
	assert.ErrorIs(t, err, utils.ErrClientHTTPError)
	assert.Equal(t, "HTTP_404", utils.CategorizeError(err))
	assert.NoDirExists(t, root, "nothing written when the page cannot be fetched")
}

func TestRunTo_InvalidURL(t *testing.T) {
	m := newTestMirror(t, testConfig(t), config.PageConfig{})
	_, err := m.RunTo(context.Background(), "ftp://example.com/", t.TempDir())
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	_, err = m.RunTo(context.Background(), "https://example.com/", "")
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestRun_DerivesOutputRoot(t *testing.T) {
	server := pageServer(t)
	appCfg := testConfig(t)
	m := newTestMirror(t, appCfg, config.PageConfig{URL: server.URL})

	result, err := m.Run(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, appCfg.OutputBaseDir, filepath.Dir(result.Root))
	assert.True(t, strings.HasPrefix(filepath.Base(result.Root), "Test_Page_127_0_0_1"), "got %s", result.Root)
	assert.FileExists(t, filepath.Join(result.Root, "index.html"))
}

func TestRunTo_TreeFileBesideRoot(t *testing.T) {
	server := pageServer(t)
	appCfg := testConfig(t)
	appCfg.WriteTreeFile = true
	m := newTestMirror(t, appCfg, config.PageConfig{URL: server.URL})
	root := filepath.Join(t.TempDir(), "site")

	result, err := m.RunTo(context.Background(), server.URL, root)
	require.NoError(t, err)

	assert.Equal(t, root+"_structure.txt", result.TreeFile)
	listing := readFile(t, result.TreeFile)
	assert.Contains(t, listing, "index.html")
	assert.Contains(t, listing, "site.css")
	assert.NotContains(t, listFiles(t, root), "site_structure.txt")
}

func TestRunTo_SkipPatternsAndStyleElements(t *testing.T) {
	server := pageServer(t)
	disabled := false
	pageCfg := config.PageConfig{
		URL:                  server.URL,
		SkipAssetPatterns:    []string{`\.css$`},
		RewriteStyleElements: &disabled,
	}
	m := newTestMirror(t, testConfig(t), pageCfg)
	root := t.TempDir()

	_, err := m.RunTo(context.Background(), server.URL, root)
	require.NoError(t, err)

	index := readFile(t, filepath.Join(root, "index.html"))
	assert.Contains(t, index, `href="/css/site.css"`)
	assert.Contains(t, index, `body{background:url("/img/bg.png")}`)
	assert.NotContains(t, listFiles(t, root), "css/site.css")
}

func TestRunTo_PersistentState(t *testing.T) {
	server := pageServer(t)
	appCfg := testConfig(t)
	appCfg.StateDir = t.TempDir()
	root := t.TempDir()

	res, err := NewResources(&appCfg, false, testLogger())
	require.NoError(t, err)
	m, err := New(appCfg, config.PageConfig{URL: server.URL}, res, testLogger())
	require.NoError(t, err)
	_, err = m.RunTo(context.Background(), server.URL, root)
	require.NoError(t, err)

	count, err := res.Store.GetAssetCount()
	require.NoError(t, err)
	assert.Equal(t, 5, count, "three stored and two failed URLs")

	abs, err := filepath.Abs(root)
	require.NoError(t, err)
	status, entry, err := res.Store.CheckAssetStatus(abs, server.URL+"/assets/a.png")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusSuccess, status)
	assert.Equal(t, "assets/a.png", entry.LocalPath)
	assert.Equal(t, utils.CalculateStringSHA256(testAssets["/assets/a.png"]), entry.SHA256)
	require.NoError(t, res.Close())

	// A second process sees the first one's state
	res, err = NewResources(&appCfg, false, testLogger())
	require.NoError(t, err)
	defer res.Close()
	count, err = res.Store.GetAssetCount()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestRunTo_FilesAreWorldReadable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions")
	}
	server := pageServer(t)
	m := newTestMirror(t, testConfig(t), config.PageConfig{URL: server.URL})
	root := t.TempDir()

	_, err := m.RunTo(context.Background(), server.URL, root)
	require.NoError(t, err)

	for _, rel := range []string{"index.html", "css/site.css"} {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0644), info.Mode().Perm(), rel)
	}
}

func TestRunTo_QueuedAssetsDoNotTimeOut(t *testing.T) {
	assets := map[string]string{"/a/1.png": "one", "/a/2.png": "two", "/a/3.png": "three", "/a/4.png": "four"}
	page := `<html><body><img src="/a/1.png"><img src="/a/2.png"><img src="/a/3.png"><img src="/a/4.png"></body></html>`
	server := siteServer(t, page, assets, 200*time.Millisecond)

	appCfg := testConfig(t)
	appCfg.MaxRequestsPerHost = 1
	appCfg.NumAssetWorkers = 4
	appCfg.AssetTimeout = 300 * time.Millisecond
	m := newTestMirror(t, appCfg, config.PageConfig{URL: server.URL})
	root := t.TempDir()

	result, err := m.RunTo(context.Background(), server.URL, root)
	require.NoError(t, err)

	// Each request takes 200ms; the last one waits for three others first
	assert.Equal(t, models.Stats{References: 4, Rewritten: 4}, result.Stats)
	for p, body := range assets {
		assert.Equal(t, body, readFile(t, filepath.Join(root, filepath.FromSlash(p))))
	}
}

func TestRunTo_AssetNamedIndexDoesNotClobberDocument(t *testing.T) {
	assets := map[string]string{"/index.html": "ASSET-BYTES"}
	page := `<html><head><script id="s" src="/index.html"></script></head><body>page</body></html>`
	server := siteServer(t, page, assets, 0)
	m := newTestMirror(t, testConfig(t), config.PageConfig{URL: server.URL})
	root := t.TempDir()

	result, err := m.RunTo(context.Background(), server.URL, root)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Rewritten)

	src, ok := result.Document.Doc.Find("#s").Attr("src")
	require.True(t, ok)
	assert.Regexp(t, regexp.MustCompile(`^index_[0-9a-f]{8}\.html$`), src)
	assert.Equal(t, "ASSET-BYTES", readFile(t, filepath.Join(root, src)))
	assert.Contains(t, readFile(t, filepath.Join(root, "index.html")), `<script id="s" src="`+src+`">`)
}

func TestRunTo_EscapesDecodedNamesInDocument(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("'?' is not allowed in Windows file names")
	}
	assets := map[string]string{"/img/my pic.png": "space", "/img/a?b.png": "question", "/img/c#d.png": "hash"}
	page := `<html><body><img id="i" src="/img/a%3Fb.png" srcset="/img/my%20pic.png 2x"><img id="h" src="/img/c%23d.png"></body></html>`
	server := siteServer(t, page, assets, 0)
	m := newTestMirror(t, testConfig(t), config.PageConfig{URL: server.URL})
	root := t.TempDir()

	_, err := m.RunTo(context.Background(), server.URL, root)
	require.NoError(t, err)

	assert.Equal(t, []string{"img/a?b.png", "img/c#d.png", "img/my pic.png", "index.html"}, listFiles(t, root))
	index := readFile(t, filepath.Join(root, "index.html"))
	assert.Contains(t, index, `src="img/a%3Fb.png"`)
	assert.Contains(t, index, `srcset="img/my%20pic.png 2x"`)
	assert.Contains(t, index, `src="img/c%23d.png"`)
}
