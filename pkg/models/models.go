package models

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// SourceDocument is the root page of a mirror run: its absolute URL and the
// parsed tree that gets rewritten in place before serialization
type SourceDocument struct {
	URL *url.URL
	Doc *goquery.Document
}

// AttrKind classifies how URLs are embedded in an attribute value
type AttrKind string

const (
	AttrSimpleURL      AttrKind = "simple-url"      // href, src, poster
	AttrMultiCandidate AttrKind = "multi-candidate" // srcset: comma separated "url descriptor" pairs
	AttrStyleEmbedded  AttrKind = "style-embedded"  // style: url(...) tokens inside declarations
)

// AssetReference is one located URL occurrence inside the document.
// Only lives for the duration of a rewrite pass.
type AssetReference struct {
	Tag  string
	Attr string
	Raw  string // URL token as written, without any srcset descriptor
	Kind AttrKind
}

// ResolvedAsset is where a referenced asset comes from and where it is stored
type ResolvedAsset struct {
	SourceURL    string // Absolute URL, fragment removed
	LocalDir     string // Absolute (or root-joined) directory under the output root
	FileName     string // Final path segment, possibly uniquified
	RelativePath string // Output-root relative path, always '/' separated, not URL-escaped
}

// LocalPath is the full on-disk location of the asset
func (r ResolvedAsset) LocalPath() string {
	return filepath.Join(r.LocalDir, r.FileName)
}

// Href is RelativePath as a relative URL reference for the rewritten
// document. Characters the file name keeps on disk but a URL would read
// differently (space, '?', '#', '%') are percent-encoded, and a leading
// segment containing ':' gets a "./" prefix so it is not taken for a scheme.
func (r ResolvedAsset) Href() string {
	return (&url.URL{Path: r.RelativePath}).String()
}

// DownloadOutcome is the result of fetching one asset. Exactly one of
// FileName (on success) or Err (on failure) is meaningful.
type DownloadOutcome struct {
	Stored   bool
	FileName string
	Bytes    int64
	Err      error
}

// Stored builds a successful outcome
func Stored(fileName string, n int64) DownloadOutcome {
	return DownloadOutcome{Stored: true, FileName: fileName, Bytes: n}
}

// Failed builds a failed outcome; the reference it belongs to stays untouched
func Failed(err error) DownloadOutcome {
	return DownloadOutcome{Err: err}
}

// AssetDBEntry stores the result of fetching an asset URL in the state store
type AssetDBEntry struct {
	Status      AssetStatus `json:"status"`
	LocalPath   string      `json:"local_path,omitempty"`   // Output-root relative path (claimed or stored)
	SHA256      string      `json:"sha256,omitempty"`       // Hash of the stored body (on success)
	Bytes       int64       `json:"bytes,omitempty"`        // Size of the stored body (on success)
	ErrorType   string      `json:"error_type,omitempty"`   // Error category (on failure)
	LastAttempt time.Time   `json:"last_attempt,omitempty"` // Timestamp of the last fetch attempt
}

// Stats counts what a document rewrite pass did. Logged, never acted on.
type Stats struct {
	References int // URL occurrences examined (excluding skip classes)
	Rewritten  int // Occurrences replaced with a local relative path
	Failed     int // Occurrences left untouched because resolution or download failed
	Skipped    int // Empty, fragment, data: and javascript: occurrences
}

// Add accumulates other into s
func (s *Stats) Add(other Stats) {
	s.References += other.References
	s.Rewritten += other.Rewritten
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}
