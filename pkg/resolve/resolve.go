package resolve

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Sriram-PR/page-mirror/pkg/models"
	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

// Resolve maps a candidate reference found in a document at base to its
// absolute source URL and its location under outputRoot. The local layout
// mirrors the URL path; query strings do not take part in naming.
func Resolve(base *url.URL, candidate, outputRoot string) (models.ResolvedAsset, error) {
	candidate = strings.TrimSpace(candidate)
	if Classify(candidate) == Skip {
		return models.ResolvedAsset{}, fmt.Errorf("%w: '%s'", utils.ErrSkip, candidate)
	}

	abs, err := base.Parse(candidate)
	if err != nil {
		return models.ResolvedAsset{}, fmt.Errorf("%w: invalid URL reference '%s': %w", utils.ErrParsing, candidate, err)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return models.ResolvedAsset{}, fmt.Errorf("%w: unsupported scheme '%s' in '%s'", utils.ErrSkip, abs.Scheme, candidate)
	}
	abs.Fragment = ""
	abs.RawFragment = ""

	dirs, fileName, err := splitLocalPath(abs.Path)
	if err != nil {
		return models.ResolvedAsset{}, fmt.Errorf("%w: '%s'", err, abs.String())
	}

	localDir := filepath.Join(append([]string{outputRoot}, dirs...)...)
	return models.ResolvedAsset{
		SourceURL:    abs.String(),
		LocalDir:     localDir,
		FileName:     fileName,
		RelativePath: path.Join(append(dirs, fileName)...),
	}, nil
}

// splitLocalPath turns a decoded URL path into safe directory segments and a
// file name. Dot segments are resolved without climbing above the root.
func splitLocalPath(p string) (dirs []string, fileName string, err error) {
	if p == "" || strings.HasSuffix(p, "/") {
		return nil, "", utils.ErrNoFilename
	}

	var segments []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
			continue
		}
		segments = append(segments, cleanSegment(seg))
	}

	// "/a/.." style paths name a directory, not a file
	last := p[strings.LastIndex(p, "/")+1:]
	if len(segments) == 0 || last == "." || last == ".." {
		return nil, "", utils.ErrNoFilename
	}
	return segments[:len(segments)-1], segments[len(segments)-1], nil
}

var unsafeSegmentChars = regexp.MustCompile(`[\\\x00-\x1F]`)

// cleanSegment replaces characters that would change the meaning of a path segment on disk
func cleanSegment(seg string) string {
	return unsafeSegmentChars.ReplaceAllString(seg, "_")
}
