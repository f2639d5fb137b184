package mirror

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/page-mirror/pkg/utils"
)

const maxTitleRunes = 50

var (
	titleStripChars  = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	domainStripChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

// OutputFolderName derives a directory name from the page title and host:
// "<title>_<domain>", or just the domain when the title is empty or equal to it.
func OutputFolderName(doc *goquery.Document, pageURL *url.URL) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	title = titleStripChars.ReplaceAllString(title, "")
	title = whitespaceRun.ReplaceAllString(strings.TrimSpace(title), "_")
	title = utils.TruncateRunes(title, maxTitleRunes)

	domain := strings.ReplaceAll(pageURL.Host, "www.", "")
	domain = domainStripChars.ReplaceAllString(strings.ReplaceAll(domain, ".", "_"), "")

	if title != "" && title != domain {
		return title + "_" + domain
	}
	if domain == "" {
		return utils.SanitizeFilename(title)
	}
	return domain
}
