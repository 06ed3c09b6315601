package search

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Full size images are embedded in result page scripts as ["<url>",<height>,<width>]
var embeddedImageRe = regexp.MustCompile(`\["(https?://[^"]+?)",(\d+),(\d+)\]`)

var excludedHosts = []string{
	"gstatic.com",
	"google.com",
	"googleusercontent.com",
}

func isExcludedHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return true
	}

	host := strings.ToLower(u.Hostname())
	for _, excluded := range excludedHosts {
		if host == excluded || strings.HasSuffix(host, "."+excluded) {
			return true
		}
	}
	return false
}

func unescapeScriptString(value string) string {
	unquoted, err := strconv.Unquote(`"` + value + `"`)
	if err != nil {
		return value
	}
	return unquoted
}

// ExtractImageURLs parses an image search results page and returns image urls in page order.
// Full size images from page data come first, plain <img> sources are used only if there are none.
func ExtractImageURLs(page io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedPage, err)
	}

	var result []string
	doc.Find("script").Each(func(_ int, script *goquery.Selection) {
		for _, match := range embeddedImageRe.FindAllStringSubmatch(script.Text(), -1) {
			imageUrl := unescapeScriptString(match[1])
			if isExcludedHost(imageUrl) {
				continue
			}
			result = append(result, imageUrl)
		}
	})

	if len(result) != 0 {
		return result, nil
	}

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("data-src")
		if !ok {
			src = img.AttrOr("src", "")
		}

		if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
			return
		}
		if u, err := url.Parse(src); err != nil || strings.HasSuffix(u.Hostname(), "google.com") {
			return
		}

		result = append(result, src)
	})

	return result, nil
}
