package feed

import (
	"net/url"
	"strings"
)

// Link advertises one feed for a page.
type Link struct {
	Format   string `json:"format"`
	MIMEType string `json:"mime_type"`
	URL      string `json:"url"`
}

// Links lists the repository-wide feed in every configured format. A
// non-empty filterQuery is appended so the feed mirrors a discovery view.
func Links(contextPath string, formats []string, filterQuery string) []Link {
	links := make([]Link, 0, len(formats))
	for _, format := range formats {
		format = strings.TrimSpace(format)
		if format == "" {
			continue
		}
		prefix, _, _ := strings.Cut(format, "_")

		u := strings.TrimSuffix(contextPath, "/") + "/feed/" + url.PathEscape(format) + "/site"
		if filterQuery != "" {
			u += "/" + filterQuery
		}

		links = append(links, Link{
			Format:   format,
			MIMEType: "application/" + prefix + "+xml",
			URL:      u,
		})
	}
	return links
}
