package feed_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/discovery/internal/feed"
)

func TestLinks(t *testing.T) {
	links := feed.Links("/xmlui/", feed.DefaultFormats, "")

	assert.Equal(t, []feed.Link{
		{Format: "rss_1.0", MIMEType: "application/rss+xml", URL: "/xmlui/feed/rss_1.0/site"},
		{Format: "rss_2.0", MIMEType: "application/rss+xml", URL: "/xmlui/feed/rss_2.0/site"},
		{Format: "atom_1.0", MIMEType: "application/atom+xml", URL: "/xmlui/feed/atom_1.0/site"},
	}, links)
}

func TestLinks_FilterQuery(t *testing.T) {
	links := feed.Links("", []string{"atom_1.0", " "}, "author:smith")

	assert.Len(t, links, 1)
	assert.Equal(t, "/feed/atom_1.0/site/author:smith", links[0].URL)
}
