package scraper

import (
	"fmt"

	"github.com/govbrnews/harvester/internal/source"
)

// Rules is the data-driven selector set for one site family. Listing
// selectors apply to the listing page, the rest to the article page.
type Rules struct {
	ListItem     string
	TitleLink    string
	TileDate     string
	TileCategory string

	Body          string
	Image         string
	Video         string
	Tags          string
	Lead          string
	Subtitle      string
	PublishedSpan string
	ModifiedSpan  string

	// DefaultCategory is used when the listing carries no category.
	DefaultCategory string

	// PageURL renders the listing URL for a zero-based page index.
	PageURL func(base string, page int) string
}

// govbrPageSize is the Plone listing batch size.
const govbrPageSize = 30

var govbrRules = Rules{
	ListItem:     "article.tileItem",
	TitleLink:    "a.summary.url",
	TileDate:     "span.documentByLine span.date",
	TileCategory: "span.subtitle",

	Body:          "div#content div#parent-fieldname-text",
	Image:         "div#content img",
	Video:         "div#content iframe[src*='youtube'], div#content video source",
	Tags:          "div#content a[rel='tag']",
	Subtitle:      "div#content span.documentDescription",
	PublishedSpan: "span.documentPublished span.value",
	ModifiedSpan:  "span.documentModified span.value",

	PageURL: func(base string, page int) string {
		if page == 0 {
			return base
		}
		return fmt.Sprintf("%s?b_start:int=%d", base, page*govbrPageSize)
	},
}

var ebcRules = Rules{
	ListItem:     "div.views-row",
	TitleLink:    "h2 a, h3 a",
	TileDate:     "span.data, div.data",
	TileCategory: "",

	Body:          "div.post-content, div.field-name-body",
	Image:         "div.post-content img, article img",
	Video:         "iframe[src*='youtube'], video source",
	Tags:          "div.tags a, ul.tags a",
	Lead:          "div.programa a, span.programa",
	PublishedSpan: "span.data-publicacao, p.data-publicacao",
	ModifiedSpan:  "span.data-atualizacao",

	DefaultCategory: "Notícias",

	PageURL: func(base string, page int) string {
		if page == 0 {
			return base
		}
		return fmt.Sprintf("%s?page=%d", base, page)
	},
}

// rulesFor selects the rule set for a source family.
func rulesFor(family source.Family) Rules {
	if family == source.FamilyEBC {
		return ebcRules
	}
	return govbrRules
}
