package scraper

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// brasilia is the fixed UTC-3 offset used by every source; the feeds do
// not observe daylight saving.
var brasilia = time.FixedZone("-03", -3*60*60)

var (
	// "10/02/2026 17h05" — government portal label format.
	govbrDatePattern = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})\s+(\d{1,2})h(\d{2})`)
	// "17/11/2025 - 18:58" — broadcast label format.
	ebcDatePattern = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})\s*-\s*(\d{1,2}):(\d{2})`)
	// "11/02/2026" — listing tile, date only.
	tileDatePattern = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})`)
)

// Timestamp strategy names, logged and counted so per-source reliability
// stays visible.
const (
	StrategyJSONLD      = "jsonld"
	StrategyLabelText   = "label_text"
	StrategyListingTile = "listing_tile"
)

// timestampStrategy is one step of the fallback chain: a pure function of
// the article document returning nil timestamps when it cannot resolve.
type timestampStrategy struct {
	name string
	fn   func(doc *goquery.Document, rules Rules) (published, updated *time.Time)
}

// articleStrategies is the ordered chain evaluated against the article
// page; the listing-tile fallback is applied by the extractor because its
// input is the tile, not the article document.
var articleStrategies = []timestampStrategy{
	{name: StrategyJSONLD, fn: datetimeFromJSONLD},
	{name: StrategyLabelText, fn: datetimeFromLabelText},
}

// resolveTimestamps runs the article-page strategies in priority order and
// returns the first non-nil published timestamp along with the winning
// strategy name. Updated may be nil even on success.
func resolveTimestamps(doc *goquery.Document, rules Rules) (published, updated *time.Time, strategy string) {
	for _, s := range articleStrategies {
		pub, upd := s.fn(doc, rules)
		if pub != nil {
			return pub, upd, s.name
		}
	}
	return nil, nil, ""
}

type jsonLDArticle struct {
	Type          string `json:"@type"`
	DatePublished string `json:"datePublished"`
	DateModified  string `json:"dateModified"`
}

// datetimeFromJSONLD reads machine-readable publication metadata. It is
// tried first because it is least ambiguous; malformed blocks (a known
// failure mode when headlines embed unescaped quotes) resolve to nil and
// defer to the text fallback.
func datetimeFromJSONLD(doc *goquery.Document, _ Rules) (*time.Time, *time.Time) {
	var published, updated *time.Time
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var art jsonLDArticle
		if err := json.Unmarshal([]byte(sel.Text()), &art); err != nil {
			return true
		}
		if art.DatePublished == "" {
			return true
		}
		pub, err := time.Parse(time.RFC3339, art.DatePublished)
		if err != nil {
			return true
		}
		published = &pub
		if art.DateModified != "" {
			if upd, err := time.Parse(time.RFC3339, art.DateModified); err == nil {
				updated = &upd
			}
		}
		return false
	})
	return published, updated
}

// datetimeFromLabelText matches the visible "Publicado em" / "Atualizado
// em" labels. It looks at the dedicated value spans first and falls back
// to scanning inline label text for non-standard pages.
func datetimeFromLabelText(doc *goquery.Document, rules Rules) (*time.Time, *time.Time) {
	published := parseDatetimeText(doc.Find(rules.PublishedSpan).First().Text())
	updated := parseDatetimeText(doc.Find(rules.ModifiedSpan).First().Text())
	if published != nil {
		return published, updated
	}

	doc.Find("span, p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		switch {
		case published == nil && strings.HasPrefix(text, "Publicado em"):
			published = parseDatetimeText(text)
		case updated == nil && strings.HasPrefix(text, "Atualizado em"):
			updated = parseDatetimeText(text)
		}
		return published == nil || updated == nil
	})
	return published, updated
}

// parseDatetimeText parses the two known label formats at the fixed UTC-3
// offset, returning nil when neither matches.
func parseDatetimeText(text string) *time.Time {
	for _, pattern := range []*regexp.Regexp{govbrDatePattern, ebcDatePattern} {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		hour, _ := strconv.Atoi(m[4])
		minute, _ := strconv.Atoi(m[5])
		ts := time.Date(year, time.Month(month), day, hour, minute, 0, 0, brasilia)
		return &ts
	}
	return nil
}

// parseTileDate parses the coarse date shown on a listing tile, anchored
// at midnight local time. It is the last fallback before dropping an item.
func parseTileDate(text string) *time.Time {
	m := tileDatePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	ts := time.Date(year, time.Month(month), day, 0, 0, 0, 0, brasilia)
	return &ts
}
