package scraper

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // archive keys only
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/govbrnews/harvester/internal/harvest"
	"github.com/govbrnews/harvester/internal/metrics"
	"github.com/govbrnews/harvester/internal/source"
)

// Archiver stores raw fetched article pages. Best effort only.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Extractor walks one source's reverse-chronological listing and extracts
// every article published inside an inclusive date window.
type Extractor struct {
	fetcher  PageFetcher
	archiver Archiver
	logger   *zap.Logger
	maxPages int
	now      func() time.Time
}

// ExtractorOption customizes an Extractor.
type ExtractorOption func(*Extractor)

// WithArchiver enables best-effort raw page archiving.
func WithArchiver(a Archiver) ExtractorOption {
	return func(e *Extractor) { e.archiver = a }
}

// WithClock overrides the extraction timestamp source.
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) { e.now = now }
}

// NewExtractor constructs an Extractor. maxPages bounds pagination as a
// safety stop for listings that never fall out of the window.
func NewExtractor(fetcher PageFetcher, maxPages int, logger *zap.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPages <= 0 {
		maxPages = 50
	}
	e := &Extractor{
		fetcher:  fetcher,
		logger:   logger,
		maxPages: maxPages,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fetches listing pages until a whole page falls strictly before
// minDate, then extracts each qualifying article. Per-item failures are
// recorded on the item; a listing fetch failure or a canceled context
// aborts extraction for this source only.
func (e *Extractor) Extract(
	ctx context.Context,
	src source.Endpoint,
	minDate, maxDate time.Time,
) ([]harvest.RawItem, error) {
	rules := rulesFor(src.Family)
	var items []harvest.RawItem

	for page := 0; page < e.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return items, fmt.Errorf("extraction interrupted: %w", err)
		}

		pageURL := rules.PageURL(src.URL, page)
		doc, err := e.fetchDocument(ctx, pageURL)
		if err != nil {
			return items, fmt.Errorf("listing page %d: %w", page, err)
		}

		tiles := doc.Find(rules.ListItem)
		if tiles.Length() == 0 {
			break
		}

		anyAtOrAfterMin := false
		tiles.EachWithBreak(func(_ int, tile *goquery.Selection) bool {
			if ctx.Err() != nil {
				return false
			}
			tileDate := parseTileDate(tile.Find(rules.TileDate).First().Text())
			if tileDate != nil && tileDate.Before(minDate) {
				return true
			}
			anyAtOrAfterMin = true
			if tileDate != nil && tileDate.After(maxDate) {
				return true
			}
			if item, ok := e.extractItem(ctx, src, rules, tile, tileDate); ok {
				items = append(items, item)
			}
			return true
		})
		if err := ctx.Err(); err != nil {
			return items, fmt.Errorf("extraction interrupted: %w", err)
		}

		// Listings are reverse-chronological: a page entirely before
		// minDate means every later page is older still.
		if !anyAtOrAfterMin {
			break
		}
	}

	return items, nil
}

// fetchDocument retrieves one page and parses it into a goquery document.
func (e *Extractor) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

// extractItem resolves one listing tile into a RawItem. The second return
// is false only when the tile carries no usable link at all.
func (e *Extractor) extractItem(
	ctx context.Context,
	src source.Endpoint,
	rules Rules,
	tile *goquery.Selection,
	tileDate *time.Time,
) (harvest.RawItem, bool) {
	link := tile.Find(rules.TitleLink).First()
	href, _ := link.Attr("href")
	title := strings.TrimSpace(link.Text())
	if href == "" {
		return harvest.RawItem{}, false
	}
	articleURL := absoluteURL(src.URL, href)

	category := strings.TrimSpace(tile.Find(rules.TileCategory).First().Text())
	if category == "" {
		category = rules.DefaultCategory
	}

	item := harvest.RawItem{
		Agency:      src.Key,
		Title:       title,
		URL:         articleURL,
		Category:    category,
		ExtractedAt: e.now(),
	}

	body, err := e.fetcher.Fetch(ctx, articleURL)
	if err != nil {
		item.Err = fmt.Errorf("article fetch: %w", err)
		return item, true
	}
	e.archive(ctx, src.Key, articleURL, body)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		item.Err = fmt.Errorf("article parse: %w", err)
		return item, true
	}

	e.fillArticleFields(&item, doc, rules)

	published, updated, strategy := resolveTimestamps(doc, rules)
	if published == nil && tileDate != nil {
		published = tileDate
		strategy = StrategyListingTile
	}
	item.PublishedAt = published
	item.UpdatedAt = updated

	if published != nil {
		metrics.ObservePublishedAtStrategy(strategy)
		e.logger.Debug("published_at resolved",
			zap.String("agency", src.Key),
			zap.String("url", articleURL),
			zap.String("strategy", strategy),
		)
	} else {
		e.logger.Warn("published_at unresolved, item will be dropped",
			zap.String("agency", src.Key),
			zap.String("url", articleURL),
		)
	}

	return item, true
}

func (e *Extractor) fillArticleFields(item *harvest.RawItem, doc *goquery.Document, rules Rules) {
	body := doc.Find(rules.Body).First()
	var paragraphs []string
	body.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := strings.TrimSpace(p.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		if text := strings.TrimSpace(body.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	item.Content = strings.Join(paragraphs, "\n\n")

	if src, ok := doc.Find(rules.Image).First().Attr("src"); ok {
		item.ImageURL = src
	}
	if src, ok := doc.Find(rules.Video).First().Attr("src"); ok {
		item.VideoURL = src
	}
	doc.Find(rules.Tags).Each(func(_ int, tag *goquery.Selection) {
		if text := strings.TrimSpace(tag.Text()); text != "" {
			item.Tags = append(item.Tags, text)
		}
	})
	if rules.Lead != "" {
		item.EditorialLead = strings.TrimSpace(doc.Find(rules.Lead).First().Text())
	}
	if rules.Subtitle != "" {
		item.Subtitle = strings.TrimSpace(doc.Find(rules.Subtitle).First().Text())
	}
}

func (e *Extractor) archive(ctx context.Context, agency, articleURL string, body []byte) {
	if e.archiver == nil {
		return
	}
	sum := md5.Sum([]byte(articleURL)) //nolint:gosec // cache key, not a credential
	key := fmt.Sprintf("%s/%s.html", agency, hex.EncodeToString(sum[:]))
	if err := e.archiver.Put(ctx, key, body); err != nil {
		e.logger.Warn("page archive failed",
			zap.String("agency", agency),
			zap.String("url", articleURL),
			zap.Error(err),
		)
	}
}

func absoluteURL(base, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
