package harvest

import (
	"time"

	"go.uber.org/zap"

	"github.com/govbrnews/harvester/internal/metrics"
)

// legacyColumns is the column order of the columnar dataset export
// consumed by the legacy pipeline. Not a correctness invariant.
var legacyColumns = []string{
	"unique_id",
	"agency",
	"published_at",
	"updated_datetime",
	"title",
	"editorial_lead",
	"subtitle",
	"url",
	"category",
	"tags",
	"content",
	"image_url",
	"video_url",
	"extracted_at",
}

// Normalizer converts raw extracted items into canonical records.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize filters and converts items in input order. Items with an error
// marker, items missing title/URL/body, and items without a resolved
// publication timestamp are dropped quietly; dropping is logged but never
// surfaced as a failure.
func (n *Normalizer) Normalize(items []RawItem) []Record {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if item.Err != nil {
			n.logger.Warn("skipping item with extraction error",
				zap.String("agency", item.Agency),
				zap.String("url", item.URL),
				zap.Error(item.Err),
			)
			metrics.ObserveDropped("extraction_error")
			continue
		}
		if item.Title == "" || item.URL == "" || item.Content == "" {
			n.logger.Warn("skipping incomplete item",
				zap.String("agency", item.Agency),
				zap.String("url", item.URL),
			)
			metrics.ObserveDropped("incomplete")
			continue
		}
		if item.PublishedAt == nil {
			n.logger.Warn("skipping item without resolvable published_at",
				zap.String("agency", item.Agency),
				zap.String("url", item.URL),
			)
			metrics.ObserveDropped("missing_published_at")
			continue
		}

		tags := item.Tags
		if tags == nil {
			tags = []string{}
		}

		records = append(records, Record{
			UniqueID:      UniqueID(item.Agency, *item.PublishedAt, item.Title),
			Agency:        item.Agency,
			Title:         item.Title,
			URL:           item.URL,
			Content:       item.Content,
			ImageURL:      item.ImageURL,
			VideoURL:      item.VideoURL,
			Category:      item.Category,
			Tags:          tags,
			EditorialLead: item.EditorialLead,
			Subtitle:      item.Subtitle,
			PublishedAt:   *item.PublishedAt,
			UpdatedAt:     item.UpdatedAt,
			ExtractedAt:   item.ExtractedAt,
		})
	}
	return records
}

// Columnar arranges records into the legacy columnar layout: a fixed
// column order with one value slice per column and explicit nils for
// absent optional values.
func Columnar(records []Record) ([]string, map[string][]any) {
	columns := make(map[string][]any, len(legacyColumns))
	for _, name := range legacyColumns {
		columns[name] = make([]any, 0, len(records))
	}
	for _, r := range records {
		columns["unique_id"] = append(columns["unique_id"], r.UniqueID)
		columns["agency"] = append(columns["agency"], r.Agency)
		columns["published_at"] = append(columns["published_at"], ISOTime(r.PublishedAt))
		columns["updated_datetime"] = append(columns["updated_datetime"], optionalTime(r.UpdatedAt))
		columns["title"] = append(columns["title"], r.Title)
		columns["editorial_lead"] = append(columns["editorial_lead"], optionalString(r.EditorialLead))
		columns["subtitle"] = append(columns["subtitle"], optionalString(r.Subtitle))
		columns["url"] = append(columns["url"], r.URL)
		columns["category"] = append(columns["category"], optionalString(r.Category))
		columns["tags"] = append(columns["tags"], r.Tags)
		columns["content"] = append(columns["content"], r.Content)
		columns["image_url"] = append(columns["image_url"], optionalString(r.ImageURL))
		columns["video_url"] = append(columns["video_url"], optionalString(r.VideoURL))
		columns["extracted_at"] = append(columns["extracted_at"], ISOTime(r.ExtractedAt))
	}
	order := make([]string, len(legacyColumns))
	copy(order, legacyColumns)
	return order, columns
}

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ISOTime(*t)
}
