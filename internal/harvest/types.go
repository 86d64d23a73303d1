// Package harvest holds the canonical article types and the
// extraction-normalization-store coordination logic.
package harvest

import (
	"crypto/md5" //nolint:gosec // identity key, must match ids already persisted
	"encoding/hex"
	"fmt"
	"time"
)

// isoFormat matches the ISO-8601 rendering used when the existing
// identity keys were generated; changing it would re-key every article.
const isoFormat = "2006-01-02T15:04:05-07:00"

// RawItem is the output of content extraction for one article. It is
// transient; an item with Err set never reaches normalization output.
type RawItem struct {
	Agency        string
	Title         string
	URL           string
	Content       string
	ImageURL      string
	VideoURL      string
	Category      string
	Tags          []string
	EditorialLead string
	Subtitle      string
	PublishedAt   *time.Time
	UpdatedAt     *time.Time
	ExtractedAt   time.Time
	Err           error
}

// Record is the normalized, storable article.
type Record struct {
	UniqueID      string
	Agency        string
	Title         string
	URL           string
	Content       string
	ImageURL      string
	VideoURL      string
	Category      string
	Tags          []string
	EditorialLead string
	Subtitle      string

	// Taxonomy codes are resolved to ids by the storage gateway; they are
	// empty for freshly scraped articles.
	ThemeL1Code           string
	ThemeL2Code           string
	ThemeL3Code           string
	MostSpecificThemeCode string

	PublishedAt time.Time
	UpdatedAt   *time.Time
	ExtractedAt time.Time
}

// StoredRecord is the metadata returned for each newly inserted row,
// consumed by the event notifier.
type StoredRecord struct {
	UniqueID    string
	Agency      string
	PublishedAt time.Time
}

// SourceError records one source-level failure inside a run.
type SourceError struct {
	Agency string `json:"agency"`
	Error  string `json:"error"`
}

// RunMetrics is the per-invocation aggregate reported to callers.
type RunMetrics struct {
	ArticlesScraped   int           `json:"articles_scraped"`
	ArticlesSaved     int           `json:"articles_saved"`
	AgenciesProcessed []string      `json:"agencies_processed"`
	Errors            []SourceError `json:"errors"`
}

// UniqueID derives the content-identity key for an article. It is the md5
// hex of agency, ISO-8601 publication timestamp and title, stable across
// runs so repeated scrapes of the same article dedup against stored rows.
func UniqueID(agency string, publishedAt time.Time, title string) string {
	input := fmt.Sprintf("%s_%s_%s", agency, publishedAt.Format(isoFormat), title)
	sum := md5.Sum([]byte(input)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// ISOTime renders a timestamp the way the identity key and the event
// payload expect it, or an empty string for the zero value.
func ISOTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(isoFormat)
}
