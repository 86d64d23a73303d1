package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govbrnews/harvester/internal/harvest"
	"github.com/govbrnews/harvester/internal/metrics"
	"github.com/govbrnews/harvester/internal/source"
)

type fakeRunner struct {
	metrics harvest.RunMetrics
	err     error
	got     harvest.Request
}

func (f *fakeRunner) Run(_ context.Context, req harvest.Request) (harvest.RunMetrics, error) {
	f.got = req
	return f.metrics, f.err
}

func newTestServer(runner Runner) *Server {
	metrics.Init()
	return NewServer(runner, nil)
}

func doScrape(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeScrape(t *testing.T, rec *httptest.ResponseRecorder) scrapeResponse {
	t.Helper()
	var resp scrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestScrapeCompleted(t *testing.T) {
	runner := &fakeRunner{metrics: harvest.RunMetrics{
		ArticlesScraped:   5,
		ArticlesSaved:     4,
		AgenciesProcessed: []string{"secom"},
		Errors:            []harvest.SourceError{},
	}}
	s := newTestServer(runner)

	rec := doScrape(t, s, "/scrape/agencies",
		`{"start_date":"2026-02-10","end_date":"2026-02-11","sources":["secom"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeScrape(t, rec)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "Scraping completed", resp.Message)
	assert.Equal(t, 5, resp.ArticlesScraped)
	assert.Equal(t, 4, resp.ArticlesSaved)

	assert.Equal(t, source.FamilyGovBR, runner.got.Family)
	assert.Equal(t, []string{"secom"}, runner.got.Sources)
	brasilia := time.FixedZone("-03", -3*60*60)
	assert.True(t, runner.got.MinDate.Equal(time.Date(2026, 2, 10, 0, 0, 0, 0, brasilia)))
	assert.True(t, runner.got.MaxDate.Equal(time.Date(2026, 2, 11, 23, 59, 59, 0, brasilia)))
}

func TestScrapeWindowIncludesWholeEndDate(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(runner)

	rec := doScrape(t, s, "/scrape/agencies",
		`{"start_date":"2026-02-10","end_date":"2026-02-11"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	// A tile dated on end_date parses to midnight Brasília; the window must
	// contain it on both sides.
	brasilia := time.FixedZone("-03", -3*60*60)
	endDateTile := time.Date(2026, 2, 11, 0, 0, 0, 0, brasilia)
	assert.False(t, endDateTile.Before(runner.got.MinDate))
	assert.False(t, endDateTile.After(runner.got.MaxDate))
}

func TestScrapePartial(t *testing.T) {
	runner := &fakeRunner{metrics: harvest.RunMetrics{
		AgenciesProcessed: []string{"secom"},
		Errors: []harvest.SourceError{
			{Agency: "mcti", Error: "listing unreachable"},
			{Agency: "mds", Error: "not found"},
		},
	}}
	s := newTestServer(runner)

	rec := doScrape(t, s, "/scrape/agencies", `{"start_date":"2026-02-10"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeScrape(t, rec)
	assert.Equal(t, "partial", resp.Status)
	assert.Equal(t, "Completed with 2 error(s)", resp.Message)
	assert.Len(t, resp.Errors, 2)
}

func TestScrapeFailed(t *testing.T) {
	runner := &fakeRunner{metrics: harvest.RunMetrics{
		AgenciesProcessed: []string{},
		Errors:            []harvest.SourceError{{Agency: "secom", Error: "boom"}},
	}}
	s := newTestServer(runner)

	rec := doScrape(t, s, "/scrape/agencies", `{"start_date":"2026-02-10"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeScrape(t, rec)
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "All sources failed", resp.Message)
}

func TestScrapeEndDateDefaultsToStartDate(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(runner)

	rec := doScrape(t, s, "/scrape/agencies", `{"start_date":"2026-02-10"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeScrape(t, rec)
	assert.Equal(t, "2026-02-10", resp.StartDate)
	assert.Equal(t, "2026-02-10", resp.EndDate)
	// A single-day request still spans the whole day.
	brasilia := time.FixedZone("-03", -3*60*60)
	sameDayTile := time.Date(2026, 2, 10, 0, 0, 0, 0, brasilia)
	assert.False(t, sameDayTile.Before(runner.got.MinDate))
	assert.False(t, sameDayTile.After(runner.got.MaxDate))
}

func TestScrapeSequentialDefaultsTrue(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(runner)

	doScrape(t, s, "/scrape/agencies", `{"start_date":"2026-02-10"}`)
	assert.True(t, runner.got.Sequential)

	doScrape(t, s, "/scrape/agencies", `{"start_date":"2026-02-10","sequential":false}`)
	assert.False(t, runner.got.Sequential)

	doScrape(t, s, "/scrape/agencies", `{"start_date":"2026-02-10","sequential":true}`)
	assert.True(t, runner.got.Sequential)
}

func TestScrapeEBCRoutesToEBCFamily(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(runner)

	rec := doScrape(t, s, "/scrape/ebc", `{"start_date":"2026-02-10"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, source.FamilyEBC, runner.got.Family)
	assert.Equal(t, "EBC scraping completed", decodeScrape(t, rec).Message)
}

func TestScrapeEBCFailureMessageNamesFirstError(t *testing.T) {
	runner := &fakeRunner{metrics: harvest.RunMetrics{
		AgenciesProcessed: []string{},
		Errors: []harvest.SourceError{
			{Agency: "agenciabrasil", Error: "listing unreachable"},
		},
	}}
	s := newTestServer(runner)

	rec := doScrape(t, s, "/scrape/ebc", `{"start_date":"2026-02-10"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeScrape(t, rec)
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "EBC scraping failed: listing unreachable", resp.Message)
}

func TestScrapeValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "invalid JSON"},
		{"missing start_date", `{}`, "start_date is required"},
		{"bad start_date", `{"start_date":"10/02/2026"}`, "invalid start_date"},
		{"bad end_date", `{"start_date":"2026-02-10","end_date":"amanhã"}`, "invalid end_date"},
		{"inverted window", `{"start_date":"2026-02-11","end_date":"2026-02-10"}`, "end_date is before start_date"},
	}
	s := newTestServer(&fakeRunner{})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doScrape(t, s, "/scrape/agencies", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestScrapeRunnerErrorIs500(t *testing.T) {
	runner := &fakeRunner{err: assert.AnError}
	s := newTestServer(runner)

	rec := doScrape(t, s, "/scrape/agencies", `{"start_date":"2026-02-10"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(&fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	s := newTestServer(&panicRunner{})

	rec := doScrape(t, s, "/scrape/agencies", `{"start_date":"2026-02-10"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicRunner struct{}

func (p *panicRunner) Run(context.Context, harvest.Request) (harvest.RunMetrics, error) {
	panic("boom")
}
