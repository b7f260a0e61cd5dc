package catalog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/brensch/aqingest/internal/config"
	"github.com/brensch/aqingest/internal/tabular"
	"github.com/brensch/aqingest/internal/util"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// Source is the remote side of the catalog: every lookup the builder and the
// raw downloader make goes through it.
type Source interface {
	FetchMetadata(ctx context.Context) (*tabular.Table, error)
	FetchPollutantMetadata(ctx context.Context, pageURL string) (tabular.Record, error)
	FetchFileList(ctx context.Context, pollutant, countryCode string) (*tabular.Table, error)
	FetchDataFile(ctx context.Context, fileURL string) (*tabular.Table, error)
}

// HTTPSource talks to the EEA download service over one shared client.
type HTTPSource struct {
	client      *http.Client
	limiter     *rate.Limiter
	userAgent   string
	metadataURL string
	fileListURL string
	yearFrom    int
	yearTo      int
	source      string
	logger      *slog.Logger
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithRateLimit caps requests per second. Zero or less disables the cap.
func WithRateLimit(rps float64) Option {
	return func(s *HTTPSource) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			s.limiter = nil
		}
	}
}

// WithUserAgent overrides util.DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(s *HTTPSource) { s.userAgent = ua }
}

// WithEndpoints points the source at different metadata and file list URLs.
func WithEndpoints(metadataURL, fileListURL string) Option {
	return func(s *HTTPSource) {
		s.metadataURL = metadataURL
		s.fileListURL = fileListURL
	}
}

// WithQuery overrides the year range and data source of file list queries.
func WithQuery(yearFrom, yearTo int, source string) Option {
	return func(s *HTTPSource) {
		s.yearFrom, s.yearTo, s.source = yearFrom, yearTo, source
	}
}

// NewHTTPSource returns a source using client for every request.
func NewHTTPSource(client *http.Client, logger *slog.Logger, opts ...Option) *HTTPSource {
	s := &HTTPSource{
		client:      client,
		userAgent:   util.DefaultUserAgent,
		metadataURL: config.DefaultMetadataURL,
		fileListURL: config.DefaultFileListURL,
		yearFrom:    config.DefaultYearFrom,
		yearTo:      config.DefaultYearTo,
		source:      config.DefaultSource,
		logger:      logger.With(slog.String("component", "source")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSource) get(ctx context.Context, u string) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	req, err := util.NewGetRequest(ctx, u, s.userAgent)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("GET", slog.String("url", u))
	return util.DownloadFile(s.client, req)
}

// FetchMetadata downloads the pan-European metadata table (tab separated).
func (s *HTTPSource) FetchMetadata(ctx context.Context) (*tabular.Table, error) {
	body, err := s.get(ctx, s.metadataURL)
	if err != nil {
		return nil, err
	}
	t, err := tabular.Decode(body, tabular.ReadOptions{
		Comma:    '\t',
		Required: []string{"AirPollutantCode", "Countrycode"},
		Logger:   s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", s.metadataURL, err)
	}
	return t, nil
}

// FetchPollutantMetadata scrapes the label/value rows of one pollutant
// vocabulary page. The page URL itself is stored as AirPollutantCode.
func (s *HTTPSource) FetchPollutantMetadata(ctx context.Context, pageURL string) (tabular.Record, error) {
	body, err := s.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	rec, err := ParsePollutantPage(body)
	if err != nil {
		return nil, fmt.Errorf("pollutant page %s: %w", pageURL, err)
	}
	return rec.Set("AirPollutantCode", pageURL), nil
}

// ParsePollutantPage reads the first table inside div#outerframe. Each row
// with a header cell yields one label/value pair; the value is the trimmed
// text nodes of the data cell joined together. Values spanning several lines
// are recorded as empty.
func ParsePollutantPage(body []byte) (tabular.Record, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	table := doc.Find("div#outerframe table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("no table under div#outerframe")
	}

	var rec tabular.Record
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		th := tr.Find("th").First()
		if th.Length() == 0 {
			return
		}
		rec = rec.Set(strings.TrimSpace(th.Text()), cellText(tr.Find("td").First()))
	})
	return rec, nil
}

func cellText(td *goquery.Selection) string {
	var b strings.Builder
	for _, n := range td.Nodes {
		var walk func(*html.Node)
		walk = func(nd *html.Node) {
			if nd.Type == html.TextNode {
				b.WriteString(strings.TrimSpace(nd.Data))
			}
			for c := nd.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(n)
	}
	v := b.String()
	if strings.Contains(v, "\n") {
		return ""
	}
	return v
}

// FileListURL is the query returning the data file URLs of one
// pollutant/country pair.
func (s *HTTPSource) FileListURL(pollutant, countryCode string) string {
	params := []struct{ key, value string }{
		{"CountryCode", countryCode},
		{"CityName", ""},
		{"Pollutant", pollutant},
		{"Year_from", strconv.Itoa(s.yearFrom)},
		{"Year_to", strconv.Itoa(s.yearTo)},
		{"Station", ""},
		{"Samplingpoint", ""},
		{"Source", s.source},
		{"Output", "TEXT"},
		{"UpdateDate", ""},
		{"TimeCoverage", "Year"},
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.key + "=" + url.QueryEscape(p.value)
	}
	return s.fileListURL + "?" + strings.Join(parts, "&")
}

// FetchFileList returns the file URLs for a pair as a single `url` column.
func (s *HTTPSource) FetchFileList(ctx context.Context, pollutant, countryCode string) (*tabular.Table, error) {
	body, err := s.get(ctx, s.FileListURL(pollutant, countryCode))
	if err != nil {
		return nil, err
	}
	return tabular.ParseLines(string(body), "url"), nil
}

// FetchDataFile downloads one raw observation CSV.
func (s *HTTPSource) FetchDataFile(ctx context.Context, fileURL string) (*tabular.Table, error) {
	body, err := s.get(ctx, fileURL)
	if err != nil {
		return nil, err
	}
	return tabular.Decode(body, tabular.ReadOptions{Logger: s.logger.With(slog.String("url", fileURL))})
}
