package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zzkt/aqi/internal/circuitbreaker"
	"github.com/zzkt/aqi/internal/models"
	"github.com/zzkt/aqi/internal/observability"
)

// FeedClient is the transport consumed by the retrieval pipeline: one
// synchronous fetch per call, no retries, no caching.
type FeedClient interface {
	Feed(ctx context.Context, place string) (models.Feed, error)
	FeedByGeo(ctx context.Context, lat, lon float64) (models.Feed, error)
	Search(ctx context.Context, keyword string) ([]models.Station, error)
	ValidateToken(ctx context.Context) error
}

var (
	ErrInvalidToken    = errors.New("invalid API token")
	ErrOverQuota       = errors.New("over quota")
	ErrUpstreamFailure = errors.New("upstream failure")
)

// DemoToken is the public demonstration token accepted by the feed API.
const DemoToken = "demo"

// WAQIClient fetches feeds and station searches from a World Air Quality
// Index endpoint.
type WAQIClient struct {
	token   string
	baseURL string
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

func NewWAQIClient(token, baseURL string, timeout time.Duration) (*WAQIClient, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required (use %q for the public demo feed)", ErrInvalidToken, DemoToken)
	}
	return &WAQIClient{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetBreaker installs a circuit breaker around upstream calls. An open
// breaker surfaces as a transport failure; nothing is retried or cached.
func (c *WAQIClient) SetBreaker(b *circuitbreaker.Breaker) {
	c.breaker = b
}

type feedEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	// AQI is polymorphic upstream: usually a number, "-" when the
	// station has no current index.
	AQI          json.RawMessage `json:"aqi"`
	Idx          int             `json:"idx"`
	Attributions []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"attributions"`
	City struct {
		Geo  []float64 `json:"geo"`
		Name string    `json:"name"`
		URL  string    `json:"url"`
	} `json:"city"`
	Dominentpol string `json:"dominentpol"`
	IAQI        map[string]struct {
		V float64 `json:"v"`
	} `json:"iaqi"`
	Time struct {
		S  string `json:"s"`
		TZ string `json:"tz"`
		V  int64  `json:"v"`
	} `json:"time"`
}

// Feed fetches the current reading for a place key. A "lat,lon" pair is
// addressed through the endpoint's geo variant; city names, "@<id>"
// station ids and the "here" sentinel go through the named feed. An
// upstream status of "error" is returned as a well-formed Feed, not as an
// error: the pipeline caches it as a Fault.
func (c *WAQIClient) Feed(ctx context.Context, place string) (models.Feed, error) {
	body, err := c.get(ctx, "/feed/"+url.PathEscape(feedPath(place))+"/", nil)
	if err != nil {
		return models.Feed{}, err
	}

	var env feedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.Feed{}, fmt.Errorf("parse feed response: %w", err)
	}

	if env.Status != "ok" {
		return models.Feed{Status: "error", Message: envelopeMessage(env.Data)}, nil
	}

	var data feedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return models.Feed{}, fmt.Errorf("parse feed data: %w", err)
	}
	return models.Feed{Status: "ok", Reading: mapReading(data, place)}, nil
}

// FeedByGeo fetches the reading for the station nearest to a coordinate pair.
func (c *WAQIClient) FeedByGeo(ctx context.Context, lat, lon float64) (models.Feed, error) {
	return c.Feed(ctx, formatCoord(lat)+","+formatCoord(lon))
}

type searchEnvelope struct {
	Status string `json:"status"`
	Data   []struct {
		UID     int    `json:"uid"`
		AQI     string `json:"aqi"`
		Station struct {
			Name string    `json:"name"`
			Geo  []float64 `json:"geo"`
			URL  string    `json:"url"`
		} `json:"station"`
	} `json:"data"`
}

// Search looks up candidate stations by keyword. Results are a read-only
// lookup, independent of the cache.
func (c *WAQIClient) Search(ctx context.Context, keyword string) ([]models.Station, error) {
	body, err := c.get(ctx, "/search/", url.Values{"keyword": {keyword}})
	if err != nil {
		return nil, err
	}

	var env searchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	if env.Status != "ok" {
		return nil, fmt.Errorf("search %q: %s", keyword, rawMessage(body))
	}

	stations := make([]models.Station, 0, len(env.Data))
	for _, d := range env.Data {
		stations = append(stations, models.Station{
			UID:  d.UID,
			AQI:  d.AQI,
			Name: d.Station.Name,
			Geo:  d.Station.Geo,
			URL:  d.Station.URL,
		})
	}
	return stations, nil
}

// ValidateToken performs one feed call for the "here" sentinel and reports
// whether the upstream rejected the configured token. Used by health checks.
func (c *WAQIClient) ValidateToken(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	feed, err := c.Feed(ctx, models.PlaceHere)
	if err != nil {
		return fmt.Errorf("token validation: %w", err)
	}
	if feed.Status == "error" && strings.Contains(strings.ToLower(feed.Message), "key") {
		return fmt.Errorf("%w: %s", ErrInvalidToken, feed.Message)
	}
	return nil
}

// get performs one GET against the API and returns the response body. The
// token is appended to every request. No retries: a transport failure is
// surfaced once (the breaker, when installed, may refuse the call).
func (c *WAQIClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.FeedRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	var resp *http.Response
	do := func() error {
		var doErr error
		resp, doErr = c.client.Do(req)
		return doErr
	}
	if c.breaker != nil {
		err = c.breaker.Call(reqCtx, do)
	} else {
		err = do()
	}
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.FeedRequestsTotal.WithLabelValues("error").Inc()
		observability.FeedRequestDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.FeedRequestsTotal.WithLabelValues(status).Inc()
	observability.FeedRequestDuration.WithLabelValues(status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func (c *WAQIClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	base, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.token)
	base.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (c *WAQIClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidToken, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrOverQuota)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

// feedPath rewrites a "lat,lon" place key to the endpoint's geo variant.
// All other keys address the feed by name.
func feedPath(place string) string {
	lat, lon, ok := splitCoordPair(place)
	if !ok {
		return place
	}
	return "geo:" + lat + ";" + lon
}

func splitCoordPair(place string) (lat, lon string, ok bool) {
	first, second, found := strings.Cut(place, ",")
	if !found {
		return "", "", false
	}
	first = strings.TrimSpace(first)
	second = strings.TrimSpace(second)
	if _, err := strconv.ParseFloat(first, 64); err != nil {
		return "", "", false
	}
	if _, err := strconv.ParseFloat(second, 64); err != nil {
		return "", "", false
	}
	return first, second, true
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// envelopeMessage extracts the error description from the polymorphic data
// field: usually a bare string, occasionally an object with a msg key.
func envelopeMessage(raw json.RawMessage) string {
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg
	}
	var obj struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Msg != "" {
		return obj.Msg
	}
	return strings.Trim(string(raw), `"`)
}

func rawMessage(body []byte) string {
	var env feedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "malformed response"
	}
	return envelopeMessage(env.Data)
}

func mapReading(data feedData, place string) *models.Reading {
	name := data.City.Name
	if name == "" {
		name = place
	}

	aqi := parseAQI(data.AQI)

	var iaqi map[string]float64
	if len(data.IAQI) > 0 {
		iaqi = make(map[string]float64, len(data.IAQI))
		for k, v := range data.IAQI {
			iaqi[k] = v.V
		}
	}

	var attrs []models.Attribution
	for _, a := range data.Attributions {
		attrs = append(attrs, models.Attribution{Name: a.Name, URL: a.URL})
	}

	return &models.Reading{
		Name:         name,
		Geo:          data.City.Geo,
		AQI:          aqi,
		Dominant:     data.Dominentpol,
		IAQI:         iaqi,
		ObservedAt:   data.Time.S,
		UTCOffset:    data.Time.TZ,
		ObservedUnix: data.Time.V,
		URL:          data.City.URL,
		Attributions: attrs,
	}
}

// parseAQI accepts a bare number, a quoted number, or "-" (no index).
func parseAQI(raw json.RawMessage) *int {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		n = json.Number(s)
	}
	if i, err := n.Int64(); err == nil {
		v := int(i)
		return &v
	}
	if f, err := n.Float64(); err == nil {
		v := int(f)
		return &v
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "over_quota"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
