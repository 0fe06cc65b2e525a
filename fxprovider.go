package valuation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultFXBaseURL is the default historical-rate endpoint.
const DefaultFXBaseURL = "https://api.frankfurter.dev/v1"

// HTTPRateProvider fetches historical exchange rates from a
// frankfurter-shaped HTTP API:
//
//	GET {base}/{date}?base=EUR&symbols=USD,GBP
//	{"base":"EUR","date":"2025-03-14","rates":{"USD":1.0891,"GBP":0.8402}}
type HTTPRateProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRateProvider creates a provider against baseURL. A nil client
// falls back to http.DefaultClient; per-attempt timeouts are applied by the
// caller through the request context.
func NewHTTPRateProvider(baseURL string, client *http.Client) *HTTPRateProvider {
	if baseURL == "" {
		baseURL = DefaultFXBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRateProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name identifies the provider in rate provenance fields.
func (p *HTTPRateProvider) Name() string {
	u, err := url.Parse(p.baseURL)
	if err != nil || u.Host == "" {
		return p.baseURL
	}
	return u.Host
}

// Fetch returns the currency→rate map for one historical date. Any
// transport, status or payload problem is returned as an error; the
// resolver turns it into a soft failure.
func (p *HTTPRateProvider) Fetch(ctx context.Context, day Date, base string, symbols []string) (map[string]decimal.Decimal, error) {
	addr := fmt.Sprintf("%s/%s?base=%s&symbols=%s",
		p.baseURL, day, url.QueryEscape(base), url.QueryEscape(strings.Join(symbols, ",")))

	// that's the payload
	var content struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := p.jwget(ctx, addr, &content); err != nil {
		return nil, err
	}

	rates := make(map[string]decimal.Decimal, len(content.Rates))
	for cur, rate := range content.Rates {
		if rate <= 0 {
			continue
		}
		rates[NormalizeCurrency(cur)] = decimal.NewFromFloat(rate)
	}
	return rates, nil
}

// jwget performs an HTTP GET request and unmarshals the JSON response into
// the provided data structure.
func (p *HTTPRateProvider) jwget(ctx context.Context, addr string, data interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cannot http GET %v/%v: %v", req.URL.Host, req.URL.Path, resp.Status)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return err
	}
	return json.Unmarshal(buf.Bytes(), data)
}
