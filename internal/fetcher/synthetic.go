package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"spread-sync/internal/merge"
)

const syntheticSpreadPath = "/spreads"

// SyntheticOptions parameterise the spread service fetcher.
type SyntheticOptions struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	UserAgent     string
}

// Synthetic fetches leg-built spreads from the spread service.
type Synthetic struct {
	opts    SyntheticOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewSynthetic constructs a spread service fetcher. A non-positive rate
// disables pacing.
func NewSynthetic(opts SyntheticOptions, logger zerolog.Logger) *Synthetic {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Synthetic{
		opts:    opts,
		logger:  logger.With().Str("component", "synthetic_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchSynthetic retrieves synthetic trades and quotes for one window. A 404
// means the service has nothing for the window and yields an empty payload.
func (s *Synthetic) FetchSynthetic(ctx context.Context, req Request) (*merge.SyntheticPayload, error) {
	if s.baseURL == "" {
		return nil, unavailable("synthetic", fmt.Errorf("base url not configured"))
	}
	if len(req.Legs) < 2 {
		return nil, fmt.Errorf("synthetic spread needs two legs, got %d", len(req.Legs))
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	legs := make([]string, len(req.Legs))
	for i, leg := range req.Legs {
		legs[i] = leg.Name()
	}
	query := url.Values{}
	query.Set("legs", strings.Join(legs, ","))
	query.Set("coefficients", req.Coefficients())
	query.Set("from", req.From.UTC().Format(time.RFC3339))
	query.Set("to", req.To.UTC().Format(time.RFC3339))

	endpoint := s.baseURL + syntheticSpreadPath + "?" + query.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		httpReq.Header.Set("User-Agent", ua)
	} else {
		httpReq.Header.Set("User-Agent", "spreadsync/1.0")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("synthetic", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("synthetic", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &merge.SyntheticPayload{}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, unavailable("synthetic", parseHTTPError(resp.StatusCode, body))
	}

	var payload merge.SyntheticPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, unavailable("synthetic", fmt.Errorf("decode spread response: %w", err))
	}

	s.logger.Debug().Str("instrument", req.Instrument()).
		Time("from", req.From).
		Int("trades", len(payload.Trades)).
		Int("quotes", len(payload.Quotes)).
		Msg("synthetic window fetched")
	return &payload, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("spread service error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("spread service error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("spread service error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("spread service error (%d)", status)
}

var _ SyntheticFetcher = (*Synthetic)(nil)
