package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// HTTPOptions parameterise a JSON-over-HTTP source.
type HTTPOptions struct {
	Name      string
	URL       string
	Field     string
	Unit      string
	Timeout   time.Duration
	UserAgent string
	Retries   int
	Backoff   time.Duration
	RPS       float64
}

// HTTPSource reads one numeric field from a JSON endpoint.
type HTTPSource struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPSource constructs an HTTP source.
func NewHTTPSource(opts HTTPOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = 1
	}

	return &HTTPSource{
		opts:    opts,
		logger:  logger.With().Str("component", "http_source").Str("source", opts.Name).Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Name identifies the source.
func (h *HTTPSource) Name() string {
	return h.opts.Name
}

// Fetch retrieves the configured field, retrying transient failures.
func (h *HTTPSource) Fetch(ctx context.Context) (Observation, error) {
	if h.opts.URL == "" {
		return Observation{}, errors.New("source url not configured")
	}
	if h.opts.Field == "" {
		return Observation{}, errors.New("source field not configured")
	}

	var lastErr error
	for attempt := 0; attempt <= h.opts.Retries; attempt++ {
		if attempt > 0 {
			wait := h.opts.Backoff * time.Duration(1<<(attempt-1))
			h.logger.Debug().Err(lastErr).Int("attempt", attempt).Dur("wait", wait).Msg("retrying source")
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Observation{}, ctx.Err()
			case <-timer.C:
			}
		}

		obs, retry, err := h.fetchOnce(ctx)
		if err == nil {
			return obs, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return Observation{}, lastErr
}

func (h *HTTPSource) fetchOnce(ctx context.Context) (Observation, bool, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return Observation{}, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.opts.URL, nil)
	if err != nil {
		return Observation{}, false, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "aiwatch/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Observation{}, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Observation{}, true, err
	}

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return Observation{}, retry, parseHTTPError(resp.StatusCode, payload)
	}

	if !gjson.ValidBytes(payload) {
		return Observation{}, false, errors.New("response is not valid json")
	}

	result := gjson.GetBytes(payload, h.opts.Field)
	if !result.Exists() || result.Type == gjson.Null {
		return Observation{}, false, fmt.Errorf("field %q missing from response", h.opts.Field)
	}

	value, err := decimal.NewFromString(strings.TrimSpace(result.String()))
	if err != nil {
		return Observation{}, false, fmt.Errorf("parse field %q: %w", h.opts.Field, err)
	}

	return Observation{
		Source:    h.opts.Name,
		Value:     value,
		Unit:      h.opts.Unit,
		Raw:       json.RawMessage(payload),
		FetchedAt: time.Now().UTC(),
	}, false, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("source error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("source error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("source error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("source error (%d)", status)
}

var _ Source = (*HTTPSource)(nil)
