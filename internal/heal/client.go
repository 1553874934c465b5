package heal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/roach88/namegraph/internal/ident"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultCacheTTL        = time.Hour
	defaultCleanupInterval = 30 * time.Minute
)

// Config configures a Client.
type Config struct {
	// BaseURL of the healing service, e.g. https://api.ensrainbow.io.
	BaseURL string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// CacheTTL is how long a healed label is remembered. Zero means
	// DefaultCacheTTL; negative disables the cache.
	CacheTTL time.Duration

	// RetryCount retries transport errors and 5xx responses. Zero disables
	// retries.
	RetryCount int
}

// Client heals labels against an ENSRainbow-compatible HTTP service:
//
//	GET {base}/v1/heal/{labelHash}
//	200 {"status":"success","label":"vitalik"}  healed
//	404                                         unknown label
//	anything else                               error
type Client struct {
	http   *resty.Client
	cache  *gocache.Cache
	logger *slog.Logger
}

type healResponse struct {
	Status string `json:"status"`
	Label  string `json:"label"`
	Error  string `json:"error"`
}

// NewClient builds a Client. logger may be nil.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("heal client: base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.RetryCount > 0 {
		hc.SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(200 * time.Millisecond).
			AddRetryCondition(retryOnErrOr5xx)
	}

	c := &Client{http: hc, logger: logger}
	if cfg.CacheTTL > 0 {
		c.cache = gocache.New(cfg.CacheTTL, defaultCleanupInterval)
	}
	return c, nil
}

func retryOnErrOr5xx(r *resty.Response, err error) bool {
	return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
}

// Heal implements Healer. Only positive answers are cached: an unknown label
// may become known once the service's table is extended.
func (c *Client) Heal(ctx context.Context, labelHash common.Hash) (string, bool, error) {
	key := labelHash.Hex()
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			if label, ok := v.(string); ok {
				return label, true, nil
			}
		}
	}

	var body healResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("labelHash", key).
		SetResult(&body).
		SetError(&body).
		Get("/v1/heal/{labelHash}")
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %v", ErrHealing, key, err)
	}

	switch res.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		c.logger.Debug("label not healable", "label_hash", key)
		return "", false, nil
	case http.StatusBadRequest:
		return "", false, fmt.Errorf("%w: %s rejected as malformed: %s", ErrHealing, key, body.Error)
	default:
		return "", false, fmt.Errorf("%w: %s: unexpected status %d", ErrHealing, key, res.StatusCode())
	}

	if body.Status != "success" {
		return "", false, fmt.Errorf("%w: %s: unexpected response status %q", ErrHealing, key, body.Status)
	}
	if ident.LabelHash(body.Label) != labelHash {
		return "", false, fmt.Errorf("%w: %s: service returned a label with a different hash", ErrHealing, key)
	}

	if c.cache != nil {
		c.cache.SetDefault(key, body.Label)
	}
	c.logger.Debug("label healed", "label_hash", key, "label", body.Label)
	return body.Label, true, nil
}
