package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type ResolverClient interface {
	Resolve(ctx context.Context, sourceURL string) (*Resolution, error)
}

type ResolverConfig struct {
	BaseURL      string
	Token        string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Resolution is the terminal result of download resolution.
type Resolution struct {
	DownloadURL string `json:"download_url"`
	MediaID     string `json:"media_id"`
	Title       string `json:"title"`
}

// resolveResponse covers both shapes the resolver can answer with: a direct
// download URL, or a progress URL to poll until download_url appears.
type resolveResponse struct {
	envelope
	DownloadURL string `json:"download_url"`
	MediaID     string `json:"media_id"`
	Title       string `json:"title"`
	ProgressURL string `json:"progress_url"`
}

type resolverClient struct {
	log  *logger.Logger
	cfg  ResolverConfig
	http *http.Client
}

func NewResolverClient(log *logger.Logger, cfg ResolverConfig) (ResolverClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing resolver URL")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &resolverClient{
		log:  log.With("client", "ResolverClient"),
		cfg:  cfg,
		// Individual polls are short; the overall deadline is enforced via
		// the context in Resolve.
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *resolverClient) Resolve(ctx context.Context, sourceURL string) (*Resolution, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, apperr.New(apperr.KindValidation, "resolver: source url required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/resolve"
	first, err := doJSON[resolveResponse](ctx, c.http, "resolver", "POST", u, c.cfg.Token, map[string]string{
		"sourceUrl": sourceURL,
	})
	if err != nil {
		return nil, err
	}
	if first.failed() {
		return nil, apperr.New(apperr.KindUpstreamClient, first.message("resolver"))
	}
	if first.DownloadURL != "" {
		return &Resolution{DownloadURL: first.DownloadURL, MediaID: first.MediaID, Title: first.Title}, nil
	}
	if first.ProgressURL == "" {
		return nil, apperr.New(apperr.KindUpstreamServer, "resolver returned neither download_url nor progress_url")
	}

	return c.poll(ctx, first.ProgressURL)
}

// poll hits the progress URL at a fixed interval until a download_url shows
// up or the overall deadline expires.
func (c *resolverClient) poll(ctx context.Context, progressURL string) (*Resolution, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindTimeout, "resolver deadline exceeded", ctx.Err())
		case <-ticker.C:
		}

		out, err := doJSON[resolveResponse](ctx, c.http, "resolver", "GET", progressURL, c.cfg.Token, nil)
		if err != nil {
			// A failed poll is retried on the next tick unless the overall
			// deadline is gone or the resolver rejected the job outright.
			if apperr.IsTimeout(err) && ctx.Err() != nil {
				return nil, err
			}
			if apperr.IsKind(err, apperr.KindAuth) || apperr.IsKind(err, apperr.KindUpstreamClient) {
				return nil, err
			}
			c.log.Warn("Resolver poll failed, will retry", "error", err)
			continue
		}
		if out.failed() {
			return nil, apperr.New(apperr.KindUpstreamClient, out.message("resolver"))
		}
		if out.DownloadURL != "" {
			return &Resolution{DownloadURL: out.DownloadURL, MediaID: out.MediaID, Title: out.Title}, nil
		}
	}
}
