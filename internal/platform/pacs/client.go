// Package pacs provides a resilient HTTP client for the external
// PACS-compatible preview server, plus compression classification for
// DICOM transfer syntaxes. It is the only component in the gateway that
// talks to the preview server directly.
package pacs

import (
	"bytes"
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

	"github.com/rs/zerolog"

	"github.com/radview/radview/internal/platform/telemetry"
)

// ClientConfig holds the connection and retry settings for the preview
// server client.
type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	FallbackEnabled bool
}

func (c *ClientConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
}

// Client is the HTTP client for the external preview server.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	retryAttempts   int
	retryDelay      time.Duration
	fallbackEnabled bool
	logger          zerolog.Logger
	metrics         *telemetry.Provider
}

// NewClient validates the configuration and returns a ready client.
func NewClient(cfg ClientConfig, logger zerolog.Logger, metrics *telemetry.Provider) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pacs: base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("pacs: invalid base url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("pacs: base url scheme must be http or https, got %q", u.Scheme)
	}
	cfg.applyDefaults()
	if metrics == nil {
		metrics = telemetry.NewProvider("")
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		retryAttempts:   cfg.RetryAttempts,
		retryDelay:      cfg.RetryDelay,
		fallbackEnabled: cfg.FallbackEnabled,
		logger:          logger,
		metrics:         metrics,
	}, nil
}

// RetryAttempts returns the configured attempt count. The validation
// harness uses it to predict call counts.
func (c *Client) RetryAttempts() int {
	return c.retryAttempts
}

// InstanceMetadata is the subset of instance tags the gateway reads from
// the preview server.
type InstanceMetadata struct {
	Rows              int     `json:"rows"`
	Columns           int     `json:"columns"`
	FrameCount        int     `json:"frame_count"`
	TransferSyntaxUID string  `json:"transfer_syntax_uid"`
	BitsAllocated     int     `json:"bits_allocated"`
	BitsStored        int     `json:"bits_stored"`
	WindowCenter      float64 `json:"window_center"`
	WindowWidth       float64 `json:"window_width"`
}

// SystemInfo describes the preview server build, from GET /system.
type SystemInfo struct {
	Name       string `json:"Name"`
	Version    string `json:"Version"`
	APIVersion int    `json:"ApiVersion"`
	DicomAet   string `json:"DicomAet"`
}

// PreviewOptions tunes a single preview fetch.
type PreviewOptions struct {
	// Quality is a 1-100 hint passed to the whole-instance preview
	// endpoint; 0 means server default.
	Quality int
}

// do performs one HTTP exchange per attempt, retrying transient failures
// (network errors and 5xx) up to the configured attempt count with a fixed
// delay. 4xx responses fail immediately: the request itself is malformed
// and retrying cannot help. Context cancellation aborts the backoff.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("pacs: aborted during retry backoff: %w", ctx.Err())
			case <-time.After(c.retryDelay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("pacs: build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("pacs: request aborted: %w", ctx.Err())
			}
			lastErr = err
			c.logger.Warn().Err(err).Str("path", path).Int("attempt", attempt).
				Msg("preview server request failed")
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return respBody, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, fmt.Errorf("pacs: %s %s rejected with status %d: %w",
				method, path, resp.StatusCode, ErrInvalidArgument)
		default:
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			c.logger.Warn().Str("path", path).Int("status", resp.StatusCode).
				Int("attempt", attempt).Msg("preview server error response")
		}
	}
	return nil, fmt.Errorf("pacs: %s %s failed after %d attempts (%v): %w",
		method, path, c.retryAttempts, lastErr, ErrTransient)
}

// FetchPreview retrieves the rendered preview image for one frame of an
// instance. frameIndex is the local index within the instance; frame 0 is
// served from the whole-instance preview endpoint so the quality hint
// applies, higher frames from the per-frame endpoint.
//
// Transient failures are retried per the client policy; when retries are
// exhausted and fallback is enabled, a placeholder image is returned
// instead of an error so callers always have something to display.
func (c *Client) FetchPreview(ctx context.Context, externalID string, frameIndex int, opts PreviewOptions) ([]byte, error) {
	if externalID == "" {
		return nil, fmt.Errorf("pacs: instance id is required: %w", ErrInvalidArgument)
	}
	if frameIndex < 0 {
		return nil, fmt.Errorf("pacs: frame index %d is negative: %w", frameIndex, ErrInvalidArgument)
	}

	var path string
	if frameIndex == 0 {
		path = "/instances/" + url.PathEscape(externalID) + "/preview"
		if opts.Quality > 0 {
			path += "?quality=" + strconv.Itoa(opts.Quality)
		}
	} else {
		path = "/instances/" + url.PathEscape(externalID) + "/frames/" + strconv.Itoa(frameIndex) + "/preview"
	}

	img, err := c.do(ctx, http.MethodGet, path, nil)
	if err == nil {
		c.metrics.Inc(telemetry.MetricPreviewFetch, telemetry.OutcomeSuccess)
		return img, nil
	}

	if errors.Is(err, ErrTransient) && c.fallbackEnabled {
		c.metrics.Inc(telemetry.MetricPreviewFetch, telemetry.OutcomeFallback)
		c.logger.Warn().Err(err).Str("instance", externalID).Int("frame", frameIndex).
			Msg("serving placeholder preview after retry exhaustion")
		return PlaceholderImage(), nil
	}

	c.metrics.Inc(telemetry.MetricPreviewFetch, telemetry.OutcomeFailure)
	return nil, err
}

// FetchMetadata retrieves the simplified tag set for an instance and maps
// it onto InstanceMetadata. The preview server reports tag values as
// strings; missing numeric tags default to zero and a missing frame count
// defaults to one frame.
func (c *Client) FetchMetadata(ctx context.Context, externalID string) (*InstanceMetadata, error) {
	if externalID == "" {
		return nil, fmt.Errorf("pacs: instance id is required: %w", ErrInvalidArgument)
	}

	body, err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(externalID)+"/simplified-tags", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for %s: %w", externalID, err)
	}

	var tags map[string]string
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("pacs: decode simplified tags for %s: %w", externalID, err)
	}

	meta := &InstanceMetadata{
		Rows:              atoiTag(tags, "Rows"),
		Columns:           atoiTag(tags, "Columns"),
		FrameCount:        atoiTag(tags, "NumberOfFrames"),
		TransferSyntaxUID: strings.TrimSpace(tags["TransferSyntaxUID"]),
		BitsAllocated:     atoiTag(tags, "BitsAllocated"),
		BitsStored:        atoiTag(tags, "BitsStored"),
		WindowCenter:      atofTag(tags, "WindowCenter"),
		WindowWidth:       atofTag(tags, "WindowWidth"),
	}
	if meta.FrameCount <= 0 {
		meta.FrameCount = 1
	}
	return meta, nil
}

// ClassifyCompression determines the wire-level compression of an instance
// from its transfer syntax. It never fails: when metadata cannot be
// fetched the result reports an unknown, unsupported syntax and carries
// the underlying error, so classification cannot abort a wider flow.
func (c *Client) ClassifyCompression(ctx context.Context, externalID string) CompressionInfo {
	meta, err := c.FetchMetadata(ctx, externalID)
	if err != nil {
		return CompressionInfo{
			IsCompressed:      false,
			TransferSyntaxUID: "unknown",
			CompressionName:   "Unknown",
			Supported:         false,
			Err:               err,
		}
	}
	return ClassifySyntax(meta.TransferSyntaxUID)
}

type findRequest struct {
	Level string            `json:"Level"`
	Query map[string]string `json:"Query"`
}

// FindInstance queries the preview server for instances carrying the given
// SOP instance UID and returns their external identifiers.
func (c *Client) FindInstance(ctx context.Context, sopUID string) ([]string, error) {
	if sopUID == "" {
		return nil, fmt.Errorf("pacs: sop instance uid is required: %w", ErrInvalidArgument)
	}

	payload, err := json.Marshal(findRequest{
		Level: "Instance",
		Query: map[string]string{"SOPInstanceUID": sopUID},
	})
	if err != nil {
		return nil, fmt.Errorf("pacs: encode find query: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/tools/find", payload)
	if err != nil {
		return nil, fmt.Errorf("find instance %s: %w", sopUID, err)
	}

	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("pacs: decode find result: %w", err)
	}
	return ids, nil
}

// SystemInfo fetches the preview server's build information.
func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/system", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch system info: %w", err)
	}
	var info SystemInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("pacs: decode system info: %w", err)
	}
	return &info, nil
}

// ListInstances returns up to limit instance identifiers known to the
// preview server. Used only by the validation harness.
func (c *Client) ListInstances(ctx context.Context, limit int) ([]string, error) {
	path := "/instances"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("pacs: decode instance list: %w", err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func atoiTag(tags map[string]string, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(tags[key]))
	if err != nil {
		return 0
	}
	return n
}

func atofTag(tags map[string]string, key string) float64 {
	// Multi-valued tags arrive backslash-separated; the first value wins.
	raw := strings.TrimSpace(tags[key])
	if idx := strings.Index(raw, "\\"); idx >= 0 {
		raw = raw[:idx]
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return f
}
