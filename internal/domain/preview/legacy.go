package preview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// LegacyRenderer renders frames through the platform's internal renderer.
// It is an external collaborator: the gateway only needs this one call.
type LegacyRenderer interface {
	RenderFrame(ctx context.Context, seriesUID string, globalIndex int) ([]byte, error)
}

// HTTPLegacyRenderer proxies render calls to the internal renderer's HTTP
// endpoint. No retry policy: the legacy path is the last resort, so its
// errors surface directly.
type HTTPLegacyRenderer struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPLegacyRenderer creates a renderer client for the given base URL.
func NewHTTPLegacyRenderer(baseURL string, timeout time.Duration) *HTTPLegacyRenderer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPLegacyRenderer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *HTTPLegacyRenderer) RenderFrame(ctx context.Context, seriesUID string, globalIndex int) ([]byte, error) {
	u := r.baseURL + "/render/" + url.PathEscape(seriesUID) + "/frames/" + strconv.Itoa(globalIndex)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("legacy render request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("legacy render: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("legacy render: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
